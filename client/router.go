package client

import (
	"log/slog"

	"github.com/mbocsi/gochat/proto"
)

// Router classifies inbound bodies by their "type" and hands them to the
// dispatcher. Unknown types are forwarded as message events.
type Router struct {
	events *Dispatcher
	logger *slog.Logger
}

func NewRouter(events *Dispatcher, logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{events: events, logger: logger}
}

var routes = map[string]EventName{
	proto.TypeChatMessage:  EventMessage,
	proto.TypeTypingStatus: EventTyping,
	proto.TypeUserJoin:     EventUserJoin,
	proto.TypeUserLeave:    EventUserLeave,
	proto.TypeSystem:       EventMessage,
	proto.TypeError:        EventError,
}

// EventFor returns the event a frame type is dispatched as.
func EventFor(frameType string) (EventName, bool) {
	name, ok := routes[frameType]
	if !ok {
		return EventMessage, false
	}
	return name, true
}

// Route decodes one body and emits the mapped event. Malformed bodies are
// logged and dropped.
func (r *Router) Route(body []byte) {
	frame, err := proto.ParseInbound(body)
	if err != nil {
		r.logger.Warn("Dropping malformed frame", "error", err.Error(), "size", len(body))
		return
	}

	name, known := EventFor(frame.Type)
	ev := Event{Name: name, Frame: frame}

	switch {
	case frame.Type == proto.TypeError:
		var notice proto.SystemNotice
		_ = frame.Decode(&notice)
		r.logger.Error("Server reported error", "message", notice.Text(), "userId", notice.UserID)
		ev.Err = &ServerError{Message: notice.Text(), UserID: notice.UserID}
	case !known:
		r.logger.Info("Forwarding unknown frame type as message", "type", frame.Type)
	default:
		r.logger.Debug("Frame routed", "type", frame.Type, "event", name, "size", len(body))
	}

	r.events.Emit(ev)
}
