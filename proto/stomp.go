package proto

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/go-stomp/stomp/v3/frame"
)

// Sub-protocols offered during the WebSocket handshake, most preferred first.
var Subprotocols = []string{"v12.stomp", "v11.stomp", "v10.stomp"}

// SupportedVersions is the accept-version header sent by clients.
const SupportedVersions = "1.0,1.1,1.2"

// Custom CONNECT headers understood by the broker in addition to login/passcode.
const (
	HeaderUserID = "userId"
	HeaderToken  = "token"
)

var ErrEmptyFrame = errors.New("proto: no STOMP frame in message")

// EncodeFrame serializes a frame for a single WebSocket message.
// A nil frame encodes as a heartbeat.
func EncodeFrame(f *frame.Frame) ([]byte, error) {
	if f == nil {
		return []byte{'\n'}, nil
	}
	if len(f.Body) > 0 && f.Header != nil {
		f.Header.Set(frame.ContentLength, strconv.Itoa(len(f.Body)))
	}
	var buf bytes.Buffer
	if err := frame.NewWriter(&buf).Write(f); err != nil {
		return nil, fmt.Errorf("proto: encode %s frame: %w", f.Command, err)
	}
	return buf.Bytes(), nil
}

// DecodeFrame parses the first frame in a WebSocket message, skipping any
// leading heartbeat end-of-lines.
func DecodeFrame(data []byte) (*frame.Frame, error) {
	r := frame.NewReader(bytes.NewReader(data))
	for {
		f, err := r.Read()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil, ErrEmptyFrame
			}
			return nil, fmt.Errorf("proto: decode frame: %w", err)
		}
		if f != nil {
			return f, nil
		}
	}
}

// IsHeartbeat reports whether a WebSocket message only carries end-of-lines.
func IsHeartbeat(data []byte) bool {
	if len(data) == 0 {
		return false
	}
	for _, b := range data {
		if b != '\n' && b != '\r' {
			return false
		}
	}
	return true
}

// FormatHeartbeat renders a heart-beat header value.
func FormatHeartbeat(send, receive time.Duration) string {
	return strconv.FormatInt(send.Milliseconds(), 10) + "," + strconv.FormatInt(receive.Milliseconds(), 10)
}

// NegotiateHeartbeat applies the STOMP heart-beat rules. localSend/localWant
// are what this side offered; remote is the peer's heart-beat header. It
// returns how often this side must send and how often it should expect
// traffic. Zero disables the respective direction.
func NegotiateHeartbeat(localSend, localWant time.Duration, remote string) (send, receive time.Duration, err error) {
	if remote == "" {
		return 0, 0, nil
	}
	remoteSend, remoteWant, err := frame.ParseHeartBeat(remote)
	if err != nil {
		return 0, 0, fmt.Errorf("proto: heart-beat %q: %w", remote, err)
	}
	if localSend > 0 && remoteWant > 0 {
		send = max(localSend, remoteWant)
	}
	if remoteSend > 0 && localWant > 0 {
		receive = max(remoteSend, localWant)
	}
	return send, receive, nil
}

// ServiceType is the mDNS service brokers advertise. The TXT record
// "path=<endpoint>" names the WebSocket endpoint.
const ServiceType = "_gochat-ws._tcp"
