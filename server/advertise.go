package server

import (
	"fmt"
	"log/slog"

	"github.com/hashicorp/mdns"
	"github.com/mbocsi/gochat/proto"
)

// Advertiser announces the broker on the local network so clients can find
// it with client.DiscoverBroker.
type Advertiser struct {
	server *mdns.Server
}

func Advertise(instance string, port int, path string) (*Advertiser, error) {
	service, err := mdns.NewMDNSService(instance, proto.ServiceType, "", "", port, nil, []string{"path=" + path})
	if err != nil {
		return nil, fmt.Errorf("mdns service: %w", err)
	}
	srv, err := mdns.NewServer(&mdns.Config{Zone: service})
	if err != nil {
		return nil, fmt.Errorf("mdns server: %w", err)
	}
	slog.Info("Advertising broker", "service", proto.ServiceType, "instance", instance, "port", port, "path", path)
	return &Advertiser{server: srv}, nil
}

func (a *Advertiser) Shutdown() error {
	return a.server.Shutdown()
}
