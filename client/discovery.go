package client

import (
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/mdns"
	"github.com/mbocsi/gochat/proto"
)

// DiscoveredBroker is a broker found through mDNS.
type DiscoveredBroker struct {
	ServiceName string
	Address     string
	Port        int
	Path        string
	TXTRecords  []string
}

// URL returns the WebSocket endpoint of the broker.
func (b DiscoveredBroker) URL() string {
	path := b.Path
	if path == "" {
		path = "/ws"
	}
	return "ws://" + net.JoinHostPort(b.Address, strconv.Itoa(b.Port)) + path
}

// DiscoverBroker returns the first broker advertising proto.ServiceType.
func DiscoverBroker(timeout time.Duration) (*DiscoveredBroker, error) {
	if timeout == 0 {
		timeout = 5 * time.Second
	}

	entriesCh := make(chan *mdns.ServiceEntry, 4)
	go func() {
		defer close(entriesCh)
		params := mdns.DefaultParams(proto.ServiceType)
		params.Entries = entriesCh
		params.Timeout = timeout
		params.DisableIPv6 = true
		if err := mdns.Query(params); err != nil {
			slog.Warn("mDNS query failed", "error", err)
		}
	}()

	deadline := time.After(timeout)
	for {
		select {
		case entry, ok := <-entriesCh:
			if !ok {
				return nil, fmt.Errorf("no %s service found", proto.ServiceType)
			}
			broker, err := brokerFromEntry(entry)
			if err != nil {
				slog.Debug("Skipping mDNS entry", "name", entry.Name, "error", err)
				continue
			}
			slog.Info("Discovered broker",
				"service_name", broker.ServiceName,
				"address", broker.Address,
				"port", broker.Port,
				"path", broker.Path,
			)
			go drain(entriesCh)
			return broker, nil
		case <-deadline:
			go drain(entriesCh)
			return nil, fmt.Errorf("mDNS discovery timeout for %s", proto.ServiceType)
		}
	}
}

func drain(entriesCh <-chan *mdns.ServiceEntry) {
	for range entriesCh {
	}
}

func brokerFromEntry(entry *mdns.ServiceEntry) (*DiscoveredBroker, error) {
	var address string
	switch {
	case entry.AddrV4 != nil:
		address = entry.AddrV4.String()
	case entry.AddrV6 != nil:
		address = entry.AddrV6.String()
	default:
		return nil, fmt.Errorf("no valid address found for service")
	}

	broker := &DiscoveredBroker{
		ServiceName: entry.Name,
		Address:     address,
		Port:        entry.Port,
		TXTRecords:  entry.InfoFields,
	}
	for _, field := range entry.InfoFields {
		if path, ok := strings.CutPrefix(field, "path="); ok {
			broker.Path = path
		}
	}
	return broker, nil
}
