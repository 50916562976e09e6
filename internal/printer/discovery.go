package printer

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/grandcat/zeroconf"

	"github.com/orrn/printdispatch/internal/model"
)

// DiscoverAgent browses the local network for a print agent and returns the
// websocket URL of the first one that answers.
func DiscoverAgent(ctx context.Context, timeout time.Duration) (string, error) {
	resolver, err := zeroconf.NewResolver(nil)
	if err != nil {
		return "", fmt.Errorf("failed to create mDNS resolver: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	entries := make(chan *zeroconf.ServiceEntry)
	if err := resolver.Browse(ctx, model.ServiceType, "local.", entries); err != nil {
		return "", fmt.Errorf("failed to browse for agents: %w", err)
	}

	for {
		select {
		case entry, ok := <-entries:
			if !ok {
				return "", ErrAgentUnavailable
			}
			if url := agentURL(entry); url != "" {
				return url, nil
			}
		case <-ctx.Done():
			return "", ErrAgentUnavailable
		}
	}
}

func agentURL(entry *zeroconf.ServiceEntry) string {
	if entry == nil {
		return ""
	}
	var host string
	switch {
	case len(entry.AddrIPv4) > 0:
		host = entry.AddrIPv4[0].String()
	case len(entry.AddrIPv6) > 0:
		host = entry.AddrIPv6[0].String()
	default:
		return ""
	}
	return "ws://" + net.JoinHostPort(host, strconv.Itoa(entry.Port)) + "/ws"
}
