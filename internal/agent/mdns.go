package agent

import (
	"fmt"
	"log"
	"os"

	"github.com/grandcat/zeroconf"

	"github.com/orrn/printdispatch/internal/model"
)

// Announce publishes the agent on the local network until the returned
// function is called.
func Announce(port int) (func(), error) {
	host, _ := os.Hostname()
	if host == "" {
		host = "printagent"
	}
	server, err := zeroconf.Register(
		"Print Agent "+host,
		model.ServiceType,
		"local.",
		port,
		[]string{"version=1", "path=/ws"},
		nil,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to register mDNS service: %w", err)
	}
	log.Printf("[agent] announced on %s.local port %d", model.ServiceType, port)
	return server.Shutdown, nil
}
