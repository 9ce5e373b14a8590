// Package natsbus embeds a NATS server inside the forgeline process and
// exposes a small client for the event traffic between the workflow
// orchestrator, the scheduler and the web hub.
package natsbus

import (
	"fmt"
	"os"
	"time"

	"github.com/forgeline/forgeline/internal/config"
	natsserver "github.com/nats-io/nats-server/v2/server"
)

const readyTimeout = 5 * time.Second

// Bus is the embedded NATS server. One Bus runs per process; clients
// connect over the loopback URL it reports.
type Bus struct {
	server *natsserver.Server
	cfg    config.NATSConfig
}

// New starts the embedded server and waits until it accepts
// connections. Port 0 picks a random free port, which is what the
// tests use.
func New(cfg config.NATSConfig) (*Bus, error) {
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create event bus data dir: %w", err)
	}

	opts := &natsserver.Options{
		Port:      cfg.Port,
		NoLog:     true,
		NoSigs:    true,
		JetStream: true,
		StoreDir:  cfg.DataDir,
	}

	ns, err := natsserver.NewServer(opts)
	if err != nil {
		return nil, fmt.Errorf("create event bus server: %w", err)
	}

	go ns.Start()

	if !ns.ReadyForConnections(readyTimeout) {
		return nil, fmt.Errorf("event bus not ready after %s", readyTimeout)
	}

	return &Bus{
		server: ns,
		cfg:    cfg,
	}, nil
}

func (b *Bus) ClientURL() string {
	return b.server.ClientURL()
}

func (b *Bus) Port() int {
	return b.cfg.Port
}

// Close shuts the server down and waits for it to finish.
func (b *Bus) Close() {
	b.server.Shutdown()
	b.server.WaitForShutdown()
}
