// Package nats hosts an in-process NATS+JetStream broker so a single
// auto-drive core binary can stand up its own cluster telemetry bus
// without depending on an externally-run broker, via -nats-embed.
// internal/clusterbus dials either this embedded server or an external
// URL with the same github.com/nats-io/nats.go client.
package nats

import (
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats-server/v2/server"
)

// EmbeddedServerConfig configures the embedded broker.
type EmbeddedServerConfig struct {
	Port      int    // listen port, defaults to 4222
	JetStream bool   // enable JetStream persistence
	DataDir   string // JetStream store directory, required when JetStream is true
}

// EmbeddedServer wraps a *server.Server with start/stop lifecycle management
// so callers don't need to reach into the nats-server package directly.
type EmbeddedServer struct {
	server *server.Server
	config EmbeddedServerConfig

	mu      sync.RWMutex
	running bool
}

// NewEmbeddedServer validates config and prepares (but does not start) a
// broker.
func NewEmbeddedServer(config EmbeddedServerConfig) (*EmbeddedServer, error) {
	if config.Port <= 0 {
		config.Port = 4222
	}
	if config.JetStream && config.DataDir == "" {
		return nil, fmt.Errorf("DataDir is required when JetStream is enabled")
	}
	return &EmbeddedServer{config: config}, nil
}

// Start launches the broker and blocks until it is ready for connections.
func (e *EmbeddedServer) Start() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.running {
		return fmt.Errorf("server already running")
	}

	opts := &server.Options{
		Host:       "127.0.0.1",
		Port:       e.config.Port,
		NoSigs:     true,
		MaxPayload: 1024 * 1024,
	}
	if e.config.JetStream {
		opts.JetStream = true
		opts.StoreDir = e.config.DataDir
	}

	ns, err := server.NewServer(opts)
	if err != nil {
		return fmt.Errorf("failed to create NATS server: %w", err)
	}

	e.server = ns
	go ns.Start()

	if !ns.ReadyForConnections(10 * time.Second) {
		return fmt.Errorf("server not ready for connections")
	}
	e.running = true
	return nil
}

// Shutdown stops the broker, waiting for a clean exit. It is a no-op if the
// server was never started.
func (e *EmbeddedServer) Shutdown() {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.running || e.server == nil {
		return
	}
	e.server.Shutdown()
	e.server.WaitForShutdown()
	e.running = false
	e.server = nil
}

// URL returns the broker's client connection URL.
func (e *EmbeddedServer) URL() string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return fmt.Sprintf("nats://127.0.0.1:%d", e.config.Port)
}

// IsRunning reports whether Start has succeeded and Shutdown has not yet run.
func (e *EmbeddedServer) IsRunning() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.running
}
