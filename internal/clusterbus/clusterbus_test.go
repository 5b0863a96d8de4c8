package clusterbus

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/autodrive/core/internal/nats"
)

func startTestServer(t *testing.T, port int) *nats.EmbeddedServer {
	t.Helper()
	dir, err := os.MkdirTemp("", "clusterbus-test-*")
	if err != nil {
		t.Fatalf("failed to create temp dir: %v", err)
	}
	t.Cleanup(func() { os.RemoveAll(dir) })

	srv, err := nats.NewEmbeddedServer(nats.EmbeddedServerConfig{
		Port:      port,
		JetStream: true,
		DataDir:   filepath.Join(dir, "jetstream"),
	})
	if err != nil {
		t.Fatalf("failed to create embedded server: %v", err)
	}
	if err := srv.Start(); err != nil {
		t.Fatalf("failed to start embedded server: %v", err)
	}
	t.Cleanup(srv.Shutdown)
	return srv
}

func TestPublishMetricsDeliversToSubscriber(t *testing.T) {
	srv := startTestServer(t, 14301)

	bus, err := Connect(srv.URL())
	if err != nil {
		t.Fatalf("unexpected error connecting: %v", err)
	}
	defer bus.Close()

	received := make(chan []byte, 1)
	sub, err := bus.Subscribe("autodrive.core.metrics.>", func(_ string, data []byte) {
		received <- data
	})
	if err != nil {
		t.Fatalf("unexpected error subscribing: %v", err)
	}
	defer sub.Unsubscribe()

	if err := bus.PublishMetrics("pool-1", map[string]int{"queue_size": 4}); err != nil {
		t.Fatalf("unexpected error publishing: %v", err)
	}

	select {
	case data := <-received:
		if len(data) == 0 {
			t.Fatal("expected non-empty payload")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for metrics message")
	}
}

func TestPublishStageTransition(t *testing.T) {
	srv := startTestServer(t, 14302)

	bus, err := Connect(srv.URL())
	if err != nil {
		t.Fatalf("unexpected error connecting: %v", err)
	}
	defer bus.Close()

	received := make(chan []byte, 1)
	sub, err := bus.Subscribe("autodrive.core.stage.>", func(_ string, data []byte) {
		received <- data
	})
	if err != nil {
		t.Fatalf("unexpected error subscribing: %v", err)
	}
	defer sub.Unsubscribe()

	if err := bus.PublishStageTransition("task-1", "Implementing"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	select {
	case <-received:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for stage transition message")
	}
}
