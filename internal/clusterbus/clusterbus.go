// Package clusterbus publishes pool and pipeline telemetry to NATS so a
// fleet of auto-drive cores can be observed from one place. It is
// observability-only: nothing in the core reads clusterbus traffic back,
// so a down or unreachable broker never affects task execution.
package clusterbus

import (
	"encoding/json"
	"fmt"
	"time"

	nc "github.com/nats-io/nats.go"
)

const defaultSubjectPrefix = "autodrive.core"

// Bus publishes telemetry events to a NATS subject tree rooted at prefix.
type Bus struct {
	conn   *nc.Conn
	prefix string
}

// Connect dials url and returns a Bus publishing under the default subject
// prefix "autodrive.core".
func Connect(url string) (*Bus, error) {
	conn, err := nc.Connect(url,
		nc.ReconnectWait(2*time.Second),
		nc.MaxReconnects(-1),
	)
	if err != nil {
		return nil, fmt.Errorf("clusterbus: connecting to %s: %w", url, err)
	}
	return &Bus{conn: conn, prefix: defaultSubjectPrefix}, nil
}

// Close drains and closes the underlying NATS connection.
func (b *Bus) Close() {
	if b.conn != nil {
		_ = b.conn.Drain()
	}
}

// PublishMetrics emits a pool metrics snapshot under
// "<prefix>.metrics.<poolID>".
func (b *Bus) PublishMetrics(poolID string, metrics interface{}) error {
	return b.publishJSON(fmt.Sprintf("%s.metrics.%s", b.prefix, poolID), metrics)
}

// PublishStageTransition emits a pipeline stage change under
// "<prefix>.stage.<taskID>".
func (b *Bus) PublishStageTransition(taskID, newStage string) error {
	return b.publishJSON(fmt.Sprintf("%s.stage.%s", b.prefix, taskID), map[string]string{
		"task_id": taskID,
		"stage":   newStage,
	})
}

// PublishHealthReport emits a pool health check outcome under
// "<prefix>.health.<poolID>".
func (b *Bus) PublishHealthReport(poolID string, report interface{}) error {
	return b.publishJSON(fmt.Sprintf("%s.health.%s", b.prefix, poolID), report)
}

func (b *Bus) publishJSON(subject string, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("clusterbus: marshaling %s: %w", subject, err)
	}
	if err := b.conn.Publish(subject, data); err != nil {
		return fmt.Errorf("clusterbus: publishing to %s: %w", subject, err)
	}
	return nil
}

// Subscribe registers handler for every message on subject (a NATS subject
// or wildcard pattern), useful for a monitoring console tailing the fleet.
func (b *Bus) Subscribe(subject string, handler func(subject string, data []byte)) (*nc.Subscription, error) {
	sub, err := b.conn.Subscribe(subject, func(msg *nc.Msg) {
		handler(msg.Subject, msg.Data)
	})
	if err != nil {
		return nil, fmt.Errorf("clusterbus: subscribing to %s: %w", subject, err)
	}
	return sub, nil
}
