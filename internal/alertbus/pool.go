package alertbus

import (
	"fmt"

	"github.com/autodrive/core/internal/events"
	"github.com/autodrive/core/internal/sessionpool"
)

// PoolPublisher adapts a Bus to sessionpool.AlertPublisher, translating
// pool-native alert shapes into generic bus events.
type PoolPublisher struct {
	Bus *Bus
}

func (p *PoolPublisher) PublishBackpressure(alert sessionpool.BackpressureAlert) {
	kind := "backpressure_warning"
	if alert.Kind == sessionpool.AlertBackpressureExceeded {
		kind = "backpressure_exceeded"
	}
	p.Bus.Publish(*events.NewEvent(events.EventAlert, "sessionpool", "", events.PriorityHigh, map[string]interface{}{
		"kind":       kind,
		"queue_size": alert.QueueSize,
		"limit":      alert.Limit,
		"message":    fmt.Sprintf("queue at %d/%d", alert.QueueSize, alert.Limit),
	}))
}

func (p *PoolPublisher) PublishMigration(ev sessionpool.MigrationEvent) {
	p.Bus.Publish(*events.NewEvent(events.EventAlert, "sessionpool", "", events.PriorityNormal, map[string]interface{}{
		"kind":         "session_migration",
		"task_id":      ev.TaskID,
		"from_session": ev.FromSession,
		"to_session":   ev.ToSession,
		"retry_count":  ev.RetryCount,
		"message":      fmt.Sprintf("migrated task %s after stuck session", ev.TaskID),
	}))
}
