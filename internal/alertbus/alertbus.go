// Package alertbus fans pool and housekeeper alerts out to zero or more
// notification channels (desktop toast, terminal bell, webhook, ...) on a
// fire-and-forget basis: a slow or failing channel never blocks the
// caller that raised the alert.
package alertbus

import (
	"log"
	"sync"

	"github.com/autodrive/core/internal/events"
)

// Channel is a single fan-out target for alerts.
type Channel interface {
	Name() string
	ShouldNotify(event events.Event) bool
	Send(event events.Event) error
}

// Bus dispatches events to every registered channel asynchronously,
// mirroring the core's role-channel fire-and-forget delivery model.
type Bus struct {
	mu       sync.RWMutex
	channels []Channel
}

// New creates a bus with the given initial channels.
func New(channels ...Channel) *Bus {
	return &Bus{channels: channels}
}

// AddChannel registers an additional channel.
func (b *Bus) AddChannel(ch Channel) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.channels = append(b.channels, ch)
}

// RemoveChannel drops the channel with the given name, if registered.
func (b *Bus) RemoveChannel(name string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	filtered := make([]Channel, 0, len(b.channels))
	for _, ch := range b.channels {
		if ch.Name() != name {
			filtered = append(filtered, ch)
		}
	}
	b.channels = filtered
}

// Publish routes event to every matching channel in its own goroutine.
// Failures are logged, never returned: a broken notification channel must
// never stall pool or housekeeper execution.
func (b *Bus) Publish(event events.Event) {
	b.mu.RLock()
	channels := make([]Channel, len(b.channels))
	copy(channels, b.channels)
	b.mu.RUnlock()

	for _, ch := range channels {
		go func(channel Channel) {
			if !channel.ShouldNotify(event) {
				return
			}
			if err := channel.Send(event); err != nil {
				log.Printf("alertbus: channel %s failed to send event %s: %v", channel.Name(), event.ID, err)
			}
		}(ch)
	}
}

// PublishAndWait is Publish's synchronous counterpart, for callers (tests,
// CLI one-shots) that need delivery to finish before proceeding.
func (b *Bus) PublishAndWait(event events.Event) {
	b.mu.RLock()
	channels := make([]Channel, len(b.channels))
	copy(channels, b.channels)
	b.mu.RUnlock()

	var wg sync.WaitGroup
	for _, ch := range channels {
		wg.Add(1)
		go func(channel Channel) {
			defer wg.Done()
			if !channel.ShouldNotify(event) {
				return
			}
			if err := channel.Send(event); err != nil {
				log.Printf("alertbus: channel %s failed to send event %s: %v", channel.Name(), event.ID, err)
			}
		}(ch)
	}
	wg.Wait()
}

// ChannelNames returns the registered channel names.
func (b *Bus) ChannelNames() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	names := make([]string, len(b.channels))
	for i, ch := range b.channels {
		names[i] = ch.Name()
	}
	return names
}
