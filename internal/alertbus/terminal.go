package alertbus

import (
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/autodrive/core/internal/events"
	"github.com/autodrive/core/internal/stringutils"
)

// TerminalChannel prints a one-line banner to an output stream (stderr by
// default) for every alert event, adapted from the teacher's terminal
// title-flash notifier into a plain banner so it works over any terminal
// or redirected log file.
type TerminalChannel struct {
	mu  sync.Mutex
	out io.Writer
}

// NewTerminalChannel creates a terminal channel writing to out. A nil out
// defaults to os.Stderr.
func NewTerminalChannel(out io.Writer) *TerminalChannel {
	if out == nil {
		out = os.Stderr
	}
	return &TerminalChannel{out: out}
}

func (t *TerminalChannel) Name() string { return "terminal" }

func (t *TerminalChannel) ShouldNotify(event events.Event) bool {
	return event.Type == events.EventAlert
}

func (t *TerminalChannel) Send(event events.Event) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	message := stringutils.Truncate(stringutils.FirstLine(fmt.Sprintf("%v", event.Payload["message"])), 200)
	_, err := fmt.Fprintf(t.out, "\a[autodrive] %s: %s\n", event.Source, message)
	return err
}
