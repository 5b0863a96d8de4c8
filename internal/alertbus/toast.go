package alertbus

import (
	"fmt"
	"runtime"

	"github.com/go-toast/toast"

	"github.com/autodrive/core/internal/events"
)

// DesktopToast delivers backpressure and migration alerts as Windows toast
// notifications. On other platforms Send degrades to a no-op error, which
// ShouldNotify callers should treat as best-effort.
type DesktopToast struct {
	appID string
}

// NewDesktopToast creates a toast channel under appID (defaults to
// "autodrive-core" when empty).
func NewDesktopToast(appID string) *DesktopToast {
	if appID == "" {
		appID = "autodrive-core"
	}
	return &DesktopToast{appID: appID}
}

func (d *DesktopToast) Name() string { return "desktop-toast" }

// ShouldNotify fires only for alert-class events; routine progress traffic
// stays silent.
func (d *DesktopToast) ShouldNotify(event events.Event) bool {
	return event.Type == events.EventAlert
}

func (d *DesktopToast) Send(event events.Event) error {
	if runtime.GOOS != "windows" {
		return fmt.Errorf("toast notifications only supported on Windows")
	}

	title := fmt.Sprintf("autodrive: %s", event.Source)
	message := fmt.Sprintf("%v", event.Payload["message"])

	notification := toast.Notification{
		AppID:   d.appID,
		Title:   title,
		Message: message,
		Audio:   toast.Default,
	}
	return notification.Push()
}
