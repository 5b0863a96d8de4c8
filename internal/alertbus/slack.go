package alertbus

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/autodrive/core/internal/events"
)

// SlackConfig configures a SlackChannel's webhook delivery.
type SlackConfig struct {
	WebhookURL  string
	Channel     string
	Username    string
	IconEmoji   string
	EventTypes  []events.EventType
	MinPriority int
}

// SlackChannel posts alert events to a Slack incoming webhook.
type SlackChannel struct {
	config SlackConfig
	client *http.Client
}

// NewSlackChannel creates a Slack channel from config.
func NewSlackChannel(config SlackConfig) *SlackChannel {
	return &SlackChannel{
		config: config,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

func (s *SlackChannel) Name() string { return "slack" }

// ShouldNotify honors the optional min-priority and event-type filters;
// a lower Priority value means higher urgency, matching events.Priority*.
func (s *SlackChannel) ShouldNotify(event events.Event) bool {
	if s.config.MinPriority > 0 && event.Priority > s.config.MinPriority {
		return false
	}
	if len(s.config.EventTypes) > 0 {
		found := false
		for _, et := range s.config.EventTypes {
			if event.Type == et {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

func (s *SlackChannel) Send(event events.Event) error {
	if s.config.WebhookURL == "" {
		return fmt.Errorf("slack webhook URL not configured")
	}

	color := "good"
	switch event.Priority {
	case events.PriorityCritical:
		color = "danger"
	case events.PriorityHigh:
		color = "warning"
	}

	fields := []map[string]interface{}{
		{"title": "Type", "value": string(event.Type), "short": true},
		{"title": "Source", "value": event.Source, "short": true},
	}
	for k, v := range event.Payload {
		fields = append(fields, map[string]interface{}{
			"title": k,
			"value": fmt.Sprintf("%v", v),
			"short": false,
		})
	}

	payload := map[string]interface{}{
		"text": fmt.Sprintf("autodrive event: %s", event.ID),
		"attachments": []map[string]interface{}{
			{
				"color":  color,
				"title":  fmt.Sprintf("%s event", event.Type),
				"fields": fields,
				"ts":     event.CreatedAt.Unix(),
			},
		},
	}
	if s.config.Channel != "" {
		payload["channel"] = s.config.Channel
	}
	if s.config.Username != "" {
		payload["username"] = s.config.Username
	}
	if s.config.IconEmoji != "" {
		payload["icon_emoji"] = s.config.IconEmoji
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal slack payload: %w", err)
	}

	resp, err := s.client.Post(s.config.WebhookURL, "application/json", bytes.NewBuffer(data))
	if err != nil {
		return fmt.Errorf("send slack notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("slack webhook returned status %d", resp.StatusCode)
	}
	return nil
}
