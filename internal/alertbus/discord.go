package alertbus

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/autodrive/core/internal/events"
)

// DiscordConfig configures a DiscordChannel's webhook delivery.
type DiscordConfig struct {
	WebhookURL  string
	Username    string
	AvatarURL   string
	EventTypes  []events.EventType
	MinPriority int
}

// DiscordChannel posts alert events to a Discord webhook as an embed.
type DiscordChannel struct {
	config DiscordConfig
	client *http.Client
}

// NewDiscordChannel creates a Discord channel from config.
func NewDiscordChannel(config DiscordConfig) *DiscordChannel {
	return &DiscordChannel{
		config: config,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

func (d *DiscordChannel) Name() string { return "discord" }

func (d *DiscordChannel) ShouldNotify(event events.Event) bool {
	if d.config.MinPriority > 0 && event.Priority > d.config.MinPriority {
		return false
	}
	if len(d.config.EventTypes) > 0 {
		found := false
		for _, et := range d.config.EventTypes {
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

func (d *DiscordChannel) Send(event events.Event) error {
	if d.config.WebhookURL == "" {
		return fmt.Errorf("discord webhook URL not configured")
	}

	color := 0x2ecc71
	switch event.Priority {
	case events.PriorityCritical:
		color = 0xe74c3c
	case events.PriorityHigh:
		color = 0xf39c12
	}

	fields := []map[string]interface{}{
		{"name": "Type", "value": string(event.Type), "inline": true},
		{"name": "Source", "value": event.Source, "inline": true},
	}
	for k, v := range event.Payload {
		fields = append(fields, map[string]interface{}{
			"name":   k,
			"value":  fmt.Sprintf("%v", v),
			"inline": false,
		})
	}

	payload := map[string]interface{}{
		"embeds": []map[string]interface{}{
			{
				"title":     fmt.Sprintf("%s event", event.Type),
				"color":     color,
				"fields":    fields,
				"timestamp": event.CreatedAt.Format(time.RFC3339),
			},
		},
	}
	if d.config.Username != "" {
		payload["username"] = d.config.Username
	}
	if d.config.AvatarURL != "" {
		payload["avatar_url"] = d.config.AvatarURL
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal discord payload: %w", err)
	}

	resp, err := d.client.Post(d.config.WebhookURL, "application/json", bytes.NewBuffer(data))
	if err != nil {
		return fmt.Errorf("send discord notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNoContent {
		return fmt.Errorf("discord webhook returned status %d", resp.StatusCode)
	}
	return nil
}
