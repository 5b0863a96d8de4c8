package alertbus

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/autodrive/core/internal/events"
)

func TestSlackChannelName(t *testing.T) {
	ch := NewSlackChannel(SlackConfig{})
	if ch.Name() != "slack" {
		t.Errorf("expected name 'slack', got %q", ch.Name())
	}
}

func TestSlackChannelShouldNotify(t *testing.T) {
	tests := []struct {
		name     string
		config   SlackConfig
		event    events.Event
		expected bool
	}{
		{"no filters", SlackConfig{}, events.Event{Type: events.EventAlert, Priority: events.PriorityNormal}, true},
		{"priority filter too low", SlackConfig{MinPriority: events.PriorityHigh}, events.Event{Type: events.EventAlert, Priority: events.PriorityNormal}, false},
		{"priority filter matches", SlackConfig{MinPriority: events.PriorityHigh}, events.Event{Type: events.EventAlert, Priority: events.PriorityHigh}, true},
		{"event type filter no match", SlackConfig{EventTypes: []events.EventType{events.EventTask}}, events.Event{Type: events.EventAlert}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ch := NewSlackChannel(tt.config)
			if got := ch.ShouldNotify(tt.event); got != tt.expected {
				t.Errorf("expected %v, got %v", tt.expected, got)
			}
		})
	}
}

func TestSlackChannelSend(t *testing.T) {
	var received map[string]interface{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		if err != nil {
			t.Fatalf("read body: %v", err)
		}
		if err := json.Unmarshal(body, &received); err != nil {
			t.Fatalf("unmarshal payload: %v", err)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	ch := NewSlackChannel(SlackConfig{WebhookURL: server.URL, Channel: "#alerts"})
	err := ch.Send(events.Event{
		ID:       "test-1",
		Type:     events.EventAlert,
		Source:   "sessionpool",
		Priority: events.PriorityCritical,
		Payload:  map[string]interface{}{"message": "queue full"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if received["channel"] != "#alerts" {
		t.Errorf("expected channel '#alerts', got %v", received["channel"])
	}
	attachments := received["attachments"].([]interface{})
	attachment := attachments[0].(map[string]interface{})
	if attachment["color"] != "danger" {
		t.Errorf("expected color 'danger' for critical, got %v", attachment["color"])
	}
}

func TestSlackChannelSendNoWebhook(t *testing.T) {
	ch := NewSlackChannel(SlackConfig{})
	if err := ch.Send(events.Event{Type: events.EventAlert}); err == nil {
		t.Error("expected error for missing webhook URL")
	}
}

func TestSlackChannelSendServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	ch := NewSlackChannel(SlackConfig{WebhookURL: server.URL})
	if err := ch.Send(events.Event{Type: events.EventAlert}); err == nil {
		t.Error("expected error for server error response")
	}
}
