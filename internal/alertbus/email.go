package alertbus

import (
	"fmt"
	"net/smtp"
	"strings"
	"time"

	"github.com/autodrive/core/internal/events"
)

// EmailConfig configures an EmailChannel's SMTP delivery.
type EmailConfig struct {
	SMTPHost    string
	SMTPPort    int
	Username    string
	Password    string
	From        string
	To          []string
	EventTypes  []events.EventType
	MinPriority int
}

// EmailChannel delivers alert events via SMTP.
type EmailChannel struct {
	config EmailConfig
}

// NewEmailChannel creates an email channel from config.
func NewEmailChannel(config EmailConfig) *EmailChannel {
	return &EmailChannel{config: config}
}

func (e *EmailChannel) Name() string { return "email" }

func (e *EmailChannel) ShouldNotify(event events.Event) bool {
	if e.config.MinPriority > 0 && event.Priority > e.config.MinPriority {
		return false
	}
	if len(e.config.EventTypes) > 0 {
		found := false
		for _, et := range e.config.EventTypes {
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

func (e *EmailChannel) Send(event events.Event) error {
	if e.config.SMTPHost == "" {
		return fmt.Errorf("SMTP host not configured")
	}
	if e.config.From == "" {
		return fmt.Errorf("from address not configured")
	}
	if len(e.config.To) == 0 {
		return fmt.Errorf("no recipient addresses configured")
	}

	subject := e.buildSubject(event)
	body := e.buildBody(event)
	message := e.buildMessage(subject, body)

	addr := fmt.Sprintf("%s:%d", e.config.SMTPHost, e.config.SMTPPort)
	var auth smtp.Auth
	if e.config.Username != "" && e.config.Password != "" {
		auth = smtp.PlainAuth("", e.config.Username, e.config.Password, e.config.SMTPHost)
	}

	if err := smtp.SendMail(addr, auth, e.config.From, e.config.To, []byte(message)); err != nil {
		return fmt.Errorf("send email: %w", err)
	}
	return nil
}

func (e *EmailChannel) buildSubject(event events.Event) string {
	prefix := ""
	switch event.Priority {
	case events.PriorityCritical:
		prefix = "[CRITICAL] "
	case events.PriorityHigh:
		prefix = "[HIGH] "
	}
	return fmt.Sprintf("%sautodrive %s event - %s", prefix, event.Type, event.ID)
}

func (e *EmailChannel) buildBody(event events.Event) string {
	var body strings.Builder
	body.WriteString("autodrive event notification\n")
	body.WriteString("=============================\n\n")
	body.WriteString(fmt.Sprintf("Event ID: %s\n", event.ID))
	body.WriteString(fmt.Sprintf("Type: %s\n", event.Type))
	body.WriteString(fmt.Sprintf("Source: %s\n", event.Source))
	if event.Target != "" {
		body.WriteString(fmt.Sprintf("Target: %s\n", event.Target))
	}
	body.WriteString(fmt.Sprintf("Priority: %d\n", event.Priority))
	body.WriteString(fmt.Sprintf("Timestamp: %s\n", event.CreatedAt.Format(time.RFC3339)))

	if len(event.Payload) > 0 {
		body.WriteString("\nPayload:\n--------\n")
		for k, v := range event.Payload {
			body.WriteString(fmt.Sprintf("%s: %v\n", k, v))
		}
	}
	body.WriteString("\n--\nThis is an automated notification from autodrive-core\n")
	return body.String()
}

func (e *EmailChannel) buildMessage(subject, body string) string {
	var message strings.Builder
	message.WriteString(fmt.Sprintf("From: %s\r\n", e.config.From))
	message.WriteString(fmt.Sprintf("To: %s\r\n", strings.Join(e.config.To, ", ")))
	message.WriteString(fmt.Sprintf("Subject: %s\r\n", subject))
	message.WriteString("MIME-Version: 1.0\r\n")
	message.WriteString("Content-Type: text/plain; charset=utf-8\r\n")
	message.WriteString("\r\n")
	message.WriteString(body)
	return message.String()
}
