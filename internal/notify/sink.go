package notify

import (
	"context"
	"fmt"

	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"
	"go.uber.org/zap"
)

type Channel string

const (
	ChannelEmail Channel = "email"
	ChannelSMS   Channel = "sms"
)

// Message is one outbound message to a patient.
type Message struct {
	Channel Channel
	To      string
	Name    string
	Subject string
	Body    string
}

// MessageSink delivers messages. Implementations can be swapped (SendGrid,
// an SMS gateway, a log) without changing the dispatchers.
type MessageSink interface {
	Send(ctx context.Context, msg Message) error
}

// LogSink writes messages to the log instead of sending them.
type LogSink struct {
	log *zap.Logger
}

func NewLogSink(log *zap.Logger) *LogSink {
	if log == nil {
		log = zap.NewNop()
	}
	return &LogSink{log: log}
}

func (s *LogSink) Send(_ context.Context, msg Message) error {
	s.log.Info("outbound message",
		zap.String("channel", string(msg.Channel)),
		zap.String("to", msg.To),
		zap.String("subject", msg.Subject),
		zap.String("body", msg.Body),
	)
	return nil
}

// ChannelSink routes a message by its channel. A nil route falls back to
// Fallback.
type ChannelSink struct {
	Email    MessageSink
	SMS      MessageSink
	Fallback MessageSink
}

func (s ChannelSink) Send(ctx context.Context, msg Message) error {
	var target MessageSink
	switch msg.Channel {
	case ChannelEmail:
		target = s.Email
	case ChannelSMS:
		target = s.SMS
	}
	if target == nil {
		target = s.Fallback
	}
	if target == nil {
		return fmt.Errorf("notify: no sink for channel %q", msg.Channel)
	}
	return target.Send(ctx, msg)
}

type SendGridConfig struct {
	APIKey    string
	FromEmail string
	FromName  string
}

// SendGridSink sends email through the SendGrid v3 API.
type SendGridSink struct {
	client    *sendgrid.Client
	fromEmail string
	fromName  string
	log       *zap.Logger
}

// NewSendGridSink returns nil when no API key is configured.
func NewSendGridSink(cfg SendGridConfig, log *zap.Logger) *SendGridSink {
	if cfg.APIKey == "" {
		return nil
	}
	if log == nil {
		log = zap.NewNop()
	}
	if cfg.FromName == "" {
		cfg.FromName = "Healthcare Appointment System"
	}
	return &SendGridSink{
		client:    sendgrid.NewSendClient(cfg.APIKey),
		fromEmail: cfg.FromEmail,
		fromName:  cfg.FromName,
		log:       log,
	}
}

func (s *SendGridSink) Send(ctx context.Context, msg Message) error {
	if msg.Channel != ChannelEmail {
		return fmt.Errorf("notify: sendgrid cannot deliver %q messages", msg.Channel)
	}
	if s.client == nil {
		return fmt.Errorf("notify: sendgrid client not configured")
	}

	from := mail.NewEmail(s.fromName, s.fromEmail)
	to := mail.NewEmail(msg.Name, msg.To)
	message := mail.NewSingleEmail(from, msg.Subject, to, msg.Body, msg.Body)

	resp, err := s.client.SendWithContext(ctx, message)
	if err != nil {
		s.log.Error("sendgrid send failed", zap.String("to", msg.To), zap.Error(err))
		return fmt.Errorf("notify: sendgrid send failed: %w", err)
	}
	if resp.StatusCode >= 400 {
		s.log.Error("sendgrid returned error status",
			zap.Int("status", resp.StatusCode),
			zap.String("body", resp.Body),
			zap.String("to", msg.To),
		)
		return fmt.Errorf("notify: sendgrid returned status %d", resp.StatusCode)
	}

	s.log.Info("email sent via sendgrid",
		zap.String("to", msg.To),
		zap.String("subject", msg.Subject),
		zap.Int("status", resp.StatusCode),
	)
	return nil
}
