package notify

import (
	"context"
	"fmt"

	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"

	"github.com/wolfman30/polyclinic-scheduler/pkg/logging"
)

const defaultFromName = "Polyclinic"

// EmailSender delivers one rendered email.
type EmailSender interface {
	Send(ctx context.Context, msg EmailMessage) error
}

// EmailMessage is a rendered email. HTML is optional.
type EmailMessage struct {
	To      string
	ToName  string
	Subject string
	Body    string
	HTML    string
}

// SendGridSender sends through the SendGrid v3 API.
type SendGridSender struct {
	client    *sendgrid.Client
	fromEmail string
	fromName  string
	logger    *logging.Logger
}

var _ EmailSender = (*SendGridSender)(nil)

type SendGridConfig struct {
	APIKey    string
	FromEmail string
	FromName  string
}

// NewSendGridSender returns nil when no API key is configured.
func NewSendGridSender(cfg SendGridConfig, logger *logging.Logger) *SendGridSender {
	if cfg.APIKey == "" {
		return nil
	}
	if logger == nil {
		logger = logging.Default()
	}
	if cfg.FromName == "" {
		cfg.FromName = defaultFromName
	}
	return &SendGridSender{
		client:    sendgrid.NewSendClient(cfg.APIKey),
		fromEmail: cfg.FromEmail,
		fromName:  cfg.FromName,
		logger:    logger,
	}
}

func (s *SendGridSender) Send(ctx context.Context, msg EmailMessage) error {
	if s == nil || s.client == nil {
		return fmt.Errorf("notify: sendgrid client not configured")
	}
	html := msg.HTML
	if html == "" {
		html = msg.Body
	}
	message := mail.NewSingleEmail(
		mail.NewEmail(s.fromName, s.fromEmail),
		msg.Subject,
		mail.NewEmail(msg.ToName, msg.To),
		msg.Body,
		html,
	)

	resp, err := s.client.SendWithContext(ctx, message)
	if err != nil {
		return fmt.Errorf("notify: sendgrid send: %w", err)
	}
	if resp.StatusCode >= 400 {
		s.logger.Warn("sendgrid rejected email", "status", resp.StatusCode, "body", resp.Body, "to", msg.To)
		return fmt.Errorf("notify: sendgrid returned status %d", resp.StatusCode)
	}
	s.logger.Debug("email sent via sendgrid", "to", msg.To, "subject", msg.Subject, "status", resp.StatusCode)
	return nil
}

// StubEmailSender only logs. Used when no provider is configured.
type StubEmailSender struct {
	logger *logging.Logger
}

var _ EmailSender = (*StubEmailSender)(nil)

func NewStubEmailSender(logger *logging.Logger) *StubEmailSender {
	if logger == nil {
		logger = logging.Default()
	}
	return &StubEmailSender{logger: logger}
}

func (s *StubEmailSender) Send(_ context.Context, msg EmailMessage) error {
	s.logger.Info("stub email sender: would send email", "to", msg.To, "subject", msg.Subject)
	return nil
}
