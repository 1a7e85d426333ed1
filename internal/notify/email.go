package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"
	"github.com/wolfman30/lumen-clinic/pkg/logging"
)

// ErrNoRecipient is returned for messages without a To address.
var ErrNoRecipient = errors.New("notify: email has no recipient")

// Categories tag outgoing mail for provider-side filtering.
const (
	CategoryInvoiceReady = "invoice_ready"
	CategoryBillingAlert = "billing_alert"
)

// EmailSender delivers one message. SendGrid, SES and the logging stub
// implement it.
type EmailSender interface {
	Send(ctx context.Context, msg EmailMessage) error
}

// EmailMessage represents an email to be sent.
type EmailMessage struct {
	To       string
	ToName   string
	ReplyTo  string
	Subject  string
	Body     string // Plain text body
	HTML     string // Optional HTML body
	Category string
}

func (m EmailMessage) validate() error {
	if strings.TrimSpace(m.To) == "" {
		return ErrNoRecipient
	}
	return nil
}

// SendGridSender sends emails via SendGrid API.
type SendGridSender struct {
	client    *sendgrid.Client
	fromEmail string
	fromName  string
	logger    *logging.Logger
}

// SendGridConfig holds configuration for SendGrid.
type SendGridConfig struct {
	APIKey    string
	FromEmail string
	FromName  string
}

// NewSendGridSender creates a new SendGrid email sender.
func NewSendGridSender(cfg SendGridConfig, logger *logging.Logger) *SendGridSender {
	if cfg.APIKey == "" {
		return nil
	}
	if logger == nil {
		logger = logging.Default()
	}
	if cfg.FromName == "" {
		cfg.FromName = "Lumen"
	}
	return &SendGridSender{
		client:    sendgrid.NewSendClient(cfg.APIKey),
		fromEmail: cfg.FromEmail,
		fromName:  cfg.FromName,
		logger:    logger,
	}
}

// Send sends an email via SendGrid.
func (s *SendGridSender) Send(ctx context.Context, msg EmailMessage) error {
	if s.client == nil {
		return fmt.Errorf("notify: sendgrid client not configured")
	}
	if err := msg.validate(); err != nil {
		return err
	}
	message := s.build(msg)

	response, err := s.client.SendWithContext(ctx, message)
	if err != nil {
		s.logger.Error("sendgrid send failed", "error", err, "to", msg.To)
		return fmt.Errorf("notify: sendgrid send failed: %w", err)
	}

	if response.StatusCode >= 400 {
		s.logger.Error("sendgrid returned error status", "status", response.StatusCode, "body", response.Body, "to", msg.To)
		return fmt.Errorf("notify: sendgrid returned status %d", response.StatusCode)
	}

	s.logger.Info("email sent via sendgrid", "to", msg.To, "category", msg.Category, "status", response.StatusCode)
	return nil
}

func (s *SendGridSender) build(msg EmailMessage) *mail.SGMailV3 {
	from := mail.NewEmail(s.fromName, s.fromEmail)
	to := mail.NewEmail(msg.ToName, msg.To)

	html := msg.HTML
	if html == "" {
		html = msg.Body
	}
	message := mail.NewSingleEmail(from, msg.Subject, to, msg.Body, html)
	if msg.ReplyTo != "" {
		message.SetReplyTo(mail.NewEmail("", msg.ReplyTo))
	}
	if msg.Category != "" {
		message.AddCategories(msg.Category)
	}
	return message
}

// StubEmailSender is a no-op sender for testing or when email is disabled.
type StubEmailSender struct {
	logger *logging.Logger
}

// NewStubEmailSender creates a stub email sender that logs but doesn't send.
func NewStubEmailSender(logger *logging.Logger) *StubEmailSender {
	if logger == nil {
		logger = logging.Default()
	}
	return &StubEmailSender{logger: logger}
}

// Send logs the email but doesn't actually send it.
func (s *StubEmailSender) Send(ctx context.Context, msg EmailMessage) error {
	if err := msg.validate(); err != nil {
		return err
	}
	s.logger.Info("stub email sender: would send email", "to", msg.To, "subject", msg.Subject, "category", msg.Category)
	return nil
}
