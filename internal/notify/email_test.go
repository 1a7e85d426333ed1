package notify

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
)

func TestNewSendGridSender_NilWithoutAPIKey(t *testing.T) {
	sender := NewSendGridSender(SendGridConfig{
		APIKey:    "",
		FromEmail: "test@example.com",
	}, nil)

	if sender != nil {
		t.Error("expected nil sender when API key is empty")
	}
}

func TestNewSendGridSender_DefaultFromName(t *testing.T) {
	sender := NewSendGridSender(SendGridConfig{
		APIKey:    "test-key",
		FromEmail: "test@example.com",
		FromName:  "",
	}, nil)

	if sender == nil {
		t.Fatal("expected non-nil sender")
	}
	if sender.fromName != "Lumen" {
		t.Errorf("expected default from name 'Lumen', got %q", sender.fromName)
	}
}

func TestNewSendGridSender_CustomFromName(t *testing.T) {
	sender := NewSendGridSender(SendGridConfig{
		APIKey:    "test-key",
		FromEmail: "test@example.com",
		FromName:  "Custom Name",
	}, nil)

	if sender == nil {
		t.Fatal("expected non-nil sender")
	}
	if sender.fromName != "Custom Name" {
		t.Errorf("expected from name 'Custom Name', got %q", sender.fromName)
	}
}

func TestSendGridSender_Send_NilClient(t *testing.T) {
	sender := &SendGridSender{
		client: nil,
	}

	err := sender.Send(context.Background(), EmailMessage{
		To:      "recipient@example.com",
		Subject: "Test",
		Body:    "Test body",
	})

	if err == nil {
		t.Error("expected error when client is nil")
	}
}

func TestStubEmailSender_Send(t *testing.T) {
	sender := NewStubEmailSender(nil)

	err := sender.Send(context.Background(), EmailMessage{
		To:      "recipient@example.com",
		Subject: "Test Subject",
		Body:    "Test body",
	})

	if err != nil {
		t.Errorf("stub sender should not return error, got: %v", err)
	}
}

func TestSendGridSender_BuildSetsReplyToAndCategory(t *testing.T) {
	sender := NewSendGridSender(SendGridConfig{APIKey: "test-key", FromEmail: "facturas@example.com"}, nil)
	msg := sender.build(EmailMessage{
		To:       "ana@example.com",
		ToName:   "Ana Perez",
		ReplyTo:  "admin@example.com",
		Subject:  "Factura",
		Body:     "hola",
		Category: CategoryInvoiceReady,
	})
	if msg.ReplyTo == nil || msg.ReplyTo.Address != "admin@example.com" {
		t.Errorf("unexpected reply-to %+v", msg.ReplyTo)
	}
	if len(msg.Categories) != 1 || msg.Categories[0] != CategoryInvoiceReady {
		t.Errorf("unexpected categories %v", msg.Categories)
	}
	if len(msg.Content) != 2 || msg.Content[1].Value != "hola" {
		t.Errorf("expected text body reused as html, got %+v", msg.Content)
	}
}

func TestSendersRejectMissingRecipient(t *testing.T) {
	stub := NewStubEmailSender(nil)
	if err := stub.Send(context.Background(), EmailMessage{Subject: "x"}); !errors.Is(err, ErrNoRecipient) {
		t.Errorf("stub: expected ErrNoRecipient, got %v", err)
	}
	ses := NewSESSender(&fakeSES{}, SESConfig{FromEmail: "facturas@example.com"}, nil)
	if err := ses.Send(context.Background(), EmailMessage{To: "  "}); !errors.Is(err, ErrNoRecipient) {
		t.Errorf("ses: expected ErrNoRecipient, got %v", err)
	}
}

type fakeSES struct {
	input *sesv2.SendEmailInput
}

func (f *fakeSES) SendEmail(ctx context.Context, params *sesv2.SendEmailInput, optFns ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error) {
	f.input = params
	return &sesv2.SendEmailOutput{MessageId: aws.String("msg-1")}, nil
}

func TestSESSender_Send(t *testing.T) {
	client := &fakeSES{}
	sender := NewSESSender(client, SESConfig{FromEmail: "facturas@example.com"}, nil)

	err := sender.Send(context.Background(), EmailMessage{
		To:       "ana@example.com",
		ReplyTo:  "admin@example.com",
		Subject:  "Factura",
		Body:     "hola",
		HTML:     "<p>hola</p>",
		Category: CategoryInvoiceReady,
	})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if got := aws.ToString(client.input.FromEmailAddress); got != "Lumen <facturas@example.com>" {
		t.Errorf("unexpected from %q", got)
	}
	if client.input.Content.Simple.Body.Html == nil || client.input.Content.Simple.Body.Text == nil {
		t.Errorf("expected text and html parts")
	}
	if len(client.input.ReplyToAddresses) != 1 || client.input.ReplyToAddresses[0] != "admin@example.com" {
		t.Errorf("unexpected reply-to %v", client.input.ReplyToAddresses)
	}
	if len(client.input.EmailTags) != 1 || aws.ToString(client.input.EmailTags[0].Value) != CategoryInvoiceReady {
		t.Errorf("unexpected tags %+v", client.input.EmailTags)
	}
}
