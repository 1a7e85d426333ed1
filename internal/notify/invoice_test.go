package notify

import (
	"context"
	"errors"
	"strings"
	"testing"
)

type mockEmailSender struct {
	sent    []EmailMessage
	callErr error
}

func (m *mockEmailSender) Send(ctx context.Context, msg EmailMessage) error {
	if m.callErr != nil {
		return m.callErr
	}
	m.sent = append(m.sent, msg)
	return nil
}

func TestNotifyInvoiceReady(t *testing.T) {
	sender := &mockEmailSender{}
	n := NewNotifier(sender, NotifierConfig{ClinicName: "Consultorio Lumen"}, nil)

	err := n.NotifyInvoiceReady(context.Background(), InvoiceReady{
		RequestID:     "req-1",
		PatientName:   "Ana Perez",
		PatientEmail:  "ana@example.com",
		InvoiceNumber: "A-0001-00000042",
		InvoiceURL:    "https://invoices.example.com/42.pdf",
		TotalCents:    3000000,
		Sessions:      3,
	})
	if err != nil {
		t.Fatalf("NotifyInvoiceReady: %v", err)
	}
	if len(sender.sent) != 1 {
		t.Fatalf("expected 1 email, got %d", len(sender.sent))
	}
	msg := sender.sent[0]
	if msg.To != "ana@example.com" || msg.ToName != "Ana Perez" {
		t.Errorf("unexpected recipient %q %q", msg.To, msg.ToName)
	}
	if !strings.Contains(msg.Subject, "A-0001-00000042") {
		t.Errorf("subject missing invoice number: %q", msg.Subject)
	}
	if !strings.Contains(msg.Body, "Hola Ana") || !strings.Contains(msg.Body, "$ 30.000,00") {
		t.Errorf("unexpected body: %q", msg.Body)
	}
	if !strings.Contains(msg.HTML, `href="https://invoices.example.com/42.pdf"`) {
		t.Errorf("html missing link: %q", msg.HTML)
	}
}

func TestNotifyInvoiceReady_NoEmailSkips(t *testing.T) {
	sender := &mockEmailSender{}
	n := NewNotifier(sender, NotifierConfig{}, nil)
	if err := n.NotifyInvoiceReady(context.Background(), InvoiceReady{PatientName: "Ana"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(sender.sent) != 0 {
		t.Fatalf("expected no email")
	}
}

func TestNotifyInvoiceReady_SendError(t *testing.T) {
	n := NewNotifier(&mockEmailSender{callErr: errors.New("boom")}, NotifierConfig{}, nil)
	err := n.NotifyInvoiceReady(context.Background(), InvoiceReady{PatientEmail: "a@example.com"})
	if err == nil {
		t.Fatal("expected error")
	}
}

func TestNotifyDispatchFailure(t *testing.T) {
	sender := &mockEmailSender{}
	n := NewNotifier(sender, NotifierConfig{AlertEmail: "admin@example.com"}, nil)
	if err := n.NotifyDispatchFailure(context.Background(), DispatchFailure{RequestID: "req-9", Status: "error_sending", Detail: "status 502"}); err != nil {
		t.Fatalf("NotifyDispatchFailure: %v", err)
	}
	if len(sender.sent) != 1 || sender.sent[0].To != "admin@example.com" {
		t.Fatalf("unexpected alerts %+v", sender.sent)
	}

	quiet := &mockEmailSender{}
	if err := NewNotifier(quiet, NotifierConfig{}, nil).NotifyDispatchFailure(context.Background(), DispatchFailure{}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(quiet.sent) != 0 {
		t.Fatal("alerts should be disabled without an alert address")
	}
}

func TestNewNotifier_NilSenderUsesStub(t *testing.T) {
	n := NewNotifier(nil, NotifierConfig{}, nil)
	if _, ok := n.email.(*StubEmailSender); !ok {
		t.Fatalf("expected stub sender, got %T", n.email)
	}
}

func TestFormatCents(t *testing.T) {
	tests := map[int64]string{
		0:         "$ 0,00",
		5:         "$ 0,05",
		100000:    "$ 1.000,00",
		123456789: "$ 1.234.567,89",
		-250050:   "-$ 2.500,50",
	}
	for in, want := range tests {
		if got := FormatCents(in); got != want {
			t.Errorf("FormatCents(%d) = %q, want %q", in, got, want)
		}
	}
}
