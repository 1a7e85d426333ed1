package notify

import (
	"context"
	"fmt"
	"html"
	"strconv"
	"strings"

	"github.com/wolfman30/lumen-clinic/pkg/logging"
)

// InvoiceReady describes a finished invoice for a patient.
type InvoiceReady struct {
	RequestID     string
	PatientName   string
	PatientEmail  string
	InvoiceNumber string
	InvoiceURL    string
	TotalCents    int64
	Sessions      int
}

// DispatchFailure describes an invoice request the workflow could not take.
type DispatchFailure struct {
	RequestID   string
	PatientName string
	Status      string
	Detail      string
}

// Notifier sends billing emails to patients and clinic staff.
type Notifier struct {
	email      EmailSender
	clinicName string
	alertEmail string
	logger     *logging.Logger
}

// NotifierConfig configures Notifier.
type NotifierConfig struct {
	ClinicName string
	// AlertEmail receives dispatch failures. Empty disables alerts.
	AlertEmail string
}

// NewNotifier creates a billing notifier. A nil sender falls back to the stub.
func NewNotifier(email EmailSender, cfg NotifierConfig, logger *logging.Logger) *Notifier {
	if logger == nil {
		logger = logging.Default()
	}
	if email == nil {
		email = NewStubEmailSender(logger)
	}
	if cfg.ClinicName == "" {
		cfg.ClinicName = "Lumen"
	}
	return &Notifier{email: email, clinicName: cfg.ClinicName, alertEmail: cfg.AlertEmail, logger: logger}
}

// NotifyInvoiceReady emails the patient a link to their invoice.
func (n *Notifier) NotifyInvoiceReady(ctx context.Context, inv InvoiceReady) error {
	to := strings.TrimSpace(inv.PatientEmail)
	if to == "" {
		n.logger.Debug("notify: patient has no email, skipping invoice notice", "request_id", inv.RequestID)
		return nil
	}

	subject := fmt.Sprintf("%s - Factura %s", n.clinicName, inv.InvoiceNumber)
	if inv.InvoiceNumber == "" {
		subject = fmt.Sprintf("%s - Tu factura está lista", n.clinicName)
	}

	var body strings.Builder
	fmt.Fprintf(&body, "Hola %s,\n\n", firstName(inv.PatientName))
	fmt.Fprintf(&body, "Tu factura por %d sesión(es) ya está disponible.\n", inv.Sessions)
	fmt.Fprintf(&body, "Total: %s\n", FormatCents(inv.TotalCents))
	if inv.InvoiceNumber != "" {
		fmt.Fprintf(&body, "Número: %s\n", inv.InvoiceNumber)
	}
	if inv.InvoiceURL != "" {
		fmt.Fprintf(&body, "\nDescargala acá: %s\n", inv.InvoiceURL)
	}
	fmt.Fprintf(&body, "\nGracias,\n%s\n", n.clinicName)

	var htmlBody strings.Builder
	fmt.Fprintf(&htmlBody, "<p>Hola %s,</p>", html.EscapeString(firstName(inv.PatientName)))
	fmt.Fprintf(&htmlBody, "<p>Tu factura por %d sesión(es) ya está disponible.<br>Total: <strong>%s</strong></p>", inv.Sessions, FormatCents(inv.TotalCents))
	if inv.InvoiceURL != "" {
		fmt.Fprintf(&htmlBody, `<p><a href="%s">Ver factura %s</a></p>`, html.EscapeString(inv.InvoiceURL), html.EscapeString(inv.InvoiceNumber))
	}
	fmt.Fprintf(&htmlBody, "<p>Gracias,<br>%s</p>", html.EscapeString(n.clinicName))

	if err := n.email.Send(ctx, EmailMessage{
		To:       to,
		ToName:   inv.PatientName,
		ReplyTo:  n.alertEmail,
		Subject:  subject,
		Body:     body.String(),
		HTML:     htmlBody.String(),
		Category: CategoryInvoiceReady,
	}); err != nil {
		return fmt.Errorf("notify: invoice ready: %w", err)
	}
	return nil
}

// NotifyDispatchFailure alerts clinic staff that an invoice request needs a retry.
func (n *Notifier) NotifyDispatchFailure(ctx context.Context, f DispatchFailure) error {
	if n.alertEmail == "" {
		return nil
	}
	body := fmt.Sprintf("La solicitud de factura %s (%s) quedó en estado %s.\n\nDetalle: %s\n",
		f.RequestID, f.PatientName, f.Status, f.Detail)
	if err := n.email.Send(ctx, EmailMessage{
		To:       n.alertEmail,
		Subject:  fmt.Sprintf("%s - Error de facturación (%s)", n.clinicName, f.Status),
		Body:     body,
		Category: CategoryBillingAlert,
	}); err != nil {
		return fmt.Errorf("notify: dispatch failure: %w", err)
	}
	return nil
}

func firstName(name string) string {
	fields := strings.Fields(name)
	if len(fields) == 0 {
		return "!"
	}
	return fields[0]
}

// FormatCents renders cents in the clinic's locale, e.g. "$ 12.345,50".
func FormatCents(cents int64) string {
	sign := ""
	if cents < 0 {
		sign = "-"
		cents = -cents
	}
	whole := strconv.FormatInt(cents/100, 10)
	var grouped strings.Builder
	for i, r := range whole {
		if i > 0 && (len(whole)-i)%3 == 0 {
			grouped.WriteByte('.')
		}
		grouped.WriteRune(r)
	}
	return fmt.Sprintf("%s$ %s,%02d", sign, grouped.String(), cents%100)
}
