package bootstrap

import (
	"strings"

	appconfig "github.com/wolfman30/lumen-clinic/internal/config"
	"github.com/wolfman30/lumen-clinic/internal/notify"
	"github.com/wolfman30/lumen-clinic/pkg/logging"
)

// BuildEmailSender selects SendGrid, then SES, then the logging stub. It
// returns the provider name for startup logs.
func BuildEmailSender(cfg *appconfig.Config, ses notify.SESAPI, logger *logging.Logger) (notify.EmailSender, string) {
	if logger == nil {
		logger = logging.Default()
	}
	if cfg == nil {
		return notify.NewStubEmailSender(logger), "stub"
	}

	if strings.TrimSpace(cfg.SendGridAPIKey) != "" {
		if sender := notify.NewSendGridSender(notify.SendGridConfig{
			APIKey:    cfg.SendGridAPIKey,
			FromEmail: cfg.SendGridFromEmail,
			FromName:  cfg.EmailFromName,
		}, logger); sender != nil {
			return sender, "sendgrid"
		}
	}
	if ses != nil && strings.TrimSpace(cfg.SESFromEmail) != "" {
		if sender := notify.NewSESSender(ses, notify.SESConfig{
			FromEmail: cfg.SESFromEmail,
			FromName:  cfg.EmailFromName,
		}, logger); sender != nil {
			return sender, "ses"
		}
	}
	logger.Warn("no email provider configured; invoice emails will only be logged")
	return notify.NewStubEmailSender(logger), "stub"
}

// BuildNotifier wires the billing notifier on top of the selected sender.
func BuildNotifier(cfg *appconfig.Config, sender notify.EmailSender, logger *logging.Logger) *notify.Notifier {
	nc := notify.NotifierConfig{}
	if cfg != nil {
		nc.ClinicName = cfg.ClinicName
		nc.AlertEmail = cfg.BillingAlertEmail
	}
	return notify.NewNotifier(sender, nc, logger)
}
