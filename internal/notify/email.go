package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/doananhminh-dev/Class-calm/internal/alert"
	"github.com/doananhminh-dev/Class-calm/internal/types"
	"github.com/doananhminh-dev/Class-calm/internal/util"
)

// alertEmail renders the subject and body of a noise alert email.
func alertEmail(room string, a alert.Alert) (subject, body string) {
	subject = "[ALERT] Too Loud - " + room
	body = fmt.Sprintf(
		"The noise level in %s stayed above the limit.\n\n"+
			"Level:   %.0f\n"+
			"Limit:   %.0f\n"+
			"Meter:   %s\n"+
			"Time:    %s",
		room, a.Level, a.Limit, a.Session, util.FormatHumanTime(a.At),
	)
	return subject, body
}

// sendAlertEmail delivers a noise alert through client.
func sendAlertEmail(ctx context.Context, client *GraphClient, recipients, room string, a alert.Alert) error {
	to := ParseRecipients(recipients)
	if len(to) == 0 {
		return fmt.Errorf("no valid recipients")
	}
	subject, body := alertEmail(room, a)
	if err := client.SendMail(ctx, Mail{To: to, Subject: subject, Body: body, Urgent: true}); err != nil {
		return util.WrapError("send email via Graph", err)
	}
	return nil
}

// SendTestEmail sends a test email to verify email configuration.
func SendTestEmail(ctx context.Context, cfg *types.GraphConfig, room string) error {
	if err := ValidateConfig(cfg); err != nil {
		return fmt.Errorf("configuration error: %w", err)
	}

	client, err := NewGraphClient(cfg)
	if err != nil {
		return fmt.Errorf("create Graph client: %w", err)
	}

	// Validate authentication first
	if err := client.ValidateAuth(ctx); err != nil {
		return fmt.Errorf("authentication failed: %w", err)
	}

	subject := "[TEST] " + room
	body := fmt.Sprintf(
		"Test email from %s.\n\n"+
			"Time: %s\n\n"+
			"Microsoft Graph configuration is working correctly.",
		AppName, util.FormatHumanTime(time.Now()),
	)

	if err := client.SendMail(ctx, Mail{To: ParseRecipients(cfg.Recipients), Subject: subject, Body: body}); err != nil {
		return fmt.Errorf("send email: %w", err)
	}

	return nil
}
