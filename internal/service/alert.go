package service

import (
	"context"

	"shelfmarket-backend/internal/logger"
)

type adminAlerter struct {
	sender     Sender
	adminEmail string
}

// NewAdminAlerter logs every alert at error level and mails it to adminEmail
// when one is configured. Alerts bypass the durable queue since they often
// report that the queue is unavailable.
func NewAdminAlerter(sender Sender, adminEmail string) Alerter {
	return &adminAlerter{sender: sender, adminEmail: adminEmail}
}

func (a *adminAlerter) Alert(ctx context.Context, subject, message string) {
	logger.ErrorContext(ctx, "ADMIN ALERT", "subject", subject, "message", message)
	if a.sender == nil || a.adminEmail == "" {
		return
	}
	err := a.sender.Send(ctx, Message{
		Kind:        "admin_alert",
		RecipientID: "admin",
		To:          a.adminEmail,
		ToName:      "Administrator",
		Subject:     "[Regalmarkt] " + subject,
		Body:        message,
	})
	if err != nil {
		logger.Error("Failed to deliver admin alert", "subject", subject, "error", err)
	}
}
