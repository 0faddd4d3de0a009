package services

import (
	"context"
	"fmt"

	"github.com/resend/resend-go/v2"

	"github.com/beaconlabs/beacon/internal/config"
	"github.com/beaconlabs/beacon/internal/logging"
)

// EmailSender delivers a single message. Implementations are selected from
// config: "resend" for production, "console" for local development.
type EmailSender interface {
	Send(ctx context.Context, to, subject, html, text string) error
}

type EmailService struct {
	cfg    *config.EmailConfig
	sender EmailSender
}

func NewEmailService(cfg *config.EmailConfig) *EmailService {
	var sender EmailSender
	switch cfg.Provider {
	case "resend":
		sender = &resendSender{
			client: resend.NewClient(cfg.ResendAPIKey),
			from:   fmt.Sprintf("%s <%s>", cfg.FromName, cfg.FromAddress),
		}
	default:
		sender = &consoleSender{}
	}
	return &EmailService{cfg: cfg, sender: sender}
}

func (s *EmailService) Send(ctx context.Context, to, subject, html, text string) error {
	return s.sender.Send(ctx, to, subject, html, text)
}

func (s *EmailService) BaseURL() string {
	return s.cfg.BaseURL
}

type resendSender struct {
	client *resend.Client
	from   string
}

func (r *resendSender) Send(ctx context.Context, to, subject, html, text string) error {
	params := &resend.SendEmailRequest{
		From:    r.from,
		To:      []string{to},
		Subject: subject,
		Html:    html,
		Text:    text,
	}
	if _, err := r.client.Emails.SendWithContext(ctx, params); err != nil {
		return fmt.Errorf("sending email via resend: %w", err)
	}
	return nil
}

// consoleSender logs instead of delivering, for local development.
type consoleSender struct{}

func (c *consoleSender) Send(ctx context.Context, to, subject, html, text string) error {
	logging.Info("Email (console provider)", map[string]interface{}{
		"to":      to,
		"subject": subject,
		"text":    text,
	})
	return nil
}
