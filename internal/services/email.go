package services

import (
	"context"
	"fmt"

	"vashsender/internal/config"
	"vashsender/internal/mailer"
	"vashsender/internal/utils/logger"
)

var log = logger.New("SERVICES")

// SystemMailer sends the platform's own transactional mail (sender
// confirmation codes) through the configured relay.
type SystemMailer struct {
	sender   mailer.Sender
	server   mailer.Server
	from     string
	fromName string
}

func NewSystemMailer(sender mailer.Sender, cfg config.MailConfig) *SystemMailer {
	return &SystemMailer{
		sender:   sender,
		server:   mailer.ServerFromConfig(cfg),
		from:     cfg.FromAddress,
		fromName: cfg.FromName,
	}
}

func (m *SystemMailer) Send(ctx context.Context, to, subject, text, html string) error {
	msg := &mailer.Message{
		FromName:    m.fromName,
		FromAddress: m.from,
		To:          to,
		Subject:     subject,
		Text:        text,
		HTML:        html,
	}
	if _, err := m.sender.Send(ctx, m.server, msg); err != nil {
		return log.Error(fmt.Sprintf("failed to send system mail to %s", to), err)
	}
	return nil
}

func (m *SystemMailer) SendSenderCode(ctx context.Context, to, code string) error {
	subject := "Confirm your sender address"
	text := fmt.Sprintf("Your VashSender confirmation code is %s.\n\nIt expires in 24 hours. If you did not add this address, ignore this email.\n", code)
	html := fmt.Sprintf(`<p>Your VashSender confirmation code is <strong>%s</strong>.</p><p>It expires in 24 hours. If you did not add this address, ignore this email.</p>`, code)
	return m.Send(ctx, to, subject, text, html)
}
