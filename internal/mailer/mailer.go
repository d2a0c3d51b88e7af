// Package mailer sends registration notification email over SMTP.
package mailer

import (
	"fmt"
	"net/smtp"
	"strings"

	"go.uber.org/zap"

	"mintbind.io/mintbind/internal/config"
	"mintbind.io/mintbind/internal/pkg/logger"
)

// SMTP sends plain-text mail through a relay. An unconfigured relay
// drops mail with a log record instead of failing the caller;
// notifications are best effort.
type SMTP struct {
	addr string
	from string
}

// New creates a mailer from configuration.
func New(cfg config.MailConfig) *SMTP {
	return &SMTP{addr: cfg.SMTPAddr, from: cfg.From}
}

// Send sends one message.
func (s *SMTP) Send(to, subject, body string) error {
	if s.addr == "" {
		logger.Info("mail relay not configured, dropping notification",
			zap.String("to", to), zap.String("subject", subject))
		return nil
	}
	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", s.from)
	fmt.Fprintf(&b, "To: %s\r\n", to)
	fmt.Fprintf(&b, "Subject: %s\r\n", subject)
	b.WriteString("Content-Type: text/plain; charset=UTF-8\r\n")
	b.WriteString("\r\n")
	b.WriteString(strings.ReplaceAll(body, "\n", "\r\n"))
	if err := smtp.SendMail(s.addr, nil, s.from, []string{to}, []byte(b.String())); err != nil {
		return fmt.Errorf("send mail to %s: %w", to, err)
	}
	return nil
}
