// Package email provides an SMTP-based notifier for decision notifications.
package email

import (
	"context"
	"fmt"
	"net/smtp"
	"strings"

	"github.com/arbiterhq/arbiter/internal/port/notifier"
)

const channelName = "email"

// SMTPConfig holds the configuration for SMTP connections.
type SMTPConfig struct {
	Host     string
	Port     int
	From     string
	Password string
	To       []string
}

// Notifier sends email notifications via SMTP.
type Notifier struct {
	cfg SMTPConfig
}

// NewNotifier creates a new email notifier.
func NewNotifier(cfg SMTPConfig) *Notifier {
	return &Notifier{cfg: cfg}
}

func (n *Notifier) Name() string { return channelName }

// Send delivers the notification to every configured recipient.
func (n *Notifier) Send(_ context.Context, notification notifier.Notification) error {
	if n.cfg.Host == "" || n.cfg.From == "" || len(n.cfg.To) == 0 {
		return notifier.ErrNotConfigured
	}

	addr := fmt.Sprintf("%s:%d", n.cfg.Host, n.cfg.Port)
	subject := fmt.Sprintf("[arbiter/%s] %s", notification.Level, notification.Title)

	msg := fmt.Sprintf("From: %s\r\nTo: %s\r\nSubject: %s\r\nContent-Type: text/plain; charset=UTF-8\r\n\r\n%s\r\n\r\nEvent: %s\r\n",
		n.cfg.From, strings.Join(n.cfg.To, ", "), subject, notification.Message, notification.Event)

	var auth smtp.Auth
	if n.cfg.Password != "" {
		auth = smtp.PlainAuth("", n.cfg.From, n.cfg.Password, n.cfg.Host)
	}

	if err := smtp.SendMail(addr, auth, n.cfg.From, n.cfg.To, []byte(msg)); err != nil {
		return fmt.Errorf("email send: %w", err)
	}
	return nil
}
