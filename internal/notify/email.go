package notify

import (
	"context"
	"fmt"
	"net/smtp"
	"strings"

	"github.com/redis/go-redis/v9"
	"github.com/teamtalk/internal/config"
)

// emailKey maps a user id to their notification address, written by the
// profile endpoint of the api service.
func emailKey(userID string) string { return "email:" + userID }

// EmailSender delivers intents over SMTP.
type EmailSender struct {
	rdb *redis.Client
	cfg config.SMTPConfig
}

func NewEmailSender(rdb *redis.Client, cfg config.SMTPConfig) *EmailSender {
	return &EmailSender{rdb: rdb, cfg: cfg}
}

func (s *EmailSender) Name() string { return ChannelEmail }

// SaveEmail registers the user's notification address.
func SaveEmail(ctx context.Context, rdb *redis.Client, userID, address string) error {
	if err := rdb.Set(ctx, emailKey(userID), address, 0).Err(); err != nil {
		return fmt.Errorf("email: save address: %w", err)
	}
	return nil
}

func (s *EmailSender) Send(ctx context.Context, in Intent) error {
	if s.cfg.Host == "" {
		return ErrNoRoute
	}
	to, err := s.rdb.Get(ctx, emailKey(in.Recipient)).Result()
	if err == redis.Nil || to == "" {
		return ErrNoRoute
	}
	if err != nil {
		return fmt.Errorf("email: load address: %w", err)
	}

	subject, body := renderEmail(in)
	msg := strings.Join([]string{
		fmt.Sprintf("From: %s <%s>", s.cfg.FromName, s.cfg.FromEmail),
		"To: " + to,
		"Subject: " + subject,
		"MIME-Version: 1.0",
		`Content-Type: text/plain; charset="UTF-8"`,
		"",
		body,
	}, "\r\n")

	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	var auth smtp.Auth
	if s.cfg.Username != "" {
		auth = smtp.PlainAuth("", s.cfg.Username, s.cfg.Password, s.cfg.Host)
	}
	if err := smtp.SendMail(addr, auth, s.cfg.FromEmail, []string{to}, []byte(msg)); err != nil {
		return fmt.Errorf("email: send: %w", err)
	}
	return nil
}

func renderEmail(in Intent) (subject, body string) {
	preview := in.Data["preview"]
	switch in.Template {
	case TemplateMention:
		subject = "You were mentioned"
		body = fmt.Sprintf("You were mentioned in a conversation.\n\n%s", preview)
	case TemplateNewMessage:
		subject = "New message"
		body = fmt.Sprintf("You have a new message.\n\n%s", preview)
	default:
		subject = "Conversation update"
		body = "One of your conversations changed. Open the app for details."
	}
	return subject, body
}
