package mailer

import (
	"context"
	"log"
	"time"
)

// LogSender prints messages instead of sending them. The reset link, token
// included, ends up in the log: never use it in production.
type LogSender struct {
	Logger   *log.Logger
	Branding Branding
}

func (s LogSender) SendPasswordReset(_ context.Context, to, token string, expiresAt time.Time) error {
	link, err := s.Branding.ResetLink(token)
	if err != nil {
		return err
	}
	s.logger().Printf("mail to=%s subject=%q link=%s expires=%s", to, "password reset", link, expiresAt.Format(time.RFC3339))
	return nil
}

func (s LogSender) SendPasswordChanged(_ context.Context, to string) error {
	s.logger().Printf("mail to=%s subject=%q", to, "password changed")
	return nil
}

func (s LogSender) logger() *log.Logger {
	if s.Logger == nil {
		return log.Default()
	}
	return s.Logger
}
