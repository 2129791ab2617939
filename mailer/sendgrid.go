package mailer

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sendgrid/rest"
	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"
)

// ErrSendFailed is returned when SendGrid rejects a message.
var ErrSendFailed = errors.New("email send failed")

const defaultSendGridHost = "https://api.sendgrid.com"

// SendGridConfig configures [SendGrid].
type SendGridConfig struct {
	APIKey      string
	FromName    string
	FromAddress string
	Branding    Branding
	// Host overrides the API host. Intended for tests.
	Host string
}

// SendGrid sends reset mail through the SendGrid v3 API.
type SendGrid struct {
	client   *sendgrid.Client
	from     *mail.Email
	branding Branding
	now      func() time.Time
}

// NewSendGrid validates cfg and builds the client.
func NewSendGrid(cfg SendGridConfig) (*SendGrid, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, errors.New("sendgrid: APIKey is required")
	}
	if strings.TrimSpace(cfg.FromAddress) == "" {
		return nil, errors.New("sendgrid: FromAddress is required")
	}
	if _, err := cfg.Branding.ResetLink("probe"); err != nil || cfg.Branding.ResetURL == "" {
		return nil, fmt.Errorf("sendgrid: invalid ResetURL %q", cfg.Branding.ResetURL)
	}

	host := cfg.Host
	if host == "" {
		host = defaultSendGridHost
	}
	req := sendgrid.GetRequest(cfg.APIKey, "/v3/mail/send", host)
	req.Method = rest.Post

	return &SendGrid{
		client:   &sendgrid.Client{Request: req},
		from:     mail.NewEmail(cfg.FromName, cfg.FromAddress),
		branding: cfg.Branding,
		now:      time.Now,
	}, nil
}

func (s *SendGrid) SendPasswordReset(ctx context.Context, to, token string, expiresAt time.Time) error {
	msg, err := s.branding.PasswordReset(token, expiresAt, s.now())
	if err != nil {
		return err
	}
	return s.send(ctx, to, msg)
}

func (s *SendGrid) SendPasswordChanged(ctx context.Context, to string) error {
	msg, err := s.branding.PasswordChanged()
	if err != nil {
		return err
	}
	return s.send(ctx, to, msg)
}

func (s *SendGrid) send(ctx context.Context, to string, msg Message) error {
	message := mail.NewSingleEmail(s.from, msg.Subject, mail.NewEmail("", to), msg.Text, msg.HTML)
	response, err := s.client.SendWithContext(ctx, message)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSendFailed, err)
	}
	if response.StatusCode >= 300 {
		return fmt.Errorf("%w: status %d", ErrSendFailed, response.StatusCode)
	}
	return nil
}
