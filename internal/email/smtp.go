package email

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strings"

	"github.com/emersion/go-sasl"
	"github.com/emersion/go-smtp"

	"github.com/mixelka/replybot/internal/retry"
)

// SMTPConfig configuration for outgoing mail
type SMTPConfig struct {
	Server   string // host:port; port 465 uses implicit TLS, anything else STARTTLS
	Username string
	Password string
}

// Sender submits messages to an SMTP server
type Sender struct {
	config SMTPConfig
	logger *slog.Logger
	dial   func(addr string) (*smtp.Client, error)
}

// NewSender creates a new SMTP sender
func NewSender(cfg SMTPConfig, logger *slog.Logger) *Sender {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Sender{
		config: cfg,
		logger: logger.With("component", "smtp"),
	}
	s.dial = s.dialTLS
	return s
}

func (s *Sender) dialTLS(addr string) (*smtp.Client, error) {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return nil, fmt.Errorf("invalid SMTP server %q: %w", addr, err)
	}
	tlsConfig := &tls.Config{ServerName: host, MinVersion: tls.VersionTLS12}
	if port == "465" {
		return smtp.DialTLS(addr, tlsConfig)
	}
	return smtp.DialStartTLS(addr, tlsConfig)
}

// Send delivers msg to the recipients. Permanent (5xx) rejections are
// wrapped with retry.Stop.
func (s *Sender) Send(ctx context.Context, from string, to []string, msg []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	c, err := s.dial(s.config.Server)
	if err != nil {
		return fmt.Errorf("failed to connect to SMTP server: %w", err)
	}
	defer c.Close()

	if s.config.Username != "" {
		auth := sasl.NewPlainClient("", s.config.Username, s.config.Password)
		if err := c.Auth(auth); err != nil {
			return classify(fmt.Errorf("failed to authenticate: %w", err))
		}
	}

	if err := c.Mail(from, nil); err != nil {
		return classify(fmt.Errorf("failed to set sender: %w", err))
	}
	for _, rcpt := range to {
		if err := c.Rcpt(strings.TrimSpace(rcpt), nil); err != nil {
			return classify(fmt.Errorf("failed to set recipient: %w", err))
		}
	}

	wc, err := c.Data()
	if err != nil {
		return classify(fmt.Errorf("failed to start data: %w", err))
	}
	if _, err := bytes.NewReader(msg).WriteTo(wc); err != nil {
		_ = wc.Close()
		return fmt.Errorf("failed to write message: %w", err)
	}
	if err := wc.Close(); err != nil {
		return classify(fmt.Errorf("failed to close data writer: %w", err))
	}

	if err := c.Quit(); err != nil {
		// the message was already accepted
		s.logger.Warn("failed to send QUIT", "error", err)
	}
	return nil
}

// classify marks 5xx replies as permanent
func classify(err error) error {
	var smtpErr *smtp.SMTPError
	if errors.As(err, &smtpErr) && !smtpErr.Temporary() {
		return retry.Stop(err)
	}
	return err
}
