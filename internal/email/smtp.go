package email

import (
	"context"
	"fmt"

	"github.com/go-gomail/gomail"
)

// SMTPConfig holds the configuration for the SMTP email sender.
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	// SSL selects implicit TLS. STARTTLS is negotiated otherwise.
	SSL bool
	// SenderAddress is the email address emails are sent from.
	SenderAddress string
	// SenderName is the display name for the sender.
	SenderName string
}

// SMTPSender implements Sender over an SMTP relay.
type SMTPSender struct {
	dialer        *gomail.Dialer
	senderAddress string
	senderName    string
}

// NewSMTPSender creates a new SMTPSender.
func NewSMTPSender(cfg SMTPConfig) (*SMTPSender, error) {
	if cfg.Host == "" {
		return nil, fmt.Errorf("smtp: host is required")
	}
	if cfg.SenderAddress == "" {
		return nil, fmt.Errorf("smtp: sender address is required")
	}

	d := gomail.NewDialer(cfg.Host, cfg.Port, cfg.Username, cfg.Password)
	d.SSL = cfg.SSL

	return &SMTPSender{
		dialer:        d,
		senderAddress: cfg.SenderAddress,
		senderName:    cfg.SenderName,
	}, nil
}

// Send dials the relay and delivers a single message. gomail has no context
// support, so cancellation is only observed before dialing.
func (s *SMTPSender) Send(ctx context.Context, msg Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m := compose(s.senderAddress, s.senderName, msg)
	if err := s.dialer.DialAndSend(m); err != nil {
		return fmt.Errorf("smtp: failed to send email: %w", err)
	}
	return nil
}
