package mail

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	gomail "github.com/wneessen/go-mail"
	"go.uber.org/zap"
)

// DefaultDialTimeout bounds the connect and each SMTP exchange.
const DefaultDialTimeout = 30 * time.Second

const heloName = "localhost"

// SMTPConfig holds the mail server settings.
type SMTPConfig struct {
	Address string
	Port    int
	// Username defaults to the message sender.
	Username string
	Password string
	// DialTimeout defaults to DefaultDialTimeout.
	DialTimeout time.Duration
	// TLSConfig overrides the STARTTLS client configuration.
	TLSConfig *tls.Config
}

// SMTPSender delivers messages through an SMTP relay, upgrading with
// STARTTLS when the server offers it.
type SMTPSender struct {
	cfg    SMTPConfig
	logger *zap.Logger
}

// NewSMTPSender validates cfg and returns a sender.
func NewSMTPSender(cfg SMTPConfig, logger *zap.Logger) (*SMTPSender, error) {
	if strings.TrimSpace(cfg.Address) == "" {
		return nil, errors.New("smtp address is required")
	}
	if cfg.Port <= 0 || cfg.Port > 65535 {
		return nil, fmt.Errorf("smtp port %d out of range", cfg.Port)
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = DefaultDialTimeout
	}
	if cfg.TLSConfig == nil {
		cfg.TLSConfig = &tls.Config{ServerName: cfg.Address, MinVersion: tls.VersionTLS12}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SMTPSender{cfg: cfg, logger: logger.Named("smtp")}, nil
}

// Send delivers msg to its single recipient.
func (s *SMTPSender) Send(ctx context.Context, msg Message) error {
	m, err := msg.build()
	if err != nil {
		return fmt.Errorf("compose message: %w", err)
	}
	username := s.cfg.Username
	if username == "" {
		username = msg.From
	}
	client, err := s.newClient(username)
	if err != nil {
		return fmt.Errorf("smtp client: %w", err)
	}
	addr := net.JoinHostPort(s.cfg.Address, strconv.Itoa(s.cfg.Port))
	if err := client.DialAndSendWithContext(ctx, m); err != nil {
		return fmt.Errorf("deliver via smtp %s: %w", addr, err)
	}
	s.logger.Info("mail sent",
		zap.String("to", msg.To),
		zap.String("subject", msg.Subject),
		zap.Int("attachments", len(msg.Attachments)),
	)
	return nil
}

func (s *SMTPSender) newClient(username string) (*gomail.Client, error) {
	opts := []gomail.Option{
		gomail.WithPort(s.cfg.Port),
		gomail.WithTimeout(s.cfg.DialTimeout),
		gomail.WithTLSPolicy(gomail.TLSOpportunistic),
		gomail.WithTLSConfig(s.cfg.TLSConfig),
		gomail.WithHELO(heloName),
	}
	if s.cfg.Password != "" {
		opts = append(opts,
			gomail.WithSMTPAuth(gomail.SMTPAuthPlain),
			gomail.WithUsername(username),
			gomail.WithPassword(s.cfg.Password),
		)
	}
	return gomail.NewClient(s.cfg.Address, opts...)
}
