// Package smtp delivers notifications over plain SMTP.
package smtp

import (
	"context"
	"fmt"
	"net/smtp"

	"github.com/adrijusxx/linehaul/internal/notification/domain"
)

type Config struct {
	Host     string
	Port     string
	Username string
	Password string
	From     string
}

type Sender struct {
	cfg Config
}

func New(cfg Config) *Sender {
	return &Sender{cfg: cfg}
}

func (s *Sender) Send(ctx context.Context, to []string, subject, body string) error {
	if len(to) == 0 {
		return nil
	}
	auth := smtp.PlainAuth("", s.cfg.Username, s.cfg.Password, s.cfg.Host)
	addr := fmt.Sprintf("%s:%s", s.cfg.Host, s.cfg.Port)

	msg := []byte(fmt.Sprintf("To: %s\r\nSubject: %s\r\n\r\n%s", to[0], subject, body))
	return smtp.SendMail(addr, auth, s.cfg.From, to, msg)
}

// NoOpSender is used when SMTP is not configured.
type NoOpSender struct{}

func (NoOpSender) Send(ctx context.Context, to []string, subject, body string) error { return nil }

var _ domain.Sender = (*Sender)(nil)
var _ domain.Sender = NoOpSender{}
