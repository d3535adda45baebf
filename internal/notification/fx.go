package notification

import (
	"go.uber.org/fx"

	"github.com/adrijusxx/linehaul/internal/config"
	"github.com/adrijusxx/linehaul/internal/notification/domain"
	"github.com/adrijusxx/linehaul/internal/notification/service"
	"github.com/adrijusxx/linehaul/internal/notification/smtp"
)

var Module = fx.Module("notification",
	fx.Provide(newSender),
	fx.Provide(service.Provide),
)

func newSender(cfg config.Config) domain.Sender {
	if cfg.SMTPHost == "" {
		return smtp.NoOpSender{}
	}
	return smtp.New(smtp.Config{
		Host:     cfg.SMTPHost,
		Port:     cfg.SMTPPort,
		Username: cfg.SMTPUser,
		Password: cfg.SMTPPass,
		From:     cfg.SMTPFrom,
	})
}
