package ledger

import (
	"go.uber.org/fx"

	"github.com/adrijusxx/linehaul/internal/config"
	"github.com/adrijusxx/linehaul/internal/ledger/client"
	"github.com/adrijusxx/linehaul/internal/ledger/domain"
)

var Module = fx.Module("ledger",
	fx.Provide(newClient),
)

func newClient(cfg config.Config) domain.Client {
	return client.New(client.Config{
		BaseURL: cfg.LedgerBaseURL,
		APIKey:  cfg.LedgerAPIKey,
	})
}
