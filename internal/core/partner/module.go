package partner

import (
	"go.uber.org/fx"

	"github.com/dep2p/overlay/config"
)

// Module exposes the Partner Supervisor's configuration to an fx
// application. Supervisors themselves are constructed per-peer at the point
// a direct link is established, not as a single fx-managed singleton.
func Module() fx.Option {
	return fx.Module("partner",
		fx.Provide(func(cfg *config.Config) config.PartnerConfig { return cfg.Partner }),
	)
}
