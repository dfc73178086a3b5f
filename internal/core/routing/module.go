package routing

import (
	"context"

	"github.com/benbjohnson/clock"
	"go.uber.org/fx"

	"github.com/dep2p/overlay/config"
	pkgif "github.com/dep2p/overlay/pkg/interfaces"
	"github.com/dep2p/overlay/pkg/eventbus"
	"github.com/dep2p/overlay/pkg/types"
)

// ModuleInput collects the Router's external collaborators for fx injection.
type ModuleInput struct {
	fx.In

	Self  types.PeerID
	Peers pkgif.PeerManager
	Link  pkgif.ServerLinkHolder
	Bus   *eventbus.Bus
	Clock clock.Clock `optional:"true"`
	Cfg   config.RouterConfig
}

// ModuleOutput exposes the constructed Router and its Route Table.
type ModuleOutput struct {
	fx.Out

	Table  *Table
	Router *Router
}

func newModule(in ModuleInput) ModuleOutput {
	table := New(in.Self)
	router := NewRouter(in.Self, table, in.Peers, in.Link, in.Cfg, in.Clock, in.Bus)
	return ModuleOutput{Table: table, Router: router}
}

func registerLifecycle(lc fx.Lifecycle, router *Router) {
	ctx, cancel := context.WithCancel(context.Background())
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go router.Run(ctx)
			return nil
		},
		OnStop: func(context.Context) error {
			cancel()
			return router.Close()
		},
	})
}

// Module wires the Route Table and Router into an fx application.
func Module() fx.Option {
	return fx.Module("routing",
		fx.Provide(newModule),
		fx.Invoke(registerLifecycle),
	)
}
