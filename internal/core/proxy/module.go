package proxy

import (
	"context"

	"go.uber.org/fx"

	"github.com/dep2p/overlay/config"
	"github.com/dep2p/overlay/internal/core/routing"
	"github.com/dep2p/overlay/pkg/eventbus"
	"github.com/dep2p/overlay/pkg/types"
)

// ModuleInput collects the Proxy Manager's external collaborators for fx
// injection, mirroring the Router's ModuleInput pattern.
type ModuleInput struct {
	fx.In

	Self   types.PeerID
	Router *routing.Router
	Bus    *eventbus.Bus
	Cfg    config.ProxyConfig
}

func newModule(in ModuleInput) (*Manager, error) {
	m, err := NewManager(in.Self, in.Router, in.Bus)
	if err != nil {
		return nil, err
	}
	if in.Cfg.TunnelMapFile != "" {
		mappings, err := config.LoadTunnelMap(in.Cfg.TunnelMapFile)
		if err != nil {
			return nil, err
		}
		if err := m.LoadMappings(mappings); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func registerLifecycle(lc fx.Lifecycle, manager *Manager) {
	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			return manager.Close()
		},
	})
}

// Module wires the Proxy Manager into an fx application.
func Module() fx.Option {
	return fx.Module("proxy",
		fx.Provide(newModule),
		fx.Invoke(registerLifecycle),
	)
}
