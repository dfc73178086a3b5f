package partner

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/dep2p/overlay/config"
	pkgif "github.com/dep2p/overlay/pkg/interfaces"
	"github.com/dep2p/overlay/pkg/eventbus"
	"github.com/dep2p/overlay/pkg/log"
	"github.com/dep2p/overlay/pkg/types"

	"github.com/dep2p/overlay/internal/core/ping"
)

var logger = log.Named("partner")

// Supervisor keeps one peer's Connection alive across reconnects and
// reports latency.
type Supervisor struct {
	peerID types.PeerID
	conn   pkgif.Connection
	cfg    config.PartnerConfig
	clk    clock.Clock

	connectedEmitter    *eventbus.Emitter
	disconnectedEmitter *eventbus.Emitter

	mu           sync.Mutex
	wasConnected bool

	latency atomic.Uint32
}

// New builds a Supervisor for conn, targeting peerID.
func New(peerID types.PeerID, conn pkgif.Connection, cfg config.PartnerConfig, clk clock.Clock, bus *eventbus.Bus) *Supervisor {
	if clk == nil {
		clk = clock.New()
	}
	s := &Supervisor{peerID: peerID, conn: conn, cfg: cfg, clk: clk}
	s.latency.Store(ping.DownCost)
	if bus != nil {
		s.connectedEmitter, _ = bus.Emitter(&types.PartnerConnectedEvent{})
		s.disconnectedEmitter, _ = bus.Emitter(&types.PartnerDisconnectedEvent{})
	}
	return s
}

// Latency returns the most recently observed round-trip cost, or
// ping.DownCost if the peer has never answered.
func (s *Supervisor) Latency() uint32 {
	return s.latency.Load()
}

// Run drives the reconnection loop every ReconnectInterval until ctx is
// cancelled.
func (s *Supervisor) Run(ctx context.Context) {
	interval := s.cfg.ReconnectInterval.Duration()
	if interval <= 0 {
		interval = config.DefaultPartnerConfig().ReconnectInterval.Duration()
	}
	pingTimeout := s.cfg.PingTimeout.Duration()
	if pingTimeout <= 0 {
		pingTimeout = config.DefaultPartnerConfig().PingTimeout.Duration()
	}

	s.tick(ctx, pingTimeout)

	ticker := s.clk.Ticker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(ctx, pingTimeout)
		}
	}
}

func (s *Supervisor) tick(ctx context.Context, pingTimeout time.Duration) {
	if s.conn.State() != pkgif.StateConnected {
		s.markDisconnected()
		connectCtx, cancel := context.WithTimeout(ctx, pingTimeout)
		err := s.conn.Connect(connectCtx)
		cancel()
		if err != nil {
			logger.Debugw("reconnect attempt failed", "peer", s.peerID.String(), "err", err)
			return
		}
		s.markConnected()
		return
	}

	cost := s.conn.Ping(ctx, pingTimeout)
	s.latency.Store(cost)
	if cost == ping.DownCost {
		s.markDisconnected()
	}
}

func (s *Supervisor) markConnected() {
	s.mu.Lock()
	rising := !s.wasConnected
	s.wasConnected = true
	s.mu.Unlock()
	if rising && s.connectedEmitter != nil {
		s.connectedEmitter.Emit(types.PartnerConnectedEvent{PeerID: s.peerID})
	}
}

func (s *Supervisor) markDisconnected() {
	s.mu.Lock()
	falling := s.wasConnected
	s.wasConnected = false
	s.mu.Unlock()
	if falling && s.disconnectedEmitter != nil {
		s.disconnectedEmitter.Emit(types.PartnerDisconnectedEvent{PeerID: s.peerID})
	}
}

// Close releases the supervisor's event bus emitters.
func (s *Supervisor) Close() error {
	if s.connectedEmitter != nil {
		s.connectedEmitter.Close()
	}
	if s.disconnectedEmitter != nil {
		s.disconnectedEmitter.Close()
	}
	return nil
}
