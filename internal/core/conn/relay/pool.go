package relay

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/multierr"

	"github.com/dep2p/overlay/config"
	pkgif "github.com/dep2p/overlay/pkg/interfaces"
	"github.com/dep2p/overlay/pkg/log"
	"github.com/dep2p/overlay/pkg/types"
	"github.com/dep2p/overlay/pkg/wire"
)

var logger = log.Named("conn/relay")

var (
	// ErrRejected is returned when the relay server declines the
	// CreateRelayLinkMessage handshake.
	ErrRejected = errors.New("relay: link creation rejected")
	// ErrNotConnected is returned by Disconnect on an endpoint with no
	// outstanding holders.
	ErrNotConnected = errors.New("relay: endpoint not connected")
)

// endpointState is the single mutex-guarded tuple: one lock covering the
// session, its cancellation, and its refcount, so the three concerns never
// drift out of sync.
type endpointState struct {
	mu       sync.Mutex
	session  *sharedSession
	cancel   context.CancelFunc
	refCount uint32
}

// Pool is the process-wide shared relay session pool.
type Pool struct {
	dialer pkgif.RelayDialer
	cfg    config.RelayConfig
	clk    clock.Clock
	userID func() string
	roomID func() string

	mapMu sync.Mutex
	states map[types.IPEndpoint]*endpointState
}

// NewPool constructs a Pool. userID/roomID are read lazily at dial time so
// callers can wire them to a rendezvous session that may not be signed in
// yet at construction.
func NewPool(dialer pkgif.RelayDialer, cfg config.RelayConfig, clk clock.Clock, userID, roomID func() string) *Pool {
	if clk == nil {
		clk = clock.New()
	}
	return &Pool{
		dialer: dialer,
		cfg:    cfg,
		clk:    clk,
		userID: userID,
		roomID: roomID,
		states: make(map[types.IPEndpoint]*endpointState),
	}
}

func (p *Pool) getOrCreateState(ep types.IPEndpoint) *endpointState {
	p.mapMu.Lock()
	defer p.mapMu.Unlock()
	st, ok := p.states[ep]
	if !ok {
		st = &endpointState{}
		p.states[ep] = st
	}
	return st
}

// Connect jitters the dial, then reuses or dials-and-handshakes under a
// per-endpoint lock, bumps the refcount, and starts the background
// heartbeat/liveness pair on first dial. It returns a fresh Session view
// scoped to the caller.
func (p *Pool) Connect(ctx context.Context, ep types.IPEndpoint) (pkgif.Session, error) {
	if err := p.jitter(ctx); err != nil {
		return nil, err
	}

	st := p.getOrCreateState(ep)
	st.mu.Lock()
	defer st.mu.Unlock()

	if st.session == nil {
		raw, err := p.dialer.DialRelay(ctx, ep)
		if err != nil {
			return nil, err
		}
		if err := p.handshake(raw); err != nil {
			raw.Close()
			return nil, err
		}
		st.session = newSharedSession(raw)
		cctx, cancel := context.WithCancel(context.Background())
		st.cancel = cancel
		go p.heartbeatLoop(cctx, st.session)
		go p.livenessLoop(cctx, ep, st)
	}

	st.refCount++
	id, ch := st.session.subscribe()
	return &subscriberSession{shared: st.session, id: id, ch: ch}, nil
}

func (p *Pool) jitter(ctx context.Context) error {
	lo := p.cfg.DialJitterMin.Duration()
	hi := p.cfg.DialJitterMax.Duration()
	if hi <= lo {
		lo, hi = config.DefaultRelayConfig().DialJitterMin.Duration(), config.DefaultRelayConfig().DialJitterMax.Duration()
	}
	span := hi - lo
	delay := lo
	if span > 0 {
		delay += time.Duration(rand.Int63n(int64(span)))
	}
	timer := p.clk.Timer(delay)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *Pool) handshake(raw pkgif.Session) error {
	frame, err := wire.EncodeFrame(wire.TypeCreateRelayLink, wire.CreateRelayLinkMessage{
		UserID: p.userID(),
		RoomID: p.roomID(),
	})
	if err != nil {
		return err
	}
	if err := raw.Send(frame); err != nil {
		return err
	}
	respFrame, err := raw.Recv()
	if err != nil {
		return err
	}
	typ, msg, err := wire.DecodeFrame(respFrame)
	if err != nil {
		return err
	}
	if typ != wire.TypeRelayLinkCreated {
		return ErrRejected
	}
	if !msg.(wire.RelayLinkCreatedMessage).Accepted {
		return ErrRejected
	}
	return nil
}

// Disconnect decrements ep's refcount; at zero it cancels the shared
// cancellation, closes the session, and evicts the pool entry.
func (p *Pool) Disconnect(ep types.IPEndpoint) error {
	p.mapMu.Lock()
	st, ok := p.states[ep]
	p.mapMu.Unlock()
	if !ok {
		return ErrNotConnected
	}

	st.mu.Lock()
	if st.refCount == 0 {
		st.mu.Unlock()
		return ErrNotConnected
	}
	st.refCount--
	shouldClose := st.refCount == 0
	var err error
	if shouldClose {
		st.cancel()
		err = st.session.close()
		st.session = nil
	}
	st.mu.Unlock()

	if shouldClose {
		p.mapMu.Lock()
		delete(p.states, ep)
		p.mapMu.Unlock()
	}
	return err
}

// RefCount reports the current holder count for ep, for tests and metrics.
func (p *Pool) RefCount(ep types.IPEndpoint) uint32 {
	p.mapMu.Lock()
	st, ok := p.states[ep]
	p.mapMu.Unlock()
	if !ok {
		return 0
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.refCount
}

func (p *Pool) heartbeatLoop(ctx context.Context, ss *sharedSession) {
	interval := p.cfg.HeartbeatInterval.Duration()
	if interval <= 0 {
		interval = config.DefaultRelayConfig().HeartbeatInterval.Duration()
	}
	ticker := p.clk.Ticker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			frame, err := wire.EncodeFrame(wire.TypeHeartBeat, wire.HeartBeat{})
			if err != nil {
				continue
			}
			if err := ss.send(frame); err != nil {
				logger.Debugw("heartbeat send failed", "err", err)
			}
		}
	}
}

// livenessLoop tears the shared session down if no inbound heartbeat (or any
// other frame) has been observed for LivenessTimeout.
func (p *Pool) livenessLoop(ctx context.Context, ep types.IPEndpoint, st *endpointState) {
	timeout := p.cfg.LivenessTimeout.Duration()
	if timeout <= 0 {
		timeout = config.DefaultRelayConfig().LivenessTimeout.Duration()
	}
	interval := p.cfg.HeartbeatInterval.Duration()
	if interval <= 0 {
		interval = config.DefaultRelayConfig().HeartbeatInterval.Duration()
	}

	id, ch := st.session.subscribe()
	defer st.session.unsubscribe(id)

	ticker := p.clk.Ticker(interval)
	defer ticker.Stop()
	lastSeen := p.clk.Now()

	for {
		select {
		case <-ctx.Done():
			return
		case _, ok := <-ch:
			if !ok {
				return
			}
			lastSeen = p.clk.Now()
		case <-ticker.C:
			if p.clk.Now().Sub(lastSeen) > timeout {
				logger.Warnw("relay liveness timeout, tearing down session", "endpoint", ep.String())
				p.forceEvict(ep, st)
				return
			}
		}
	}
}

func (p *Pool) forceEvict(ep types.IPEndpoint, st *endpointState) {
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.session == nil {
		return
	}
	st.cancel()
	if err := st.session.close(); err != nil {
		logger.Debugw("liveness eviction close error", "err", err)
	}
	st.session = nil
	st.refCount = 0

	p.mapMu.Lock()
	delete(p.states, ep)
	p.mapMu.Unlock()
}

// Close tears down every live relay session, aggregating close errors.
func (p *Pool) Close() error {
	p.mapMu.Lock()
	states := make([]*endpointState, 0, len(p.states))
	for _, st := range p.states {
		states = append(states, st)
	}
	p.states = make(map[types.IPEndpoint]*endpointState)
	p.mapMu.Unlock()

	var errs error
	for _, st := range states {
		st.mu.Lock()
		if st.session != nil {
			st.cancel()
			errs = multierr.Append(errs, st.session.close())
			st.session = nil
		}
		st.mu.Unlock()
	}
	return errs
}
