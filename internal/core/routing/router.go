package routing

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/errgroup"

	"github.com/dep2p/overlay/config"
	pkgif "github.com/dep2p/overlay/pkg/interfaces"
	"github.com/dep2p/overlay/pkg/log"
	"github.com/dep2p/overlay/pkg/types"
	"github.com/dep2p/overlay/pkg/wire"

	"github.com/dep2p/overlay/pkg/eventbus"
)

var logger = log.Named("router")

// Stats is a point-in-time snapshot of Router activity, mirroring the
// small value-typed Stats structs the corpus returns for introspection.
type Stats struct {
	PeersKnown       int
	RoutesKnown      int
	PacketsForwarded int64
	PacketsDropped   int64
	PacketsExpired   int64
}

type dedupKey struct {
	source    types.PeerID
	timestamp int64
}

// Router is the long-lived background task that discovers next hops via
// periodic link-state sweeps and forwards P2PPackets hop-by-hop.
type Router struct {
	self  types.PeerID
	table *Table
	peers pkgif.PeerManager
	link  pkgif.ServerLinkHolder
	cfg   config.RouterConfig
	clk   clock.Clock
	bus   *eventbus.Bus

	dedup *lru.Cache[dedupKey, struct{}]

	delivery *eventbus.Emitter

	handlersMu sync.Mutex
	handlers   map[types.PeerID]context.CancelFunc

	sweepMu   sync.Mutex
	sweepping bool

	forwarded atomic.Int64
	dropped   atomic.Int64
	expired   atomic.Int64
}

// NewRouter constructs a Router. table must be rooted at self.
func NewRouter(self types.PeerID, table *Table, peers pkgif.PeerManager, link pkgif.ServerLinkHolder, cfg config.RouterConfig, clk clock.Clock, bus *eventbus.Bus) *Router {
	if clk == nil {
		clk = clock.New()
	}
	dedupSize := cfg.FloodDedupSize
	if dedupSize <= 0 {
		dedupSize = config.DefaultRouterConfig().FloodDedupSize
	}
	cache, err := lru.New[dedupKey, struct{}](dedupSize)
	if err != nil {
		// only possible with a non-positive size, guarded above.
		cache, _ = lru.New[dedupKey, struct{}](1)
	}
	r := &Router{
		self:     self,
		table:    table,
		peers:    peers,
		link:     link,
		cfg:      cfg,
		clk:      clk,
		bus:      bus,
		dedup:    cache,
		handlers: make(map[types.PeerID]context.CancelFunc),
	}
	if bus != nil {
		if emitter, err := bus.Emitter(&types.DeliveryEvent{}); err == nil {
			r.delivery = emitter
		}
	}
	return r
}

// Run blocks until the rendezvous link is connected and signed in, then
// drives peer add/remove handling and the periodic sweep until ctx is
// cancelled. If the link never becomes ready before ctx is cancelled, Run
// exits cleanly.
func (r *Router) Run(ctx context.Context) error {
	waitTick := r.clk.Ticker(500 * time.Millisecond)
	defer waitTick.Stop()
	for !(r.link.IsConnected() && r.link.IsSignedIn()) {
		select {
		case <-ctx.Done():
			return nil
		case <-waitTick.C:
		}
	}

	added := r.peers.OnPeerAdded()
	removed := r.peers.OnPeerRemoved()

	for _, p := range r.peers.Snapshot() {
		r.installPeer(ctx, p)
		r.table.ForceAdd(p.ID, p.ID)
	}
	r.triggerSweep(ctx)

	sweepInterval := r.cfg.SweepInterval.Duration()
	if sweepInterval <= 0 {
		sweepInterval = config.DefaultRouterConfig().SweepInterval.Duration()
	}
	ticker := r.clk.Ticker(sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.handlersMu.Lock()
			for _, cancel := range r.handlers {
				cancel()
			}
			r.handlersMu.Unlock()
			return nil
		case p := <-added:
			r.installPeer(ctx, p)
			r.table.ForceAdd(p.ID, p.ID)
			r.triggerSweep(ctx)
		case id := <-removed:
			r.removePeer(id)
			r.triggerSweep(ctx)
		case <-ticker.C:
			r.triggerSweep(ctx)
		}
	}
}

// installPeer installs a message-reading goroutine for p's direct link,
// idempotently per peer.
func (r *Router) installPeer(ctx context.Context, p pkgif.Peer) {
	r.handlersMu.Lock()
	defer r.handlersMu.Unlock()
	if _, ok := r.handlers[p.ID]; ok {
		return
	}
	if p.DirectLink == nil {
		return
	}
	hctx, cancel := context.WithCancel(ctx)
	r.handlers[p.ID] = cancel
	go r.readLoop(hctx, p.ID, p.DirectLink)
}

func (r *Router) removePeer(id types.PeerID) {
	r.handlersMu.Lock()
	cancel, ok := r.handlers[id]
	if ok {
		delete(r.handlers, id)
	}
	r.handlersMu.Unlock()
	if ok {
		cancel()
	}

	if ls, ok := r.table.GetSelfLinkState(); ok {
		for i, iface := range ls.Interfaces {
			if iface == id {
				ls.Costs[i] = wire.CostDown
			}
		}
		ls.Timestamp = r.clk.Now().UnixNano()
		r.table.Update(ls)
	}
}

func (r *Router) readLoop(ctx context.Context, from types.PeerID, link pkgif.Connection) {
	for {
		select {
		case <-ctx.Done():
			return
		case frame, ok := <-link.Messages():
			if !ok {
				return
			}
			r.handleFrame(from, frame)
		}
	}
}

func (r *Router) handleFrame(arrivedFrom types.PeerID, frame []byte) {
	typ, msg, err := wire.DecodeFrame(frame)
	if err != nil {
		logger.Debugw("dropping undecodable router frame", "err", err)
		return
	}
	switch typ {
	case wire.TypeP2PPacket:
		r.handleP2PPacket(msg.(wire.P2PPacket))
	case wire.TypeLinkStatePacket:
		r.handleLinkStatePacket(arrivedFrom, msg.(wire.LinkStatePacket))
	case wire.TypeTransmitError:
		logger.Debugw("transmit error received", "kind", msg.(wire.P2PTransmitErrorPacket).Error)
	default:
		logger.Debugw("router ignoring non-routing frame", "type", typ)
	}
}

// Send wraps payload in a P2PPacket addressed to to and delegates to the
// forwarding path.
func (r *Router) Send(to types.PeerID, payload []byte) error {
	pkt := wire.NewP2PPacket(r.self, to, payload)
	r.handleP2PPacket(pkt)
	return nil
}

func (r *Router) handleP2PPacket(pkt wire.P2PPacket) {
	if pkt.To == r.self {
		if r.delivery != nil {
			r.delivery.Emit(types.DeliveryEvent{From: pkt.From, Payload: pkt.Payload})
		}
		return
	}

	pkt.TTL--
	if pkt.TTL == 0 {
		r.expired.Add(1)
		r.sendTransmitErrorForPacket(pkt.From, pkt.To, pkt.Payload)
		return
	}

	hop, ok := r.table.GetForwardInterface(pkt.To)
	if !ok {
		if r.peers.HasLink(pkt.To) {
			hop, ok = pkt.To, true
		}
	}
	if !ok {
		r.dropped.Add(1)
		logger.Debugw("no route, dropping packet", "to", pkt.To.String())
		return
	}

	if err := r.sendToPeer(hop, wire.TypeP2PPacket, pkt); err != nil {
		r.dropped.Add(1)
		logger.Warnw("forward failed", "hop", hop.String(), "err", err)
		return
	}
	r.forwarded.Add(1)
}

func (r *Router) sendTransmitErrorForPacket(to, originalTo types.PeerID, payload []byte) {
	errPkt := wire.P2PTransmitErrorPacket{
		Error:      wire.ErrKindTransmitExpired,
		From:       r.self,
		To:         to,
		OriginalTo: originalTo,
		Payload:    payload,
		TTL:        wire.InitialTTL,
	}
	hop, ok := r.table.GetForwardInterface(to)
	if !ok {
		if !r.peers.HasLink(to) {
			logger.Debugw("cannot deliver transmit error, no route to origin", "to", to.String())
			return
		}
		hop = to
	}
	if err := r.sendToPeer(hop, wire.TypeTransmitError, errPkt); err != nil {
		logger.Debugw("transmit error delivery failed", "err", err)
	}
}

func (r *Router) handleLinkStatePacket(arrivedFrom types.PeerID, lsp wire.LinkStatePacket) {
	if lsp.Source == r.self {
		return
	}

	key := dedupKey{source: lsp.Source, timestamp: lsp.Timestamp}
	if _, seen := r.dedup.Get(key); seen {
		return
	}
	r.dedup.Add(key, struct{}{})

	lsp.TTL--
	if lsp.TTL == 0 {
		r.expired.Add(1)
		errPkt := wire.P2PTransmitErrorPacket{
			Error:      wire.ErrKindTransmitExpired,
			From:       r.self,
			To:         lsp.Source,
			OriginalTo: lsp.Source,
			TTL:        wire.InitialTTL,
		}
		if hop, ok := r.table.GetForwardInterface(lsp.Source); ok {
			r.sendToPeer(hop, wire.TypeTransmitError, errPkt)
		}
		return
	}

	r.table.Update(lsp.LinkState)

	for _, p := range r.peers.Snapshot() {
		if p.ID == arrivedFrom || p.DirectLink == nil {
			continue
		}
		if p.DirectLink.State() != pkgif.StateConnected {
			continue
		}
		go func(p pkgif.Peer) {
			if err := r.sendToPeer(p.ID, wire.TypeLinkStatePacket, lsp); err != nil {
				logger.Debugw("flood forward failed", "to", p.ID.String(), "err", err)
			}
		}(p)
	}
}

func (r *Router) sendToPeer(dest types.PeerID, typ wire.MessageType, msg interface{}) error {
	p, ok := r.peers.Get(dest)
	if !ok || p.DirectLink == nil {
		return ErrNoRoute
	}
	frame, err := wire.EncodeFrame(typ, msg)
	if err != nil {
		return err
	}
	return p.DirectLink.Send(frame)
}

// triggerSweep runs one link probing round, dropping the request if a sweep
// is already in flight — a concurrent trigger simply no-ops instead of
// queuing.
func (r *Router) triggerSweep(ctx context.Context) {
	r.sweepMu.Lock()
	if r.sweepping {
		r.sweepMu.Unlock()
		return
	}
	r.sweepping = true
	r.sweepMu.Unlock()

	go func() {
		defer func() {
			r.sweepMu.Lock()
			r.sweepping = false
			r.sweepMu.Unlock()
		}()
		r.sweep(ctx)
	}()
}

func (r *Router) sweep(ctx context.Context) {
	peers := r.peers.Snapshot()
	if len(peers) == 0 {
		ls := wire.LinkState{Source: r.self, Timestamp: r.clk.Now().UnixNano()}
		r.table.Update(ls)
		return
	}

	pingTimeout := r.cfg.PingTimeout.Duration()
	if pingTimeout <= 0 {
		pingTimeout = config.DefaultRouterConfig().PingTimeout.Duration()
	}

	costs := make([]uint32, len(peers))
	g, gctx := errgroup.WithContext(ctx)
	for i, p := range peers {
		i, p := i, p
		g.Go(func() error {
			if p.DirectLink == nil || p.DirectLink.State() != pkgif.StateConnected {
				costs[i] = wire.CostDown
				return nil
			}
			costs[i] = p.DirectLink.Ping(gctx, pingTimeout)
			return nil
		})
	}
	_ = g.Wait()

	interfaces := make([]types.PeerID, len(peers))
	for i, p := range peers {
		interfaces[i] = p.ID
	}

	ls := wire.LinkState{
		Source:     r.self,
		Timestamp:  r.clk.Now().UnixNano(),
		Interfaces: interfaces,
		Costs:      costs,
	}
	r.table.Update(ls)

	lsp := wire.NewLinkStatePacket(ls)
	for _, p := range peers {
		if p.DirectLink == nil || p.DirectLink.State() != pkgif.StateConnected {
			continue
		}
		go func(p pkgif.Peer) {
			if err := r.sendToPeer(p.ID, wire.TypeLinkStatePacket, lsp); err != nil {
				logger.Debugw("sweep broadcast failed", "to", p.ID.String(), "err", err)
			}
		}(p)
	}
}

// Close releases the Router's event bus emitter.
func (r *Router) Close() error {
	if r.delivery != nil {
		return r.delivery.Close()
	}
	return nil
}

// Stats returns a snapshot of Router activity.
func (r *Router) Stats() Stats {
	return Stats{
		PeersKnown:       len(r.peers.Snapshot()),
		RoutesKnown:      r.table.RouteCount(),
		PacketsForwarded: r.forwarded.Load(),
		PacketsDropped:   r.dropped.Load(),
		PacketsExpired:   r.expired.Load(),
	}
}
