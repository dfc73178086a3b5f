package conn

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/dep2p/overlay/config"
	pkgif "github.com/dep2p/overlay/pkg/interfaces"
	"github.com/dep2p/overlay/pkg/log"
	"github.com/dep2p/overlay/pkg/types"
	"github.com/dep2p/overlay/pkg/wire"

	"github.com/dep2p/overlay/internal/core/ping"
)

var logger = log.Named("conn")

var (
	ErrLinkNotReady   = errors.New("conn: link not ready")
	ErrAlreadyClosed  = errors.New("conn: already closed")
	ErrHandshakeTimeout = errors.New("conn: handshake timed out")
)

// payload tags distinguish application data from the connection's own
// ping/pong control chatter, all of which rides the same send ring.
const (
	tagApp byte = iota + 1
	tagPing
	tagPong
)

// slot is one entry of the fixed-size send ring.
type slot struct {
	valid    bool
	acked    bool
	datagram wire.TransDatagram
	sentAt   time.Time
}

// Connection is the shared implementation behind P2P and Relay Connections.
type Connection struct {
	self      types.PeerID
	remote    types.PeerID
	initiator bool
	session   pkgif.Session
	cfg       config.ConnectionConfig
	clock     clock.Clock

	mu    sync.Mutex
	state pkgif.ConnectionState

	ringMu      sync.Mutex
	ring        []slot
	sendPointer uint16
	ackPointer  uint16
	bufLen      uint16

	messages chan []byte
	checker  *ping.Checker

	connectedCh chan struct{}
	closeOnce   sync.Once
	closeCh     chan struct{}

	// acceptRelayFrom, when non-nil, causes handleDatagram to discard any datagram
	// whose RelayFrom is present and does not equal *acceptRelayFrom. P2P
	// Connections leave this nil.
	acceptRelayFrom *types.PeerID
}

// New wraps session in a reliable Connection between self and remote.
// initiator controls which side sends FirstHandshake.
func New(self, remote types.PeerID, session pkgif.Session, initiator bool, cfg config.ConnectionConfig, clk clock.Clock) *Connection {
	if clk == nil {
		clk = clock.New()
	}
	bufLen := cfg.BufferLength
	if bufLen == 0 {
		bufLen = config.DefaultConnectionConfig().BufferLength
	}
	c := &Connection{
		self:        self,
		remote:      remote,
		initiator:   initiator,
		session:     session,
		cfg:         cfg,
		clock:       clk,
		ring:        make([]slot, bufLen),
		bufLen:      bufLen,
		messages:    make(chan []byte, 256),
		connectedCh: make(chan struct{}),
		closeCh:     make(chan struct{}),
	}
	c.checker = ping.New(sendPingAdapter{c}, clk)
	go c.recvLoop()
	go c.retransmitLoop()
	return c
}

// RestrictToRelayFrom scopes this Connection to only accept datagrams whose
// RelayFrom matches from, used by Relay Connections sharing one physical
// session across many logical peers.
func (c *Connection) RestrictToRelayFrom(from types.PeerID) {
	c.acceptRelayFrom = &from
}

type sendPingAdapter struct{ c *Connection }

func (a sendPingAdapter) SendPing(seq uint16) error {
	return a.c.sendTagged(tagPing, seqBytes(seq))
}

func seqBytes(seq uint16) []byte {
	return []byte{byte(seq >> 8), byte(seq)}
}

func decodeSeqBytes(b []byte) uint16 {
	if len(b) < 2 {
		return 0
	}
	return uint16(b[0])<<8 | uint16(b[1])
}

// Connect drives the handshake to completion or ctx expiry.
func (c *Connection) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.state == pkgif.StateConnected {
		c.mu.Unlock()
		return nil
	}
	c.state = pkgif.StateHandshaking
	c.mu.Unlock()

	if c.initiator {
		if err := c.sendHandshake(wire.FlagFirstHandshake); err != nil {
			return err
		}
	}

	select {
	case <-c.connectedCh:
		return nil
	case <-ctx.Done():
		return ErrHandshakeTimeout
	case <-c.closeCh:
		return ErrAlreadyClosed
	}
}

func (c *Connection) sendHandshake(flag wire.DatagramFlag) error {
	dg := wire.TransDatagram{Flag: flag, Source: c.self, Destination: c.remote}
	return c.writeFrame(dg)
}

func (c *Connection) markConnected() {
	c.mu.Lock()
	already := c.state == pkgif.StateConnected
	c.state = pkgif.StateConnected
	c.mu.Unlock()
	if !already {
		close(c.connectedCh)
	}
}

// State reports the current handshake state.
func (c *Connection) State() pkgif.ConnectionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Send transmits an application payload.
func (c *Connection) Send(payload []byte) error {
	if c.State() != pkgif.StateConnected {
		return ErrLinkNotReady
	}
	return c.sendTagged(tagApp, payload)
}

func (c *Connection) sendTagged(tag byte, payload []byte) error {
	envelope := make([]byte, 1+len(payload))
	envelope[0] = tag
	copy(envelope[1:], payload)

	c.ringMu.Lock()
	seq := c.sendPointer
	idx := seq % c.bufLen
	c.ring[idx] = slot{valid: true, acked: false, sentAt: c.clock.Now(), datagram: wire.TransDatagram{
		Flag: wire.FlagSYN, Seq: seq, Source: c.self, Destination: c.remote, Payload: envelope,
	}}
	c.sendPointer++
	dg := c.ring[idx].datagram
	c.ringMu.Unlock()

	return c.writeFrame(dg)
}

// Ping measures round-trip latency over this Connection.
func (c *Connection) Ping(ctx context.Context, timeout time.Duration) uint32 {
	if c.State() != pkgif.StateConnected {
		return ping.DownCost
	}
	return c.checker.CheckPing(ctx, timeout)
}

// Messages delivers received application payloads in arrival order.
func (c *Connection) Messages() <-chan []byte {
	return c.messages
}

// Close tears down the connection and its background loops.
func (c *Connection) Close() error {
	c.closeOnce.Do(func() {
		close(c.closeCh)
		c.session.Close()
	})
	return nil
}

func (c *Connection) writeFrame(dg wire.TransDatagram) error {
	frame, err := wire.EncodeFrame(wire.TypeTransDatagram, dg)
	if err != nil {
		return fmt.Errorf("conn: encode datagram: %w", err)
	}
	return c.session.Send(frame)
}

// recvLoop pulls frames off the session and dispatches them.
func (c *Connection) recvLoop() {
	for {
		frame, err := c.session.Recv()
		if err != nil {
			return
		}
		typ, msg, err := wire.DecodeFrame(frame)
		if err != nil {
			logger.Debugw("dropping undecodable frame", "err", err)
			continue
		}
		if typ != wire.TypeTransDatagram {
			continue
		}
		c.handleDatagram(msg.(wire.TransDatagram))

		select {
		case <-c.closeCh:
			return
		default:
		}
	}
}

func (c *Connection) handleDatagram(dg wire.TransDatagram) {
	if c.acceptRelayFrom != nil {
		if dg.HasRelayFrom && dg.RelayFrom != *c.acceptRelayFrom {
			return
		}
	}

	switch {
	case dg.Flag.Has(wire.FlagFirstHandshake):
		c.sendHandshake(wire.FlagSecondHandshake)
		c.markConnected()
	case dg.Flag.Has(wire.FlagSecondHandshake):
		c.markConnected()
	case dg.Flag.Has(wire.FlagSYN):
		c.handleSyn(dg)
	case dg.Flag.Has(wire.FlagACK):
		c.handleAck(dg.Seq)
	}
}

func (c *Connection) handleSyn(dg wire.TransDatagram) {
	if len(dg.Payload) == 0 {
		return
	}
	tag := dg.Payload[0]
	body := dg.Payload[1:]

	switch tag {
	case tagApp:
		select {
		case c.messages <- body:
		default:
			logger.Warnw("message buffer full, dropping delivery", "remote", c.remote.String())
		}
	case tagPing:
		if err := c.sendTagged(tagPong, body); err != nil {
			logger.Debugw("pong send failed", "err", err)
		}
	case tagPong:
		c.checker.Deliver(decodeSeqBytes(body))
	default:
		logger.Debugw("unknown control tag, dropping", "tag", tag)
		return
	}

	// ACK every recognized SYN so the sender's window advances.
	ack := wire.TransDatagram{Flag: wire.FlagACK, Seq: dg.Seq, Source: c.self, Destination: c.remote}
	if err := c.writeFrame(ack); err != nil {
		logger.Debugw("ack send failed", "err", err)
	}
}

func (c *Connection) handleAck(seq uint16) {
	c.ringMu.Lock()
	defer c.ringMu.Unlock()

	idx := seq % c.bufLen
	if c.ring[idx].valid && c.ring[idx].datagram.Seq == seq {
		c.ring[idx].acked = true
	}

	for {
		idx := c.ackPointer % c.bufLen
		s := c.ring[idx]
		if !s.valid || s.datagram.Seq != c.ackPointer || !s.acked {
			break
		}
		if c.ackPointer == c.sendPointer {
			break
		}
		c.ring[idx] = slot{}
		c.ackPointer++
	}
}

// retransmitLoop resends, on every RetransmitInterval tick, the unacked SYNs
// whose age has reached MinRetransmitAge. The age bound is that fixed value;
// it does not follow the link's measured round-trip time.
func (c *Connection) retransmitLoop() {
	interval := c.cfg.RetransmitInterval.Duration()
	if interval <= 0 {
		interval = config.DefaultConnectionConfig().RetransmitInterval.Duration()
	}
	minAge := c.cfg.MinRetransmitAge.Duration()
	if minAge <= 0 {
		minAge = config.DefaultConnectionConfig().MinRetransmitAge.Duration()
	}

	ticker := c.clock.Ticker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-c.closeCh:
			return
		case <-ticker.C:
			c.retransmitAged(minAge)
		}
	}
}

func (c *Connection) retransmitAged(minAge time.Duration) {
	now := c.clock.Now()

	c.ringMu.Lock()
	var pending []wire.TransDatagram
	for seq := c.ackPointer; seq != c.sendPointer; seq++ {
		idx := seq % c.bufLen
		s := c.ring[idx]
		if s.valid && !s.acked && now.Sub(s.sentAt) >= minAge {
			pending = append(pending, s.datagram)
			c.ring[idx].sentAt = now
		}
	}
	c.ringMu.Unlock()

	for _, dg := range pending {
		if err := c.writeFrame(dg); err != nil {
			logger.Debugw("retransmit failed", "err", err)
		}
	}
}
