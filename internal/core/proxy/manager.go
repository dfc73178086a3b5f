package proxy

import (
	"fmt"
	"net"
	"sync"

	"go.uber.org/multierr"

	"github.com/dep2p/overlay/config"
	"github.com/dep2p/overlay/pkg/eventbus"
	"github.com/dep2p/overlay/pkg/types"
	"github.com/dep2p/overlay/pkg/wire"
)

// RouterSend is the subset of the Router a Manager depends on: addressing
// bytes to a peer over the overlay. Router.Send satisfies it directly, so
// the proxy package never imports routing.
type RouterSend interface {
	Send(to types.PeerID, payload []byte) error
}

type acceptorKey struct {
	PartnerID        types.PeerID
	RemoteServerPort uint16
}

// Manager negotiates tunnel creation and owns every Acceptor and Pair on
// this host. It is payload-agnostic at the Router layer: it subscribes to
// delivered frames and decodes them itself.
type Manager struct {
	self   types.PeerID
	router RouterSend
	sub    *eventbus.Subscription

	mu              sync.Mutex
	acceptors       map[acceptorKey]*Acceptor
	acceptedSockets map[types.TunnelIdentifier]net.Conn
	proxies         map[types.TunnelIdentifier]*Pair

	done      chan struct{}
	closeOnce sync.Once
}

// NewManager subscribes to bus for delivered overlay frames and starts the
// dispatch loop that decodes proxy control and data messages out of them.
func NewManager(self types.PeerID, router RouterSend, bus *eventbus.Bus) (*Manager, error) {
	sub, err := bus.Subscribe(&types.DeliveryEvent{})
	if err != nil {
		return nil, err
	}
	m := &Manager{
		self:            self,
		router:          router,
		sub:             sub,
		acceptors:       make(map[acceptorKey]*Acceptor),
		acceptedSockets: make(map[types.TunnelIdentifier]net.Conn),
		proxies:         make(map[types.TunnelIdentifier]*Pair),
		done:            make(chan struct{}),
	}
	go m.dispatchLoop()
	return m, nil
}

// LoadMappings pre-creates one Acceptor per static tunnel mapping, the way
// a config file loaded at startup describes fixed port forwards.
func (m *Manager) LoadMappings(mappings []config.TunnelMapping) error {
	for _, mp := range mappings {
		partnerID, err := mp.PartnerPeerID()
		if err != nil {
			return fmt.Errorf("proxy: invalid partner id in tunnel map: %w", err)
		}
		if err := m.AddMapping(partnerID, mp.LocalPort, mp.RemotePort); err != nil {
			return err
		}
	}
	return nil
}

// AddMapping binds a local port that forwards to remoteServerPort on
// partnerID, and starts pumping its accepted sockets into outbound tunnel
// negotiation.
func (m *Manager) AddMapping(partnerID types.PeerID, localPort, remoteServerPort uint16) error {
	a, err := NewAcceptor(partnerID, localPort, remoteServerPort)
	if err != nil {
		return err
	}
	key := acceptorKey{PartnerID: partnerID, RemoteServerPort: remoteServerPort}
	m.mu.Lock()
	m.acceptors[key] = a
	m.mu.Unlock()

	go m.pumpAccepted(a)
	return nil
}

func (m *Manager) pumpAccepted(a *Acceptor) {
	for {
		select {
		case <-m.done:
			return
		case sock, ok := <-a.Accepted():
			if !ok {
				return
			}
			m.handleAccepted(sock)
		}
	}
}

// handleAccepted is the Outbound open flow: a local client just connected
// to a mapped port, so a fresh tunnel is stashed and negotiated with the
// partner. The tunnel's local-port component is the client's own ephemeral
// source port, not the acceptor's fixed listening port: the acceptor's port
// is shared by every client that dials it, so keying tunnels on it would
// collide two concurrent clients onto the same TunnelIdentifier.
func (m *Manager) handleAccepted(sock AcceptedSocket) {
	localPort := ephemeralPort(sock.Conn)
	tunnel := types.TunnelIdentifier{PartnerID: m.self, LocalPort: localPort, RemotePort: sock.RemoteServerPort}

	m.mu.Lock()
	m.acceptedSockets[tunnel] = sock.Conn
	m.mu.Unlock()

	req := wire.ProxyConnectReq{
		IsResponse:     false,
		ClientID:       m.self,
		ClientRealPort: localPort,
		ServerRealPort: sock.RemoteServerPort,
	}
	frame, err := wire.EncodeFrame(wire.TypeProxyConnectReq, req)
	if err != nil {
		logger.Errorw("encode connect request", "err", err)
		m.dropOrphan(tunnel)
		return
	}
	if err := m.router.Send(sock.PartnerID, frame); err != nil {
		logger.Warnw("send connect request failed", "partner", sock.PartnerID, "err", err)
		m.dropOrphan(tunnel)
	}
}

// ephemeralPort extracts the client-chosen source port a locally accepted
// TCP connection arrived from.
func ephemeralPort(conn net.Conn) uint16 {
	if addr, ok := conn.RemoteAddr().(*net.TCPAddr); ok {
		return uint16(addr.Port)
	}
	return 0
}

func (m *Manager) dropOrphan(tunnel types.TunnelIdentifier) {
	m.mu.Lock()
	sock, ok := m.acceptedSockets[tunnel]
	delete(m.acceptedSockets, tunnel)
	m.mu.Unlock()
	if ok {
		sock.Close()
	}
}

func (m *Manager) dispatchLoop() {
	for ev := range m.sub.Out() {
		de, ok := ev.(types.DeliveryEvent)
		if !ok {
			continue
		}
		m.handleFrame(de.From, de.Payload)
	}
}

func (m *Manager) handleFrame(from types.PeerID, frame []byte) {
	typ, msg, err := wire.DecodeFrame(frame)
	if err != nil {
		logger.Debugw("undecodable delivery, ignoring", "from", from, "err", err)
		return
	}
	switch typ {
	case wire.TypeProxyConnectReq:
		req, ok := msg.(wire.ProxyConnectReq)
		if !ok {
			return
		}
		if req.IsResponse {
			m.handleConnectResponse(from, req)
		} else {
			m.handleConnectRequest(from, req)
		}
	case wire.TypeTunnelPayload:
		tp, ok := msg.(wire.TunnelPayload)
		if !ok {
			return
		}
		m.handleTunnelPayload(tp)
	case wire.TypeTunnelClose:
		tc, ok := msg.(wire.TunnelClose)
		if !ok {
			return
		}
		m.handleTunnelClose(tc)
	default:
		logger.Debugw("delivery not addressed to proxy, ignoring", "from", from, "type", typ)
	}
}

// handleConnectRequest is the Inbound open flow: a partner wants a tunnel
// to a real service on this host.
func (m *Manager) handleConnectRequest(from types.PeerID, req wire.ProxyConnectReq) {
	socket, err := net.Dial("tcp", fmt.Sprintf("127.0.0.1:%d", req.ServerRealPort))
	if err != nil {
		logger.Warnw("dial local service failed", "port", req.ServerRealPort, "err", err)
		return
	}

	tunnel := types.TunnelIdentifier{PartnerID: req.ClientID, LocalPort: req.ClientRealPort, RemotePort: req.ServerRealPort}
	pair := NewPair(tunnel, socket, m.tunnelSender(from, tunnel), m.tunnelCloser(from, tunnel), m.removeProxy)
	m.setProxy(tunnel, pair)

	resp := req
	resp.IsResponse = true
	frame, err := wire.EncodeFrame(wire.TypeProxyConnectReq, resp)
	if err != nil {
		logger.Errorw("encode connect response", "err", err)
		return
	}
	if err := m.router.Send(from, frame); err != nil {
		logger.Warnw("send connect response failed", "to", from, "err", err)
	}
}

// handleConnectResponse is the Response-received flow: the partner accepted
// our outbound request, so the stashed local socket graduates to a Pair.
func (m *Manager) handleConnectResponse(from types.PeerID, req wire.ProxyConnectReq) {
	tunnel := types.TunnelIdentifier{PartnerID: req.ClientID, LocalPort: req.ClientRealPort, RemotePort: req.ServerRealPort}
	key := acceptorKey{PartnerID: from, RemoteServerPort: req.ServerRealPort}

	m.mu.Lock()
	_, known := m.acceptors[key]
	socket, ok := m.acceptedSockets[tunnel]
	if ok {
		delete(m.acceptedSockets, tunnel)
	}
	m.mu.Unlock()

	if !known {
		logger.Errorw("connect response from unmapped acceptor", "from", from, "port", req.ServerRealPort, "err", ErrMissingAcceptor)
		if ok {
			socket.Close()
		}
		return
	}
	if !ok {
		logger.Errorw("connect response for unknown tunnel", "from", from, "tunnel", tunnel, "err", ErrMissingOrphanSocket)
		return
	}

	pair := NewPair(tunnel, socket, m.tunnelSender(from, tunnel), m.tunnelCloser(from, tunnel), m.removeProxy)
	m.setProxy(tunnel, pair)
}

func (m *Manager) handleTunnelPayload(tp wire.TunnelPayload) {
	m.mu.Lock()
	pair, ok := m.proxies[tp.Tunnel]
	m.mu.Unlock()
	if !ok {
		logger.Debugw("tunnel payload for unknown tunnel, dropping", "tunnel", tp.Tunnel)
		return
	}
	pair.Deliver(tp.Data)
}

// handleTunnelClose disposes the local half of a tunnel whose remote half
// just tore down, without echoing another TunnelClose back at it.
func (m *Manager) handleTunnelClose(tc wire.TunnelClose) {
	m.mu.Lock()
	pair, ok := m.proxies[tc.Tunnel]
	m.mu.Unlock()
	if !ok {
		logger.Debugw("tunnel close for unknown tunnel, dropping", "tunnel", tc.Tunnel)
		return
	}
	pair.CloseRemote()
}

func (m *Manager) tunnelSender(peer types.PeerID, tunnel types.TunnelIdentifier) Sender {
	return func(data []byte) error {
		frame, err := wire.EncodeFrame(wire.TypeTunnelPayload, wire.TunnelPayload{Tunnel: tunnel, Data: data})
		if err != nil {
			return err
		}
		return m.router.Send(peer, frame)
	}
}

// tunnelCloser returns a Pair's notifyClose callback: it tells peer's
// Manager that this side of tunnel is gone.
func (m *Manager) tunnelCloser(peer types.PeerID, tunnel types.TunnelIdentifier) func() error {
	return func() error {
		frame, err := wire.EncodeFrame(wire.TypeTunnelClose, wire.TunnelClose{Tunnel: tunnel})
		if err != nil {
			return err
		}
		return m.router.Send(peer, frame)
	}
}

// setProxy installs pair as the tunnel's Pair. At most one Pair may exist
// per tunnel; an existing one is disposed first.
func (m *Manager) setProxy(tunnel types.TunnelIdentifier, pair *Pair) {
	m.mu.Lock()
	old := m.proxies[tunnel]
	m.proxies[tunnel] = pair
	m.mu.Unlock()
	if old != nil {
		logger.Errorw("duplicate tunnel, disposing previous pair", "tunnel", tunnel)
		old.Close()
	}
}

// removeProxy is a Pair's onDispose callback. It only removes p if p is
// still the tunnel's current Pair, so a Pair replaced by setProxy can't
// clobber its successor when it finishes tearing down.
func (m *Manager) removeProxy(p *Pair) {
	m.mu.Lock()
	if cur, ok := m.proxies[p.tunnel]; ok && cur == p {
		delete(m.proxies, p.tunnel)
	}
	m.mu.Unlock()
}

// Close tears down every acceptor and open tunnel.
func (m *Manager) Close() error {
	var err error
	m.closeOnce.Do(func() {
		close(m.done)
		err = multierr.Append(err, m.sub.Close())

		m.mu.Lock()
		acceptors := make([]*Acceptor, 0, len(m.acceptors))
		for _, a := range m.acceptors {
			acceptors = append(acceptors, a)
		}
		proxies := make([]*Pair, 0, len(m.proxies))
		for _, p := range m.proxies {
			proxies = append(proxies, p)
		}
		m.mu.Unlock()

		for _, a := range acceptors {
			err = multierr.Append(err, a.Close())
		}
		for _, p := range proxies {
			err = multierr.Append(err, p.Close())
		}
	})
	return err
}
