package routing

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/require"

	"github.com/dep2p/overlay/config"
	pkgif "github.com/dep2p/overlay/pkg/interfaces"
	"github.com/dep2p/overlay/pkg/types"
	"github.com/dep2p/overlay/pkg/wire"

	"github.com/dep2p/overlay/pkg/eventbus"
)

// fakeLink implements pkgif.Connection by wiring Send() straight into a
// paired fakeLink's Messages() channel, standing in for a real Connection.
type fakeLink struct {
	mu    sync.Mutex
	state pkgif.ConnectionState
	peer  *fakeLink
	ch    chan []byte
}

func newFakeLinkPair() (*fakeLink, *fakeLink) {
	a := &fakeLink{state: pkgif.StateConnected, ch: make(chan []byte, 64)}
	b := &fakeLink{state: pkgif.StateConnected, ch: make(chan []byte, 64)}
	a.peer, b.peer = b, a
	return a, b
}

func (f *fakeLink) Connect(ctx context.Context) error { return nil }
func (f *fakeLink) Send(payload []byte) error {
	f.peer.ch <- payload
	return nil
}
func (f *fakeLink) Ping(ctx context.Context, timeout time.Duration) uint32 { return 10 }
func (f *fakeLink) State() pkgif.ConnectionState                          { return f.state }
func (f *fakeLink) Messages() <-chan []byte                               { return f.ch }
func (f *fakeLink) Close() error                                          { return nil }

// fakePeerManager is a minimal, fixed PeerManager for router tests.
type fakePeerManager struct {
	mu    sync.RWMutex
	peers map[types.PeerID]pkgif.Peer
}

func newFakePeerManager() *fakePeerManager {
	return &fakePeerManager{peers: make(map[types.PeerID]pkgif.Peer)}
}

func (m *fakePeerManager) add(p pkgif.Peer) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.peers[p.ID] = p
}

func (m *fakePeerManager) Get(id types.PeerID) (pkgif.Peer, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.peers[id]
	return p, ok
}

func (m *fakePeerManager) Snapshot() []pkgif.Peer {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]pkgif.Peer, 0, len(m.peers))
	for _, p := range m.peers {
		out = append(out, p)
	}
	return out
}

func (m *fakePeerManager) HasLink(id types.PeerID) bool {
	_, ok := m.Get(id)
	return ok
}

func (m *fakePeerManager) OnPeerAdded() <-chan pkgif.Peer     { return make(chan pkgif.Peer) }
func (m *fakePeerManager) OnPeerRemoved() <-chan types.PeerID { return make(chan types.PeerID) }

type alwaysReady struct{}

func (alwaysReady) IsConnected() bool { return true }
func (alwaysReady) IsSignedIn() bool  { return true }
func (alwaysReady) UserID() string    { return "test-user" }

func TestRouterForwardsThreeHopLine(t *testing.T) {
	a, b, c := types.NewPeerID(), types.NewPeerID(), types.NewPeerID()

	linkAB, linkBA := newFakeLinkPair()
	linkBC, linkCB := newFakeLinkPair()

	peersA := newFakePeerManager()
	peersA.add(pkgif.Peer{ID: b, DirectLink: linkAB})
	peersB := newFakePeerManager()
	peersB.add(pkgif.Peer{ID: a, DirectLink: linkBA})
	peersB.add(pkgif.Peer{ID: c, DirectLink: linkBC})
	peersC := newFakePeerManager()
	peersC.add(pkgif.Peer{ID: b, DirectLink: linkCB})

	clk := clock.NewMock()
	cfg := config.DefaultRouterConfig()

	tableA := New(a)
	tableB := New(b)
	tableC := New(c)

	busA := eventbus.New()
	busC := eventbus.New()
	routerA := NewRouter(a, tableA, peersA, alwaysReady{}, cfg, clk, busA)
	routerB := NewRouter(b, tableB, peersB, alwaysReady{}, cfg, clk, nil)
	routerC := NewRouter(c, tableC, peersC, alwaysReady{}, cfg, clk, busC)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go routerA.Run(ctx)
	go routerB.Run(ctx)
	go routerC.Run(ctx)

	time.Sleep(50 * time.Millisecond)

	tableA.ForceAdd(b, b)
	tableB.ForceAdd(a, a)
	tableB.ForceAdd(c, c)
	tableC.ForceAdd(b, b)

	sub, err := busC.Subscribe(&types.DeliveryEvent{})
	require.NoError(t, err)
	defer sub.Close()

	require.NoError(t, routerA.Send(c, []byte("hello")))

	select {
	case ev := <-sub.Out():
		de := ev.(types.DeliveryEvent)
		require.Equal(t, []byte("hello"), de.Payload)
	case <-time.After(time.Second):
		t.Fatal("delivery event never arrived")
	}
}

func TestRouterTTLExpiryEmitsTransmitError(t *testing.T) {
	self := types.NewPeerID()
	peer := types.NewPeerID()
	linkSelf, linkPeer := newFakeLinkPair()

	peers := newFakePeerManager()
	peers.add(pkgif.Peer{ID: peer, DirectLink: linkSelf})

	table := New(self)
	table.ForceAdd(peer, peer)

	clk := clock.NewMock()
	r := NewRouter(self, table, peers, alwaysReady{}, config.DefaultRouterConfig(), clk, nil)

	pkt := wire.P2PPacket{From: peer, To: types.NewPeerID(), TTL: 1, Payload: []byte("x")}
	r.handleP2PPacket(pkt)

	select {
	case frame := <-linkPeer.ch:
		typ, _, err := wire.DecodeFrame(frame)
		require.NoError(t, err)
		require.Equal(t, wire.TypeTransmitError, typ)
	case <-time.After(time.Second):
		t.Fatal("expected a transmit error frame")
	}
}
