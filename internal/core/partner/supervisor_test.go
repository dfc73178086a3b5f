package partner

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/require"

	"github.com/dep2p/overlay/config"
	pkgif "github.com/dep2p/overlay/pkg/interfaces"
	"github.com/dep2p/overlay/pkg/eventbus"
	"github.com/dep2p/overlay/pkg/types"

	"github.com/dep2p/overlay/internal/core/ping"
)

type stubConn struct {
	mu         sync.Mutex
	state      pkgif.ConnectionState
	connectErr error
	pingCost   uint32
}

func (c *stubConn) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.connectErr != nil {
		return c.connectErr
	}
	c.state = pkgif.StateConnected
	return nil
}
func (c *stubConn) Send([]byte) error { return nil }
func (c *stubConn) Ping(ctx context.Context, timeout time.Duration) uint32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pingCost
}
func (c *stubConn) State() pkgif.ConnectionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}
func (c *stubConn) Messages() <-chan []byte { return nil }
func (c *stubConn) Close() error            { return nil }

func TestSupervisorConnectsAndEmits(t *testing.T) {
	peer := types.NewPeerID()
	conn := &stubConn{state: pkgif.StateDisconnected, pingCost: 8}
	bus := eventbus.New()
	sub, err := bus.Subscribe(&types.PartnerConnectedEvent{})
	require.NoError(t, err)
	defer sub.Close()

	clk := clock.NewMock()
	s := New(peer, conn, config.DefaultPartnerConfig(), clk, bus)
	defer s.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx)

	select {
	case ev := <-sub.Out():
		require.Equal(t, peer, ev.(types.PartnerConnectedEvent).PeerID)
	case <-time.After(time.Second):
		t.Fatal("expected connected event")
	}
}

func TestSupervisorRecordsLatency(t *testing.T) {
	peer := types.NewPeerID()
	conn := &stubConn{state: pkgif.StateConnected, pingCost: 42}
	clk := clock.NewMock()
	s := New(peer, conn, config.DefaultPartnerConfig(), clk, nil)
	defer s.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx)

	require.Eventually(t, func() bool {
		return s.Latency() == 42
	}, time.Second, 10*time.Millisecond)
}

func TestSupervisorDetectsDownRisingEdge(t *testing.T) {
	peer := types.NewPeerID()
	conn := &stubConn{state: pkgif.StateConnected, pingCost: ping.DownCost}
	bus := eventbus.New()
	sub, err := bus.Subscribe(&types.PartnerDisconnectedEvent{})
	require.NoError(t, err)
	defer sub.Close()

	clk := clock.NewMock()
	s := New(peer, conn, config.DefaultPartnerConfig(), clk, bus)
	s.markConnected()
	defer s.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx)

	select {
	case ev := <-sub.Out():
		require.Equal(t, peer, ev.(types.PartnerDisconnectedEvent).PeerID)
	case <-time.After(time.Second):
		t.Fatal("expected disconnected event")
	}
}
