package conn

import (
	"context"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/require"

	"github.com/dep2p/overlay/config"
	"github.com/dep2p/overlay/pkg/types"
)

// pipeSession connects two in-memory sessions back to back, standing in for
// a real TCP-backed Session in tests.
type pipeSession struct {
	out    chan []byte
	in     chan []byte
	closed chan struct{}
}

func newPipe() (*pipeSession, *pipeSession) {
	ab := make(chan []byte, 64)
	ba := make(chan []byte, 64)
	a := &pipeSession{out: ab, in: ba, closed: make(chan struct{})}
	b := &pipeSession{out: ba, in: ab, closed: make(chan struct{})}
	return a, b
}

func (p *pipeSession) Send(frame []byte) error {
	select {
	case p.out <- frame:
		return nil
	case <-p.closed:
		return errClosed
	}
}

func (p *pipeSession) Recv() ([]byte, error) {
	select {
	case f := <-p.in:
		return f, nil
	case <-p.closed:
		return nil, errClosed
	}
}

func (p *pipeSession) Close() error {
	select {
	case <-p.closed:
	default:
		close(p.closed)
	}
	return nil
}

var errClosed = context.Canceled

func testCfg() config.ConnectionConfig {
	return config.DefaultConnectionConfig()
}

func connectPair(t *testing.T) (*Connection, *Connection) {
	t.Helper()
	self := types.NewPeerID()
	remote := types.NewPeerID()
	sa, sb := newPipe()
	clk := clock.NewMock()

	ca := New(self, remote, sa, true, testCfg(), clk)
	cb := New(remote, self, sb, false, testCfg(), clk)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	errCh := make(chan error, 2)
	go func() { errCh <- ca.Connect(ctx) }()
	go func() { errCh <- cb.Connect(ctx) }()
	require.NoError(t, <-errCh)
	require.NoError(t, <-errCh)

	return ca, cb
}

func TestHandshakeReachesConnected(t *testing.T) {
	ca, cb := connectPair(t)
	defer ca.Close()
	defer cb.Close()

	require.Equal(t, ca.State().String(), "connected")
	require.Equal(t, cb.State().String(), "connected")
}

func TestSendDeliversAppPayload(t *testing.T) {
	ca, cb := connectPair(t)
	defer ca.Close()
	defer cb.Close()

	require.NoError(t, ca.Send([]byte("hello")))

	select {
	case msg := <-cb.Messages():
		require.Equal(t, []byte("hello"), msg)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for delivery")
	}
}

func TestSendBeforeConnectedFails(t *testing.T) {
	self := types.NewPeerID()
	remote := types.NewPeerID()
	sa, _ := newPipe()
	c := New(self, remote, sa, true, testCfg(), clock.NewMock())
	defer c.Close()

	require.ErrorIs(t, c.Send([]byte("x")), ErrLinkNotReady)
}

func TestPingRoundTrip(t *testing.T) {
	ca, cb := connectPair(t)
	defer ca.Close()
	defer cb.Close()

	cost := ca.Ping(context.Background(), time.Second)
	require.NotEqual(t, ^uint32(0), cost)
}
