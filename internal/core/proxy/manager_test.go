package proxy

import (
	"fmt"
	"io"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dep2p/overlay/pkg/eventbus"
	"github.com/dep2p/overlay/pkg/types"
)

// loopbackRouter stands in for the Router: sending a frame just emits a
// DeliveryEvent on the peer's own bus, as if it had arrived over the wire.
type loopbackRouter struct {
	self types.PeerID
	emit *eventbus.Emitter
}

func (r *loopbackRouter) Send(_ types.PeerID, payload []byte) error {
	return r.emit.Emit(types.DeliveryEvent{From: r.self, Payload: payload})
}

func freePort(t *testing.T) uint16 {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	return uint16(ln.Addr().(*net.TCPAddr).Port)
}

func startEchoServer(t *testing.T) uint16 {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go func() {
		for {
			c, err := ln.Accept()
			if err != nil {
				return
			}
			go func(c net.Conn) {
				io.Copy(c, c)
			}(c)
		}
	}()
	t.Cleanup(func() { ln.Close() })
	return uint16(ln.Addr().(*net.TCPAddr).Port)
}

func TestManagerRoundTripsBytesThroughTunnel(t *testing.T) {
	selfClient, selfServer := types.NewPeerID(), types.NewPeerID()
	busClient, busServer := eventbus.New(), eventbus.New()

	emitToServer, err := busServer.Emitter(&types.DeliveryEvent{})
	require.NoError(t, err)
	emitToClient, err := busClient.Emitter(&types.DeliveryEvent{})
	require.NoError(t, err)

	mClient, err := NewManager(selfClient, &loopbackRouter{self: selfClient, emit: emitToServer}, busClient)
	require.NoError(t, err)
	defer mClient.Close()

	mServer, err := NewManager(selfServer, &loopbackRouter{self: selfServer, emit: emitToClient}, busServer)
	require.NoError(t, err)
	defer mServer.Close()

	servicePort := startEchoServer(t)
	localPort := freePort(t)

	require.NoError(t, mClient.AddMapping(selfServer, localPort, servicePort))

	conn, err := net.DialTimeout("tcp", fmt.Sprintf("127.0.0.1:%d", localPort), time.Second)
	require.NoError(t, err)
	defer conn.Close()

	_, err = conn.Write([]byte("ping"))
	require.NoError(t, err)

	conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	buf := make([]byte, 4)
	_, err = io.ReadFull(conn, buf)
	require.NoError(t, err)
	require.Equal(t, "ping", string(buf))
}

func TestManagerClosingOneSidePropagatesToOtherSide(t *testing.T) {
	selfClient, selfServer := types.NewPeerID(), types.NewPeerID()
	busClient, busServer := eventbus.New(), eventbus.New()

	emitToServer, err := busServer.Emitter(&types.DeliveryEvent{})
	require.NoError(t, err)
	emitToClient, err := busClient.Emitter(&types.DeliveryEvent{})
	require.NoError(t, err)

	mClient, err := NewManager(selfClient, &loopbackRouter{self: selfClient, emit: emitToServer}, busClient)
	require.NoError(t, err)
	defer mClient.Close()

	mServer, err := NewManager(selfServer, &loopbackRouter{self: selfServer, emit: emitToClient}, busServer)
	require.NoError(t, err)
	defer mServer.Close()

	servicePort := startEchoServer(t)
	localPort := freePort(t)

	require.NoError(t, mClient.AddMapping(selfServer, localPort, servicePort))

	conn, err := net.DialTimeout("tcp", fmt.Sprintf("127.0.0.1:%d", localPort), time.Second)
	require.NoError(t, err)

	_, err = conn.Write([]byte("ping"))
	require.NoError(t, err)
	conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	buf := make([]byte, 4)
	_, err = io.ReadFull(conn, buf)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		mClient.mu.Lock()
		defer mClient.mu.Unlock()
		return len(mClient.proxies) == 1
	}, time.Second, 10*time.Millisecond, "expected client pair to be established")

	require.NoError(t, conn.Close())

	require.Eventually(t, func() bool {
		mClient.mu.Lock()
		clientEmpty := len(mClient.proxies) == 0
		mClient.mu.Unlock()
		mServer.mu.Lock()
		serverEmpty := len(mServer.proxies) == 0
		mServer.mu.Unlock()
		return clientEmpty && serverEmpty
	}, 3*time.Second, 10*time.Millisecond, "expected both sides' proxies to be disposed after local close")
}

func TestManagerSecondResponseDisposesFirstPair(t *testing.T) {
	self := types.NewPeerID()
	partner := types.NewPeerID()
	bus := eventbus.New()

	m, err := NewManager(self, &loopbackRouter{self: self}, bus)
	require.NoError(t, err)
	defer m.Close()

	tunnel := types.TunnelIdentifier{PartnerID: partner, LocalPort: 1, RemotePort: 2}
	firstDisposed := make(chan struct{})
	first := NewPair(tunnel, newDiscardConn(), func([]byte) error { return nil }, func() error { return nil }, func(p *Pair) {
		m.removeProxy(p)
		close(firstDisposed)
	})
	m.setProxy(tunnel, first)

	second := NewPair(tunnel, newDiscardConn(), func([]byte) error { return nil }, func() error { return nil }, m.removeProxy)
	m.setProxy(tunnel, second)

	select {
	case <-firstDisposed:
	case <-time.After(time.Second):
		t.Fatal("expected first pair to be disposed when replaced")
	}

	m.mu.Lock()
	cur := m.proxies[tunnel]
	m.mu.Unlock()
	require.Same(t, second, cur)
}

// discardConn is a net.Conn stub that blocks reads until closed and
// discards writes, used to keep a Pair alive without a real socket.
type discardConn struct {
	closed    chan struct{}
	closeOnce func() error
}

func newDiscardConn() *discardConn {
	c := &discardConn{closed: make(chan struct{})}
	c.closeOnce = sync.OnceValue(func() error {
		close(c.closed)
		return nil
	})
	return c
}

func (c *discardConn) Read(p []byte) (int, error) {
	<-c.closed
	return 0, io.EOF
}
func (c *discardConn) Write(p []byte) (int, error)      { return len(p), nil }
func (c *discardConn) Close() error                     { return c.closeOnce() }
func (c *discardConn) LocalAddr() net.Addr              { return nil }
func (c *discardConn) RemoteAddr() net.Addr             { return nil }
func (c *discardConn) SetDeadline(time.Time) error      { return nil }
func (c *discardConn) SetReadDeadline(time.Time) error  { return nil }
func (c *discardConn) SetWriteDeadline(time.Time) error { return nil }
