package proxy

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dep2p/overlay/pkg/types"
)

func testTunnel() types.TunnelIdentifier {
	return types.TunnelIdentifier{PartnerID: types.NewPeerID(), LocalPort: 51000, RemotePort: 25565}
}

func TestPairPipesSocketReadsToSender(t *testing.T) {
	socket, app := net.Pipe()
	defer app.Close()

	sent := make(chan []byte, 4)
	sender := func(data []byte) error {
		cp := make([]byte, len(data))
		copy(cp, data)
		sent <- cp
		return nil
	}

	p := NewPair(testTunnel(), socket, sender, func() error { return nil }, func(*Pair) {})
	defer p.Close()

	_, err := app.Write([]byte("hello"))
	require.NoError(t, err)

	select {
	case data := <-sent:
		require.Equal(t, []byte("hello"), data)
	case <-time.After(time.Second):
		t.Fatal("expected sender to receive socket bytes")
	}
}

func TestPairDeliverWritesToSocket(t *testing.T) {
	socket, app := net.Pipe()
	defer app.Close()

	p := NewPair(testTunnel(), socket, func([]byte) error { return nil }, func() error { return nil }, func(*Pair) {})
	defer p.Close()

	p.Deliver([]byte("world"))

	buf := make([]byte, 16)
	app.SetReadDeadline(time.Now().Add(time.Second))
	n, err := app.Read(buf)
	require.NoError(t, err)
	require.Equal(t, "world", string(buf[:n]))
}

func TestPairDisposesOnSocketClose(t *testing.T) {
	socket, app := net.Pipe()

	disposed := make(chan *Pair, 1)
	p := NewPair(testTunnel(), socket, func([]byte) error { return nil }, func() error { return nil }, func(dp *Pair) {
		disposed <- dp
	})

	app.Close()

	select {
	case dp := <-disposed:
		require.Same(t, p, dp)
	case <-time.After(time.Second):
		t.Fatal("expected pair to dispose after socket close")
	}
}
