package interfaces

import (
	"context"
	"time"
)

// ConnectionState is the handshake state machine of an abstract Connection.
type ConnectionState int

const (
	StateDisconnected ConnectionState = iota
	StateHandshaking
	StateConnected
)

func (s ConnectionState) String() string {
	switch s {
	case StateHandshaking:
		return "handshaking"
	case StateConnected:
		return "connected"
	default:
		return "disconnected"
	}
}

// Connection is the reliable, windowed, in-order application message stream
// upper layers (Router, Proxy Manager) talk to. Two concrete
// implementations exist: a direct peer session wrapper (P2P Connection) and
// a pooled relay session wrapper (Relay Connection).
type Connection interface {
	// Connect performs the handshake unless already connected; a call made
	// while a handshake is in progress starts it again.
	Connect(ctx context.Context) error
	// Send transmits one application message, returning once it has been
	// handed to the underlying session (not once acknowledged).
	Send(payload []byte) error
	// Ping measures round-trip latency over this Connection.
	Ping(ctx context.Context, timeout time.Duration) uint32
	// State reports the current handshake state.
	State() ConnectionState
	// Messages delivers application payloads in the order their datagrams
	// arrive.
	Messages() <-chan []byte
	Close() error
}
