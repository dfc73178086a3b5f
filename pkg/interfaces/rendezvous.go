package interfaces

import (
	"github.com/dep2p/overlay/pkg/types"
)

// ServerLinkHolder reports the rendezvous connection's state. The Router
// waits for IsConnected() && IsSignedIn() before it starts its sweep loop.
type ServerLinkHolder interface {
	IsConnected() bool
	IsSignedIn() bool
	UserID() string
}

// RoomInfoManager exposes the room the local peer currently occupies. No
// code in this module calls it: the relay Pool takes the room id for the
// CreateRelayLinkMessage handshake as a func() string passed to NewPool.
type RoomInfoManager interface {
	CurrentRoom() RoomInfo
}

// RoomInfo is the subset of room state the overlay core needs.
type RoomInfo struct {
	RoomID string
}

// Session is a reliable, ordered byte stream to a single remote endpoint —
// either a direct peer TCP session or the shared relay's TCP session. It is
// the abstraction the Connection layer sends/receives TransDatagrams over.
type Session interface {
	Send(frame []byte) error
	// Recv blocks until one frame is available or the session is closed.
	Recv() ([]byte, error)
	Close() error
}

// Peer is a known remote overlay participant.
type Peer struct {
	ID            types.PeerID
	RemoteAddress types.IPEndpoint
	// DirectLink is nil until NAT traversal (external collaborator) has
	// produced a Session and a P2P Connection has been wrapped around it.
	DirectLink Connection
}

// PeerManager owns the set of known Peers. It is guarded by a single mutex on
// the implementer's side; Snapshot returns a consistent copy for the Router
// to iterate without holding the lock during I/O.
type PeerManager interface {
	Get(id types.PeerID) (Peer, bool)
	Snapshot() []Peer
	HasLink(id types.PeerID) bool

	OnPeerAdded() <-chan Peer
	OnPeerRemoved() <-chan types.PeerID
}
