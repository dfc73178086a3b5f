package main

import (
	"sync"

	pkgif "github.com/dep2p/overlay/pkg/interfaces"
	"github.com/dep2p/overlay/pkg/types"
)

// staticPeerBook is a fixed roster of partner peers read once at startup
// from a config file, used because this binary has no rendezvous client of
// its own — that collaborator is expected to live in the hosting
// application in a real deployment.
type staticPeerBook struct {
	mu    sync.RWMutex
	peers map[types.PeerID]pkgif.Peer

	added   chan pkgif.Peer
	removed chan types.PeerID
}

func newStaticPeerBook(entries []PeerEntry) (*staticPeerBook, error) {
	book := &staticPeerBook{
		peers:   make(map[types.PeerID]pkgif.Peer, len(entries)),
		added:   make(chan pkgif.Peer, len(entries)),
		removed: make(chan types.PeerID),
	}
	for _, e := range entries {
		id, err := types.ParsePeerID(e.ID)
		if err != nil {
			return nil, err
		}
		p := pkgif.Peer{ID: id, RemoteAddress: types.IPEndpoint{Host: e.Host, Port: e.Port}}
		book.peers[id] = p
		book.added <- p
	}
	return book, nil
}

func (b *staticPeerBook) Get(id types.PeerID) (pkgif.Peer, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	p, ok := b.peers[id]
	return p, ok
}

func (b *staticPeerBook) Snapshot() []pkgif.Peer {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]pkgif.Peer, 0, len(b.peers))
	for _, p := range b.peers {
		out = append(out, p)
	}
	return out
}

func (b *staticPeerBook) HasLink(id types.PeerID) bool {
	p, ok := b.Get(id)
	return ok && p.DirectLink != nil
}

func (b *staticPeerBook) OnPeerAdded() <-chan pkgif.Peer      { return b.added }
func (b *staticPeerBook) OnPeerRemoved() <-chan types.PeerID { return b.removed }

// alwaysSignedIn satisfies pkgif.ServerLinkHolder for a deployment where the
// rendezvous handshake already completed before this process started (e.g.
// a sidecar fed connection state out of band).
type alwaysSignedIn struct{ userID string }

func (a alwaysSignedIn) IsConnected() bool { return true }
func (a alwaysSignedIn) IsSignedIn() bool  { return true }
func (a alwaysSignedIn) UserID() string    { return a.userID }
