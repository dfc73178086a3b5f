package relay

import (
	"errors"
	"sync"

	pkgif "github.com/dep2p/overlay/pkg/interfaces"
)

// ErrSharedSessionClosed is returned by a subscriber once the underlying
// physical session has gone away.
var ErrSharedSessionClosed = errors.New("relay: shared session closed")

// sharedSession multiplexes one physical Session across many logical
// subscribers, each corresponding to a Relay Connection bound to a
// different peer: the process shares one relay session per relay endpoint
// across every Connection targeting peers reachable through it.
type sharedSession struct {
	raw pkgif.Session

	mu     sync.Mutex
	nextID int
	subs   map[int]chan []byte
	closed bool
}

func newSharedSession(raw pkgif.Session) *sharedSession {
	ss := &sharedSession{raw: raw, subs: make(map[int]chan []byte)}
	go ss.pump()
	return ss
}

func (ss *sharedSession) pump() {
	for {
		frame, err := ss.raw.Recv()
		if err != nil {
			ss.closeAll()
			return
		}
		ss.mu.Lock()
		for _, ch := range ss.subs {
			select {
			case ch <- frame:
			default:
				logger.Warnw("relay subscriber buffer full, dropping frame")
			}
		}
		ss.mu.Unlock()
	}
}

func (ss *sharedSession) closeAll() {
	ss.mu.Lock()
	defer ss.mu.Unlock()
	if ss.closed {
		return
	}
	ss.closed = true
	for _, ch := range ss.subs {
		close(ch)
	}
}

// subscribe registers a new logical listener and returns its id and channel.
func (ss *sharedSession) subscribe() (int, chan []byte) {
	ss.mu.Lock()
	defer ss.mu.Unlock()
	id := ss.nextID
	ss.nextID++
	ch := make(chan []byte, 64)
	if ss.closed {
		close(ch)
		return id, ch
	}
	ss.subs[id] = ch
	return id, ch
}

func (ss *sharedSession) unsubscribe(id int) {
	ss.mu.Lock()
	defer ss.mu.Unlock()
	delete(ss.subs, id)
}

func (ss *sharedSession) send(frame []byte) error {
	return ss.raw.Send(frame)
}

func (ss *sharedSession) close() error {
	ss.closeAll()
	return ss.raw.Close()
}

// subscriberSession is the pkgif.Session view of a sharedSession handed to
// one Relay Connection.
type subscriberSession struct {
	shared *sharedSession
	id     int
	ch     chan []byte
}

func (s *subscriberSession) Send(frame []byte) error { return s.shared.send(frame) }

func (s *subscriberSession) Recv() ([]byte, error) {
	frame, ok := <-s.ch
	if !ok {
		return nil, ErrSharedSessionClosed
	}
	return frame, nil
}

// Close detaches this subscriber from the shared session without tearing
// down the physical connection; the RelayPool's refcounted Disconnect does
// that once the last subscriber is gone.
func (s *subscriberSession) Close() error {
	s.shared.unsubscribe(s.id)
	return nil
}
