package eventbus

import (
	"errors"
	"reflect"
	"sync"
	"sync/atomic"

	"github.com/dep2p/overlay/pkg/log"
)

var logger = log.Named("eventbus")

var (
	// ErrClosed is returned by operations on a bus or subscription that has
	// already been torn down.
	ErrClosed = errors.New("eventbus: closed")
	// ErrNotPointer is returned when Subscribe/Emitter is called with a
	// non-pointer sample value; the bus keys events by their pointed-to type.
	ErrNotPointer = errors.New("eventbus: sample must be a pointer")
)

// Bus multiplexes events by their concrete Go type.
type Bus struct {
	mu    sync.RWMutex
	nodes map[reflect.Type]*topicNode
}

// topicNode holds everything the bus tracks for one event type.
type topicNode struct {
	mu        sync.Mutex
	typ       reflect.Type
	subs      []*Subscription
	emitters  atomic.Int32
	dropCount atomic.Int64
}

// New creates an empty Bus.
func New() *Bus {
	return &Bus{nodes: make(map[reflect.Type]*topicNode)}
}

// Subscribe registers interest in events of the type pointed to by sample
// (e.g. Subscribe(&PeerAdded{})). The returned Subscription's channel is
// closed when the caller calls Subscription.Close.
func (b *Bus) Subscribe(sample interface{}, opts ...SubscribeOption) (*Subscription, error) {
	typ, err := elemType(sample)
	if err != nil {
		return nil, err
	}

	cfg := subscribeConfig{buffer: 16}
	for _, opt := range opts {
		opt(&cfg)
	}

	sub := &Subscription{
		bus: b,
		typ: typ,
		ch:  make(chan interface{}, cfg.buffer),
	}

	b.withTopic(typ, func(n *topicNode) {
		n.subs = append(n.subs, sub)
	})
	return sub, nil
}

// Emitter returns a handle producers use to publish events of the type
// pointed to by sample.
func (b *Bus) Emitter(sample interface{}) (*Emitter, error) {
	typ, err := elemType(sample)
	if err != nil {
		return nil, err
	}

	var n *topicNode
	b.withTopic(typ, func(node *topicNode) {
		n = node
		n.emitters.Add(1)
	})
	return &Emitter{bus: b, node: n, typ: typ}, nil
}

func elemType(sample interface{}) (reflect.Type, error) {
	if sample == nil {
		return nil, ErrNotPointer
	}
	t := reflect.TypeOf(sample)
	if t.Kind() != reflect.Ptr {
		return nil, ErrNotPointer
	}
	return t.Elem(), nil
}

func (b *Bus) withTopic(typ reflect.Type, fn func(*topicNode)) {
	b.mu.Lock()
	n, ok := b.nodes[typ]
	if !ok {
		n = &topicNode{typ: typ}
		b.nodes[typ] = n
	}
	n.mu.Lock()
	b.mu.Unlock()

	fn(n)
	n.mu.Unlock()
}

func (b *Bus) removeSubscription(sub *Subscription) {
	b.mu.Lock()
	n, ok := b.nodes[sub.typ]
	if !ok {
		b.mu.Unlock()
		return
	}
	n.mu.Lock()
	b.mu.Unlock()

	for i, s := range n.subs {
		if s == sub {
			n.subs = append(n.subs[:i], n.subs[i+1:]...)
			break
		}
	}
	shouldDrop := len(n.subs) == 0 && n.emitters.Load() == 0
	n.mu.Unlock()

	if shouldDrop {
		b.dropTopicIfEmpty(sub.typ)
	}
}

func (b *Bus) dropTopicIfEmpty(typ reflect.Type) {
	b.mu.Lock()
	defer b.mu.Unlock()
	n, ok := b.nodes[typ]
	if !ok {
		return
	}
	n.mu.Lock()
	empty := len(n.subs) == 0 && n.emitters.Load() == 0
	n.mu.Unlock()
	if empty {
		delete(b.nodes, typ)
	}
}

// publish fans an event out to every current subscriber, dropping it for
// subscribers whose buffer is full rather than blocking the emitter.
func (n *topicNode) publish(event interface{}) {
	n.mu.Lock()
	defer n.mu.Unlock()

	for _, sub := range n.subs {
		select {
		case sub.ch <- event:
		default:
			dropped := n.dropCount.Add(1)
			if dropped%100 == 1 {
				logger.Warnw("slow subscriber, dropping events",
					"type", n.typ.String(), "dropped", dropped)
			}
		}
	}
}
