package eventbus

import (
	"reflect"
	"sync"
)

// Subscription is a live registration for one event type.
type Subscription struct {
	bus  *Bus
	typ  reflect.Type
	ch   chan interface{}
	once sync.Once
}

// Out returns the channel events of the subscribed type arrive on.
func (s *Subscription) Out() <-chan interface{} {
	return s.ch
}

// Close unregisters the subscription and closes its channel. Safe to call
// more than once.
func (s *Subscription) Close() error {
	s.once.Do(func() {
		s.bus.removeSubscription(s)
		close(s.ch)
	})
	return nil
}

// subscribeConfig holds options applied by SubscribeOption functions.
type subscribeConfig struct {
	buffer int
}

// SubscribeOption customizes a Subscribe call.
type SubscribeOption func(*subscribeConfig)

// WithBuffer overrides the subscriber channel's buffer size (default 16).
func WithBuffer(n int) SubscribeOption {
	return func(c *subscribeConfig) { c.buffer = n }
}
