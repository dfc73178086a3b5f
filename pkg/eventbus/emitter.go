package eventbus

import (
	"fmt"
	"reflect"
)

// Emitter publishes events of one concrete type to a Bus.
type Emitter struct {
	bus  *Bus
	node *topicNode
	typ  reflect.Type
}

// Emit publishes event to every current subscriber of e's type. event must
// be the pointed-to type (not a pointer) used to create the Emitter.
func (e *Emitter) Emit(event interface{}) error {
	if reflect.TypeOf(event) != e.typ {
		return fmt.Errorf("eventbus: emit type mismatch: want %s, got %T", e.typ, event)
	}
	e.node.publish(event)
	return nil
}

// Close releases the emitter's reference to its topic; once no emitters or
// subscribers remain the topic is garbage collected from the bus.
func (e *Emitter) Close() error {
	e.node.emitters.Add(-1)
	e.bus.dropTopicIfEmpty(e.typ)
	return nil
}
