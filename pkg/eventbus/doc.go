// Package eventbus is the overlay core's replacement for the source
// system's multicast delegate events (OnPeerAdded, OnDelivery,
// OnRealClientConnected, ...): a typed, in-process publish/subscribe bus.
// Producers get an Emitter for a concrete event type; consumers Subscribe to
// that type and receive a channel. Handler installation is idempotent per
// (peer, message-type) at the call site — the bus itself just deduplicates
// nothing, callers are expected to Subscribe once per interest.
package eventbus
