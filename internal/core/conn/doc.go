// Package conn implements the abstract reliable, windowed Connection and
// its two concrete flavours: a direct peer session wrapper (P2P Connection)
// and a pooled relay session wrapper (Relay Connection, in the relay
// subpackage). Both flavours share the ring-buffer send/ack machinery in
// connection.go; they differ only in
// what Session they bind to and, for relay, in how that Session's lifetime
// is shared.
package conn
