// Package proxy implements the bidirectional TCP port-forwarder: an
// Acceptor per mapped local port, a Pair per open tunnel, and a Manager
// that negotiates tunnel creation and owns the keyed collections of
// acceptors, stashed accepted sockets and pairs.
package proxy
