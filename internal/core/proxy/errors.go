package proxy

import "errors"

var (
	// ErrPortInUse is returned by NewAcceptor when the local TCP port is
	// already bound.
	ErrPortInUse = errors.New("proxy: local port already in use")
	// ErrMissingAcceptor is logged when a ProxyConnectReq response cannot be
	// matched to an acceptor.
	ErrMissingAcceptor = errors.New("proxy: no acceptor for connect response")
	// ErrMissingOrphanSocket is logged when a response cannot be matched to
	// a stashed outbound socket.
	ErrMissingOrphanSocket = errors.New("proxy: no orphan socket for connect response")
)
