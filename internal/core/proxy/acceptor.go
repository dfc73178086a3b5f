package proxy

import (
	"fmt"
	"net"
	"sync/atomic"

	"github.com/dep2p/overlay/pkg/log"
	"github.com/dep2p/overlay/pkg/types"
)

var logger = log.Named("proxy")

// AcceptedSocket is one freshly accepted local TCP connection, tagged with
// the partner and remote port it was mapped to at acceptor creation time.
type AcceptedSocket struct {
	PartnerID        types.PeerID
	RemoteServerPort uint16
	Conn             net.Conn
}

// Acceptor binds a TCP listener on a local port and emits every accepted
// socket upward.
type Acceptor struct {
	partnerID        types.PeerID
	localPort        uint16
	remoteServerPort uint16

	listener net.Listener
	accepted chan AcceptedSocket
	closed   atomic.Bool
}

// NewAcceptor binds localPort and starts accepting. partnerID and
// remoteServerPort are the static mapping this acceptor represents.
func NewAcceptor(partnerID types.PeerID, localPort, remoteServerPort uint16) (*Acceptor, error) {
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", localPort))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPortInUse, err)
	}
	a := &Acceptor{
		partnerID:        partnerID,
		localPort:        localPort,
		remoteServerPort: remoteServerPort,
		listener:         ln,
		accepted:         make(chan AcceptedSocket, 16),
	}
	go a.acceptLoop()
	return a, nil
}

func (a *Acceptor) acceptLoop() {
	for {
		conn, err := a.listener.Accept()
		if err != nil {
			return
		}
		if tcpConn, ok := conn.(*net.TCPConn); ok {
			tcpConn.SetNoDelay(true)
			tcpConn.SetKeepAlive(true)
		}
		select {
		case a.accepted <- AcceptedSocket{PartnerID: a.partnerID, RemoteServerPort: a.remoteServerPort, Conn: conn}:
		default:
			logger.Warnw("accept buffer full, dropping connection", "port", a.localPort)
			conn.Close()
		}
	}
}

// Accepted delivers every socket this acceptor has accepted.
func (a *Acceptor) Accepted() <-chan AcceptedSocket {
	return a.accepted
}

// PartnerID reports the partner this acceptor forwards to.
func (a *Acceptor) PartnerID() types.PeerID { return a.partnerID }

// RemoteServerPort reports the real port on the partner this acceptor maps
// to.
func (a *Acceptor) RemoteServerPort() uint16 { return a.remoteServerPort }

// LocalPort reports the local port this acceptor is bound to.
func (a *Acceptor) LocalPort() uint16 { return a.localPort }

// Close stops accepting new connections.
func (a *Acceptor) Close() error {
	if a.closed.CompareAndSwap(false, true) {
		return a.listener.Close()
	}
	return nil
}
