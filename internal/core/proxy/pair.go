package proxy

import (
	"io"
	"net"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/dep2p/overlay/pkg/types"
)

const pairReadBufferSize = 4096

// Sender hands one chunk of socket bytes to the overlay for the Pair's
// tunnel. Manager.tunnelSender supplies one that frames the bytes as a
// TunnelPayload and sends them to the remote peer through the Router.
type Sender func(payload []byte) error

// Pair ties one accepted local socket to a tunnel identifier and pipes
// bytes bidirectionally between the socket and the overlay.
type Pair struct {
	tunnel      types.TunnelIdentifier
	socket      net.Conn
	send        Sender
	notifyClose func() error

	incoming chan []byte

	closeOnce       sync.Once
	notifyOnce      sync.Once
	remoteInitiated atomic.Bool
	done            chan struct{}
	onDispose       func(*Pair)
}

// NewPair starts piping bytes for tunnel between socket and the overlay.
// notifyClose sends a TunnelClose to the remote Manager, used when this
// side's socket ends the tunnel first. onDispose is called exactly once,
// when the pair tears itself down for any reason, so the owning Manager can
// remove it from its keyed collection.
func NewPair(tunnel types.TunnelIdentifier, socket net.Conn, send Sender, notifyClose func() error, onDispose func(*Pair)) *Pair {
	p := &Pair{
		tunnel:      tunnel,
		socket:      socket,
		send:        send,
		notifyClose: notifyClose,
		incoming:    make(chan []byte, 64),
		done:        make(chan struct{}),
		onDispose:   onDispose,
	}
	go p.run()
	return p
}

// Deliver hands one tunnel payload received from the overlay to the local
// socket's write side.
func (p *Pair) Deliver(data []byte) {
	select {
	case p.incoming <- data:
	case <-p.done:
	}
}

// run pumps both directions until one side ends, then closes the pair
// itself so the other pump's blocking read on p.done unblocks too. Waiting
// for both pumps before closing would deadlock: pumpOverlayToSocket only
// ever returns via p.done, which only Close sets.
func (p *Pair) run() {
	var g errgroup.Group
	g.Go(func() error {
		err := p.pumpSocketToOverlay()
		p.closeAndNotify()
		return err
	})
	g.Go(func() error {
		err := p.pumpOverlayToSocket()
		p.closeAndNotify()
		return err
	})
	g.Wait()
}

func (p *Pair) pumpSocketToOverlay() error {
	buf := make([]byte, pairReadBufferSize)
	for {
		n, err := p.socket.Read(buf)
		if n > 0 {
			payload := make([]byte, n)
			copy(payload, buf[:n])
			if sendErr := p.send(payload); sendErr != nil {
				logger.Warnw("tunnel send failed", "tunnel", p.tunnel, "err", sendErr)
			}
		}
		if err != nil {
			if err != io.EOF {
				logger.Debugw("tunnel socket read ended", "tunnel", p.tunnel, "err", err)
			}
			return nil
		}
	}
}

func (p *Pair) pumpOverlayToSocket() error {
	for {
		select {
		case <-p.done:
			return nil
		case data := <-p.incoming:
			if _, err := p.socket.Write(data); err != nil {
				logger.Debugw("tunnel socket write failed", "tunnel", p.tunnel, "err", err)
				return nil
			}
		}
	}
}

// Close tears the pair down: closes the local socket and, exactly once,
// notifies the owning Manager. Close itself sends nothing to the remote
// side, but it ends both pumps, and the first pump to end calls
// closeAndNotify, which sends a TunnelClose unless the teardown came from
// CloseRemote.
func (p *Pair) Close() error {
	var err error
	p.closeOnce.Do(func() {
		close(p.done)
		err = p.socket.Close()
		if p.onDispose != nil {
			p.onDispose(p)
		}
	})
	return err
}

// CloseRemote tears the pair down in response to a TunnelClose already
// received from the remote Manager, so it must not echo one back.
func (p *Pair) CloseRemote() error {
	p.remoteInitiated.Store(true)
	return p.Close()
}

// closeAndNotify is what a pump calls when it ends on its own (socket EOF,
// write failure, or the pair was already closed by something else): the
// first pump to get here tells the remote side to dispose its half too,
// unless this teardown was itself started by a TunnelClose from that same
// remote side.
func (p *Pair) closeAndNotify() {
	p.notifyOnce.Do(func() {
		if p.remoteInitiated.Load() {
			return
		}
		if p.notifyClose == nil {
			return
		}
		if err := p.notifyClose(); err != nil {
			logger.Debugw("tunnel close notify failed", "tunnel", p.tunnel, "err", err)
		}
	})
	p.Close()
}
