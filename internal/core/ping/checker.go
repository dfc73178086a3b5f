package ping

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/dep2p/overlay/pkg/log"
)

var logger = log.Named("ping")

// DownCost is returned when a probe times out, matching wire.CostDown so
// callers can feed it straight into a LinkState without importing wire.
const DownCost uint32 = math.MaxUint32

// Sender abstracts the underlying Connection: it sends a probe with the
// given sequence number and the checker is later fed the matching pong via
// Deliver.
type Sender interface {
	SendPing(seq uint16) error
}

// Checker probes one link's latency. It serves one in-flight probe at a
// time — callers that need to probe multiple links concurrently hold one
// Checker per link.
type Checker struct {
	sender Sender
	clock  clock.Clock

	mu      sync.Mutex
	seq     uint16
	waiting bool
	done    chan struct{}
}

// New creates a Checker bound to sender. clk lets tests substitute a mock
// clock to avoid real sleeps.
func New(sender Sender, clk clock.Clock) *Checker {
	if clk == nil {
		clk = clock.New()
	}
	return &Checker{sender: sender, clock: clk}
}

// CheckPing sends a fresh probe and blocks until the matching pong arrives
// or timeout elapses, returning DownCost on timeout.
func (c *Checker) CheckPing(ctx context.Context, timeout time.Duration) uint32 {
	c.mu.Lock()
	c.seq++
	seq := c.seq
	done := make(chan struct{})
	c.done = done
	c.waiting = true
	c.mu.Unlock()

	start := c.clock.Now()
	timer := c.clock.Timer(timeout)
	defer timer.Stop()

	if err := c.sender.SendPing(seq); err != nil {
		logger.Debugw("ping send failed", "err", err)
		c.finish(done)
		return DownCost
	}

	select {
	case <-done:
		elapsed := c.clock.Now().Sub(start)
		return uint32(elapsed.Milliseconds())
	case <-timer.C:
		c.finish(done)
		return DownCost
	case <-ctx.Done():
		c.finish(done)
		return DownCost
	}
}

// Deliver feeds back a pong for seq. Pongs for any sequence other than the
// currently outstanding one are ignored (stale or duplicate).
func (c *Checker) Deliver(seq uint16) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.waiting || seq != c.seq {
		return
	}
	c.finishLocked()
}

func (c *Checker) finish(done chan struct{}) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.done == done && c.waiting {
		c.finishLocked()
	}
}

func (c *Checker) finishLocked() {
	c.waiting = false
	close(c.done)
}
