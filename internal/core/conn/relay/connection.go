package relay

import (
	"context"

	"github.com/benbjohnson/clock"

	"github.com/dep2p/overlay/config"
	pkgif "github.com/dep2p/overlay/pkg/interfaces"
	"github.com/dep2p/overlay/pkg/types"

	"github.com/dep2p/overlay/internal/core/conn"
)

// Connection is a Relay Connection: a reliable stream to remote, addressed
// through relay endpoint via a session shared with every other Relay
// Connection bound to the same endpoint.
type Connection struct {
	*conn.Connection

	pool     *Pool
	endpoint types.IPEndpoint
	session  pkgif.Session
}

// Dial acquires (or reuses) the shared relay session for endpoint and wraps
// it in a Connection scoped to remote via RelayFrom filtering. initiator
// decides which side sends FirstHandshake; callers break the tie the same
// way the Route Table does (lower PeerID initiates), so both ends agree
// without needing to negotiate out of band.
func Dial(ctx context.Context, pool *Pool, self, remote types.PeerID, endpoint types.IPEndpoint, initiator bool, cfg config.ConnectionConfig, clk clock.Clock) (*Connection, error) {
	session, err := pool.Connect(ctx, endpoint)
	if err != nil {
		return nil, err
	}
	inner := conn.New(self, remote, session, initiator, cfg, clk)
	inner.RestrictToRelayFrom(remote)
	return &Connection{Connection: inner, pool: pool, endpoint: endpoint, session: session}, nil
}

// Close releases this Connection's hold on the shared relay session; the
// pool tears the physical session down once every holder has released it.
func (c *Connection) Close() error {
	err := c.Connection.Close()
	if derr := c.pool.Disconnect(c.endpoint); derr != nil {
		logger.Debugw("relay disconnect error", "err", derr)
	}
	return err
}
