package interfaces

import (
	"context"

	"github.com/dep2p/overlay/pkg/types"
)

// RelayDialer opens the one physical Session a RelayPool multiplexes across
// every logical Relay Connection bound to a given relay endpoint. Real
// implementations dial TCP; tests substitute an in-memory Session.
type RelayDialer interface {
	DialRelay(ctx context.Context, endpoint types.IPEndpoint) (Session, error)
}
