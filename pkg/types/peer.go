package types

import (
	"strconv"

	"github.com/google/uuid"
)

// PeerID is the opaque 128-bit identifier assigned to a peer by the
// rendezvous server at sign-in.
type PeerID uuid.UUID

// NilPeerID is the sentinel "no peer" value, used for NONE (e.g. an
// unreachable route's next hop).
var NilPeerID = PeerID(uuid.Nil)

// ParsePeerID parses the canonical string form of a PeerID.
func ParsePeerID(s string) (PeerID, error) {
	u, err := uuid.Parse(s)
	if err != nil {
		return NilPeerID, err
	}
	return PeerID(u), nil
}

// NewPeerID generates a fresh random PeerID. Only the rendezvous server is
// meant to mint peer identities in production; this exists for tests and for
// locally-simulated peers.
func NewPeerID() PeerID {
	return PeerID(uuid.New())
}

// String returns the canonical hyphenated hex representation.
func (id PeerID) String() string {
	return uuid.UUID(id).String()
}

// IsNil reports whether id is the sentinel NilPeerID.
func (id PeerID) IsNil() bool {
	return id == NilPeerID
}

// Less orders two PeerIDs byte-wise, used to break routing ties
// deterministically: the Route Table prefers the lower PeerID on a tie.
func (id PeerID) Less(other PeerID) bool {
	for i := range id {
		if id[i] != other[i] {
			return id[i] < other[i]
		}
	}
	return false
}

// IPEndpoint is a host/port pair identifying a peer's remote address.
type IPEndpoint struct {
	Host string
	Port uint16
}

func (e IPEndpoint) String() string {
	return e.Host + ":" + strconv.FormatUint(uint64(e.Port), 10)
}

// TunnelIdentifier uniquely names a proxy tunnel on this host.
type TunnelIdentifier struct {
	PartnerID  PeerID
	LocalPort  uint16
	RemotePort uint16
}
