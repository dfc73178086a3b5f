package wire

import (
	"github.com/dep2p/overlay/pkg/types"
)

// DatagramFlag is a bitmask over the handshake/ack states of a TransDatagram.
type DatagramFlag uint8

const (
	FlagSYN            DatagramFlag = 0x01
	FlagACK            DatagramFlag = 0x02
	FlagFirstHandshake DatagramFlag = 0x04
	FlagSecondHandshake DatagramFlag = 0x08
)

func (f DatagramFlag) Has(bit DatagramFlag) bool { return f&bit != 0 }

// BufferLength is the size of the sliding-window ring buffer. Must stay a
// power of two so `seq % BufferLength` reduces to a bitmask.
const BufferLength = 1024

// InitialTTL is the hop budget assigned to freshly originated packets.
const InitialTTL uint8 = 32

// TransDatagram is the sliding-window datagram carried by a Connection.
type TransDatagram struct {
	Flag        DatagramFlag
	Seq         uint16
	Source      types.PeerID
	Destination types.PeerID
	RelayFrom   types.PeerID // meaningful only when HasRelayFrom is true
	HasRelayFrom bool
	Payload     []byte
}

// HeartBeat keeps a relay session alive. It carries no fields.
type HeartBeat struct{}

// P2PPacket is the hop-by-hop envelope the Router forwards.
type P2PPacket struct {
	From    types.PeerID
	To      types.PeerID
	TTL     uint8
	Payload []byte
}

// NewP2PPacket builds a packet with the default initial TTL.
func NewP2PPacket(from, to types.PeerID, payload []byte) P2PPacket {
	return P2PPacket{From: from, To: to, TTL: InitialTTL, Payload: payload}
}

// LinkState is one source's view of its direct links, as stored by the Route
// Table. Timestamp is the source's clock reading in Unix nanoseconds when it
// assembled the LinkState (the Router stamps it with its clock's Now), not a
// monotonic tick count. The Route Table orders updates from one source by
// it, so a source clock that steps backwards makes its later LinkStates look
// stale.
type LinkState struct {
	Source     types.PeerID
	Timestamp  int64
	TTL        uint8
	Interfaces []types.PeerID
	Costs      []uint32 // milliseconds; CostDown means the interface is dead
}

// CostDown encodes "this link is down" in a LinkState's Costs slice.
const CostDown uint32 = 1<<32 - 1

// LinkStatePacket is a LinkState in flight during flooding.
type LinkStatePacket struct {
	LinkState
}

// NewLinkStatePacket wraps a LinkState with the flooding TTL.
func NewLinkStatePacket(ls LinkState) LinkStatePacket {
	ls.TTL = InitialTTL
	return LinkStatePacket{LinkState: ls}
}

// TransmitErrorKind enumerates why forwarding a P2PPacket failed.
type TransmitErrorKind uint8

const (
	ErrKindTransmitExpired TransmitErrorKind = iota
	ErrKindNoRoute
)

// P2PTransmitErrorPacket is emitted back toward the origin of a packet that
// could not be forwarded. Payload is only populated for P2PPacket failures;
// LinkStatePacket TTL expiry does not carry a payload back.
type P2PTransmitErrorPacket struct {
	Error      TransmitErrorKind
	From       types.PeerID
	To         types.PeerID
	OriginalTo types.PeerID
	Payload    []byte
	TTL        uint8
}

// ProxyConnectReq negotiates a tunnel between the Proxy Managers of two
// hosts.
type ProxyConnectReq struct {
	IsResponse     bool
	ClientID       types.PeerID
	ClientRealPort uint16
	ServerRealPort uint16
}

// CreateRelayLinkMessage requests a relay session for (userId, roomId) on a
// freshly dialed relay TCP connection.
type CreateRelayLinkMessage struct {
	UserID string
	RoomID string
}

// RelayLinkCreatedMessage is the relay server's reply to
// CreateRelayLinkMessage.
type RelayLinkCreatedMessage struct {
	Accepted bool
}

// TunnelPayload frames application bytes for a specific tunnel so the
// receiving Proxy Manager can route them to the right ProxyPair.
type TunnelPayload struct {
	Tunnel types.TunnelIdentifier
	Data   []byte
}

// TunnelClose tells the receiving Proxy Manager that the sender's half of a
// tunnel is gone, so it should dispose the matching Pair on its own side too
// without echoing another TunnelClose back.
type TunnelClose struct {
	Tunnel types.TunnelIdentifier
}
