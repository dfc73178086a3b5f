package wire

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/dep2p/overlay/pkg/types"
)

func TestRoundTripTransDatagram(t *testing.T) {
	src := types.NewPeerID()
	dst := types.NewPeerID()
	msg := TransDatagram{
		Flag:        FlagSYN,
		Seq:         42,
		Source:      src,
		Destination: dst,
		Payload:     []byte("hello overlay"),
	}

	var buf bytes.Buffer
	require.NoError(t, WriteFrame(&buf, TypeTransDatagram, msg))

	typ, decoded, err := ReadFrame(&buf)
	require.NoError(t, err)
	require.Equal(t, TypeTransDatagram, typ)
	require.Equal(t, msg, decoded)
}

func TestRoundTripTransDatagramWithRelayFrom(t *testing.T) {
	msg := TransDatagram{
		Flag:         FlagACK,
		Seq:          7,
		Source:       types.NewPeerID(),
		Destination:  types.NewPeerID(),
		RelayFrom:    types.NewPeerID(),
		HasRelayFrom: true,
	}

	var buf bytes.Buffer
	require.NoError(t, WriteFrame(&buf, TypeTransDatagram, msg))
	_, decoded, err := ReadFrame(&buf)
	require.NoError(t, err)
	require.Equal(t, msg, decoded)
}

func TestRoundTripLinkStatePacket(t *testing.T) {
	self := types.NewPeerID()
	peerA := types.NewPeerID()
	peerB := types.NewPeerID()

	ls := NewLinkStatePacket(LinkState{
		Source:     self,
		Timestamp:  100,
		Interfaces: []types.PeerID{peerA, peerB},
		Costs:      []uint32{12, CostDown},
	})
	require.Equal(t, InitialTTL, ls.TTL)

	var buf bytes.Buffer
	require.NoError(t, WriteFrame(&buf, TypeLinkStatePacket, ls))
	_, decoded, err := ReadFrame(&buf)
	require.NoError(t, err)
	require.Equal(t, ls, decoded)
}

func TestRoundTripP2PPacketAndError(t *testing.T) {
	from := types.NewPeerID()
	to := types.NewPeerID()
	pkt := NewP2PPacket(from, to, []byte("payload"))
	require.Equal(t, InitialTTL, pkt.TTL)

	var buf bytes.Buffer
	require.NoError(t, WriteFrame(&buf, TypeP2PPacket, pkt))
	_, decoded, err := ReadFrame(&buf)
	require.NoError(t, err)
	require.Equal(t, pkt, decoded)

	errPkt := P2PTransmitErrorPacket{
		Error:      ErrKindTransmitExpired,
		From:       to,
		To:         from,
		OriginalTo: to,
		TTL:        0,
		Payload:    []byte("payload"),
	}
	buf.Reset()
	require.NoError(t, WriteFrame(&buf, TypeTransmitError, errPkt))
	_, decoded2, err := ReadFrame(&buf)
	require.NoError(t, err)
	require.Equal(t, errPkt, decoded2)
}

func TestRoundTripHeartBeatAndRelayHandshake(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteFrame(&buf, TypeHeartBeat, HeartBeat{}))
	typ, decoded, err := ReadFrame(&buf)
	require.NoError(t, err)
	require.Equal(t, TypeHeartBeat, typ)
	require.Equal(t, HeartBeat{}, decoded)

	create := CreateRelayLinkMessage{UserID: "user-1", RoomID: "room-9"}
	buf.Reset()
	require.NoError(t, WriteFrame(&buf, TypeCreateRelayLink, create))
	_, decoded2, err := ReadFrame(&buf)
	require.NoError(t, err)
	require.Equal(t, create, decoded2)

	created := RelayLinkCreatedMessage{Accepted: true}
	buf.Reset()
	require.NoError(t, WriteFrame(&buf, TypeRelayLinkCreated, created))
	_, decoded3, err := ReadFrame(&buf)
	require.NoError(t, err)
	require.Equal(t, created, decoded3)
}

func TestRoundTripProxyConnectReqAndTunnelPayload(t *testing.T) {
	req := ProxyConnectReq{
		IsResponse:     false,
		ClientID:       types.NewPeerID(),
		ClientRealPort: 51000,
		ServerRealPort: 25565,
	}
	var buf bytes.Buffer
	require.NoError(t, WriteFrame(&buf, TypeProxyConnectReq, req))
	_, decoded, err := ReadFrame(&buf)
	require.NoError(t, err)
	require.Equal(t, req, decoded)

	tp := TunnelPayload{
		Tunnel: types.TunnelIdentifier{PartnerID: types.NewPeerID(), LocalPort: 51000, RemotePort: 25565},
		Data:   []byte("HELLO"),
	}
	buf.Reset()
	require.NoError(t, WriteFrame(&buf, TypeTunnelPayload, tp))
	_, decoded2, err := ReadFrame(&buf)
	require.NoError(t, err)
	require.Equal(t, tp, decoded2)
}

func TestReadFrameShortBuffer(t *testing.T) {
	var buf bytes.Buffer
	buf.WriteByte(byte(TypeHeartBeat))
	buf.Write([]byte{200}) // length varint is cut off after a continuation byte
	_, _, err := ReadFrame(&buf)
	require.Error(t, err)
}
