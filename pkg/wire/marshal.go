package wire

import (
	"fmt"

	"github.com/dep2p/overlay/pkg/types"
)

// This file hand-implements the gogo/protobuf Marshaler/Unmarshaler contract
// (Marshal() ([]byte, error) / Unmarshal([]byte) error, plus the base
// Reset/String/ProtoMessage trio proto.Message requires) for every message
// this package puts on the wire, in the same manual tag/varint/length-delimited
// style protoc-gen-gogofaster would emit for a "no getters, no reflection"
// message. Scalar fields follow proto3 presence rules: a zero value is never
// written and its absence decodes back to the field's Go zero value, so
// round-tripping never depends on emitting a field just because it happens to
// hold zero. Repeated elements (LinkStatePacket's Interfaces/Costs) are the
// exception: every element is written so the two slices keep the same length
// and pairing on decode. PeerID fields are always written, except
// TransDatagram.RelayFrom, which is written only when HasRelayFrom is set.

const (
	wireVarint = 0
	wireBytes  = 2
)

func appendUvarint(buf []byte, v uint64) []byte {
	for v >= 0x80 {
		buf = append(buf, byte(v)|0x80)
		v >>= 7
	}
	return append(buf, byte(v))
}

func consumeUvarint(data []byte) (uint64, int) {
	var v uint64
	for i := 0; i < len(data) && i < 10; i++ {
		b := data[i]
		v |= uint64(b&0x7f) << uint(7*i)
		if b < 0x80 {
			return v, i + 1
		}
	}
	return 0, -1
}

func appendTag(buf []byte, field int, wireType byte) []byte {
	return appendUvarint(buf, uint64(field)<<3|uint64(wireType))
}

// appendVarintField omits the field entirely when v is zero.
func appendVarintField(buf []byte, field int, v uint64) []byte {
	if v == 0 {
		return buf
	}
	buf = appendTag(buf, field, wireVarint)
	return appendUvarint(buf, v)
}

// appendVarintFieldAlways is for repeated scalar elements, which must be
// written regardless of value to preserve their position.
func appendVarintFieldAlways(buf []byte, field int, v uint64) []byte {
	buf = appendTag(buf, field, wireVarint)
	return appendUvarint(buf, v)
}

func appendBoolField(buf []byte, field int, v bool) []byte {
	if !v {
		return buf
	}
	return appendVarintFieldAlways(buf, field, 1)
}

func appendBytesField(buf []byte, field int, data []byte) []byte {
	if len(data) == 0 {
		return buf
	}
	buf = appendTag(buf, field, wireBytes)
	buf = appendUvarint(buf, uint64(len(data)))
	return append(buf, data...)
}

func appendStringField(buf []byte, field int, s string) []byte {
	if s == "" {
		return buf
	}
	return appendBytesField(buf, field, []byte(s))
}

// appendPeerIDField always writes id; the one optional PeerID field
// (TransDatagram.RelayFrom) is skipped by its caller when not present.
func appendPeerIDField(buf []byte, field int, id types.PeerID) []byte {
	buf = appendTag(buf, field, wireBytes)
	buf = appendUvarint(buf, uint64(len(id)))
	return append(buf, id[:]...)
}

// walkFields dispatches each (field, wireType) pair found in data to fn. For
// a varint field, raw is nil and v holds the decoded value; for a
// length-delimited field, v is 0 and raw holds the field's bytes (a
// sub-slice of data, not a copy).
func walkFields(data []byte, fn func(field int, wireType byte, v uint64, raw []byte) error) error {
	for len(data) > 0 {
		tag, n := consumeUvarint(data)
		if n < 0 {
			return ErrShortBuffer
		}
		data = data[n:]
		field := int(tag >> 3)
		wireType := byte(tag & 0x7)

		switch wireType {
		case wireVarint:
			v, n := consumeUvarint(data)
			if n < 0 {
				return ErrShortBuffer
			}
			data = data[n:]
			if err := fn(field, wireType, v, nil); err != nil {
				return err
			}
		case wireBytes:
			l, n := consumeUvarint(data)
			if n < 0 {
				return ErrShortBuffer
			}
			data = data[n:]
			if l > uint64(len(data)) {
				return ErrShortBuffer
			}
			raw := data[:l]
			data = data[l:]
			if err := fn(field, wireType, 0, raw); err != nil {
				return err
			}
		default:
			return ErrUnknownType
		}
	}
	return nil
}

func peerIDFromBytes(raw []byte) (types.PeerID, error) {
	var id types.PeerID
	if len(raw) != len(id) {
		return id, ErrShortBuffer
	}
	copy(id[:], raw)
	return id, nil
}

// --- TransDatagram -------------------------------------------------------

func (m *TransDatagram) Reset()         { *m = TransDatagram{} }
func (m *TransDatagram) String() string { return fmt.Sprintf("%+v", *m) }
func (*TransDatagram) ProtoMessage()    {}

func (m *TransDatagram) Marshal() ([]byte, error) {
	var buf []byte
	buf = appendVarintField(buf, 1, uint64(m.Flag))
	buf = appendVarintField(buf, 2, uint64(m.Seq))
	buf = appendPeerIDField(buf, 3, m.Source)
	buf = appendPeerIDField(buf, 4, m.Destination)
	if m.HasRelayFrom {
		buf = appendPeerIDField(buf, 5, m.RelayFrom)
	}
	buf = appendBytesField(buf, 6, m.Payload)
	return buf, nil
}

func (m *TransDatagram) Unmarshal(data []byte) error {
	return walkFields(data, func(field int, wireType byte, v uint64, raw []byte) error {
		var err error
		switch field {
		case 1:
			m.Flag = DatagramFlag(v)
		case 2:
			m.Seq = uint16(v)
		case 3:
			m.Source, err = peerIDFromBytes(raw)
		case 4:
			m.Destination, err = peerIDFromBytes(raw)
		case 5:
			m.RelayFrom, err = peerIDFromBytes(raw)
			m.HasRelayFrom = true
		case 6:
			m.Payload = append([]byte(nil), raw...)
		}
		return err
	})
}

// --- HeartBeat -------------------------------------------------------------

func (m *HeartBeat) Reset()         { *m = HeartBeat{} }
func (m *HeartBeat) String() string { return "HeartBeat{}" }
func (*HeartBeat) ProtoMessage()    {}

func (m *HeartBeat) Marshal() ([]byte, error) { return nil, nil }

func (m *HeartBeat) Unmarshal(data []byte) error {
	return walkFields(data, func(field int, wireType byte, v uint64, raw []byte) error { return nil })
}

// --- P2PPacket ---------------------------------------------------------

func (m *P2PPacket) Reset()         { *m = P2PPacket{} }
func (m *P2PPacket) String() string { return fmt.Sprintf("%+v", *m) }
func (*P2PPacket) ProtoMessage()    {}

func (m *P2PPacket) Marshal() ([]byte, error) {
	var buf []byte
	buf = appendPeerIDField(buf, 1, m.From)
	buf = appendPeerIDField(buf, 2, m.To)
	buf = appendVarintField(buf, 3, uint64(m.TTL))
	buf = appendBytesField(buf, 4, m.Payload)
	return buf, nil
}

func (m *P2PPacket) Unmarshal(data []byte) error {
	return walkFields(data, func(field int, wireType byte, v uint64, raw []byte) error {
		var err error
		switch field {
		case 1:
			m.From, err = peerIDFromBytes(raw)
		case 2:
			m.To, err = peerIDFromBytes(raw)
		case 3:
			m.TTL = uint8(v)
		case 4:
			m.Payload = append([]byte(nil), raw...)
		}
		return err
	})
}

// --- LinkStatePacket -----------------------------------------------------

func (m *LinkStatePacket) Reset()         { *m = LinkStatePacket{} }
func (m *LinkStatePacket) String() string { return fmt.Sprintf("%+v", *m) }
func (*LinkStatePacket) ProtoMessage()    {}

func (m *LinkStatePacket) Marshal() ([]byte, error) {
	var buf []byte
	buf = appendPeerIDField(buf, 1, m.Source)
	buf = appendVarintField(buf, 2, uint64(m.Timestamp))
	buf = appendVarintField(buf, 3, uint64(m.TTL))
	for i, iface := range m.Interfaces {
		buf = appendPeerIDField(buf, 4, iface)
		buf = appendVarintFieldAlways(buf, 5, uint64(m.Costs[i]))
	}
	return buf, nil
}

func (m *LinkStatePacket) Unmarshal(data []byte) error {
	return walkFields(data, func(field int, wireType byte, v uint64, raw []byte) error {
		var err error
		switch field {
		case 1:
			m.Source, err = peerIDFromBytes(raw)
		case 2:
			m.Timestamp = int64(v)
		case 3:
			m.TTL = uint8(v)
		case 4:
			var id types.PeerID
			id, err = peerIDFromBytes(raw)
			m.Interfaces = append(m.Interfaces, id)
		case 5:
			m.Costs = append(m.Costs, uint32(v))
		}
		return err
	})
}

// --- P2PTransmitErrorPacket ----------------------------------------------

func (m *P2PTransmitErrorPacket) Reset()         { *m = P2PTransmitErrorPacket{} }
func (m *P2PTransmitErrorPacket) String() string { return fmt.Sprintf("%+v", *m) }
func (*P2PTransmitErrorPacket) ProtoMessage()    {}

func (m *P2PTransmitErrorPacket) Marshal() ([]byte, error) {
	var buf []byte
	buf = appendVarintField(buf, 1, uint64(m.Error))
	buf = appendPeerIDField(buf, 2, m.From)
	buf = appendPeerIDField(buf, 3, m.To)
	buf = appendPeerIDField(buf, 4, m.OriginalTo)
	buf = appendBytesField(buf, 5, m.Payload)
	buf = appendVarintField(buf, 6, uint64(m.TTL))
	return buf, nil
}

func (m *P2PTransmitErrorPacket) Unmarshal(data []byte) error {
	return walkFields(data, func(field int, wireType byte, v uint64, raw []byte) error {
		var err error
		switch field {
		case 1:
			m.Error = TransmitErrorKind(v)
		case 2:
			m.From, err = peerIDFromBytes(raw)
		case 3:
			m.To, err = peerIDFromBytes(raw)
		case 4:
			m.OriginalTo, err = peerIDFromBytes(raw)
		case 5:
			m.Payload = append([]byte(nil), raw...)
		case 6:
			m.TTL = uint8(v)
		}
		return err
	})
}

// --- ProxyConnectReq -----------------------------------------------------

func (m *ProxyConnectReq) Reset()         { *m = ProxyConnectReq{} }
func (m *ProxyConnectReq) String() string { return fmt.Sprintf("%+v", *m) }
func (*ProxyConnectReq) ProtoMessage()    {}

func (m *ProxyConnectReq) Marshal() ([]byte, error) {
	var buf []byte
	buf = appendBoolField(buf, 1, m.IsResponse)
	buf = appendPeerIDField(buf, 2, m.ClientID)
	buf = appendVarintField(buf, 3, uint64(m.ClientRealPort))
	buf = appendVarintField(buf, 4, uint64(m.ServerRealPort))
	return buf, nil
}

func (m *ProxyConnectReq) Unmarshal(data []byte) error {
	return walkFields(data, func(field int, wireType byte, v uint64, raw []byte) error {
		var err error
		switch field {
		case 1:
			m.IsResponse = v != 0
		case 2:
			m.ClientID, err = peerIDFromBytes(raw)
		case 3:
			m.ClientRealPort = uint16(v)
		case 4:
			m.ServerRealPort = uint16(v)
		}
		return err
	})
}

// --- CreateRelayLinkMessage ------------------------------------------------

func (m *CreateRelayLinkMessage) Reset()         { *m = CreateRelayLinkMessage{} }
func (m *CreateRelayLinkMessage) String() string { return fmt.Sprintf("%+v", *m) }
func (*CreateRelayLinkMessage) ProtoMessage()    {}

func (m *CreateRelayLinkMessage) Marshal() ([]byte, error) {
	var buf []byte
	buf = appendStringField(buf, 1, m.UserID)
	buf = appendStringField(buf, 2, m.RoomID)
	return buf, nil
}

func (m *CreateRelayLinkMessage) Unmarshal(data []byte) error {
	return walkFields(data, func(field int, wireType byte, v uint64, raw []byte) error {
		switch field {
		case 1:
			m.UserID = string(raw)
		case 2:
			m.RoomID = string(raw)
		}
		return nil
	})
}

// --- RelayLinkCreatedMessage -----------------------------------------------

func (m *RelayLinkCreatedMessage) Reset()         { *m = RelayLinkCreatedMessage{} }
func (m *RelayLinkCreatedMessage) String() string { return fmt.Sprintf("%+v", *m) }
func (*RelayLinkCreatedMessage) ProtoMessage()    {}

func (m *RelayLinkCreatedMessage) Marshal() ([]byte, error) {
	var buf []byte
	buf = appendBoolField(buf, 1, m.Accepted)
	return buf, nil
}

func (m *RelayLinkCreatedMessage) Unmarshal(data []byte) error {
	return walkFields(data, func(field int, wireType byte, v uint64, raw []byte) error {
		if field == 1 {
			m.Accepted = v != 0
		}
		return nil
	})
}

// --- TunnelPayload -------------------------------------------------------

func (m *TunnelPayload) Reset()         { *m = TunnelPayload{} }
func (m *TunnelPayload) String() string { return fmt.Sprintf("%+v", *m) }
func (*TunnelPayload) ProtoMessage()    {}

func (m *TunnelPayload) Marshal() ([]byte, error) {
	var buf []byte
	buf = appendPeerIDField(buf, 1, m.Tunnel.PartnerID)
	buf = appendVarintField(buf, 2, uint64(m.Tunnel.LocalPort))
	buf = appendVarintField(buf, 3, uint64(m.Tunnel.RemotePort))
	buf = appendBytesField(buf, 4, m.Data)
	return buf, nil
}

func (m *TunnelPayload) Unmarshal(data []byte) error {
	return walkFields(data, func(field int, wireType byte, v uint64, raw []byte) error {
		var err error
		switch field {
		case 1:
			m.Tunnel.PartnerID, err = peerIDFromBytes(raw)
		case 2:
			m.Tunnel.LocalPort = uint16(v)
		case 3:
			m.Tunnel.RemotePort = uint16(v)
		case 4:
			m.Data = append([]byte(nil), raw...)
		}
		return err
	})
}

// --- TunnelClose -----------------------------------------------------------

func (m *TunnelClose) Reset()         { *m = TunnelClose{} }
func (m *TunnelClose) String() string { return fmt.Sprintf("%+v", *m) }
func (*TunnelClose) ProtoMessage()    {}

func (m *TunnelClose) Marshal() ([]byte, error) {
	var buf []byte
	buf = appendPeerIDField(buf, 1, m.Tunnel.PartnerID)
	buf = appendVarintField(buf, 2, uint64(m.Tunnel.LocalPort))
	buf = appendVarintField(buf, 3, uint64(m.Tunnel.RemotePort))
	return buf, nil
}

func (m *TunnelClose) Unmarshal(data []byte) error {
	return walkFields(data, func(field int, wireType byte, v uint64, raw []byte) error {
		var err error
		switch field {
		case 1:
			m.Tunnel.PartnerID, err = peerIDFromBytes(raw)
		case 2:
			m.Tunnel.LocalPort = uint16(v)
		case 3:
			m.Tunnel.RemotePort = uint16(v)
		}
		return err
	})
}
