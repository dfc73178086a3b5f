package wire

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/gogo/protobuf/proto"
	"github.com/multiformats/go-varint"
)

// MessageType tags the body that follows a varint length prefix on the wire.
type MessageType byte

const (
	TypeTransDatagram MessageType = iota + 1
	TypeHeartBeat
	TypeP2PPacket
	TypeLinkStatePacket
	TypeTransmitError
	TypeProxyConnectReq
	TypeCreateRelayLink
	TypeRelayLinkCreated
	TypeTunnelPayload
	TypeTunnelClose
)

var (
	// ErrShortBuffer is returned when a decode is attempted against a body
	// that was truncated by a bad length prefix or a malformed protobuf tag.
	ErrShortBuffer = errors.New("wire: short buffer")
	// ErrUnknownType is returned when the type tag on the wire is not one
	// this codec recognizes.
	ErrUnknownType = errors.New("wire: unknown message type")
)

// WriteFrame writes a length-prefixed, type-tagged message to w. The frame
// layout is: [type byte][varint(len(body))][body], where body is the
// message's protobuf-encoded wire form.
func WriteFrame(w io.Writer, typ MessageType, msg interface{}) error {
	body, err := encodeBody(typ, msg)
	if err != nil {
		return err
	}
	if _, err := w.Write([]byte{byte(typ)}); err != nil {
		return err
	}
	prefix := varint.ToUvarint(uint64(len(body)))
	if _, err := w.Write(prefix); err != nil {
		return err
	}
	_, err = w.Write(body)
	return err
}

// ReadFrame reads one frame from r and returns its type tag and decoded
// payload as an interface{} concretely typed per typ.
func ReadFrame(r io.Reader) (MessageType, interface{}, error) {
	var typBuf [1]byte
	if _, err := io.ReadFull(r, typBuf[:]); err != nil {
		return 0, nil, err
	}
	typ := MessageType(typBuf[0])

	n, err := varint.ReadUvarint(byteReader{r})
	if err != nil {
		return 0, nil, err
	}
	body := make([]byte, n)
	if _, err := io.ReadFull(r, body); err != nil {
		return 0, nil, err
	}

	msg, err := decodeBody(typ, body)
	return typ, msg, err
}

// EncodeFrame renders one message as a standalone frame, for transports
// that exchange discrete byte slices rather than a continuous stream (the
// Session interface's Send/Recv).
func EncodeFrame(typ MessageType, msg interface{}) ([]byte, error) {
	var buf bytes.Buffer
	if err := WriteFrame(&buf, typ, msg); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// DecodeFrame parses one standalone frame produced by EncodeFrame.
func DecodeFrame(frame []byte) (MessageType, interface{}, error) {
	return ReadFrame(bytes.NewReader(frame))
}

// byteReader adapts an io.Reader to io.ByteReader for varint.ReadUvarint,
// which requires one-byte-at-a-time reads to detect the varint terminator.
type byteReader struct{ r io.Reader }

func (b byteReader) ReadByte() (byte, error) {
	var buf [1]byte
	_, err := io.ReadFull(b.r, buf[:])
	return buf[0], err
}

// encodeBody renders msg as its own protobuf wire form, via the
// gogo/protobuf Marshaler each message type implements below.
func encodeBody(typ MessageType, msg interface{}) ([]byte, error) {
	switch typ {
	case TypeTransDatagram:
		m := msg.(TransDatagram)
		return proto.Marshal(&m)
	case TypeHeartBeat:
		m := msg.(HeartBeat)
		return proto.Marshal(&m)
	case TypeP2PPacket:
		m := msg.(P2PPacket)
		return proto.Marshal(&m)
	case TypeLinkStatePacket:
		m := msg.(LinkStatePacket)
		return proto.Marshal(&m)
	case TypeTransmitError:
		m := msg.(P2PTransmitErrorPacket)
		return proto.Marshal(&m)
	case TypeProxyConnectReq:
		m := msg.(ProxyConnectReq)
		return proto.Marshal(&m)
	case TypeCreateRelayLink:
		m := msg.(CreateRelayLinkMessage)
		return proto.Marshal(&m)
	case TypeRelayLinkCreated:
		m := msg.(RelayLinkCreatedMessage)
		return proto.Marshal(&m)
	case TypeTunnelPayload:
		m := msg.(TunnelPayload)
		return proto.Marshal(&m)
	case TypeTunnelClose:
		m := msg.(TunnelClose)
		return proto.Marshal(&m)
	default:
		return nil, fmt.Errorf("%w: %d", ErrUnknownType, typ)
	}
}

// decodeBody parses body as the protobuf wire form of typ, via the
// gogo/protobuf Unmarshaler each message type implements below.
func decodeBody(typ MessageType, body []byte) (interface{}, error) {
	switch typ {
	case TypeTransDatagram:
		var m TransDatagram
		if err := proto.Unmarshal(body, &m); err != nil {
			return nil, err
		}
		return m, nil
	case TypeHeartBeat:
		var m HeartBeat
		if err := proto.Unmarshal(body, &m); err != nil {
			return nil, err
		}
		return m, nil
	case TypeP2PPacket:
		var m P2PPacket
		if err := proto.Unmarshal(body, &m); err != nil {
			return nil, err
		}
		return m, nil
	case TypeLinkStatePacket:
		var m LinkStatePacket
		if err := proto.Unmarshal(body, &m); err != nil {
			return nil, err
		}
		return m, nil
	case TypeTransmitError:
		var m P2PTransmitErrorPacket
		if err := proto.Unmarshal(body, &m); err != nil {
			return nil, err
		}
		return m, nil
	case TypeProxyConnectReq:
		var m ProxyConnectReq
		if err := proto.Unmarshal(body, &m); err != nil {
			return nil, err
		}
		return m, nil
	case TypeCreateRelayLink:
		var m CreateRelayLinkMessage
		if err := proto.Unmarshal(body, &m); err != nil {
			return nil, err
		}
		return m, nil
	case TypeRelayLinkCreated:
		var m RelayLinkCreatedMessage
		if err := proto.Unmarshal(body, &m); err != nil {
			return nil, err
		}
		return m, nil
	case TypeTunnelPayload:
		var m TunnelPayload
		if err := proto.Unmarshal(body, &m); err != nil {
			return nil, err
		}
		return m, nil
	case TypeTunnelClose:
		var m TunnelClose
		if err := proto.Unmarshal(body, &m); err != nil {
			return nil, err
		}
		return m, nil
	default:
		return nil, fmt.Errorf("%w: %d", ErrUnknownType, typ)
	}
}
