// Package wire defines the datagrams and control messages exchanged between
// overlay peers, and a protobuf-wire-format codec for framing them onto a
// byte stream: each message hand-implements the gogo/protobuf
// Marshaler/Unmarshaler contract, and WriteFrame/ReadFrame add a type byte
// plus a varint length prefix around the encoded body. Serialization of the
// rendezvous/sign-in handshake itself is out of scope (external
// collaborator); this codec only covers messages the core itself originates:
// TransDatagram windowed streams, Router flooding, and the relay session's
// own control channel.
package wire
