package types

// DeliveryEvent is published on the event bus whenever a P2PPacket addressed
// to the local peer is delivered upward by the Router.
type DeliveryEvent struct {
	From    PeerID
	Payload []byte
}

// PartnerConnectedEvent is published by the Partner Supervisor on the rising
// edge of a successful connect.
type PartnerConnectedEvent struct {
	PeerID PeerID
}

// PartnerDisconnectedEvent is published by the Partner Supervisor on the
// rising edge of a disconnect.
type PartnerDisconnectedEvent struct {
	PeerID PeerID
}
