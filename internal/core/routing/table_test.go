package routing

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/dep2p/overlay/pkg/types"
	"github.com/dep2p/overlay/pkg/wire"
)

func TestDirectLinkInvariant(t *testing.T) {
	self := types.NewPeerID()
	peerB := types.NewPeerID()

	table := New(self)
	table.Update(wire.LinkState{
		Source:     self,
		Timestamp:  1,
		Interfaces: []types.PeerID{peerB},
		Costs:      []uint32{12},
	})

	hop, ok := table.GetForwardInterface(peerB)
	require.True(t, ok)
	require.Equal(t, peerB, hop)
}

func TestThreePeerLine(t *testing.T) {
	a := types.NewPeerID()
	b := types.NewPeerID()
	c := types.NewPeerID()

	table := New(a)
	table.Update(wire.LinkState{Source: a, Timestamp: 1, Interfaces: []types.PeerID{b}, Costs: []uint32{5}})
	table.Update(wire.LinkState{Source: b, Timestamp: 1, Interfaces: []types.PeerID{a, c}, Costs: []uint32{5, 7}})

	hop, ok := table.GetForwardInterface(c)
	require.True(t, ok)
	require.Equal(t, b, hop)
}

func TestUnreachableDestination(t *testing.T) {
	self := types.NewPeerID()
	unknown := types.NewPeerID()

	table := New(self)
	_, ok := table.GetForwardInterface(unknown)
	require.False(t, ok)
}

func TestStaleLinkStateDiscarded(t *testing.T) {
	self := types.NewPeerID()
	peerB := types.NewPeerID()

	table := New(self)
	table.Update(wire.LinkState{Source: self, Timestamp: 10, Interfaces: []types.PeerID{peerB}, Costs: []uint32{5}})
	table.Update(wire.LinkState{Source: self, Timestamp: 3, Interfaces: nil, Costs: nil})

	ls, ok := table.GetSelfLinkState()
	require.True(t, ok)
	require.EqualValues(t, 10, ls.Timestamp)
}

func TestForceAddSeedsRouteBeforeLinkState(t *testing.T) {
	self := types.NewPeerID()
	peer := types.NewPeerID()

	table := New(self)
	table.ForceAdd(peer, peer)

	hop, ok := table.GetForwardInterface(peer)
	require.True(t, ok)
	require.Equal(t, peer, hop)
}

func TestDownLinkExcludedFromShortestPath(t *testing.T) {
	a := types.NewPeerID()
	b := types.NewPeerID()
	c := types.NewPeerID()

	table := New(a)
	table.Update(wire.LinkState{Source: a, Timestamp: 1, Interfaces: []types.PeerID{b}, Costs: []uint32{wire.CostDown}})
	table.Update(wire.LinkState{Source: b, Timestamp: 1, Interfaces: []types.PeerID{a, c}, Costs: []uint32{5, 7}})

	_, ok := table.GetForwardInterface(c)
	require.False(t, ok)
}

func TestIdempotentReplay(t *testing.T) {
	a := types.NewPeerID()
	b := types.NewPeerID()
	c := types.NewPeerID()

	ls := wire.LinkState{Source: b, Timestamp: 5, Interfaces: []types.PeerID{a, c}, Costs: []uint32{5, 7}}

	table1 := New(a)
	table1.Update(wire.LinkState{Source: a, Timestamp: 1, Interfaces: []types.PeerID{b}, Costs: []uint32{5}})
	table1.Update(ls)
	table1.Update(ls)

	hop1, ok1 := table1.GetForwardInterface(c)
	require.True(t, ok1)
	require.Equal(t, b, hop1)
}
