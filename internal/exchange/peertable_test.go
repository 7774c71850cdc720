package exchange

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPeerTable_ResetToMembership(t *testing.T) {
	pt := newPeerTable()
	pt.ResetToMembership(SuccessionList{1, 2, 3})
	require.Equal(t, 3, pt.Len())

	pt.Update(1, func(p *PeerState) {
		p.SendAcked = true
		p.Received = true
		p.setData([]byte("hello"))
	})

	// Member 2 drops out, member 4 joins, member 1 is retained.
	pt.ResetToMembership(SuccessionList{1, 4})
	require.Equal(t, 2, pt.Len())

	p1, ok := pt.Get(1)
	require.True(t, ok)
	require.False(t, p1.SendAcked, "retained peer flags must reset")
	require.False(t, p1.Received)
	require.Empty(t, p1.Payload(), "retained peer payload must reset")

	_, ok = pt.Get(2)
	require.False(t, ok, "dropped member must be removed")

	p4, ok := pt.Get(4)
	require.True(t, ok)
	require.False(t, p4.SendAcked)
}

func TestPeerTable_ScansReflectFlags(t *testing.T) {
	pt := newPeerTable()
	pt.ResetToMembership(SuccessionList{1, 2, 3})

	pt.Update(1, func(p *PeerState) { p.SendAcked = true })
	pt.Update(2, func(p *PeerState) { p.Received = true })
	pt.Update(3, func(p *PeerState) { p.IsReadyToCommit = true })

	require.ElementsMatch(t, []NodeID{2, 3}, pt.SendUnacked())
	require.ElementsMatch(t, []NodeID{1, 3}, pt.NotReceived())
	require.ElementsMatch(t, []NodeID{1, 2}, pt.NotReadyToCommit())
}

func TestPeerState_SetDataGrowsToKiBMultipleAndNeverShrinks(t *testing.T) {
	p := newPeerState()
	p.setData(make([]byte, 10))
	require.Equal(t, peerBufferQuantum, cap(p.data))
	require.Len(t, p.Payload(), 10)

	p.setData(make([]byte, peerBufferQuantum+1))
	require.Equal(t, peerBufferQuantum*2, cap(p.data))

	// Shrinking the logical payload must not shrink the backing array.
	p.setData(make([]byte, 5))
	require.Equal(t, peerBufferQuantum*2, cap(p.data))
	require.Len(t, p.Payload(), 5)
}

func TestPeerState_ResetClearsFlagsAndSize(t *testing.T) {
	p := newPeerState()
	p.setData([]byte("abc"))
	p.SendAcked = true
	p.Received = true
	p.IsReadyToCommit = true

	p.reset()

	require.False(t, p.SendAcked)
	require.False(t, p.Received)
	require.False(t, p.IsReadyToCommit)
	require.Empty(t, p.Payload())
}

func TestPeerTable_UpdateUnknownIDReportsNotFound(t *testing.T) {
	pt := newPeerTable()
	pt.ResetToMembership(SuccessionList{1})
	found := pt.Update(99, func(p *PeerState) { p.SendAcked = true })
	require.False(t, found)
}
