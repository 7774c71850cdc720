package exchange

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// recordingTransport is a minimal in-package transport fake: it records
// every Send and lets the test pull messages by type instead of doing any
// real delivery, since dispatch tests drive OnMessage/OnClusterChange
// directly rather than wiring two live Exchanges together (that's what
// exchangetest.Network and the end-to-end scenario tests are for).
type recordingTransport struct {
	mu   sync.Mutex
	sent []Message
	to   []NodeID
}

func (r *recordingTransport) Register(func(from NodeID, msg Message)) error { return nil }

func (r *recordingTransport) Send(_ context.Context, to NodeID, msg Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, msg)
	r.to = append(r.to, to)
	return nil
}

func (r *recordingTransport) countTo(to NodeID, t MessageType) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	c := 0
	for i, m := range r.sent {
		if r.to[i] == to && m.Type == t {
			c++
		}
	}
	return c
}

func newDispatchTestExchange(t *testing.T, partitionCount int, self NodeID, namespaceNames ...string) (*Exchange, *recordingTransport, *stubBalance) {
	t.Helper()
	e := newTestExchange(t, partitionCount, namespaceNames...)
	e.selfID = self
	transport := &recordingTransport{}
	e.transport = transport
	balance := e.balance.(*stubBalance)
	return e, transport, balance
}

func TestDispatch_ClusterChangeThreeNodesCompletesWhenAllDataAndAcksArrive(t *testing.T) {
	e, transport, _ := newDispatchTestExchange(t, 4, 1, "ns1")

	e.handleClusterChangedLocked(10, SuccessionList{1, 2, 3})
	require.Equal(t, Exchanging, e.state)
	require.Equal(t, 1, transport.countTo(2, MsgData))
	require.Equal(t, 1, transport.countTo(3, MsgData))

	// Peer 2 and 3 ack our Data and send us theirs.
	e.handleExchangingMessageLocked(2, newMessage(MsgDataAck, 10, nil))
	e.handleExchangingMessageLocked(3, newMessage(MsgDataAck, 10, nil))
	payload, err := EncodeNamespaces([]*Namespace{NewNamespace("ns1", 4)})
	require.NoError(t, err)
	e.handleExchangingMessageLocked(2, newMessage(MsgData, 10, payload))
	e.handleExchangingMessageLocked(3, newMessage(MsgData, 10, payload))

	require.Equal(t, ReadyToCommit, e.state)
	// Self is principal (lowest id first in succession), so it marks itself
	// ready immediately and is still waiting on 2 and 3's ReadyToCommit.
	require.NotEmpty(t, e.peers.NotReadyToCommit())

	e.handleReadyToCommitMessageLocked(2, newMessage(MsgReadyToCommit, 10, nil))
	e.handleReadyToCommitMessageLocked(3, newMessage(MsgReadyToCommit, 10, nil))

	require.Equal(t, Rest, e.state)
	require.Equal(t, 1, transport.countTo(2, MsgCommit))
	require.Equal(t, 1, transport.countTo(3, MsgCommit))
	require.Equal(t, ClusterKey(10), e.committed.ClusterKey)
}

func TestDispatch_NonPrincipalSendsReadyToCommitThenAppliesOnCommit(t *testing.T) {
	e, transport, _ := newDispatchTestExchange(t, 4, 2, "ns1")

	e.handleClusterChangedLocked(10, SuccessionList{1, 2, 3})
	e.handleExchangingMessageLocked(1, newMessage(MsgDataAck, 10, nil))
	e.handleExchangingMessageLocked(3, newMessage(MsgDataAck, 10, nil))
	payload, err := EncodeNamespaces([]*Namespace{NewNamespace("ns1", 4)})
	require.NoError(t, err)
	e.handleExchangingMessageLocked(1, newMessage(MsgData, 10, payload))
	e.handleExchangingMessageLocked(3, newMessage(MsgData, 10, payload))

	require.Equal(t, ReadyToCommit, e.state)
	require.Equal(t, 1, transport.countTo(1, MsgReadyToCommit), "non-principal must report readiness to the principal")

	e.handleReadyToCommitMessageLocked(1, newMessage(MsgCommit, 10, nil))
	require.Equal(t, Rest, e.state)
}

func TestDispatch_SingleNodeSuccessionCompletesImmediately(t *testing.T) {
	e, _, balance := newDispatchTestExchange(t, 4, 1, "ns1")

	e.handleClusterChangedLocked(5, SuccessionList{1})

	require.Equal(t, Rest, e.state)
	require.Equal(t, ClusterKey(5), e.committed.ClusterKey)
	require.Equal(t, 1, e.committed.Size)
	require.Equal(t, 1, balance.balanceCalls)
}

func TestDispatch_UnacknowledgedDataIsIgnoredWhileAlreadyReceived(t *testing.T) {
	e, transport, _ := newDispatchTestExchange(t, 4, 1, "ns1")
	e.handleClusterChangedLocked(10, SuccessionList{1, 2})

	payload, err := EncodeNamespaces([]*Namespace{NewNamespace("ns1", 4)})
	require.NoError(t, err)
	e.handleExchangingMessageLocked(2, newMessage(MsgData, 10, payload))
	e.handleExchangingMessageLocked(2, newMessage(MsgDataAck, 10, nil))
	require.Equal(t, ReadyToCommit, e.state)

	// A retransmitted Data from 2 while already in ReadyToCommit is
	// answered with another DataAck rather than reprocessed.
	e.handleReadyToCommitMessageLocked(2, newMessage(MsgData, 10, payload))
	require.Equal(t, 2, transport.countTo(2, MsgDataAck))
}

func TestDispatch_RestRespondsToReplayedReadyToCommitByResendingCommit(t *testing.T) {
	e, transport, _ := newDispatchTestExchange(t, 4, 1, "ns1")
	e.handleClusterChangedLocked(10, SuccessionList{1, 2})
	e.round.principal = 1
	e.state = Rest

	e.handleRestMessageLocked(2, newMessage(MsgReadyToCommit, 10, nil))
	require.GreaterOrEqual(t, transport.countTo(2, MsgCommit), 1)
}

func TestDispatch_OrphanEventResetsRoundAndBlocksMigrations(t *testing.T) {
	e, _, balance := newDispatchTestExchange(t, 4, 1, "ns1")
	e.handleClusterChangedLocked(10, SuccessionList{1, 2})
	require.Equal(t, Exchanging, e.state)

	e.handleOrphanEventLocked()

	require.Equal(t, Orphaned, e.state)
	require.Equal(t, 0, e.peers.Len())
	require.Equal(t, ClusterKey(0), e.round.clusterKey)
	_ = balance
}

func TestDispatch_ClusterChangeMidRoundAbortsAndRestarts(t *testing.T) {
	e, transport, _ := newDispatchTestExchange(t, 4, 1, "ns1")
	e.handleClusterChangedLocked(10, SuccessionList{1, 2, 3})
	require.Equal(t, Exchanging, e.state)

	e.handleClusterChangedLocked(11, SuccessionList{1, 2})
	require.Equal(t, Exchanging, e.state)
	require.Equal(t, ClusterKey(11), e.round.clusterKey)
	require.Equal(t, 2, e.peers.Len())
	require.Equal(t, 2, transport.countTo(2, MsgData), "the aborted round's Data plus the restarted round's Data to the retained peer")
}

func TestDispatch_NonPrincipalNeverSendsCommit(t *testing.T) {
	e, transport, _ := newDispatchTestExchange(t, 4, 2, "ns1")
	e.handleClusterChangedLocked(10, SuccessionList{1, 2, 3})
	require.Equal(t, NodeID(1), e.round.principal)

	payload, err := EncodeNamespaces([]*Namespace{NewNamespace("ns1", 4)})
	require.NoError(t, err)
	e.handleExchangingMessageLocked(1, newMessage(MsgDataAck, 10, nil))
	e.handleExchangingMessageLocked(3, newMessage(MsgDataAck, 10, nil))
	e.handleExchangingMessageLocked(1, newMessage(MsgData, 10, payload))
	e.handleExchangingMessageLocked(3, newMessage(MsgData, 10, payload))
	require.Equal(t, ReadyToCommit, e.state)

	e.handleReadyToCommitMessageLocked(1, newMessage(MsgCommit, 10, nil))
	require.Equal(t, Rest, e.state)

	transport.mu.Lock()
	defer transport.mu.Unlock()
	for _, m := range transport.sent {
		require.NotEqual(t, MsgCommit, m.Type, "a non-principal must never emit a Commit message")
	}
}

func TestHandleReadyToCommitTimerLocked_PrincipalNeverSendsToItself(t *testing.T) {
	e, transport, _ := newDispatchTestExchange(t, 4, 1, "ns1")
	e.handleClusterChangedLocked(10, SuccessionList{1, 2, 3})
	require.Equal(t, NodeID(1), e.round.principal)

	// Principal is still waiting on 2 and 3, so it sits in ReadyToCommit
	// once its own Data/Ack bookkeeping is done; force its RTC timer to be
	// due and tick it directly the way onTimer would.
	e.state = ReadyToCommit
	e.round.rtcSendTS = time.Now().Add(-time.Hour)

	e.handleReadyToCommitTimerLocked()

	require.Equal(t, 0, transport.countTo(1, MsgReadyToCommit), "principal must never address a ReadyToCommit at itself")
}

func TestSanityCheck_DroppedMessageDoesNotMutateState(t *testing.T) {
	e, _, _ := newDispatchTestExchange(t, 4, 1, "ns1")
	e.handleClusterChangedLocked(10, SuccessionList{1, 2})
	before := e.state

	e.OnMessage(2, newMessage(MsgData, 999, nil)) // wrong cluster key
	require.Equal(t, before, e.state)
}
