package exchange

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeWireMessage_RoundTrip(t *testing.T) {
	msg := newMessage(MsgData, 77, []byte("namespaces-payload"))
	encoded := encodeWireMessage(5, msg)

	from, decoded, err := decodeWireMessage(encoded)
	require.NoError(t, err)
	require.Equal(t, NodeID(5), from)
	require.Equal(t, msg, decoded)
}

func TestEncodeDecodeWireMessage_EmptyPayload(t *testing.T) {
	msg := newMessage(MsgDataAck, 3, nil)
	encoded := encodeWireMessage(1, msg)

	from, decoded, err := decodeWireMessage(encoded)
	require.NoError(t, err)
	require.Equal(t, NodeID(1), from)
	require.Equal(t, MsgDataAck, decoded.Type)
	require.Empty(t, decoded.Payload)
}

func TestDecodeWireMessage_TruncatedHeaderRejected(t *testing.T) {
	_, _, err := decodeWireMessage([]byte{1, 2, 3})
	require.Error(t, err)
}

func TestDecodeWireMessage_PayloadLengthMismatchRejected(t *testing.T) {
	msg := newMessage(MsgData, 1, []byte("abc"))
	encoded := encodeWireMessage(1, msg)
	truncated := encoded[:len(encoded)-1]

	_, _, err := decodeWireMessage(truncated)
	require.Error(t, err)
}

func TestNodeAddress_FormatsDecimal(t *testing.T) {
	require.Equal(t, "42", nodeAddress(42))
}

// TestPeerAddress_ConsumerAndProducerAgree pins the invariant that broke the
// shipped transport: a node's own consumer address (what NewReltTransport
// would set as conf.Exchange) and the address a peer's Send targets it with
// must be derived the exact same way, or nothing is ever delivered.
func TestPeerAddress_ConsumerAndProducerAgree(t *testing.T) {
	consumerAddress := peerAddress("exchange", 2)
	producerAddress := peerAddress("exchange", NodeID(2))
	require.Equal(t, consumerAddress, producerAddress)

	require.NotEqual(t, peerAddress("exchange", 1), peerAddress("exchange", 2), "distinct nodes must not collide")
	require.NotEqual(t, peerAddress("group-a", 1), peerAddress("group-b", 1), "distinct groups must not collide")
}
