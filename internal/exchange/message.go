package exchange

import (
	"errors"
	"fmt"
)

// ProtocolID is the constant protocol identifier carried by every fabric
// message.
const ProtocolID uint32 = 1

// MessageType is the exchange's fabric message type tag.
type MessageType uint32

const (
	MsgData MessageType = iota + 1
	MsgDataAck
	MsgReadyToCommit
	MsgCommit

	// msgDataNackReserved is reserved and unused, kept only so the sanity
	// gate's type-range check matches the reference's defined range.
	msgDataNackReserved
)

func (t MessageType) String() string {
	switch t {
	case MsgData:
		return "Data"
	case MsgDataAck:
		return "DataAck"
	case MsgReadyToCommit:
		return "ReadyToCommit"
	case MsgCommit:
		return "Commit"
	case msgDataNackReserved:
		return "DataNack"
	default:
		return fmt.Sprintf("MessageType(%d)", uint32(t))
	}
}

// Message is a fabric message. Field order is fixed for wire compatibility:
// protocol id, type, sender's cluster key, and an optional payload present
// only on Data. The sender's identity is not part of the message body; it
// is supplied out of band by the transport's delivery envelope.
type Message struct {
	ID         uint32
	Type       MessageType
	ClusterKey ClusterKey
	Payload    []byte
}

func newMessage(t MessageType, key ClusterKey, payload []byte) Message {
	return Message{ID: ProtocolID, Type: t, ClusterKey: key, Payload: payload}
}

var (
	ErrBadProtocol        = errors.New("exchange: bad protocol id")
	ErrBadMessageType     = errors.New("exchange: unknown message type")
	ErrSenderNotMember    = errors.New("exchange: sender not in current succession list")
	ErrClusterKeyMismatch = errors.New("exchange: cluster key mismatch")
)

// sanityCheck is the gate applied to every inbound message before any state
// handler sees it. It never mutates round.
func sanityCheck(round *roundState, from NodeID, msg Message) error {
	if msg.ID != ProtocolID {
		return ErrBadProtocol
	}
	if msg.Type < MsgData || msg.Type > msgDataNackReserved {
		return ErrBadMessageType
	}
	if !round.succession.Contains(from) {
		return ErrSenderNotMember
	}
	if msg.ClusterKey == 0 || msg.ClusterKey != round.clusterKey {
		return ErrClusterKeyMismatch
	}
	return nil
}
