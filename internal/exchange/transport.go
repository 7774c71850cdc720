package exchange

import (
	"context"
	"encoding/binary"
	"fmt"

	"github.com/jabolina/relt/pkg/relt"
	"github.com/prometheus/common/log"
)

// reltWireHeaderSize is the size, in bytes, of the fixed fields preceding
// the payload on the wire: id(u32) type(u32) cluster_key(u64) from(u64)
// payload_len(u32). The first three fields are exactly the fabric message
// fields named in spec.md §6, in the order specified there; "from" and
// "payload_len" are this default transport's own framing, since the
// abstract fabric message the core operates on carries no sender identity
// (that's supplied out of band by Transport.Register's callback).
const reltWireHeaderSize = 4 + 4 + 8 + 8 + 4

// ReltTransport adapts the teacher's reliable group transport (relt) to
// this module's per-peer Send/Register Transport interface. Production
// deployments may supply any Transport; this is the shipped default so the
// dependency is exercised rather than left orphaned.
type ReltTransport struct {
	self  NodeID
	group string

	relt *relt.Relt

	handler func(from NodeID, msg Message)

	ctx    context.Context
	cancel context.CancelFunc
}

// NewReltTransport joins the fabric as self, consuming on the address
// peerAddress derives from (group, self). Send addresses a peer through the
// very same derivation (see peerAddress), so a consumer only ever sees
// traffic meant for it; group lets several independent exchange
// deployments share one relt cluster without their node ids colliding.
func NewReltTransport(self NodeID, group string) (*ReltTransport, error) {
	conf := relt.DefaultReltConfiguration()
	conf.Name = fmt.Sprintf("exchange-%d", self)
	conf.Exchange = relt.GroupAddress(peerAddress(group, self))
	r, err := relt.NewRelt(*conf)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &ReltTransport{self: self, group: group, relt: r, ctx: ctx, cancel: cancel}, nil
}

// Register implements Transport.
func (t *ReltTransport) Register(handler func(from NodeID, msg Message)) error {
	t.handler = handler
	go t.poll()
	return nil
}

// Send implements Transport.
func (t *ReltTransport) Send(ctx context.Context, to NodeID, msg Message) error {
	return t.relt.Broadcast(ctx, relt.Send{
		Address: relt.GroupAddress(peerAddress(t.group, to)),
		Data:    encodeWireMessage(t.self, msg),
	})
}

// Close releases the underlying relt connection.
func (t *ReltTransport) Close() {
	t.cancel()
	if err := t.relt.Close(); err != nil {
		log.Errorf("exchange transport: close failed: %v", err)
	}
}

func (t *ReltTransport) poll() {
	listener, err := t.relt.Consume()
	if err != nil {
		log.Errorf("exchange transport: consume failed: %v", err)
		return
	}
	for {
		select {
		case <-t.ctx.Done():
			return
		case recv, ok := <-listener:
			if !ok {
				return
			}
			if recv.Error != nil {
				log.Errorf("exchange transport: receive error: %v", recv.Error)
				continue
			}
			from, msg, err := decodeWireMessage(recv.Data)
			if err != nil {
				log.Warnf("exchange transport: malformed wire message: %v", err)
				continue
			}
			if t.handler != nil {
				t.handler(from, msg)
			}
		}
	}
}

func nodeAddress(id NodeID) string {
	return fmt.Sprintf("%d", id)
}

// peerAddress derives the relt group address a single node consumes and is
// sent to, keying the consumer's conf.Exchange and the producer's Send
// address off the exact same (group, id) pair so they always agree.
func peerAddress(group string, id NodeID) string {
	return fmt.Sprintf("%s/%s", group, nodeAddress(id))
}

func encodeWireMessage(from NodeID, msg Message) []byte {
	buf := make([]byte, reltWireHeaderSize+len(msg.Payload))
	binary.LittleEndian.PutUint32(buf[0:], msg.ID)
	binary.LittleEndian.PutUint32(buf[4:], uint32(msg.Type))
	binary.LittleEndian.PutUint64(buf[8:], uint64(msg.ClusterKey))
	binary.LittleEndian.PutUint64(buf[16:], uint64(from))
	binary.LittleEndian.PutUint32(buf[24:], uint32(len(msg.Payload)))
	copy(buf[reltWireHeaderSize:], msg.Payload)
	return buf
}

func decodeWireMessage(data []byte) (NodeID, Message, error) {
	if len(data) < reltWireHeaderSize {
		return 0, Message{}, fmt.Errorf("exchange transport: truncated wire message")
	}
	id := binary.LittleEndian.Uint32(data[0:])
	typ := binary.LittleEndian.Uint32(data[4:])
	key := binary.LittleEndian.Uint64(data[8:])
	from := binary.LittleEndian.Uint64(data[16:])
	plen := binary.LittleEndian.Uint32(data[24:])
	if uint32(len(data)-reltWireHeaderSize) != plen {
		return 0, Message{}, fmt.Errorf("exchange transport: payload length mismatch")
	}
	var payload []byte
	if plen > 0 {
		payload = append([]byte(nil), data[reltWireHeaderSize:reltWireHeaderSize+plen]...)
	}
	return NodeID(from), Message{ID: id, Type: MessageType(typ), ClusterKey: ClusterKey(key), Payload: payload}, nil
}
