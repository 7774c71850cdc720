package exchange

const peerBufferQuantum = 1024

// PeerState tracks one succession-list member's progress through a round:
// whether our Data to them has been acked, whether their Data has arrived,
// whether they've reported ready-to-commit, and their last-received
// payload.
type PeerState struct {
	SendAcked       bool
	Received        bool
	IsReadyToCommit bool

	data []byte
	size int
}

func newPeerState() *PeerState {
	return &PeerState{}
}

func (p *PeerState) reset() {
	p.SendAcked = false
	p.Received = false
	p.IsReadyToCommit = false
	p.size = 0
}

// setData copies b into the peer's owned buffer, growing its capacity to
// the next 1 KiB multiple when needed; it never shrinks the backing array.
func (p *PeerState) setData(b []byte) {
	need := len(b)
	wantCap := nextKiB(need)
	if cap(p.data) < wantCap {
		p.data = make([]byte, wantCap)
	} else {
		p.data = p.data[:wantCap]
	}
	copy(p.data, b)
	p.size = need
}

// Payload returns the peer's last-received payload bytes.
func (p *PeerState) Payload() []byte {
	if p.data == nil {
		return nil
	}
	return p.data[:p.size]
}

func nextKiB(n int) int {
	if n == 0 {
		return peerBufferQuantum
	}
	return ((n + peerBufferQuantum - 1) / peerBufferQuantum) * peerBufferQuantum
}

// PeerTable maps node id to peer state, one entry per member of the current
// succession list (invariant 2).
type PeerTable struct {
	peers map[NodeID]*PeerState
}

func newPeerTable() *PeerTable {
	return &PeerTable{peers: make(map[NodeID]*PeerState)}
}

// ResetToMembership synchronizes the table's key set to members: deleting
// keys no longer present (freeing their buffers), resetting flags for
// retained keys, and inserting zero-initialized entries for new keys.
func (t *PeerTable) ResetToMembership(members SuccessionList) {
	keep := make(map[NodeID]struct{}, len(members))
	for _, id := range members {
		keep[id] = struct{}{}
	}
	for id := range t.peers {
		if _, ok := keep[id]; !ok {
			delete(t.peers, id)
		}
	}
	for _, id := range members {
		if p, ok := t.peers[id]; ok {
			p.reset()
		} else {
			t.peers[id] = newPeerState()
		}
	}
}

// Get returns the peer state for id, if tracked.
func (t *PeerTable) Get(id NodeID) (*PeerState, bool) {
	p, ok := t.peers[id]
	return p, ok
}

// Update applies fn to the peer state for id, if tracked, reporting
// whether the peer was found.
func (t *PeerTable) Update(id NodeID, fn func(*PeerState)) bool {
	p, ok := t.peers[id]
	if !ok {
		return false
	}
	fn(p)
	return true
}

func (t *PeerTable) scan(pred func(*PeerState) bool) []NodeID {
	var out []NodeID
	for id, p := range t.peers {
		if pred(p) {
			out = append(out, id)
		}
	}
	return out
}

// SendUnacked returns members whose DataAck has not yet been received.
func (t *PeerTable) SendUnacked() []NodeID {
	return t.scan(func(p *PeerState) bool { return !p.SendAcked })
}

// NotReceived returns members whose Data payload has not yet arrived.
func (t *PeerTable) NotReceived() []NodeID {
	return t.scan(func(p *PeerState) bool { return !p.Received })
}

// NotReadyToCommit returns members that have not reported ready-to-commit.
func (t *PeerTable) NotReadyToCommit() []NodeID {
	return t.scan(func(p *PeerState) bool { return !p.IsReadyToCommit })
}

// Keys returns the table's current key set, for parity checks against the
// succession list.
func (t *PeerTable) Keys() []NodeID {
	out := make([]NodeID, 0, len(t.peers))
	for id := range t.peers {
		out = append(out, id)
	}
	return out
}

// Len reports the number of tracked peers.
func (t *PeerTable) Len() int {
	return len(t.peers)
}
