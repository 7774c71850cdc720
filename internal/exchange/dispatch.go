package exchange

import (
	"context"
	"time"
)

// State is one of the four exchange lifecycle states.
type State uint8

const (
	Orphaned State = iota
	Rest
	Exchanging
	ReadyToCommit
)

func (s State) String() string {
	switch s {
	case Orphaned:
		return "Orphaned"
	case Rest:
		return "Rest"
	case Exchanging:
		return "Exchanging"
	case ReadyToCommit:
		return "ReadyToCommit"
	default:
		return "Unknown"
	}
}

// roundState holds the mutable fields of the in-progress round. It is never
// exposed to public accessors directly (invariant 4); only the committed
// snapshot is.
type roundState struct {
	clusterKey ClusterKey
	succession SuccessionList
	principal  NodeID

	sendTS    time.Time
	rtcSendTS time.Time

	selfPayload []byte
}

// OnClusterChange is the callback the external clustering layer invokes
// with every membership proposal.
func (e *Exchange) OnClusterChange(ev ClusteringEvent) {
	e.mu.Lock()
	defer e.mu.Unlock()

	switch ev.Kind {
	case ClusterOrphaned:
		e.handleOrphanEventLocked()
	case ClusterChanged:
		e.handleClusterChangedLocked(ev.ClusterKey, ev.Succession)
	}
}

func (e *Exchange) handleOrphanEventLocked() {
	if e.state == Exchanging || e.state == ReadyToCommit {
		e.logger.Warnf("aborting round for cluster key %d: orphaned", e.round.clusterKey)
	}
	e.peers.ResetToMembership(nil)
	e.round = roundState{}
	e.state = Orphaned
	e.orphanStart = time.Now()
	e.orphanBlocked = false
	e.balance.DisallowMigrations()
	e.balance.SynchronizeMigrations()
}

func (e *Exchange) handleClusterChangedLocked(key ClusterKey, succession SuccessionList) {
	if e.state == Exchanging || e.state == ReadyToCommit {
		e.logger.Warnf("aborting round for cluster key %d: superseded by %d", e.round.clusterKey, key)
	}

	members := succession.Clone()
	e.peers.ResetToMembership(members)

	principal, _ := members.Principal()
	payload, err := EncodeNamespaces(e.namespaces)
	if err != nil {
		e.logger.Fatalf("exchange: failed building self payload: %v", err)
		return
	}

	e.round = roundState{
		clusterKey:  key,
		succession:  members,
		principal:   principal,
		sendTS:      time.Now(),
		selfPayload: payload,
	}

	e.peers.Update(e.selfID, func(p *PeerState) {
		p.setData(payload)
		p.Received = true
		p.SendAcked = true
	})

	e.state = Exchanging
	e.sendToAllLocked(MsgData, payload)
	e.checkExchangeCompletionLocked()
}

// onTimer is invoked by the timer worker on every tick.
func (e *Exchange) onTimer() {
	e.mu.Lock()
	defer e.mu.Unlock()

	switch e.state {
	case Orphaned:
		e.handleOrphanTimerLocked()
	case Exchanging:
		e.handleExchangingTimerLocked()
	case ReadyToCommit:
		e.handleReadyToCommitTimerLocked()
	case Rest:
		// No periodic work in Rest.
	}
}

func (e *Exchange) handleOrphanTimerLocked() {
	if e.orphanBlocked {
		return
	}
	if time.Since(e.orphanStart) > e.orphanBlockTimeout() {
		e.balance.RevertToOrphan()
		e.orphanBlocked = true
	}
}

func (e *Exchange) handleExchangingTimerLocked() {
	elapsed := time.Since(e.round.sendTS)
	timeout := computeSendTimeout(elapsed, e.sendMinTimeout(), sendMaxTimeout, e.sendStepInterval())
	if elapsed > timeout {
		for _, node := range e.peers.SendUnacked() {
			e.metrics.IncRetransmit()
			e.sendToLocked(node, MsgData, e.round.selfPayload)
		}
		e.round.sendTS = time.Now()
	}
}

func (e *Exchange) handleReadyToCommitTimerLocked() {
	if e.selfID == e.round.principal {
		// The principal never sends itself a ReadyToCommit; it's only
		// waiting on checkAllReadyLocked to fire once every peer reports in.
		return
	}
	if time.Since(e.round.rtcSendTS) > e.sendMinTimeout() {
		e.metrics.IncRetransmit()
		e.sendToLocked(e.round.principal, MsgReadyToCommit, nil)
		e.round.rtcSendTS = time.Now()
	}
}

// OnMessage is invoked for every message the transport delivers, with from
// the sender supplied out of band.
func (e *Exchange) OnMessage(from NodeID, msg Message) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := sanityCheck(&e.round, from, msg); err != nil {
		e.logger.Debugf("dropping %v from %d: %v", msg.Type, from, err)
		return
	}

	switch e.state {
	case Exchanging:
		e.handleExchangingMessageLocked(from, msg)
	case ReadyToCommit:
		e.handleReadyToCommitMessageLocked(from, msg)
	case Rest:
		e.handleRestMessageLocked(from, msg)
	case Orphaned:
		e.logger.Debugf("ignoring %v from %d while orphaned", msg.Type, from)
	}
}

func (e *Exchange) handleExchangingMessageLocked(from NodeID, msg Message) {
	switch msg.Type {
	case MsgData:
		if peer, ok := e.peers.Get(from); ok && !peer.Received {
			if err := Validate(msg.Payload, e.cfg.PartitionCount); err != nil {
				e.logger.Warnf("invalid Data payload from %d: %v", from, err)
			} else {
				peer.setData(msg.Payload)
				peer.Received = true
			}
		}
		e.sendToLocked(from, MsgDataAck, nil)
		e.checkExchangeCompletionLocked()
	case MsgDataAck:
		e.peers.Update(from, func(p *PeerState) {
			p.SendAcked = true
		})
		e.checkExchangeCompletionLocked()
	default:
		e.logger.Debugf("ignoring %v in Exchanging from %d", msg.Type, from)
	}
}

// checkExchangeCompletionLocked promotes Exchanging to ReadyToCommit once
// every peer has acked our Data and sent us theirs.
func (e *Exchange) checkExchangeCompletionLocked() {
	if e.state != Exchanging {
		return
	}
	if len(e.peers.SendUnacked()) != 0 || len(e.peers.NotReceived()) != 0 {
		return
	}
	e.state = ReadyToCommit
	e.round.rtcSendTS = time.Now()

	if e.selfID == e.round.principal {
		e.peers.Update(e.selfID, func(p *PeerState) { p.IsReadyToCommit = true })
		e.checkAllReadyLocked()
		return
	}
	e.sendToLocked(e.round.principal, MsgReadyToCommit, nil)
}

func (e *Exchange) handleReadyToCommitMessageLocked(from NodeID, msg Message) {
	switch msg.Type {
	case MsgReadyToCommit:
		// Only the principal ever acts on ReadyToCommit reports.
		if e.selfID != e.round.principal {
			e.logger.Debugf("ignoring ReadyToCommit at non-principal from %d", from)
			return
		}
		e.peers.Update(from, func(p *PeerState) { p.IsReadyToCommit = true })
		e.checkAllReadyLocked()
	case MsgCommit:
		if from != e.round.principal {
			e.logger.Warnf("ignoring Commit from non-principal %d", from)
			return
		}
		e.applyCommitLocked()
	case MsgData:
		// Retransmission of a message we've already accounted for.
		e.sendToLocked(from, MsgDataAck, nil)
	default:
		e.logger.Debugf("ignoring %v in ReadyToCommit from %d", msg.Type, from)
	}
}

// checkAllReadyLocked sends Commit to every member once every member has
// reported ready-to-commit. Only the principal calls this. The principal
// itself never receives its own Commit over the transport, so it applies
// the commit locally right after broadcasting it, rather than looping the
// message back through the transport.
func (e *Exchange) checkAllReadyLocked() {
	if len(e.peers.NotReadyToCommit()) != 0 {
		return
	}
	for _, node := range e.round.succession {
		if node == e.selfID {
			continue
		}
		e.sendToLocked(node, MsgCommit, nil)
	}
	e.applyCommitLocked()
}

func (e *Exchange) handleRestMessageLocked(from NodeID, msg Message) {
	switch msg.Type {
	case MsgReadyToCommit:
		if e.selfID == e.round.principal {
			// The peer's Commit must have been lost; resend it.
			e.sendToLocked(from, MsgCommit, nil)
		} else {
			e.logger.Debugf("ignoring ReadyToCommit at non-principal from %d", from)
		}
	default:
		e.logger.Debugf("ignoring %v in Rest from %d", msg.Type, from)
	}
}

func (e *Exchange) applyCommitLocked() {
	e.commitLocked()
	e.state = Rest
	e.publisher.publish(ClusterChangedEvent{
		ClusterKey: e.committed.ClusterKey,
		Succession: e.committed.Succession,
		Principal:  e.committed.Principal,
	})
}

func (e *Exchange) sendToLocked(to NodeID, t MessageType, payload []byte) {
	msg := newMessage(t, e.round.clusterKey, payload)
	if err := e.transport.Send(context.Background(), to, msg); err != nil {
		e.logger.Warnf("send %v to %d failed: %v", t, to, err)
		e.metrics.IncSendFailure()
		return
	}
	e.metrics.IncSent(t)
}

func (e *Exchange) sendToAllLocked(t MessageType, payload []byte) {
	for _, node := range e.round.succession {
		if node == e.selfID {
			continue
		}
		e.sendToLocked(node, t, payload)
	}
}

// --- timing parameters (spec.md §4.4) ---

const sendMaxTimeout = 30 * time.Second

func (e *Exchange) sendMinTimeout() time.Duration {
	hb := time.Duration(e.heartbeat.TxIntervalMillis()) * time.Millisecond / 2
	return maxDuration(75*time.Millisecond, hb)
}

func (e *Exchange) sendStepInterval() time.Duration {
	hb := time.Duration(e.heartbeat.TxIntervalMillis()) * time.Millisecond
	return maxDuration(e.sendMinTimeout(), hb)
}

// computeSendTimeout implements max(min, min(max, min × floor(elapsed / step))).
func computeSendTimeout(elapsed, min, max, step time.Duration) time.Duration {
	if step <= 0 {
		return min
	}
	n := int64(elapsed / step)
	v := min * time.Duration(n)
	if v < min {
		v = min
	}
	if v > max {
		v = max
	}
	return v
}

// orphanBlockTimeout is ceil(quantum_interval × 5 / 5000) × 5000 ms,
// rounded up to the nearest 5s.
func (e *Exchange) orphanBlockTimeout() time.Duration {
	n := e.cfg.QuantumIntervalMillis * 5
	blocks := (n + 4999) / 5000
	if blocks < 1 {
		blocks = 1
	}
	return time.Duration(blocks*5000) * time.Millisecond
}

func maxDuration(a, b time.Duration) time.Duration {
	if a > b {
		return a
	}
	return b
}
