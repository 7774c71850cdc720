package exchange

import (
	"fmt"
	"strings"
	"sync"
	"time"
)

type lifecyclePhase uint8

const (
	uninitialized lifecyclePhase = iota
	initializedPhase
	runningPhase
	shuttingDownPhase
)

// Dependencies are the external collaborators injected at construction.
// Transport, Balance and Heartbeat are required; when omitted, Logger
// defaults to the logrus-backed logger and Metrics to a no-op implementation.
type Dependencies struct {
	Transport Transport
	Balance   PartitionBalance
	Heartbeat Heartbeat
	Logger    Logger
	Metrics   Metrics
}

// Exchange is the per-node singleton aggregate: current state, current
// round, peer table, committed snapshot, and the collaborators and
// components driving it. All mutable state is guarded by mu; every event
// handler and accessor takes it for the full duration of its work
// (spec.md §5). Stop releases it before joining the workers, and
// RegisterListener uses only the publisher's own lock.
type Exchange struct {
	mu sync.Mutex

	selfID NodeID
	cfg    Config

	logger    Logger
	transport Transport
	balance   PartitionBalance
	heartbeat Heartbeat
	metrics   Metrics

	phase lifecyclePhase
	state State

	round roundState
	peers *PeerTable

	namespaces []*Namespace
	nsIndex    map[string]*Namespace

	committed CommittedSnapshot

	orphanStart   time.Time
	orphanBlocked bool

	publisher *publisher
	timer     *timer

	stopOnce sync.Once
}

// NewExchange performs the subsystem's Init: starts in Orphaned with
// transactions blocked, builds the peer table and namespace set, registers
// the message handler with the transport, and initializes the publisher.
func NewExchange(selfID NodeID, cfg Config, deps Dependencies) (*Exchange, error) {
	if deps.Transport == nil || deps.Balance == nil || deps.Heartbeat == nil {
		return nil, fmt.Errorf("exchange: transport, balance and heartbeat dependencies are required")
	}
	if cfg.PartitionCount <= 0 {
		return nil, fmt.Errorf("exchange: partition count must be positive")
	}

	logger := deps.Logger
	if logger == nil {
		logger = NewDefaultLogger()
	}
	metrics := deps.Metrics
	if metrics == nil {
		metrics = noopMetrics{}
	}

	namespaces := make([]*Namespace, 0, len(cfg.Namespaces))
	nsIndex := make(map[string]*Namespace, len(cfg.Namespaces))
	for _, nc := range cfg.Namespaces {
		ns := NewNamespace(nc.Name, cfg.PartitionCount)
		namespaces = append(namespaces, ns)
		nsIndex[ns.Name] = ns
	}

	pub, err := newPublisher(cfg.ListenerCap, logger)
	if err != nil {
		return nil, err
	}

	e := &Exchange{
		selfID:      selfID,
		cfg:         cfg,
		logger:      logger,
		transport:   deps.Transport,
		balance:     deps.Balance,
		heartbeat:   deps.Heartbeat,
		metrics:     metrics,
		phase:       initializedPhase,
		state:       Orphaned,
		peers:       newPeerTable(),
		namespaces:  namespaces,
		nsIndex:     nsIndex,
		orphanStart: time.Now(),
		publisher:   pub,
	}
	// Transactions start out blocked, so the orphan timer has nothing to
	// block until the next orphan event resets this.
	e.orphanBlocked = true

	if err := deps.Transport.Register(e.OnMessage); err != nil {
		return nil, fmt.Errorf("exchange: registering transport handler: %w", err)
	}
	e.balance.DisallowMigrations()

	return e, nil
}

// Start spawns the timer and publisher workers and transitions to Running.
func (e *Exchange) Start() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.phase == runningPhase {
		return nil
	}
	e.phase = runningPhase
	e.timer = newTimer(e.cfg.TickInterval, e.onTimer)
	e.timer.start()
	e.publisher.start()
	return nil
}

// Stop transitions to ShuttingDown, joins the timer, then stops the
// publisher. Stop is idempotent.
func (e *Exchange) Stop() error {
	e.stopOnce.Do(func() {
		e.mu.Lock()
		e.phase = shuttingDownPhase
		t := e.timer
		e.mu.Unlock()

		if t != nil {
			t.stop()
		}
		e.publisher.stop()
	})
	return nil
}

// RegisterListener registers l to receive committed cluster-changed
// events, up to MaxListeners.
func (e *Exchange) RegisterListener(l Listener) error {
	return e.publisher.Register(l)
}

// State returns the current exchange state.
func (e *Exchange) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// CommittedClusterKey returns the last committed cluster key.
func (e *Exchange) CommittedClusterKey() ClusterKey {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.committed.ClusterKey
}

// CommittedSize returns the last committed succession size.
func (e *Exchange) CommittedSize() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.committed.Size
}

// CommittedSuccession returns a copy of the last committed succession list.
func (e *Exchange) CommittedSuccession() SuccessionList {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.committed.Succession.Clone()
}

// CommittedPrincipal returns the last committed principal.
func (e *Exchange) CommittedPrincipal() NodeID {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.committed.Principal
}

// TrackedPeerCount returns how many members the current round's peer table
// holds, for parity checks against the committed succession size once a
// round has settled at Rest.
func (e *Exchange) TrackedPeerCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.peers.Len()
}

// Severity selects the log level Dump writes at.
type Severity uint8

const (
	SeverityDebug Severity = iota
	SeverityInfo
	SeverityWarn
	SeverityError
)

// Dump formats the current state at the requested severity.
func (e *Exchange) Dump(sev Severity) {
	e.mu.Lock()
	defer e.mu.Unlock()
	msg := fmt.Sprintf(
		"state=%s cluster_key=%d round_succession=%v committed_key=%d committed_size=%d committed_succession=%v principal=%d",
		e.state, e.round.clusterKey, e.round.succession, e.committed.ClusterKey, e.committed.Size, e.committed.Succession, e.committed.Principal,
	)
	switch sev {
	case SeverityDebug:
		e.logger.Debugf("%s", msg)
	case SeverityInfo:
		e.logger.Infof("%s", msg)
	case SeverityWarn:
		e.logger.Warnf("%s", msg)
	case SeverityError:
		e.logger.Errorf("%s", msg)
	}
}

// Info serializes the committed succession list as comma-separated hex
// with a trailing "\nok", matching the legacy administrative CLI format.
func (e *Exchange) Info() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	parts := make([]string, 0, len(e.committed.Succession))
	for _, id := range e.committed.Succession {
		parts = append(parts, fmt.Sprintf("%x", uint64(id)))
	}
	return strings.Join(parts, ",") + "\nok"
}

// CompatSnapshotWriter exposes deprecated setters used by an older
// consensus path that allowed external overwrite of the committed
// snapshot. These are not part of the core exchange contract; new callers
// should never need them.
type CompatSnapshotWriter struct {
	e *Exchange
}

// CompatWriter returns a handle to the deprecated compatibility setters.
func (e *Exchange) CompatWriter() CompatSnapshotWriter {
	return CompatSnapshotWriter{e: e}
}

// SetCommittedClusterKey overwrites the committed cluster key directly,
// bypassing the normal commit path. Deprecated.
func (w CompatSnapshotWriter) SetCommittedClusterKey(key ClusterKey) {
	w.e.mu.Lock()
	defer w.e.mu.Unlock()
	w.e.committed.ClusterKey = key
}

// SetCommittedSuccession overwrites the committed succession list (and
// derived size/principal) directly, bypassing the normal commit path.
// Deprecated.
func (w CompatSnapshotWriter) SetCommittedSuccession(succession SuccessionList) {
	w.e.mu.Lock()
	defer w.e.mu.Unlock()
	w.e.committed.Succession = succession.Clone()
	w.e.committed.Size = len(succession)
	if p, ok := succession.Principal(); ok {
		w.e.committed.Principal = p
	}
}
