package exchange

import "context"

// Transport is the fabric messaging collaborator: reliable per-peer send
// and message delivery. Framing and retries beyond the exchange's own
// retransmission belong to the concrete implementation, not the core.
type Transport interface {
	// Send delivers msg to the named peer. The implementation should be
	// non-blocking or bounded-latency; the exchange calls Send while
	// holding its lock and assumes it returns promptly.
	Send(ctx context.Context, to NodeID, msg Message) error

	// Register installs the handler invoked for every inbound message,
	// with the sender's node id supplied out of band by the transport.
	Register(handler func(from NodeID, msg Message)) error
}

// ClusteringEventKind distinguishes the two events the clustering layer
// can raise.
type ClusteringEventKind uint8

const (
	ClusterOrphaned ClusteringEventKind = iota
	ClusterChanged
)

// ClusteringEvent is raised by the external clustering/membership service.
type ClusteringEvent struct {
	Kind       ClusteringEventKind
	ClusterKey ClusterKey
	Succession SuccessionList
}

// ClusteringListener is the shape the clustering layer drives; Exchange
// satisfies it via its own OnClusterChange method, so callers can depend on
// this interface instead of the concrete type when wiring the clustering
// layer's callback.
type ClusteringListener interface {
	OnClusterChange(event ClusteringEvent)
}

// Heartbeat is consulted only for its transmit interval, used to size the
// exchange's own retransmission timeouts.
type Heartbeat interface {
	TxIntervalMillis() int64
}

// PartitionBalance is the partition-balance engine that consumes committed
// state to rebalance data, and that the commit engine notifies.
type PartitionBalance interface {
	DisallowMigrations()
	SynchronizeMigrations()
	Balance()
	RevertToOrphan()
}
