// Package exchangetest provides deterministic in-process fakes for the
// exchange's external collaborators (transport, partition-balance,
// heartbeat, logger), mirroring the teacher's test/testing.go fixture
// style, so the protocol's message flow can be driven end to end without a
// real fabric transport or clustering layer.
package exchangetest

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/nodeglass/exchange/internal/exchange"
)

// DropFunc decides whether a message from "from" to "to" should be dropped
// in flight, simulating transport loss for scenario tests.
type DropFunc func(from, to exchange.NodeID, msg exchange.Message) bool

// SentMessage records one send attempt, for test assertions on
// retransmission counts.
type SentMessage struct {
	From exchange.NodeID
	To   exchange.NodeID
	Type exchange.MessageType
}

// Network is a deterministic in-process fake of the fabric transport,
// wiring every node's Transport together so scenario tests can exercise the
// exchange's real message flow.
type Network struct {
	mu       sync.Mutex
	handlers map[exchange.NodeID]func(from exchange.NodeID, msg exchange.Message)
	drop     DropFunc
	sent     []SentMessage
}

// NewNetwork creates an empty network with no nodes registered yet.
func NewNetwork() *Network {
	return &Network{handlers: make(map[exchange.NodeID]func(from exchange.NodeID, msg exchange.Message))}
}

// SetDropRule installs a predicate deciding which sends to drop in flight.
// Pass nil to clear it.
func (n *Network) SetDropRule(f DropFunc) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.drop = f
}

// Count returns how many send attempts of type t were made from "from" to
// "to", regardless of whether they were dropped.
func (n *Network) Count(from, to exchange.NodeID, t exchange.MessageType) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	c := 0
	for _, s := range n.sent {
		if s.From == from && s.To == to && s.Type == t {
			c++
		}
	}
	return c
}

// Transport returns a Transport bound to the given node id.
func (n *Network) Transport(id exchange.NodeID) exchange.Transport {
	return &networkTransport{net: n, self: id}
}

type networkTransport struct {
	net  *Network
	self exchange.NodeID
}

func (t *networkTransport) Register(handler func(from exchange.NodeID, msg exchange.Message)) error {
	t.net.mu.Lock()
	defer t.net.mu.Unlock()
	t.net.handlers[t.self] = handler
	return nil
}

func (t *networkTransport) Send(ctx context.Context, to exchange.NodeID, msg exchange.Message) error {
	t.net.mu.Lock()
	t.net.sent = append(t.net.sent, SentMessage{From: t.self, To: to, Type: msg.Type})
	drop := t.net.drop
	handler := t.net.handlers[to]
	t.net.mu.Unlock()

	if drop != nil && drop(t.self, to, msg) {
		return nil
	}
	if handler == nil {
		return nil
	}
	// Deliver asynchronously: the caller is holding the sending exchange's
	// lock, and the recipient's handler may reply to the sender, which would
	// need that same lock.
	go handler(t.self, msg)
	return nil
}

// FakeBalance counts partition-balance invocations instead of doing
// anything with them.
type FakeBalance struct {
	mu            sync.Mutex
	disallowCalls int
	syncCalls     int
	balanceCalls  int
	revertCalls   int
}

func (b *FakeBalance) DisallowMigrations() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.disallowCalls++
}

func (b *FakeBalance) SynchronizeMigrations() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.syncCalls++
}

func (b *FakeBalance) Balance() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.balanceCalls++
}

func (b *FakeBalance) RevertToOrphan() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.revertCalls++
}

// RevertCount returns how many times RevertToOrphan has been invoked.
func (b *FakeBalance) RevertCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.revertCalls
}

// BalanceCount returns how many times Balance has been invoked.
func (b *FakeBalance) BalanceCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.balanceCalls
}

// FakeHeartbeat reports a fixed transmit interval.
type FakeHeartbeat struct {
	IntervalMillis int64
}

func (h *FakeHeartbeat) TxIntervalMillis() int64 { return h.IntervalMillis }

// FakeLogger records Fatalf calls instead of exiting the process, so tests
// can assert on the listener-overflow fatal path without killing the test
// binary.
type FakeLogger struct {
	mu         sync.Mutex
	fatalCalls int
	warnCalls  int
	T          *testing.T
}

func (l *FakeLogger) Infof(format string, args ...interface{}) {
	if l.T != nil {
		l.T.Logf("INFO: "+format, args...)
	}
}
func (l *FakeLogger) Warnf(format string, args ...interface{}) {
	l.mu.Lock()
	l.warnCalls++
	l.mu.Unlock()
	if l.T != nil {
		l.T.Logf("WARN: "+format, args...)
	}
}

// WarnCount returns how many times Warnf has been invoked.
func (l *FakeLogger) WarnCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.warnCalls
}
func (l *FakeLogger) Errorf(format string, args ...interface{}) {
	if l.T != nil {
		l.T.Logf("ERROR: "+format, args...)
	}
}
func (l *FakeLogger) Debugf(format string, args ...interface{}) {
	if l.T != nil {
		l.T.Logf("DEBUG: "+format, args...)
	}
}
func (l *FakeLogger) Fatalf(format string, args ...interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.fatalCalls++
	if l.T != nil {
		l.T.Logf("FATAL (not exiting, test logger): "+format, args...)
	}
}

// FatalCount returns how many times Fatalf has been invoked.
func (l *FakeLogger) FatalCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.fatalCalls
}

// NewTestConfig builds a Config sized for fast, deterministic tests: a
// small partition count and a short timer tick.
func NewTestConfig(partitionCount int, namespaces ...string) exchange.Config {
	cfg := exchange.DefaultConfig()
	cfg.PartitionCount = partitionCount
	cfg.TickInterval = 10 * time.Millisecond
	cfg.QuantumIntervalMillis = 100
	for _, n := range namespaces {
		cfg.Namespaces = append(cfg.Namespaces, exchange.NamespaceConfig{Name: n})
	}
	return cfg
}

// NewNode constructs an Exchange wired to net under id, with its FakeBalance
// and FakeLogger collaborators returned for assertions.
func NewNode(t *testing.T, net *Network, id exchange.NodeID, cfg exchange.Config, heartbeatMillis int64) (*exchange.Exchange, *FakeBalance, *FakeLogger) {
	balance := &FakeBalance{}
	logger := &FakeLogger{T: t}
	ex, err := exchange.NewExchange(id, cfg, exchange.Dependencies{
		Transport: net.Transport(id),
		Balance:   balance,
		Heartbeat: &FakeHeartbeat{IntervalMillis: heartbeatMillis},
		Logger:    logger,
	})
	if err != nil {
		t.Fatalf("failed creating exchange node %d: %v", id, err)
	}
	return ex, balance, logger
}

// WaitThisOrTimeout runs cb in a goroutine and reports whether it finished
// within duration.
func WaitThisOrTimeout(cb func(), duration time.Duration) bool {
	done := make(chan struct{})
	go func() {
		cb()
		close(done)
	}()
	select {
	case <-done:
		return true
	case <-time.After(duration):
		return false
	}
}
