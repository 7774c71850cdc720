package exchange

import "fmt"

// ClusterKey is the opaque generation identifier of a membership, proposed
// by the external clustering layer. Zero denotes "no cluster".
type ClusterKey uint64

// NodeID is the opaque identifier of a cluster member.
type NodeID uint64

// PartitionID indexes a partition slot in [0, P).
type PartitionID uint16

// VinfoSize is the fixed width of a partition version record. The exchange
// treats vinfo as opaque bytes; its internal structure belongs to the
// partition subsystem.
const VinfoSize = 20

// Vinfo is a fixed-size opaque partition version tag. The zero value is
// the distinguished "null" vinfo.
type Vinfo [VinfoSize]byte

// NullVinfo is the distinguished empty partition version.
var NullVinfo Vinfo

// IsNull reports whether v is the distinguished null vinfo.
func (v Vinfo) IsNull() bool {
	return v == NullVinfo
}

func (v Vinfo) String() string {
	return fmt.Sprintf("%x", v[:])
}

// MaxSuccessionSize is a soft cap on succession list length. Algorithms must
// degrade gracefully past it, never crash.
const MaxSuccessionSize = 200

// SuccessionList is an ordered, unique membership; element 0 is the
// principal.
type SuccessionList []NodeID

// Principal returns the coordinator node (element 0) if the list is
// non-empty.
func (s SuccessionList) Principal() (NodeID, bool) {
	if len(s) == 0 {
		return 0, false
	}
	return s[0], true
}

// Contains reports whether id is present in the list.
func (s SuccessionList) Contains(id NodeID) bool {
	for _, n := range s {
		if n == id {
			return true
		}
	}
	return false
}

// Clone returns an independent copy of the list.
func (s SuccessionList) Clone() SuccessionList {
	if s == nil {
		return nil
	}
	out := make(SuccessionList, len(s))
	copy(out, s)
	return out
}

const (
	// MaxNamespaces bounds the number of namespaces a payload may report.
	MaxNamespaces = 32
	// MaxNamespaceNameLen is the fixed on-wire width of a namespace name,
	// including its terminating NUL.
	MaxNamespaceNameLen = 64
)

// Namespace owns P partition slots, each carrying a current vinfo, plus the
// post-commit succession and per-node cluster version table.
type Namespace struct {
	Name       string
	Partitions []Vinfo

	// Succession and ClusterVersions are populated only by the commit
	// engine; they are zeroed at the start of every commit.
	Succession      []NodeID
	ClusterVersions [][]Vinfo // [nodeIndex][pid]
	ClusterSize     int
}

// NewNamespace allocates a namespace with partitionCount empty (null-vinfo)
// partition slots.
func NewNamespace(name string, partitionCount int) *Namespace {
	return &Namespace{
		Name:       name,
		Partitions: make([]Vinfo, partitionCount),
	}
}

func (ns *Namespace) resetCommitted() {
	ns.Succession = ns.Succession[:0]
	ns.ClusterVersions = nil
	ns.ClusterSize = 0
}

func (ns *Namespace) growClusterVersions(size, partitionCount int) {
	for len(ns.ClusterVersions) < size {
		ns.ClusterVersions = append(ns.ClusterVersions, make([]Vinfo, partitionCount))
	}
}

// CommittedSnapshot is the last successfully committed membership, the only
// round state visible to public accessors (invariant 4).
type CommittedSnapshot struct {
	ClusterKey ClusterKey
	Size       int
	Succession SuccessionList
	Principal  NodeID
}
