package exchange

import (
	"bytes"
	"encoding/binary"
	"errors"

	"github.com/cespare/xxhash/v2"
)

// Wire layout (all integers little-endian fixed-width, packed, no padding):
//
//	namespaces_payload := u32 num_namespaces, namespace_payload × num_namespaces
//	namespace_payload  := char[N] name (NUL-terminated), u32 num_vinfos, vinfo_payload × num_vinfos
//	vinfo_payload      := vinfo_bytes, u32 num_pids, u16 pid × num_pids

var (
	ErrTruncated         = errors.New("exchange: payload truncated")
	ErrTooManyNamespaces = errors.New("exchange: too many namespaces")
	ErrBadNamespaceName  = errors.New("exchange: namespace name not NUL-terminated")
	ErrTooManyVinfos     = errors.New("exchange: too many vinfos in namespace")
	ErrBadPid            = errors.New("exchange: partition id out of range")
	ErrTrailingBytes     = errors.New("exchange: trailing bytes after payload")
)

// DecodedVinfoGroup is one (vinfo, partitions) group read from a payload.
type DecodedVinfoGroup struct {
	Vinfo Vinfo
	Pids  []PartitionID
}

// DecodedNamespace is one namespace_payload read from a payload.
type DecodedNamespace struct {
	Name   string
	Groups []DecodedVinfoGroup
}

type vinfoGroup struct {
	vinfo Vinfo
	pids  []PartitionID
}

// groupByVinfo scans partitions and groups pids by their current vinfo,
// skipping null-vinfo slots. It uses an xxhash-keyed transient index to
// avoid an O(n^2) scan while still comparing full vinfo bytes on the rare
// hash collision.
func groupByVinfo(partitions []Vinfo) []vinfoGroup {
	index := make(map[uint64][]int)
	var groups []vinfoGroup
	for pid, v := range partitions {
		if v.IsNull() {
			continue
		}
		h := xxhash.Sum64(v[:])
		found := -1
		for _, i := range index[h] {
			if groups[i].vinfo == v {
				found = i
				break
			}
		}
		if found >= 0 {
			groups[found].pids = append(groups[found].pids, PartitionID(pid))
			continue
		}
		groups = append(groups, vinfoGroup{vinfo: v, pids: []PartitionID{PartitionID(pid)}})
		index[h] = append(index[h], len(groups)-1)
	}
	return groups
}

type wireWriter struct {
	buf bytes.Buffer
}

func (w *wireWriter) u32(v uint32) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	w.buf.Write(b[:])
}

func (w *wireWriter) u16(v uint16) {
	var b [2]byte
	binary.LittleEndian.PutUint16(b[:], v)
	w.buf.Write(b[:])
}

func (w *wireWriter) name(n string) error {
	if len(n) >= MaxNamespaceNameLen {
		return ErrBadNamespaceName
	}
	b := make([]byte, MaxNamespaceNameLen)
	copy(b, n)
	w.buf.Write(b)
	return nil
}

// EncodeNamespaces builds the namespaces_payload for the given, locally
// configured namespaces, in their given order. Within a namespace, vinfo
// group order is unspecified.
func EncodeNamespaces(namespaces []*Namespace) ([]byte, error) {
	w := &wireWriter{}
	w.u32(uint32(len(namespaces)))
	for _, ns := range namespaces {
		if err := w.name(ns.Name); err != nil {
			return nil, err
		}
		groups := groupByVinfo(ns.Partitions)
		w.u32(uint32(len(groups)))
		for _, g := range groups {
			w.buf.Write(g.vinfo[:])
			w.u32(uint32(len(g.pids)))
			for _, pid := range g.pids {
				w.u16(uint16(pid))
			}
		}
	}
	return w.buf.Bytes(), nil
}

type wireReader struct {
	data []byte
	pos  int
}

func (r *wireReader) u32() (uint32, error) {
	if len(r.data)-r.pos < 4 {
		return 0, ErrTruncated
	}
	v := binary.LittleEndian.Uint32(r.data[r.pos:])
	r.pos += 4
	return v, nil
}

func (r *wireReader) u16() (uint16, error) {
	if len(r.data)-r.pos < 2 {
		return 0, ErrTruncated
	}
	v := binary.LittleEndian.Uint16(r.data[r.pos:])
	r.pos += 2
	return v, nil
}

func (r *wireReader) bytes(n int) ([]byte, error) {
	if len(r.data)-r.pos < n {
		return nil, ErrTruncated
	}
	b := r.data[r.pos : r.pos+n]
	r.pos += n
	return b, nil
}

func (r *wireReader) vinfo() (Vinfo, error) {
	var v Vinfo
	b, err := r.bytes(VinfoSize)
	if err != nil {
		return v, err
	}
	copy(v[:], b)
	return v, nil
}

func (r *wireReader) name() (string, error) {
	b, err := r.bytes(MaxNamespaceNameLen)
	if err != nil {
		return "", err
	}
	idx := bytes.IndexByte(b, 0)
	if idx < 0 {
		return "", ErrBadNamespaceName
	}
	return string(b[:idx]), nil
}

func (r *wireReader) remaining() int {
	return len(r.data) - r.pos
}

// Decode parses a namespaces_payload, validating every bound named in the
// component design: num_namespaces ≤ MaxNamespaces, each namespace name
// NUL-terminated within its fixed field, num_vinfos ≤ maxPartitions, every
// num_pids ≤ maxPartitions, every pid < maxPartitions, and the payload
// consumed exactly with no trailing bytes.
//
// A fully empty buffer is accepted and decodes to zero namespaces; this
// leniency is a deliberate, preserved policy (see SPEC_FULL.md §9).
func Decode(data []byte, maxPartitions int) ([]DecodedNamespace, error) {
	if len(data) == 0 {
		return nil, nil
	}
	r := &wireReader{data: data}
	numNS, err := r.u32()
	if err != nil {
		return nil, err
	}
	if numNS > MaxNamespaces {
		return nil, ErrTooManyNamespaces
	}
	out := make([]DecodedNamespace, 0, numNS)
	for i := uint32(0); i < numNS; i++ {
		name, err := r.name()
		if err != nil {
			return nil, err
		}
		numVinfos, err := r.u32()
		if err != nil {
			return nil, err
		}
		if int(numVinfos) > maxPartitions {
			return nil, ErrTooManyVinfos
		}
		groups := make([]DecodedVinfoGroup, 0, numVinfos)
		for j := uint32(0); j < numVinfos; j++ {
			v, err := r.vinfo()
			if err != nil {
				return nil, err
			}
			numPids, err := r.u32()
			if err != nil {
				return nil, err
			}
			if int(numPids) > maxPartitions {
				return nil, ErrBadPid
			}
			pids := make([]PartitionID, 0, numPids)
			for k := uint32(0); k < numPids; k++ {
				pid, err := r.u16()
				if err != nil {
					return nil, err
				}
				if int(pid) >= maxPartitions {
					return nil, ErrBadPid
				}
				pids = append(pids, PartitionID(pid))
			}
			groups = append(groups, DecodedVinfoGroup{Vinfo: v, Pids: pids})
		}
		out = append(out, DecodedNamespace{Name: name, Groups: groups})
	}
	if r.remaining() != 0 {
		return nil, ErrTrailingBytes
	}
	return out, nil
}

// Validate reports whether data is a well-formed namespaces_payload,
// without returning the decoded contents.
func Validate(data []byte, maxPartitions int) error {
	_, err := Decode(data, maxPartitions)
	return err
}
