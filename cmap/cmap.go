// Package cmap implements the segmented concurrent map specified for the
// actor runtime's concurrent primitives (SPEC_FULL.md §4.2): operations
// hash a key once, the top bits pick one of S independent segments, the
// remaining bits index a per-segment bucket array with separate chaining.
// Segments resize independently under load-factor pressure, so contention
// and rehash cost both scale with S rather than with total map size. The
// per-bucket linked-list/CAS technique is the same one the teacher's
// concurrency.LockFreeMap uses, generalized here to add per-segment resize
// and stats the teacher's fixed-bucket map never needed.
package cmap

import (
	"fmt"
	"hash/fnv"
	"sync"
	"sync/atomic"
)

// State mirrors the ring queue's lifecycle so callers can drain a map
// before discarding it (e.g. a registry being torn down).
type State int32

const (
	Open State = iota
	Closing
	Closed
)

type node[K comparable, V any] struct {
	key  K
	hash uint64
	val  atomic.Pointer[V]
	next atomic.Pointer[node[K, V]]
}

type bucketArray[K comparable, V any] struct {
	mask  uint64
	heads []atomic.Pointer[node[K, V]]
}

func newBucketArray[K comparable, V any](n uint64) *bucketArray[K, V] {
	n = nextPow2(n)
	return &bucketArray[K, V]{mask: n - 1, heads: make([]atomic.Pointer[node[K, V]], n)}
}

func nextPow2(n uint64) uint64 {
	if n < 2 {
		return 2
	}
	p := uint64(1)
	for p < n {
		p <<= 1
	}
	return p
}

type segment[K comparable, V any] struct {
	resizeMu sync.Mutex
	arr      atomic.Pointer[bucketArray[K, V]]
	size     atomic.Int64
	resizes  atomic.Uint64
}

const loadFactor = 0.75

// Map is a hash map with unique keys, segmented for concurrent access.
type Map[K comparable, V any] struct {
	segments []*segment[K, V]
	segBits  uint
	segMask  uint64
	hash     func(K) uint64
	equal    func(a, b K) bool
	state    atomic.Int32

	hits   atomic.Uint64
	misses atomic.Uint64
}

// Config configures a new Map.
type Config[K comparable, V any] struct {
	Segments         uint64          // rounded up to a power of two, default 16
	InitialBucketCap uint64          // per-segment initial bucket array size, default 8
	Hash             func(K) uint64  // required
	Equal            func(a, b K) bool // optional, defaults to ==
}

// New creates a segmented concurrent map with an explicit hash function,
// matching the spec's "default hash: identity for numbers, FNV-like mixing
// for strings, stringified fallback otherwise" via the constructors below.
func New[K comparable, V any](cfg Config[K, V]) *Map[K, V] {
	if cfg.Segments == 0 {
		cfg.Segments = 16
	}
	if cfg.InitialBucketCap == 0 {
		cfg.InitialBucketCap = 8
	}
	segCount := nextPow2(cfg.Segments)
	bits := uint(0)
	for (uint64(1) << bits) < segCount {
		bits++
	}
	m := &Map[K, V]{
		segments: make([]*segment[K, V], segCount),
		segBits:  bits,
		segMask:  segCount - 1,
		hash:     cfg.Hash,
		equal:    cfg.Equal,
	}
	if m.equal == nil {
		m.equal = func(a, b K) bool { return a == b }
	}
	for i := range m.segments {
		s := &segment[K, V]{}
		s.arr.Store(newBucketArray[K, V](cfg.InitialBucketCap))
		m.segments[i] = s
	}
	return m
}

// NewString builds a map keyed by string using FNV-1a, as the teacher's
// NewStringLockFreeMap does.
func NewString[V any](segments uint64) *Map[string, V] {
	return New[string, V](Config[string, V]{Segments: segments, Hash: func(k string) uint64 {
		h := fnv.New64a()
		_, _ = h.Write([]byte(k))
		return h.Sum64()
	}})
}

// NewUint64 builds a map keyed by uint64, using identity as the hash per
// the spec's "identity for numbers" default.
func NewUint64[V any](segments uint64) *Map[uint64, V] {
	return New[uint64, V](Config[uint64, V]{Segments: segments, Hash: func(k uint64) uint64 { return k }})
}

// NewAny builds a map for an arbitrary comparable key type by stringifying
// and hashing with FNV-1a, the spec's fallback for keys with no identity or
// string form.
func NewAny[K comparable, V any](segments uint64) *Map[K, V] {
	return New[K, V](Config[K, V]{Segments: segments, Hash: func(k K) uint64 {
		h := fnv.New64a()
		_, _ = h.Write([]byte(fmt.Sprintf("%v", k)))
		return h.Sum64()
	}})
}

func (m *Map[K, V]) segmentFor(h uint64) *segment[K, V] {
	idx := h >> (64 - m.segBits)
	if m.segBits == 0 {
		idx = 0
	}
	return m.segments[idx&m.segMask]
}

// Get returns the value for key, if present.
func (m *Map[K, V]) Get(key K) (V, bool) {
	var zero V
	h := m.hash(key)
	s := m.segmentFor(h)
	a := s.arr.Load()
	idx := h & a.mask
	for n := a.heads[idx].Load(); n != nil; n = n.next.Load() {
		if m.equal(n.key, key) {
			vp := n.val.Load()
			if vp == nil {
				m.misses.Add(1)
				return zero, false
			}
			m.hits.Add(1)
			return *vp, true
		}
	}
	m.misses.Add(1)
	return zero, false
}

// Has reports key membership; has(k) ⇔ get(k) != ⊥.
func (m *Map[K, V]) Has(key K) bool {
	_, ok := m.Get(key)
	return ok
}

// Set stores value for key. Returns true if this inserted a new key, false
// if it updated an existing one.
func (m *Map[K, V]) Set(key K, value V) bool {
	if State(m.state.Load()) != Open {
		return false
	}
	h := m.hash(key)
	s := m.segmentFor(h)
	for {
		a := s.arr.Load()
		idx := h & a.mask
		for n := a.heads[idx].Load(); n != nil; n = n.next.Load() {
			if m.equal(n.key, key) {
				n.val.Store(&value)
				return false
			}
		}
		nn := &node[K, V]{key: key, hash: h}
		nn.val.Store(&value)
		old := a.heads[idx].Load()
		nn.next.Store(old)
		if a.heads[idx].CompareAndSwap(old, nn) {
			s.size.Add(1)
			if s.needsResize() {
				s.doResize()
			}
			return true
		}
	}
}

func (s *segment[K, V]) needsResize() bool {
	a := s.arr.Load()
	return float64(s.size.Load()) > loadFactor*float64(len(a.heads))
}

func (s *segment[K, V]) doResize() {
	s.resizeMu.Lock()
	defer s.resizeMu.Unlock()
	old := s.arr.Load()
	if !s.needsResize() {
		return
	}
	nw := newBucketArray[K, V](uint64(len(old.heads)) * 2)
	for i := range old.heads {
		for n := old.heads[i].Load(); n != nil; n = n.next.Load() {
			vp := n.val.Load()
			if vp == nil {
				continue
			}
			nn := &node[K, V]{key: n.key, hash: n.hash}
			nn.val.Store(vp)
			idx := n.hash & nw.mask
			head := nw.heads[idx].Load()
			nn.next.Store(head)
			nw.heads[idx].Store(nn)
		}
	}
	s.arr.Store(nw)
	s.resizes.Add(1)
}

// Delete removes key if present, returning whether it existed.
func (m *Map[K, V]) Delete(key K) bool {
	h := m.hash(key)
	s := m.segmentFor(h)
	a := s.arr.Load()
	idx := h & a.mask
	head := &a.heads[idx]
	for {
		prev := head
		n := prev.Load()
		for n != nil {
			next := n.next.Load()
			if m.equal(n.key, key) {
				n.val.Store(nil)
				if prev.CompareAndSwap(n, next) {
					s.size.Add(-1)
				}
				return true
			}
			prev = &n.next
			n = next
		}
		return false
	}
}

// Clear removes all entries across every segment.
func (m *Map[K, V]) Clear() {
	for _, s := range m.segments {
		s.resizeMu.Lock()
		fresh := newBucketArray[K, V](8)
		s.arr.Store(fresh)
		s.size.Store(0)
		s.resizeMu.Unlock()
	}
}

// Entries returns a snapshot of all key-value pairs. Insertion order is not
// preserved, matching the spec's "insertion order irrelevant".
func (m *Map[K, V]) Entries() map[K]V {
	out := make(map[K]V)
	m.Range(func(k K, v V) bool {
		out[k] = v
		return true
	})
	return out
}

// Range iterates key-value pairs; stops early if fn returns false.
func (m *Map[K, V]) Range(fn func(K, V) bool) {
	for _, s := range m.segments {
		a := s.arr.Load()
		for i := range a.heads {
			for n := a.heads[i].Load(); n != nil; n = n.next.Load() {
				vp := n.val.Load()
				if vp == nil {
					continue
				}
				if !fn(n.key, *vp) {
					return
				}
			}
		}
	}
}

// Close transitions Open -> Closing, matching the ring queue's lifecycle;
// Closing rejects further Set calls while Get/Range/Delete keep working so
// a registry can be drained before final teardown via Clear.
func (m *Map[K, V]) Close() { m.state.CompareAndSwap(int32(Open), int32(Closing)) }

// State reports the map's lifecycle state.
func (m *Map[K, V]) State() State { return State(m.state.Load()) }

// Size returns the total number of entries across all segments.
func (m *Map[K, V]) Size() int64 {
	var total int64
	for _, s := range m.segments {
		total += s.size.Load()
	}
	return total
}

// SegmentFill returns the entry count of each segment, for introspection.
func (m *Map[K, V]) SegmentFill() []int64 {
	out := make([]int64, len(m.segments))
	for i, s := range m.segments {
		out[i] = s.size.Load()
	}
	return out
}

// Stats is a point-in-time snapshot for observability.
type Stats struct {
	Size        int64
	HitRate     float64
	Resizes     uint64
	SegmentFill []int64
}

// Snapshot reports size, hit rate, resize count, and per-segment fill.
func (m *Map[K, V]) Snapshot() Stats {
	hits, misses := m.hits.Load(), m.misses.Load()
	total := hits + misses
	rate := 0.0
	if total > 0 {
		rate = float64(hits) / float64(total)
	}
	var resizes uint64
	for _, s := range m.segments {
		resizes += s.resizes.Load()
	}
	return Stats{
		Size:        m.Size(),
		HitRate:     rate,
		Resizes:     resizes,
		SegmentFill: m.SegmentFill(),
	}
}
