// Package ring implements the lock-free ring-buffer queue specified for the
// actor runtime's concurrent primitives (SPEC_FULL.md §4.1). The common
// enqueue/dequeue path is Dmitry Vyukov's bounded MPMC algorithm with
// per-slot sequence numbers; resize and the Open/Closing/Closed lifecycle
// are layered on top via an atomically-swapped core and a resize mutex that
// only producers/consumers touch during the (rare) doubling event.
package ring

import (
	"runtime"
	"sync"
	"sync/atomic"
)

// State is the lifecycle of a Queue.
type State int32

const (
	Open State = iota
	Closing
	Closed
)

func (s State) String() string {
	switch s {
	case Open:
		return "open"
	case Closing:
		return "closing"
	case Closed:
		return "closed"
	default:
		return "unknown"
	}
}

// OverflowFunc is invoked with the rejected value when an enqueue fails
// because the queue is full and cannot (or may not) resize.
type OverflowFunc[T any] func(item T)

type cell[T any] struct {
	seq  uint64
	_pad [56]byte
	val  T
}

// core is one fixed-capacity Vyukov ring. Queue swaps cores on resize.
type core[T any] struct {
	_pad0   [64]byte
	mask    uint64
	_pad1   [64]byte
	enqueue uint64
	_pad2   [64]byte
	dequeue uint64
	_pad3   [64]byte
	cells   []cell[T]
}

func newCore[T any](capacity uint64) *core[T] {
	capPow2 := uint64(1)
	for capPow2 < capacity {
		capPow2 <<= 1
	}
	c := &core[T]{mask: capPow2 - 1, cells: make([]cell[T], capPow2)}
	for i := range c.cells {
		c.cells[i].seq = uint64(i)
	}
	return c
}

func (c *core[T]) capacity() uint64 { return c.mask + 1 }

func (c *core[T]) tryEnqueue(v T) bool {
	for {
		pos := atomic.LoadUint64(&c.enqueue)
		cl := &c.cells[pos&c.mask]
		seq := atomic.LoadUint64(&cl.seq)
		dif := int64(seq) - int64(pos)
		switch {
		case dif == 0:
			if atomic.CompareAndSwapUint64(&c.enqueue, pos, pos+1) {
				cl.val = v
				atomic.StoreUint64(&cl.seq, pos+1)
				return true
			}
		case dif < 0:
			return false
		default:
			runtime.Gosched()
		}
	}
}

func (c *core[T]) tryDequeue() (T, bool) {
	var zero T
	for {
		pos := atomic.LoadUint64(&c.dequeue)
		cl := &c.cells[pos&c.mask]
		seq := atomic.LoadUint64(&cl.seq)
		dif := int64(seq) - int64(pos+1)
		switch {
		case dif == 0:
			if atomic.CompareAndSwapUint64(&c.dequeue, pos, pos+1) {
				v := cl.val
				cl.val = zero
				atomic.StoreUint64(&cl.seq, pos+c.mask+1)
				return v, true
			}
		case dif < 0:
			return zero, false
		default:
			runtime.Gosched()
		}
	}
}

func (c *core[T]) peek() (T, bool) {
	var zero T
	pos := atomic.LoadUint64(&c.dequeue)
	cl := &c.cells[pos&c.mask]
	seq := atomic.LoadUint64(&cl.seq)
	if int64(seq)-int64(pos+1) == 0 {
		return cl.val, true
	}
	return zero, false
}

// Queue is a bounded, optionally auto-resizing, closeable ring queue.
type Queue[T any] struct {
	resizeMu    sync.Mutex
	cur         atomic.Pointer[core[T]]
	count       atomic.Int64
	state       atomic.Int32
	autoResize  bool
	maxCapacity uint64
	overflow    OverflowFunc[T]

	enqueued  atomic.Uint64
	dequeued  atomic.Uint64
	rejected  atomic.Uint64
	resizes   atomic.Uint64
	peakDepth atomic.Int64
}

// Config controls auto-resize behavior and the overflow hook.
type Config[T any] struct {
	Capacity    uint64
	AutoResize  bool
	MaxCapacity uint64
	OnOverflow  OverflowFunc[T]
}

// New creates a ring queue with the given configuration.
func New[T any](cfg Config[T]) *Queue[T] {
	if cfg.Capacity < 2 {
		cfg.Capacity = 2
	}
	if cfg.MaxCapacity == 0 {
		cfg.MaxCapacity = cfg.Capacity
	}
	q := &Queue[T]{
		autoResize:  cfg.AutoResize,
		maxCapacity: cfg.MaxCapacity,
		overflow:    cfg.OnOverflow,
	}
	q.cur.Store(newCore[T](cfg.Capacity))
	return q
}

// Enqueue pushes an item. Returns false if rejected (closing/closed, or
// full with auto-resize disabled or already at maxCapacity).
func (q *Queue[T]) Enqueue(item T) bool {
	if State(q.state.Load()) != Open {
		q.reject(item)
		return false
	}
	c := q.cur.Load()
	if c.tryEnqueue(item) {
		q.afterEnqueue()
		return true
	}
	if !q.autoResize || c.capacity() >= q.maxCapacity {
		q.reject(item)
		return false
	}
	newC := q.growTo(c)
	if newC.tryEnqueue(item) {
		q.afterEnqueue()
		return true
	}
	// Extremely rare: grew but another burst filled it too; caller retries.
	q.reject(item)
	return false
}

func (q *Queue[T]) afterEnqueue() {
	q.enqueued.Add(1)
	n := q.count.Add(1)
	for {
		peak := q.peakDepth.Load()
		if n <= peak || q.peakDepth.CompareAndSwap(peak, n) {
			break
		}
	}
}

func (q *Queue[T]) reject(item T) {
	q.rejected.Add(1)
	if q.overflow != nil {
		q.overflow(item)
	}
}

// growTo doubles capacity (bounded by maxCapacity), preserving FIFO order by
// draining the old core into the new one under the resize mutex. Returns
// the core callers should retry against (the new one if this call performed
// the resize, or whatever is current if another goroutine won the race).
func (q *Queue[T]) growTo(observed *core[T]) *core[T] {
	q.resizeMu.Lock()
	defer q.resizeMu.Unlock()
	cur := q.cur.Load()
	if cur != observed {
		return cur // someone else already resized
	}
	newCap := cur.capacity() * 2
	if newCap > q.maxCapacity {
		newCap = q.maxCapacity
	}
	if newCap <= cur.capacity() {
		return cur
	}
	nc := newCore[T](newCap)
	for {
		v, ok := cur.tryDequeue()
		if !ok {
			break
		}
		if !nc.tryEnqueue(v) {
			// Should not happen: nc is strictly larger than cur's occupancy.
			break
		}
	}
	q.cur.Store(nc)
	q.resizes.Add(1)
	return nc
}

// Dequeue pops the oldest item. Transitions Closing -> Closed once the
// queue drains to empty.
func (q *Queue[T]) Dequeue() (T, bool) {
	c := q.cur.Load()
	v, ok := c.tryDequeue()
	if ok {
		q.dequeued.Add(1)
		if q.count.Add(-1) == 0 && State(q.state.Load()) == Closing {
			q.state.CompareAndSwap(int32(Closing), int32(Closed))
		}
		return v, true
	}
	if State(q.state.Load()) == Closing {
		q.state.CompareAndSwap(int32(Closing), int32(Closed))
	}
	var zero T
	return zero, false
}

// Peek returns the next item to be dequeued without removing it.
func (q *Queue[T]) Peek() (T, bool) {
	return q.cur.Load().peek()
}

// Size returns the (approximate, momentarily consistent) element count.
func (q *Queue[T]) Size() int { return int(q.count.Load()) }

// IsEmpty reports whether the queue currently holds no elements.
func (q *Queue[T]) IsEmpty() bool { return q.count.Load() == 0 }

// IsFull reports whether the current core is at capacity.
func (q *Queue[T]) IsFull() bool {
	c := q.cur.Load()
	return uint64(q.count.Load()) >= c.capacity()
}

// Close transitions Open -> Closing. Enqueues are rejected from then on;
// Dequeue continues to drain remaining items until empty, at which point
// the state becomes Closed.
func (q *Queue[T]) Close() {
	q.state.CompareAndSwap(int32(Open), int32(Closing))
}

// State reports the current lifecycle state.
func (q *Queue[T]) State() State { return State(q.state.Load()) }

// Stats is a point-in-time snapshot of queue counters.
type Stats struct {
	Enqueued  uint64
	Dequeued  uint64
	Rejected  uint64
	Resizes   uint64
	PeakDepth int64
	Size      int
	Capacity  uint64
	State     State
}

// Snapshot returns current counters for observability.
func (q *Queue[T]) Snapshot() Stats {
	return Stats{
		Enqueued:  q.enqueued.Load(),
		Dequeued:  q.dequeued.Load(),
		Rejected:  q.rejected.Load(),
		Resizes:   q.resizes.Load(),
		PeakDepth: q.peakDepth.Load(),
		Size:      q.Size(),
		Capacity:  q.cur.Load().capacity(),
		State:     q.State(),
	}
}
