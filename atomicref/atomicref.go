// Package atomicref implements the atomic reference with a CAS-loop
// updater specified at SPEC_FULL.md §4.3. The teacher's
// internal/runtime/concurrency/cas.go is a set of thin sync/atomic wrapper
// functions over fixed integer widths; this generalizes that into a single
// generic cell usable for any value type, backed by atomic.Pointer so the
// zero-value case and arbitrary struct/interface values all work.
package atomicref

import "sync/atomic"

// Ref is an opaque cell holding exactly one value of type T.
type Ref[T any] struct {
	p atomic.Pointer[T]
}

// New creates a Ref initialized to v.
func New[T any](v T) *Ref[T] {
	r := &Ref[T]{}
	r.p.Store(&v)
	return r
}

// Get returns the current value.
func (r *Ref[T]) Get() T {
	return *r.p.Load()
}

// Set unconditionally replaces the current value.
func (r *Ref[T]) Set(v T) {
	r.p.Store(&v)
}

// GetAndSet replaces the current value and returns the previous one.
func (r *Ref[T]) GetAndSet(v T) T {
	old := r.p.Swap(&v)
	return *old
}

// compareAndSet is spec.md §4.3's compareAndSet(expect,update) -> bool,
// kept unexported: the spec's contract is value-based ("replaces iff the
// current value equals expect"), but T here is only `any`, not
// `comparable`, so there is no general value-equality test to compare
// against. Exposing an identity-based CompareAndSet (pointer equality to a
// *T the caller never legitimately holds) would silently diverge from the
// spec's value semantics while looking like it satisfies them. The
// spec-correct operation is available instead as the CAS-loop built on top
// of this: UpdateAndGet/GetAndUpdate call Get, compute the next value, and
// retry this pointer-level swap until it wins — giving callers
// compareAndSet's semantics without requiring T to be comparable.
func (r *Ref[T]) compareAndSet(expect, update *T) bool {
	return r.p.CompareAndSwap(expect, update)
}

// UpdateAndGet atomically applies f to the current value and returns the
// new value, retrying under contention: loop { current = get(); next =
// f(current); if compareAndSet(current, next) break }.
func (r *Ref[T]) UpdateAndGet(f func(T) T) T {
	for {
		oldPtr := r.p.Load()
		next := f(*oldPtr)
		if r.compareAndSet(oldPtr, &next) {
			return next
		}
	}
}

// GetAndUpdate is UpdateAndGet but returns the value observed before the
// update was applied.
func (r *Ref[T]) GetAndUpdate(f func(T) T) T {
	for {
		oldPtr := r.p.Load()
		old := *oldPtr
		next := f(old)
		if r.compareAndSet(oldPtr, &next) {
			return old
		}
	}
}
