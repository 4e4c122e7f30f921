// Package router implements the routing strategies of SPEC_FULL.md §4.7:
// round-robin, random, broadcast, and consistent-hash, with concurrent-safe
// routee mutation over copy-on-write snapshots (spec.md §5: "Routees are
// copy-on-write snapshots"). Grounded on the teacher's
// internal/runtime/message_passing.go MessageChannel fan-out style for
// Broadcast, and on internal/runtime/actor_system.go's atomic-counter/
// RWMutex-guarded-struct idiom for the round-robin index and routee list.
package router

import (
	"errors"
	"hash/fnv"
	"math/rand"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/orizon-lang/orizon-actors/actor"
	"github.com/orizon-lang/orizon-actors/mailbox"
)

// Strategy selects how one inbound message maps to outbound sends.
type Strategy int

const (
	RoundRobin Strategy = iota
	Random
	Broadcast
	ConsistentHash
)

// ErrNoRoutees is returned when Route is called with zero routees.
var ErrNoRoutees = errors.New("router: no routees")

// SendFunc delivers msg to target; callers inject system.Send (or
// actor.SystemFacade.Send) here rather than router importing package
// system, keeping the dependency one-way.
type SendFunc func(target actor.PID, msg mailbox.Message) error

const virtualNodesPerRoutee = 100

type hashPoint struct {
	hash    uint64
	routee  actor.PID
}

// Router is a virtual actor mapping one inbound message to one or more
// outbound sends (spec.md §4.7).
type Router struct {
	strategy Strategy
	send     SendFunc

	routees atomic.Pointer[[]actor.PID]
	ring    atomic.Pointer[[]hashPoint]

	mu      sync.Mutex // serializes AddRoutee/RemoveRoutee rebuilds
	rrIndex atomic.Uint64
}

// New builds a Router over an initial routee set.
func New(strategy Strategy, send SendFunc, initial []actor.PID) *Router {
	r := &Router{strategy: strategy, send: send}
	cp := append([]actor.PID(nil), initial...)
	r.routees.Store(&cp)
	r.rebuildRing(cp)
	return r
}

func routeeHash(routee actor.PID, vnode int) uint64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(routee.String()))
	_, _ = h.Write([]byte{byte(vnode), byte(vnode >> 8)})
	return h.Sum64()
}

func (r *Router) rebuildRing(routees []actor.PID) {
	pts := make([]hashPoint, 0, len(routees)*virtualNodesPerRoutee)
	for _, routee := range routees {
		for v := 0; v < virtualNodesPerRoutee; v++ {
			pts = append(pts, hashPoint{hash: routeeHash(routee, v), routee: routee})
		}
	}
	sort.Slice(pts, func(i, j int) bool { return pts[i].hash < pts[j].hash })
	r.ring.Store(&pts)
}

// AddRoutee appends a routee, rebuilding the copy-on-write snapshot (and,
// for ConsistentHash, the virtual-node ring) under a short-held lock; any
// in-flight Route call keeps using the snapshot it already loaded.
func (r *Router) AddRoutee(pid actor.PID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur := *r.routees.Load()
	for _, p := range cur {
		if p == pid {
			return
		}
	}
	next := append(append([]actor.PID(nil), cur...), pid)
	r.routees.Store(&next)
	r.rebuildRing(next)
}

// RemoveRoutee drops a routee. Consistent-hash assignment for every other
// routee is unaffected, since removing one routee's virtual nodes from the
// ring does not move any other routee's nodes.
func (r *Router) RemoveRoutee(pid actor.PID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur := *r.routees.Load()
	next := make([]actor.PID, 0, len(cur))
	for _, p := range cur {
		if p != pid {
			next = append(next, p)
		}
	}
	r.routees.Store(&next)
	r.rebuildRing(next)
}

// Routees returns the current snapshot.
func (r *Router) Routees() []actor.PID {
	return append([]actor.PID(nil), *r.routees.Load()...)
}

// Route delivers msg according to the router's strategy. key is used only
// by ConsistentHash (typically msg.Type, a correlation id, or any stable
// key the caller derives from the message).
func (r *Router) Route(msg mailbox.Message, key string) error {
	switch r.strategy {
	case RoundRobin:
		routees := *r.routees.Load()
		if len(routees) == 0 {
			return ErrNoRoutees
		}
		idx := r.rrIndex.Add(1) - 1
		return r.send(routees[idx%uint64(len(routees))], msg)
	case Random:
		routees := *r.routees.Load()
		if len(routees) == 0 {
			return ErrNoRoutees
		}
		return r.send(routees[rand.Intn(len(routees))], msg)
	case Broadcast:
		routees := *r.routees.Load()
		if len(routees) == 0 {
			return ErrNoRoutees
		}
		var firstErr error
		for _, routee := range routees {
			if err := r.send(routee, msg); err != nil && firstErr == nil {
				firstErr = err
			}
		}
		return firstErr
	case ConsistentHash:
		ring := *r.ring.Load()
		if len(ring) == 0 {
			return ErrNoRoutees
		}
		h := fnv.New64a()
		_, _ = h.Write([]byte(key))
		keyHash := h.Sum64()
		i := sort.Search(len(ring), func(i int) bool { return ring[i].hash >= keyHash })
		if i == len(ring) {
			i = 0
		}
		return r.send(ring[i].routee, msg)
	default:
		return ErrNoRoutees
	}
}
