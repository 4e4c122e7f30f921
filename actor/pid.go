// Package actor implements the actor, context, and behavior-dispatch layer
// of SPEC_FULL.md §4.6, grounded on the teacher's internal/runtime/actor.go
// (ActorRef/Spawn/Tell facade) and internal/runtime/actor_system.go's Actor
// type (parent/children/behaviors/supervisor/mailbox fields), generalized
// from the teacher's class-based actor model onto the spec's
// name-to-handler Behaviors map and a standalone Context type.
package actor

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
)

// PID uniquely names one actor within one system; stable across its
// lifetime; opaque to holders (spec.md §3).
type PID struct {
	ID      string
	Address string
}

func (p PID) String() string {
	if p.Address == "" {
		return p.ID
	}
	return fmt.Sprintf("%s@%s", p.ID, p.Address)
}

// IsZero reports whether p is the zero PID (no actor).
func (p PID) IsZero() bool { return p.ID == "" }

// NewID generates a fresh opaque actor id, grounded on the teacher's
// internal/runtime/correlation.go NewCorrelationID (crypto/rand + hex).
func NewID() string {
	var b [16]byte
	if _, err := rand.Read(b[:]); err != nil {
		// crypto/rand failures are effectively unreachable on supported
		// platforms; fall back to a fixed-width placeholder rather than
		// panic, so id generation never blocks actor creation.
		return "id-unavailable"
	}
	return hex.EncodeToString(b[:])
}
