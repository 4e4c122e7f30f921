package actor

import (
	"time"

	"github.com/orizon-lang/orizon-actors/mailbox"
	"github.com/orizon-lang/orizon-actors/supervisor"
)

// Props describes how to spawn an actor. Per spec.md §9's Open Question,
// this module picks the single newer shape (actorClass/args-style
// construction via a Factory, plus explicit dispatcher/mailbox/supervisor/
// address/name overrides) and does not also support the legacy
// spawn(class, {args}, name) form the teacher's source shows.
type Props struct {
	// Factory constructs a fresh Actor instance; called once at spawn and
	// again on every Restart (spec.md §4.6: "reconstruct actor state").
	Factory func() Actor

	Name    string // must be unique per parent if set; stable id generated otherwise
	Address string

	Tier              string // dispatcher tier tag; "" = Default
	MailboxConfig     mailbox.Config
	SupervisorStrategy *supervisor.Strategy

	// MinRuntimeVersion is checked against system.RuntimeVersion when the
	// actor is spawned (SPEC_FULL.md §C): a semver.Constraint string such
	// as ">=1.0.0". Empty means unconstrained.
	MinRuntimeVersion string
}

// SystemFacade is the subset of system.System an actor's Context needs.
// Defined here (rather than importing package system) to keep the
// dependency direction system -> actor one-way: system.System implements
// this interface and is injected into every Context at spawn time.
type SystemFacade interface {
	SpawnChild(parent PID, props Props) (PID, error)
	StopActor(pid PID) error
	Send(target PID, msg mailbox.Message) error
	Request(target PID, msg mailbox.Message, timeout time.Duration) (mailbox.Message, error)
	Respond(responseID string, msg mailbox.Message, err error)
	HandleActorError(pid PID, err error)
	Watch(watcher, target PID)
	Unwatch(watcher, target PID)
}
