package actor

import "github.com/orizon-lang/orizon-actors/mailbox"

// Handler is a named user-message handler; the actor's current behavior
// dispatches incoming messages to one of these (spec.md §4.6: "Behavior
// dispatch via a name→handler map replaces runtime method polymorphism").
type Handler func(ctx *Context, msg mailbox.Message) error

// Behaviors maps behavior name to handler. A fresh (or restarted) Actor's
// initial behavior is the entry under DefaultBehavior ("default"), so the
// map should include that key; call ctx.Become to switch.
type Behaviors map[string]Handler

// Actor is implemented by application code. Behaviors() is called once at
// construction (and again after a Restart reconstructs the instance);
// lifecycle hooks are optional — embed BaseActor to get no-op defaults.
type Actor interface {
	Behaviors() Behaviors
	PreStart(ctx *Context) error
	PreRestart(ctx *Context, reason error) error
	PostRestart(ctx *Context, reason error) error
	PostStop(ctx *Context) error
}

// BaseActor supplies no-op lifecycle hooks so concrete actors only need to
// implement Behaviors() and whichever hooks they actually care about.
type BaseActor struct{}

func (BaseActor) PreStart(*Context) error                  { return nil }
func (BaseActor) PreRestart(*Context, error) error          { return nil }
func (BaseActor) PostRestart(*Context, error) error         { return nil }
func (BaseActor) PostStop(*Context) error                   { return nil }

// DefaultBehavior is the conventional key for an actor's initial/only
// behavior when it doesn't use Become.
const DefaultBehavior = "default"
