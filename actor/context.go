package actor

import (
	"fmt"
	"sync"
	"time"

	"github.com/orizon-lang/orizon-actors/mailbox"
	"github.com/orizon-lang/orizon-actors/supervisor"
)

// State is the actor lifecycle per spec.md §3: Starting -> Running ->
// (Restarting | Stopping) -> Stopped.
type State int

const (
	Starting State = iota
	Running
	Restarting
	Stopping
	Stopped
)

func (s State) String() string {
	switch s {
	case Starting:
		return "starting"
	case Running:
		return "running"
	case Restarting:
		return "restarting"
	case Stopping:
		return "stopping"
	case Stopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Context is the actor's private interface to the system (spec.md §4.6)
// and, simultaneously, the mailbox.Invoker its own mailbox drains into —
// the teacher's actor_system.go folds the same two responsibilities into
// one Actor struct; this keeps that shape but as a standalone type so the
// spec's "context" terminology has a direct Go type.
type Context struct {
	self     PID
	parent   *PID
	factory  func() Actor
	instance Actor

	mu       sync.Mutex
	children map[string]PID
	behaviors Behaviors
	current  string

	strategy *supervisor.Strategy
	mailbox  *mailbox.Mailbox
	sys      SystemFacade

	state State
}

// NewContext constructs a Context in the Starting state. Callers (the
// actor system) wire the mailbox separately via mailbox.RegisterHandlers
// once the Context is itself constructed, avoiding an initialization cycle.
func NewContext(self PID, parent *PID, factory func() Actor, strategy *supervisor.Strategy, mb *mailbox.Mailbox, sys SystemFacade) *Context {
	return &Context{
		self:     self,
		parent:   parent,
		factory:  factory,
		children: make(map[string]PID),
		strategy: strategy,
		mailbox:  mb,
		sys:      sys,
		state:    Starting,
	}
}

// Start runs preStart, installs the initial behavior set, and transitions
// to Running. Must be called before the mailbox is given any messages.
func (c *Context) Start() error {
	c.instance = c.factory()
	c.behaviors = c.instance.Behaviors()
	c.current = DefaultBehavior
	if err := c.instance.PreStart(c); err != nil {
		return fmt.Errorf("preStart: %w", err)
	}
	c.mu.Lock()
	c.state = Running
	c.mu.Unlock()
	return nil
}

// Self returns this actor's PID.
func (c *Context) Self() PID { return c.self }

// Parent returns the parent's PID, if any.
func (c *Context) Parent() (PID, bool) {
	if c.parent == nil {
		return PID{}, false
	}
	return *c.parent, true
}

// Children returns a snapshot of child PIDs.
func (c *Context) Children() []PID {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]PID, 0, len(c.children))
	for _, p := range c.children {
		out = append(out, p)
	}
	return out
}

func (c *Context) addChild(p PID) {
	c.mu.Lock()
	c.children[p.ID] = p
	c.mu.Unlock()
}

func (c *Context) removeChild(id string) {
	c.mu.Lock()
	delete(c.children, id)
	c.mu.Unlock()
}

// Become switches the current behavior by name.
func (c *Context) Become(name string) {
	c.mu.Lock()
	c.current = name
	c.mu.Unlock()
}

// CurrentBehavior reports the active behavior name.
func (c *Context) CurrentBehavior() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

// State reports the actor's lifecycle state.
func (c *Context) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Context) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

// Spawn creates a child actor under this one and tracks it in Children().
func (c *Context) Spawn(props Props) (PID, error) {
	child, err := c.sys.SpawnChild(c.self, props)
	if err != nil {
		return PID{}, err
	}
	c.addChild(child)
	return child, nil
}

// Stop stops a child (or any other actor reachable from this context).
func (c *Context) Stop(pid PID) error {
	if err := c.sys.StopActor(pid); err != nil {
		return err
	}
	c.removeChild(pid.ID)
	return nil
}

// Send delivers a fire-and-forget message to target.
func (c *Context) Send(target PID, msg mailbox.Message) error {
	if msg.Sender == nil {
		msg.Sender = c.self
	}
	return c.sys.Send(target, msg)
}

// Request sends msg and awaits a correlated response, or a timeout error.
func (c *Context) Request(target PID, msg mailbox.Message, timeout time.Duration) (mailbox.Message, error) {
	if msg.Sender == nil {
		msg.Sender = c.self
	}
	return c.sys.Request(target, msg, timeout)
}

// Respond resolves or rejects the pending request identified by the
// incoming message's ResponseID. No-op if the message carries none.
func (c *Context) Respond(incoming mailbox.Message, value any, err error) {
	if incoming.ResponseID == "" {
		return
	}
	c.sys.Respond(incoming.ResponseID, mailbox.Message{
		Type: incoming.Type + ".reply", Payload: value, Sender: c.self, ResponseID: incoming.ResponseID,
	}, err)
}

// Watch/Unwatch register this context as a death-watcher of target; the
// system notifies via a $system.failure-shaped message on termination
// (death-watch is layered on the same escalation channel rather than a
// separate mechanism, matching spec.md §9's "weak back-reference" note).
func (c *Context) Watch(target PID)   { c.sys.Watch(c.self, target) }
func (c *Context) Unwatch(target PID) { c.sys.Unwatch(c.self, target) }

// InvokeSystemMessage handles $system.restart / $system.stop /
// $system.failure, satisfying mailbox.Invoker. A non-nil return here is
// what makes the calling mailbox suspend itself (mailbox.go's drainBatch);
// escalating it to the supervisor is handled by the mailbox's
// onSystemFailure hook *after* that suspension is recorded, not inline in
// this method — doing it here, before the mailbox flips to suspended,
// would let a Restart directive's Mailbox.Resume() race the mailbox's own
// suspend-on-error and get clobbered by it. See mailbox.New.
func (c *Context) InvokeSystemMessage(m mailbox.Message) error {
	switch m.Type {
	case SystemRestart:
		rp, _ := m.Payload.(RestartPayload)
		return c.doRestart(rp.Reason)
	case SystemStop:
		return c.doStop()
	case SystemFailure:
		fp, _ := m.Payload.(FailurePayload)
		c.sys.HandleActorError(fp.Child, fp.Err)
		return nil
	default:
		return fmt.Errorf("unknown system message type %q", m.Type)
	}
}

// InvokeUserMessage dispatches to the current behavior, satisfying
// mailbox.Invoker. Handler errors are reported to the system for
// supervision, per spec.md §4.6.
func (c *Context) InvokeUserMessage(m mailbox.Message) error {
	c.mu.Lock()
	h, ok := c.behaviors[c.current]
	c.mu.Unlock()
	if !ok {
		err := fmt.Errorf("no handler registered for behavior %q", c.current)
		c.sys.HandleActorError(c.self, err)
		return err
	}
	if err := h(c, m); err != nil {
		c.sys.HandleActorError(c.self, err)
		return err
	}
	return nil
}

func (c *Context) doRestart(reason error) error {
	c.setState(Restarting)
	if err := c.instance.PreRestart(c, reason); err != nil {
		return err
	}
	c.instance = c.factory()
	c.behaviors = c.instance.Behaviors()
	c.mu.Lock()
	c.current = DefaultBehavior
	c.mu.Unlock()
	if err := c.instance.PostRestart(c, reason); err != nil {
		return err
	}
	c.setState(Running)
	c.mailbox.Resume()
	return nil
}

func (c *Context) doStop() error {
	c.mu.Lock()
	already := c.state == Stopped
	if !already {
		c.state = Stopping
	}
	c.mu.Unlock()
	if already {
		return nil
	}
	err := c.instance.PostStop(c)
	c.setState(Stopped)
	return err
}

// Mailbox exposes the bound mailbox for the owning system to post into and
// to query metrics from.
func (c *Context) Mailbox() *mailbox.Mailbox { return c.mailbox }

// Strategy returns this actor's supervision strategy (nil if it defers to
// its parent's, as most non-supervisor actors do).
func (c *Context) Strategy() *supervisor.Strategy { return c.strategy }
