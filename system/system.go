// Package system implements the actor system of SPEC_FULL.md §4.6/§4.7: a
// registry of live actors, spawn/stop/restart orchestration wiring
// actor.Context to a dispatcher.Scheduler and mailbox.Mailbox, request/
// response correlation with timeout reaping, a dead-letter sink, and
// death-watch notification. Grounded on the teacher's
// internal/runtime/actor_system.go ActorSystem (Spawn/Stop/Send/Request,
// registry map, handleFailure dispatch to a Supervisor) generalized onto
// the standalone actor/mailbox/dispatcher/supervisor packages instead of
// one monolithic file.
package system

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/orizon-lang/orizon-actors/actor"
	"github.com/orizon-lang/orizon-actors/cmap"
	"github.com/orizon-lang/orizon-actors/dispatcher"
	"github.com/orizon-lang/orizon-actors/mailbox"
	"github.com/orizon-lang/orizon-actors/ring"
	"github.com/orizon-lang/orizon-actors/supervisor"
	"go.uber.org/zap"
)

// ErrUnknownActor is returned by operations targeting a PID not (or no
// longer) present in the registry.
var ErrUnknownActor = errors.New("system: unknown actor")

// ErrRequestTimeout is the error a Request returns when no Respond arrives
// before the deadline.
var ErrRequestTimeout = errors.New("system: request timed out")

// ErrDuplicateName is returned when Spawn/SpawnChild is given a Props.Name
// already in use under the same parent.
var ErrDuplicateName = errors.New("system: duplicate actor name")

// Config configures the system, per SPEC_FULL.md §6.
type Config struct {
	Dispatcher           dispatcher.Config
	DefaultMailbox       mailbox.Config
	DefaultRequestTimeout time.Duration
	DeadLetterCapacity   uint64
	RegistrySegments     uint64
	Logger               *zap.Logger
}

// DefaultConfig mirrors the teacher's DefaultActorSystemConfig-style
// constructor.
func DefaultConfig() Config {
	return Config{
		Dispatcher:            dispatcher.DefaultConfig(),
		DefaultMailbox:        mailbox.DefaultConfig(),
		DefaultRequestTimeout: 5 * time.Second,
		DeadLetterCapacity:    4096,
		RegistrySegments:      16,
	}
}

type pendingRequest struct {
	result chan requestResult
	timer  *time.Timer
	once   sync.Once
}

type requestResult struct {
	msg mailbox.Message
	err error
}

func (p *pendingRequest) resolve(r requestResult) {
	p.once.Do(func() {
		p.result <- r
	})
}

// System is the actor runtime's top-level coordinator. It satisfies
// actor.SystemFacade, so every Context it spawns is handed a *System
// directly.
type System struct {
	cfg Config
	log *zap.Logger

	registry *cmap.Map[string, *actor.Context]
	names    *cmap.Map[string, struct{}]

	sched *dispatcher.Scheduler

	requests *cmap.Map[string, *pendingRequest]

	deadLetters *ring.Queue[mailbox.Message]

	watchMu  sync.Mutex
	watchers map[string]map[string]actor.PID // target id -> watcher id -> watcher PID

	closed atomic.Bool
}

// New constructs a System and starts its dispatcher.
func New(cfg Config) *System {
	if cfg.DefaultRequestTimeout <= 0 {
		cfg = DefaultConfig()
	}
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}
	s := &System{
		cfg:      cfg,
		log:      log,
		registry: cmap.New[string, *actor.Context](cmap.Config[string, *actor.Context]{Segments: cfg.RegistrySegments, Hash: fnvStringHash}),
		names:    cmap.New[string, struct{}](cmap.Config[string, struct{}]{Segments: cfg.RegistrySegments, Hash: fnvStringHash}),
		requests: cmap.New[string, *pendingRequest](cmap.Config[string, *pendingRequest]{Segments: 4, Hash: fnvStringHash}),
		sched:    dispatcher.New(cfg.Dispatcher),
		watchers: make(map[string]map[string]actor.PID),
	}
	s.deadLetters = ring.New[mailbox.Message](ring.Config[mailbox.Message]{
		Capacity: cfg.DeadLetterCapacity, AutoResize: false,
	})
	return s
}

func fnvStringHash(k string) uint64 {
	var h uint64 = 14695981039346656037
	for i := 0; i < len(k); i++ {
		h ^= uint64(k[i])
		h *= 1099511628211
	}
	return h
}

func tierFor(name string) dispatcher.Tier {
	switch name {
	case "cpu", "cpu_intensive":
		return dispatcher.CPUIntensive
	case "io", "io_intensive":
		return dispatcher.IOIntensive
	case "low_latency", "latency":
		return dispatcher.LowLatency
	case "batch":
		return dispatcher.Batch
	default:
		return dispatcher.Default
	}
}

type tierDispatcher struct {
	sched *dispatcher.Scheduler
	tier  dispatcher.Tier
}

func (t tierDispatcher) Schedule(task func()) {
	if !t.sched.ScheduleTiered(t.tier, task) {
		// Admission rejected: run inline rather than drop the batch silently.
		// This happens under sustained tier queue saturation, or once the
		// scheduler has been shut down and its tier queues are closed.
		task()
	}
}

// Spawn creates a root-level actor (no parent).
func (s *System) Spawn(props actor.Props) (actor.PID, error) {
	return s.spawn(nil, props)
}

// SpawnChild implements actor.SystemFacade.
func (s *System) SpawnChild(parent actor.PID, props actor.Props) (actor.PID, error) {
	p := parent
	return s.spawn(&p, props)
}

func (s *System) spawn(parent *actor.PID, props actor.Props) (actor.PID, error) {
	if props.Factory == nil {
		return actor.PID{}, fmt.Errorf("system: spawn requires Props.Factory")
	}
	if err := checkCapability(props.MinRuntimeVersion); err != nil {
		return actor.PID{}, err
	}
	id := props.Name
	if parent != nil && id != "" {
		id = parent.ID + "/" + id
	}
	if id == "" {
		id = actor.NewID()
	} else if _, exists := s.names.Get(id); exists {
		return actor.PID{}, fmt.Errorf("%w: %q", ErrDuplicateName, props.Name)
	}
	pid := actor.PID{ID: id, Address: props.Address}

	mbCfg := props.MailboxConfig
	if mbCfg.BatchSize <= 0 {
		mbCfg = s.cfg.DefaultMailbox
	}
	mb := mailbox.New(mbCfg, s.handleDeadLetter, func(err error, m mailbox.Message) {
		s.HandleActorError(pid, err)
	})

	strategy := props.SupervisorStrategy
	if strategy == nil {
		strategy = supervisor.DefaultOneForOne()
	}

	ctx := actor.NewContext(pid, parent, props.Factory, strategy, mb, s)
	mb.RegisterHandlers(ctx, tierDispatcher{sched: s.sched, tier: tierFor(props.Tier)})

	if err := ctx.Start(); err != nil {
		return actor.PID{}, fmt.Errorf("system: start %s: %w", pid, err)
	}

	s.registry.Set(id, ctx)
	s.names.Set(id, struct{}{})
	return pid, nil
}

func (s *System) handleDeadLetter(m mailbox.Message) {
	s.deadLetters.Enqueue(m)
}

// StopActor implements actor.SystemFacade: stops children first (depth
// first), posts a system stop message, and removes the actor from the
// registry. Idempotent — stopping an already-removed PID is a no-op.
func (s *System) StopActor(pid actor.PID) error {
	ctx, ok := s.registry.Get(pid.ID)
	if !ok {
		return nil
	}
	for _, child := range ctx.Children() {
		_ = s.StopActor(child)
	}
	ctx.Mailbox().PostSystemMessage(mailbox.Message{Type: actor.SystemStop})
	s.registry.Delete(pid.ID)
	s.names.Delete(pid.ID)
	s.notifyWatchers(pid)
	return nil
}

// Send implements actor.SystemFacade: a fire-and-forget delivery. Messages
// aimed at a PID with no registered actor are reported as dead letters
// rather than silently dropped (SPEC_FULL.md §D).
func (s *System) Send(target actor.PID, msg mailbox.Message) error {
	ctx, ok := s.registry.Get(target.ID)
	if !ok {
		s.handleDeadLetter(msg)
		return ErrUnknownActor
	}
	if !ctx.Mailbox().PostUserMessage(msg) {
		s.handleDeadLetter(msg)
	}
	return nil
}

// Request implements actor.SystemFacade: posts msg tagged with a fresh
// correlation id and blocks until Respond resolves it or timeout elapses.
// A zero timeout uses the system's DefaultRequestTimeout.
func (s *System) Request(target actor.PID, msg mailbox.Message, timeout time.Duration) (mailbox.Message, error) {
	if timeout <= 0 {
		timeout = s.cfg.DefaultRequestTimeout
	}
	id := actor.NewID()
	msg.ResponseID = id

	pr := &pendingRequest{result: make(chan requestResult, 1)}
	s.requests.Set(id, pr)

	pr.timer = time.AfterFunc(timeout, func() {
		if _, ok := s.requests.Get(id); ok {
			s.requests.Delete(id)
			pr.resolve(requestResult{err: ErrRequestTimeout})
		}
	})

	if err := s.Send(target, msg); err != nil {
		s.requests.Delete(id)
		pr.timer.Stop()
		return mailbox.Message{}, err
	}

	r := <-pr.result
	pr.timer.Stop()
	return r.msg, r.err
}

// Respond implements actor.SystemFacade: resolves the pending request
// identified by responseID, if one is still outstanding.
func (s *System) Respond(responseID string, msg mailbox.Message, err error) {
	if responseID == "" {
		return
	}
	if pr, ok := s.requests.Get(responseID); ok {
		s.requests.Delete(responseID)
		pr.resolve(requestResult{msg: msg, err: err})
	}
}

// HandleActorError implements actor.SystemFacade: consults the failing
// actor's supervision strategy and applies the resulting directive, per
// SPEC_FULL.md §4.6's supervision table.
func (s *System) HandleActorError(pid actor.PID, err error) {
	ctx, ok := s.registry.Get(pid.ID)
	if !ok {
		return
	}
	strategy := ctx.Strategy()
	if strategy == nil {
		strategy = supervisor.DefaultOneForOne()
	}

	targets := []actor.PID{pid}
	if strategy.Mode == supervisor.OneForAll {
		if parent, hasParent := ctx.Parent(); hasParent {
			if parentCtx, ok := s.registry.Get(parent.ID); ok {
				targets = parentCtx.Children()
			}
		}
	}

	directive := strategy.Evaluate(supervisor.Failure{ChildID: pid.ID, Reason: err})
	for _, t := range targets {
		s.applyDirective(t, directive, err)
	}
}

func (s *System) applyDirective(pid actor.PID, directive supervisor.Directive, reason error) {
	tctx, ok := s.registry.Get(pid.ID)
	if !ok {
		return
	}
	switch directive {
	case supervisor.Resume:
		tctx.Mailbox().Resume()
	case supervisor.Restart:
		tctx.Mailbox().Resume()
		tctx.Mailbox().PostSystemMessage(mailbox.Message{Type: actor.SystemRestart, Payload: actor.RestartPayload{Reason: reason}})
	case supervisor.Stop:
		_ = s.StopActor(pid)
	case supervisor.Escalate:
		if parent, hasParent := tctx.Parent(); hasParent {
			s.HandleActorError(parent, fmt.Errorf("escalated from %s: %w", pid, reason))
		} else {
			_ = s.StopActor(pid)
		}
	}
}

// Watch implements actor.SystemFacade: registers watcher to be notified
// (via a $system.failure-shaped message, spec.md §9) when target stops.
func (s *System) Watch(watcher, target actor.PID) {
	s.watchMu.Lock()
	defer s.watchMu.Unlock()
	set, ok := s.watchers[target.ID]
	if !ok {
		set = make(map[string]actor.PID)
		s.watchers[target.ID] = set
	}
	set[watcher.ID] = watcher
}

// Unwatch implements actor.SystemFacade.
func (s *System) Unwatch(watcher, target actor.PID) {
	s.watchMu.Lock()
	defer s.watchMu.Unlock()
	if set, ok := s.watchers[target.ID]; ok {
		delete(set, watcher.ID)
		if len(set) == 0 {
			delete(s.watchers, target.ID)
		}
	}
}

func (s *System) notifyWatchers(target actor.PID) {
	s.watchMu.Lock()
	set := s.watchers[target.ID]
	delete(s.watchers, target.ID)
	s.watchMu.Unlock()
	for _, watcher := range set {
		if wctx, ok := s.registry.Get(watcher.ID); ok {
			wctx.Mailbox().PostSystemMessage(mailbox.Message{
				Type:    actor.SystemFailure,
				Payload: actor.FailurePayload{Child: target, Err: fmt.Errorf("%s terminated", target)},
			})
		}
	}
}

// Lookup resolves a PID to its live Context, for introspection/tests.
func (s *System) Lookup(pid actor.PID) (*actor.Context, bool) {
	return s.registry.Get(pid.ID)
}

// DeadLetters drains and returns every message currently buffered in the
// dead-letter sink.
func (s *System) DeadLetters() []mailbox.Message {
	var out []mailbox.Message
	for {
		m, ok := s.deadLetters.Dequeue()
		if !ok {
			break
		}
		out = append(out, m)
	}
	return out
}

// Snapshot is a point-in-time view of system-wide state, per SPEC_FULL.md
// §D's "actor-system metrics snapshot".
type Snapshot struct {
	ActorCount      int64
	DeadLetterStats ring.Stats
	Tiers           []dispatcher.Snapshot
}

// Snapshot reports registry size, dead-letter queue stats, and dispatcher
// tier metrics.
func (s *System) Snapshot() Snapshot {
	return Snapshot{
		ActorCount:      s.registry.Size(),
		DeadLetterStats: s.deadLetters.Snapshot(),
		Tiers:           s.sched.Snapshot(),
	}
}

// Shutdown stops every root actor and drains the dispatcher.
func (s *System) Shutdown(ctx context.Context) map[dispatcher.Tier]int {
	if s.closed.Load() {
		return nil
	}
	s.closed.Store(true)
	s.registry.Range(func(id string, c *actor.Context) bool {
		if _, hasParent := c.Parent(); !hasParent {
			_ = s.StopActor(c.Self())
		}
		return true
	})
	return s.sched.Shutdown(ctx)
}
