// Package mailbox implements the per-actor two-priority mailbox specified
// at SPEC_FULL.md §4.4: a system queue drained strictly before the user
// queue within each batch, batched draining with a combined time/size
// budget, suspension, and back-pressure. It is grounded on the teacher's
// internal/runtime/actor_system.go Mailbox type (capacity check,
// OverflowPolicy switch, edge-triggered notFull channel for back-pressure
// waiters) generalized onto the lock-free ring.Queue from this module
// instead of a mutex-guarded slice, and restructured around the spec's
// explicit self-scheduling + drain-batch protocol rather than the
// teacher's scheduler pulling directly from Messages/PriorityQueue.
package mailbox

import (
	"sync"
	"time"

	"github.com/orizon-lang/orizon-actors/ring"
	"go.uber.org/zap"
)

// Message is the unit of mailbox traffic. Type, Payload and Metadata are
// all opaque to the mailbox: which queue a message lands in is decided by
// whether the caller uses PostSystemMessage or PostUserMessage, not by Type.
type Message struct {
	Type       string
	Payload    any
	Sender     any
	ResponseID string
	Metadata   map[string]string
}

// OverflowPolicy mirrors the teacher's MailboxOverflowPolicy enum.
type OverflowPolicy int

const (
	DropOldest OverflowPolicy = iota
	DropNewest
	DropLowPriority
	BackPressure
	DeadLetter
)

// Invoker is the consumer side of a drain batch: the actor's context.
type Invoker interface {
	InvokeSystemMessage(m Message) error
	InvokeUserMessage(m Message) error
}

// Dispatcher is the execution resource a mailbox self-schedules onto.
// dispatcher.Scheduler satisfies this; defined locally to avoid an
// import cycle between mailbox and dispatcher.
type Dispatcher interface {
	Schedule(task func())
}

// Config configures queue sizes and batching, per SPEC_FULL.md §6.
type Config struct {
	SystemQueueCapacity  uint64
	UserQueueCapacity    uint64
	AutoResize           bool
	MaxQueueCapacity     uint64
	BatchSize            int
	MaxBatchProcessingMs int64
	OverflowPolicy       OverflowPolicy
	BackPressureWait     time.Duration
	OnError              func(err error, m Message)
	Debug                bool
	Logger               *zap.Logger
}

// DefaultConfig matches the teacher's DefaultMailboxConfig-style defaults.
func DefaultConfig() Config {
	return Config{
		SystemQueueCapacity:  64,
		UserQueueCapacity:    1024,
		AutoResize:           true,
		MaxQueueCapacity:     1 << 16,
		BatchSize:            32,
		MaxBatchProcessingMs: 50,
		OverflowPolicy:       DropOldest,
		BackPressureWait:     100 * time.Millisecond,
	}
}

// Stats is a metrics snapshot, per the spec's "metrics counters (enqueues,
// dequeues, rejections, peak depths, batch times)".
type Stats struct {
	SystemEnqueued, SystemDequeued uint64
	UserEnqueued, UserDequeued     uint64
	Rejections                     uint64
	DeadLettered                   uint64
	PeakSystemDepth, PeakUserDepth int64
	LastBatchDurationMs            int64
	Suspended                      bool
}

// Mailbox owns two ring queues (system-priority small, user-priority
// larger) and self-schedules drain batches onto a Dispatcher.
type Mailbox struct {
	cfg Config
	log *zap.Logger

	sysQ  *ring.Queue[Message]
	userQ *ring.Queue[Message]

	invoker    Invoker
	dispatcher Dispatcher

	mu         sync.Mutex
	processing bool
	scheduled  bool
	suspended  bool
	errored    bool

	notFull chan struct{} // edge-triggered wakeup for BackPressure waiters

	rejections      mutexCounter
	deadLettered    mutexCounter
	lastBatchNs     mutexCounter
	onDeadLetter    func(Message)
	onSystemFailure func(err error, m Message)
}

// mutexCounter is a plain mutex-guarded int64, not a sync/atomic-backed
// counter — named accordingly so the type doesn't read as a lock-free
// primitive it isn't.
type mutexCounter struct {
	mu sync.Mutex
	v  int64
}

func (c *mutexCounter) add(n int64) { c.mu.Lock(); c.v += n; c.mu.Unlock() }
func (c *mutexCounter) load() int64 { c.mu.Lock(); defer c.mu.Unlock(); return c.v }
func (c *mutexCounter) set(n int64) { c.mu.Lock(); c.v = n; c.mu.Unlock() }

// New creates a mailbox with the given config. onDeadLetter, if non-nil, is
// invoked for messages dropped under the DeadLetter overflow policy (the
// system wires system.DeadLetters into this hook). onSystemFailure, if
// non-nil, is invoked once a system-message handler failure has suspended
// the mailbox (spec.md §7: "SystemHandlerFailure ... suspend mailbox;
// escalate to supervisor immediately") — called after, not during, that
// suspension so a supervisor directive's Mailbox.Resume() call is never
// raced and clobbered by the mailbox's own suspend-on-error bookkeeping
// (the system wires system.System.HandleActorError into this hook).
func New(cfg Config, onDeadLetter func(Message), onSystemFailure func(err error, m Message)) *Mailbox {
	if cfg.BatchSize <= 0 {
		cfg = DefaultConfig()
	}
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}
	mb := &Mailbox{
		cfg:             cfg,
		log:             log,
		notFull:         make(chan struct{}, 1),
		onDeadLetter:    onDeadLetter,
		onSystemFailure: onSystemFailure,
	}
	mb.sysQ = ring.New[Message](ring.Config[Message]{
		Capacity: cfg.SystemQueueCapacity, AutoResize: cfg.AutoResize, MaxCapacity: cfg.MaxQueueCapacity,
	})
	mb.userQ = ring.New[Message](ring.Config[Message]{
		Capacity: cfg.UserQueueCapacity, AutoResize: cfg.AutoResize, MaxCapacity: cfg.MaxQueueCapacity,
	})
	return mb
}

// RegisterHandlers wires the invoker/dispatcher pair before the first drain.
func (mb *Mailbox) RegisterHandlers(invoker Invoker, dispatcher Dispatcher) {
	mb.mu.Lock()
	mb.invoker = invoker
	mb.dispatcher = dispatcher
	mb.mu.Unlock()
}

// Start is a no-op lifecycle hook kept for symmetry with Suspend/Resume.
func (mb *Mailbox) Start() {}

// Suspend prevents any further drain from starting.
func (mb *Mailbox) Suspend() {
	mb.mu.Lock()
	mb.suspended = true
	mb.mu.Unlock()
}

// Resume clears suspension (and any recorded error) and, if work is
// pending, schedules a drain.
func (mb *Mailbox) Resume() {
	mb.mu.Lock()
	mb.suspended = false
	mb.errored = false
	needsSchedule := !mb.scheduled && !mb.processing && (mb.sysQ.Size() > 0 || mb.userQ.Size() > 0)
	if needsSchedule {
		mb.scheduled = true
	}
	mb.mu.Unlock()
	if needsSchedule {
		mb.runDispatch()
	}
}

func (mb *Mailbox) postSelfSchedule() {
	mb.mu.Lock()
	shouldSchedule := !mb.suspended && !mb.errored && !mb.processing && !mb.scheduled
	if shouldSchedule {
		mb.scheduled = true
	}
	mb.mu.Unlock()
	if shouldSchedule {
		mb.runDispatch()
	}
}

func (mb *Mailbox) runDispatch() {
	if mb.dispatcher == nil {
		// No dispatcher wired yet: the next enqueue/Resume retries.
		mb.mu.Lock()
		mb.scheduled = false
		mb.mu.Unlock()
		return
	}
	mb.dispatcher.Schedule(mb.drainBatch)
}

// PostSystemMessage enqueues a system message and self-schedules a drain.
// Enqueue does not block, except under the BackPressure overflow policy,
// which waits up to BackPressureWait for room in a full queue; it rejects
// only per the configured overflow policy.
func (mb *Mailbox) PostSystemMessage(m Message) bool {
	ok := mb.enqueue(mb.sysQ, m, true)
	if ok {
		mb.postSelfSchedule()
	}
	return ok
}

// PostUserMessage enqueues a user message and self-schedules a drain.
func (mb *Mailbox) PostUserMessage(m Message) bool {
	ok := mb.enqueue(mb.userQ, m, false)
	if ok {
		mb.postSelfSchedule()
	}
	return ok
}

func (mb *Mailbox) enqueue(q *ring.Queue[Message], m Message, isSystem bool) bool {
	if q.Enqueue(m) {
		return true
	}
	return mb.handleOverflow(q, m, isSystem)
}

// handleOverflow mirrors the teacher's handleOverflow switch over
// OverflowPolicy, generalized to operate on a ring.Queue instead of a
// mutex-guarded slice.
func (mb *Mailbox) handleOverflow(q *ring.Queue[Message], m Message, isSystem bool) bool {
	switch mb.cfg.OverflowPolicy {
	case DropOldest:
		if _, ok := q.Dequeue(); ok {
			mb.rejections.add(1)
			return q.Enqueue(m)
		}
		return false
	case DropNewest:
		mb.rejections.add(1)
		return false
	case DropLowPriority:
		if !isSystem {
			if _, ok := q.Dequeue(); ok {
				mb.rejections.add(1)
				return q.Enqueue(m)
			}
		}
		mb.rejections.add(1)
		return false
	case BackPressure:
		deadline := time.Now().Add(mb.cfg.BackPressureWait)
		for time.Now().Before(deadline) {
			if q.Enqueue(m) {
				return true
			}
			select {
			case <-mb.notFull:
			case <-time.After(2 * time.Millisecond):
			}
		}
		mb.rejections.add(1)
		return false
	case DeadLetter:
		mb.deadLettered.add(1)
		if mb.onDeadLetter != nil {
			mb.onDeadLetter(m)
		}
		return false
	default:
		mb.rejections.add(1)
		return false
	}
}

func (mb *Mailbox) notifyNotFull() {
	select {
	case mb.notFull <- struct{}{}:
	default:
	}
}

// drainBatch implements the spec's four-step protocol.
func (mb *Mailbox) drainBatch() {
	mb.mu.Lock()
	mb.scheduled = false
	mb.processing = true
	invoker := mb.invoker
	mb.mu.Unlock()

	start := time.Now()
	budget := mb.cfg.BatchSize
	suspendedNow := false
	var systemFailure error
	var failedMessage Message

	if invoker != nil {
		for budget > 0 {
			m, ok := mb.sysQ.Dequeue()
			if !ok {
				break
			}
			mb.notifyNotFull()
			budget--
			if err := invoker.InvokeSystemMessage(m); err != nil {
				mb.log.Warn("system message handler failed, suspending mailbox", zap.Error(err))
				mb.mu.Lock()
				mb.errored = true
				mb.suspended = true
				mb.mu.Unlock()
				suspendedNow = true
				systemFailure = err
				failedMessage = m
				if mb.cfg.OnError != nil {
					mb.cfg.OnError(err, m)
				}
				break
			}
		}

		if !suspendedNow {
			for budget > 0 {
				if time.Since(start).Milliseconds() > mb.cfg.MaxBatchProcessingMs {
					break
				}
				m, ok := mb.userQ.Dequeue()
				if !ok {
					break
				}
				mb.notifyNotFull()
				budget--
				if err := invoker.InvokeUserMessage(m); err != nil {
					if mb.cfg.OnError != nil {
						mb.cfg.OnError(err, m)
					}
					// User failures do not suspend; continue the batch.
				}
			}
		}
	}

	mb.lastBatchNs.set(time.Since(start).Nanoseconds())

	mb.mu.Lock()
	mb.processing = false
	hasWork := mb.sysQ.Size() > 0 || mb.userQ.Size() > 0
	reschedule := hasWork && !mb.suspended && !mb.errored && !mb.scheduled
	if reschedule {
		mb.scheduled = true
	}
	mb.mu.Unlock()
	if reschedule {
		mb.runDispatch()
	}

	// Escalate last, after processing/suspended/errored have all settled
	// above: a Restart directive's Mailbox.Resume() call needs to observe
	// the suspension this batch just recorded, not race ahead of it.
	if systemFailure != nil && mb.onSystemFailure != nil {
		mb.onSystemFailure(systemFailure, failedMessage)
	}
}

// IsSuspended reports whether the mailbox currently refuses drains.
func (mb *Mailbox) IsSuspended() bool {
	mb.mu.Lock()
	defer mb.mu.Unlock()
	return mb.suspended
}

// Len returns the combined system+user queue depth.
func (mb *Mailbox) Len() int {
	return mb.sysQ.Size() + mb.userQ.Size()
}

// Clear drops all queued messages (used when an actor stops).
func (mb *Mailbox) Clear() {
	for {
		if _, ok := mb.sysQ.Dequeue(); !ok {
			break
		}
	}
	for {
		if _, ok := mb.userQ.Dequeue(); !ok {
			break
		}
	}
}

// GetMetrics returns a point-in-time stats snapshot.
func (mb *Mailbox) GetMetrics() Stats {
	sysStats := mb.sysQ.Snapshot()
	userStats := mb.userQ.Snapshot()
	return Stats{
		SystemEnqueued:       sysStats.Enqueued,
		SystemDequeued:       sysStats.Dequeued,
		UserEnqueued:         userStats.Enqueued,
		UserDequeued:         userStats.Dequeued,
		Rejections:           uint64(mb.rejections.load()),
		DeadLettered:         uint64(mb.deadLettered.load()),
		PeakSystemDepth:      sysStats.PeakDepth,
		PeakUserDepth:        userStats.PeakDepth,
		LastBatchDurationMs:  mb.lastBatchNs.load() / int64(time.Millisecond),
		Suspended:            mb.IsSuspended(),
	}
}
