package mailbox

import (
	"sync"
	"testing"
	"time"
)

type recordingInvoker struct {
	mu    sync.Mutex
	order []string
}

func (r *recordingInvoker) InvokeSystemMessage(m Message) error {
	r.mu.Lock()
	r.order = append(r.order, "S:"+m.Type)
	r.mu.Unlock()
	return nil
}

func (r *recordingInvoker) InvokeUserMessage(m Message) error {
	r.mu.Lock()
	r.order = append(r.order, "U:"+m.Type)
	r.mu.Unlock()
	return nil
}

// syncDispatcher runs tasks inline, which is enough to exercise the
// mailbox protocol deterministically in tests.
type syncDispatcher struct{}

func (syncDispatcher) Schedule(task func()) { task() }

// deferredDispatcher queues tasks until runAll is called, modelling an
// asynchronous dispatcher: every post made before runAll lands in the
// mailbox before the first drain batch starts.
type deferredDispatcher struct {
	mu    sync.Mutex
	tasks []func()
}

func (d *deferredDispatcher) Schedule(task func()) {
	d.mu.Lock()
	d.tasks = append(d.tasks, task)
	d.mu.Unlock()
}

func (d *deferredDispatcher) runAll() {
	for {
		d.mu.Lock()
		if len(d.tasks) == 0 {
			d.mu.Unlock()
			return
		}
		task := d.tasks[0]
		d.tasks = d.tasks[1:]
		d.mu.Unlock()
		task()
	}
}

func waitForOrder(t *testing.T, inv *recordingInvoker, n int) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		inv.mu.Lock()
		got := len(inv.order)
		inv.mu.Unlock()
		if got >= n {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d processed messages", n)
}

// TestPriorityOrdering reproduces spec §8 scenario 1: post {U1,S1,U2} to an
// empty mailbox; expected processing order S1,U1,U2.
func TestPriorityOrdering(t *testing.T) {
	inv := &recordingInvoker{}
	mb := New(DefaultConfig(), nil, nil)
	disp := &deferredDispatcher{}
	mb.RegisterHandlers(inv, disp)

	mb.PostUserMessage(Message{Type: "U1"})
	mb.PostSystemMessage(Message{Type: "S1"})
	mb.PostUserMessage(Message{Type: "U2"})
	disp.runAll()

	waitForOrder(t, inv, 3)
	inv.mu.Lock()
	defer inv.mu.Unlock()
	want := []string{"S:S1", "U:U1", "U:U2"}
	if len(inv.order) != len(want) {
		t.Fatalf("got %v want %v", inv.order, want)
	}
	for i := range want {
		if inv.order[i] != want[i] {
			t.Fatalf("got %v want %v", inv.order, want)
		}
	}
}

// TestSuspendedEnqueuePreservesOrder reproduces the boundary behavior: a
// mailbox suspended during enqueue keeps the item queued; draining resumes
// on resume(), preserving order.
func TestSuspendedEnqueuePreservesOrder(t *testing.T) {
	inv := &recordingInvoker{}
	mb := New(DefaultConfig(), nil, nil)
	mb.RegisterHandlers(inv, syncDispatcher{})

	mb.Suspend()
	mb.PostUserMessage(Message{Type: "U1"})
	mb.PostUserMessage(Message{Type: "U2"})

	time.Sleep(10 * time.Millisecond)
	inv.mu.Lock()
	if len(inv.order) != 0 {
		t.Fatalf("expected no processing while suspended, got %v", inv.order)
	}
	inv.mu.Unlock()

	mb.Resume()
	waitForOrder(t, inv, 2)
	inv.mu.Lock()
	defer inv.mu.Unlock()
	if inv.order[0] != "U:U1" || inv.order[1] != "U:U2" {
		t.Fatalf("order not preserved after resume: %v", inv.order)
	}
}

// TestSystemFailureSuspendsMailbox exercises §4.4's failure semantics: a
// system-message failure suspends the mailbox and is fatal until
// supervision acts, while a user-message failure does not suspend.
func TestSystemFailureSuspendsMailbox(t *testing.T) {
	var errs []error
	var escalated []error
	mb := New(Config{
		SystemQueueCapacity: 8, UserQueueCapacity: 8, BatchSize: 8, MaxBatchProcessingMs: 50,
		OnError: func(err error, m Message) { errs = append(errs, err) },
	}, nil, func(err error, m Message) { escalated = append(escalated, err) })

	failer := &failingInvoker{failSystem: true}
	mb.RegisterHandlers(failer, syncDispatcher{})
	mb.PostSystemMessage(Message{Type: "$system.boom"})

	if !mb.IsSuspended() {
		t.Fatalf("expected mailbox suspended after system handler failure")
	}
	if len(errs) != 1 {
		t.Fatalf("expected exactly one error reported, got %d", len(errs))
	}
	if len(escalated) != 1 || escalated[0] != errBoom {
		t.Fatalf("expected system failure escalated to supervisor exactly once, got %v", escalated)
	}
}

type failingInvoker struct {
	failSystem bool
}

func (f *failingInvoker) InvokeSystemMessage(m Message) error {
	if f.failSystem {
		return errBoom
	}
	return nil
}
func (f *failingInvoker) InvokeUserMessage(m Message) error { return nil }

var errBoom = &boomError{}

type boomError struct{}

func (*boomError) Error() string { return "boom" }
