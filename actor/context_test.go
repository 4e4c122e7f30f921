package actor

import (
	"errors"
	"testing"
	"time"

	"github.com/orizon-lang/orizon-actors/mailbox"
)

type fakeSystem struct {
	sent    []mailbox.Message
	errored []error
}

func (f *fakeSystem) SpawnChild(parent PID, props Props) (PID, error) { return PID{ID: "child"}, nil }
func (f *fakeSystem) StopActor(pid PID) error                         { return nil }
func (f *fakeSystem) Send(target PID, msg mailbox.Message) error {
	f.sent = append(f.sent, msg)
	return nil
}
func (f *fakeSystem) Request(target PID, msg mailbox.Message, timeout time.Duration) (mailbox.Message, error) {
	return mailbox.Message{}, nil
}
func (f *fakeSystem) Respond(responseID string, msg mailbox.Message, err error) {}
func (f *fakeSystem) HandleActorError(pid PID, err error)                      { f.errored = append(f.errored, err) }
func (f *fakeSystem) Watch(watcher, target PID)                                {}
func (f *fakeSystem) Unwatch(watcher, target PID)                              {}

type echoActor struct {
	BaseActor
	received []string
}

func (e *echoActor) Behaviors() Behaviors {
	return Behaviors{
		DefaultBehavior: func(ctx *Context, msg mailbox.Message) error {
			e.received = append(e.received, msg.Type)
			if msg.Type == "switch" {
				ctx.Become("alt")
			}
			return nil
		},
		"alt": func(ctx *Context, msg mailbox.Message) error {
			e.received = append(e.received, "alt:"+msg.Type)
			return nil
		},
	}
}

func newTestContext(inst *echoActor) (*Context, *fakeSystem) {
	sys := &fakeSystem{}
	mb := mailbox.New(mailbox.DefaultConfig(), nil, nil)
	ctx := NewContext(PID{ID: "a"}, nil, func() Actor { return inst }, nil, mb, sys)
	return ctx, sys
}

func TestBehaviorDispatchAndBecome(t *testing.T) {
	inst := &echoActor{}
	ctx, _ := newTestContext(inst)
	if err := ctx.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := ctx.InvokeUserMessage(mailbox.Message{Type: "hello"}); err != nil {
		t.Fatalf("invoke: %v", err)
	}
	if err := ctx.InvokeUserMessage(mailbox.Message{Type: "switch"}); err != nil {
		t.Fatalf("invoke: %v", err)
	}
	if err := ctx.InvokeUserMessage(mailbox.Message{Type: "world"}); err != nil {
		t.Fatalf("invoke: %v", err)
	}
	want := []string{"hello", "switch", "alt:world"}
	if len(inst.received) != len(want) {
		t.Fatalf("got %v want %v", inst.received, want)
	}
	for i := range want {
		if inst.received[i] != want[i] {
			t.Fatalf("got %v want %v", inst.received, want)
		}
	}
	if ctx.CurrentBehavior() != "alt" {
		t.Fatalf("expected current behavior alt, got %s", ctx.CurrentBehavior())
	}
}

func TestUserHandlerErrorReportedNotFatal(t *testing.T) {
	sys := &fakeSystem{}
	mb := mailbox.New(mailbox.DefaultConfig(), nil, nil)
	boom := errors.New("boom")
	inst := &failingActor{err: boom}
	ctx := NewContext(PID{ID: "a"}, nil, func() Actor { return inst }, nil, mb, sys)
	if err := ctx.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	_ = ctx.InvokeUserMessage(mailbox.Message{Type: "x"})
	if len(sys.errored) != 1 {
		t.Fatalf("expected one reported error, got %d", len(sys.errored))
	}
	if ctx.State() != Running {
		t.Fatalf("user handler failure must not change actor state, got %v", ctx.State())
	}
}

type failingActor struct {
	BaseActor
	err error
}

func (f *failingActor) Behaviors() Behaviors {
	return Behaviors{DefaultBehavior: func(ctx *Context, msg mailbox.Message) error { return f.err }}
}

func TestRestartCallsPreAndPostRestartWithReason(t *testing.T) {
	inst := &recordingLifecycle{}
	sys := &fakeSystem{}
	mb := mailbox.New(mailbox.DefaultConfig(), nil, nil)
	ctx := NewContext(PID{ID: "a"}, nil, func() Actor { return inst }, nil, mb, sys)
	if err := ctx.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	reason := errors.New("crashed")
	if err := ctx.InvokeSystemMessage(mailbox.Message{Type: SystemRestart, Payload: RestartPayload{Reason: reason}}); err != nil {
		t.Fatalf("restart: %v", err)
	}
	if inst.preRestartReason != reason || inst.postRestartReason != reason {
		t.Fatalf("expected restart reason threaded through preRestart/postRestart, got %v %v", inst.preRestartReason, inst.postRestartReason)
	}
	if ctx.State() != Running {
		t.Fatalf("expected Running after restart, got %v", ctx.State())
	}
}

type recordingLifecycle struct {
	BaseActor
	preRestartReason  error
	postRestartReason error
}

func (r *recordingLifecycle) Behaviors() Behaviors {
	return Behaviors{DefaultBehavior: func(ctx *Context, msg mailbox.Message) error { return nil }}
}
func (r *recordingLifecycle) PreRestart(ctx *Context, reason error) error {
	r.preRestartReason = reason
	return nil
}
func (r *recordingLifecycle) PostRestart(ctx *Context, reason error) error {
	r.postRestartReason = reason
	return nil
}
