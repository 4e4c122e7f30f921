package quictransport

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/orizon-lang/orizon-actors/transport"
)

func TestSendDeliversEnvelopeToHandler(t *testing.T) {
	server := New()
	if err := server.Init(transport.Options{ListenAddress: "127.0.0.1:0"}); err != nil {
		t.Fatalf("server init: %v", err)
	}
	received := make(chan transport.Envelope, 1)
	server.OnMessage(func(env transport.Envelope) error {
		received <- env
		return nil
	})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := server.Start(ctx); err != nil {
		t.Fatalf("server start: %v", err)
	}
	defer server.Stop()

	client := New()
	if err := client.Init(transport.Options{ListenAddress: "127.0.0.1:0"}); err != nil {
		t.Fatalf("client init: %v", err)
	}
	if err := client.Start(ctx); err != nil {
		t.Fatalf("client start: %v", err)
	}
	defer client.Stop()

	payload, _ := json.Marshal(map[string]string{"hello": "actor"})
	env := transport.Envelope{To: "node-b/actor-1", From: "node-a/actor-0", Message: payload}

	sendCtx, sendCancel := context.WithTimeout(ctx, 2*time.Second)
	defer sendCancel()
	if err := client.Send(sendCtx, server.GetLocalAddress(), env); err != nil {
		t.Fatalf("send: %v", err)
	}

	select {
	case got := <-received:
		if got.To != env.To || got.From != env.From {
			t.Fatalf("envelope mismatch: %+v", got)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for envelope delivery")
	}
}
