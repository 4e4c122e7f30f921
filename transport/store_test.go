package transport

import (
	"testing"
)

func TestFileStoreSaveGetDelete(t *testing.T) {
	dir := t.TempDir()
	store, err := NewFileStore(dir)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}

	env := Envelope{To: "node-b/actor-1", From: "node-a/actor-0", Message: []byte(`{"hello":"world"}`)}
	if err := store.Save("msg-1", env); err != nil {
		t.Fatalf("save: %v", err)
	}

	got, status, err := store.Get("msg-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if status != Pending {
		t.Fatalf("expected PENDING, got %s", status)
	}
	if got.To != env.To || got.From != env.From {
		t.Fatalf("round-tripped envelope mismatch: %+v", got)
	}

	if err := store.MarkDelivered("msg-1"); err != nil {
		t.Fatalf("mark delivered: %v", err)
	}
	if s, _ := store.GetMessageStatus("msg-1"); s != Delivered {
		t.Fatalf("expected DELIVERED, got %s", s)
	}

	if err := store.MarkAcknowledged("msg-1"); err != nil {
		t.Fatalf("mark acked: %v", err)
	}
	if s, _ := store.GetMessageStatus("msg-1"); s != Acknowledged {
		t.Fatalf("expected ACKNOWLEDGED, got %s", s)
	}

	if err := store.Delete("msg-1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, _, err := store.Get("msg-1"); err != ErrMessageNotFound {
		t.Fatalf("expected ErrMessageNotFound after delete, got %v", err)
	}
}

func TestGetUnacknowledgedFiltersByReceiverAndStatus(t *testing.T) {
	dir := t.TempDir()
	store, err := NewFileStore(dir)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}

	_ = store.Save("a", Envelope{To: "receiver-1", Message: []byte(`1`)})
	_ = store.Save("b", Envelope{To: "receiver-1", Message: []byte(`2`)})
	_ = store.Save("c", Envelope{To: "receiver-2", Message: []byte(`3`)})
	_ = store.MarkAcknowledged("b")

	pending, err := store.GetUnacknowledged("receiver-1")
	if err != nil {
		t.Fatalf("get unacknowledged: %v", err)
	}
	if len(pending) != 1 {
		t.Fatalf("expected 1 unacknowledged message for receiver-1, got %d", len(pending))
	}
}
