// Package transport defines the remote-node boundary of spec.md §6:
// a Provider interface pluggable nodes implement, a JSON wire envelope, and
// a message-store contract for at-least-once delivery. Grounded on the
// teacher's internal/runtime/remote package (Transport interface, Envelope
// struct, NodeName/Address bookkeeping), reshaped onto the spec's
// init/start/stop/send/dial/onMessage/getLocalAddress/getListenAddresses
// method set. The teacher's RemoteSystem additionally defined SendWithRetry
// twice with incompatible signatures (dead/leftover code, evidently from an
// abandoned retry-policy rewrite); neither form is carried forward, and
// retry policy here is left to each Provider implementation, per the spec's
// "transport may retry via its own policy" (spec.md §7).
package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// ErrNotStarted is returned by Send/Dial before Start has completed.
var ErrNotStarted = errors.New("transport: provider not started")

// ErrClosed is returned by operations attempted after Stop.
var ErrClosed = errors.New("transport: provider closed")

// Envelope is the UTF-8 JSON object crossing the remote boundary: spec.md
// §6's {to, from, message}, plus a correlation id for request/response
// pairing across nodes.
type Envelope struct {
	To            string          `json:"to"`
	From          string          `json:"from"`
	Message       json.RawMessage `json:"message"`
	CorrelationID string          `json:"correlationId,omitempty"`
}

// Options configures a Provider at Init time. Concrete providers (e.g.
// quictransport.Provider) accept additional fields via their own
// constructors; this struct covers the fields every provider shares.
type Options struct {
	ListenAddress string
	DialTimeoutMs int
}

// Handler is invoked with each inbound Envelope once a Provider delivers
// it, via the callback registered through OnMessage.
type Handler func(Envelope) error

// Provider is the remote transport boundary of spec.md §6. Every
// method is safe to call from multiple goroutines.
type Provider interface {
	Init(opts Options) error
	Start(ctx context.Context) error
	Stop() error
	Send(ctx context.Context, address string, env Envelope) error
	Dial(ctx context.Context, address string) error
	OnMessage(h Handler)
	GetLocalAddress() string
	GetListenAddresses() []string
}

// EncodeMessage marshals v into an Envelope's Message field, the
// caller-facing half of the "{to, from, message}" wire contract.
func EncodeMessage(v any) (json.RawMessage, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("transport: encode message: %w", err)
	}
	return b, nil
}

// DecodeMessage unmarshals an Envelope's Message field into v.
func DecodeMessage(env Envelope, v any) error {
	if err := json.Unmarshal(env.Message, v); err != nil {
		return fmt.Errorf("transport: decode message: %w", err)
	}
	return nil
}
