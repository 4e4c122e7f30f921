// Package quictransport implements a transport.Provider over QUIC
// (SPEC_FULL.md §C's domain-stack commitment to wire in github.com/quic-go/
// quic-go; it uses plain QUIC streams, not quic-go's HTTP/3 layer, so
// github.com/quic-go/qpack stays an indirect dependency only).
// Grounded on the teacher's internal/runtime/remote.Transport interface
// (Start/Stop/Address/Send) and RemoteSystem's envelope-then-dispatch loop,
// reshaped onto one QUIC stream per envelope, each carrying a single
// length-prefixed JSON envelope; a connection carries many such streams.
package quictransport

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"sync"
	"time"

	"github.com/orizon-lang/orizon-actors/transport"
	"github.com/quic-go/quic-go"
)

// Provider is a concrete transport.Provider backed by QUIC streams. Each
// Send opens (or reuses) one QUIC connection to the destination address
// and writes one length-prefixed JSON envelope per stream; Start accepts
// inbound connections and reads the same framing.
type Provider struct {
	mu          sync.Mutex
	listener    *quic.Listener
	tlsConf     *tls.Config
	localAddr   string
	listenAddrs []string
	handler     transport.Handler

	dialTimeout time.Duration
	conns       map[string]*quic.Conn

	ctx    context.Context
	cancel context.CancelFunc
	closed bool
}

// New constructs an unstarted Provider. Call Init then Start.
func New() *Provider {
	return &Provider{conns: make(map[string]*quic.Conn)}
}

// Init implements transport.Provider.
func (p *Provider) Init(opts transport.Options) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.localAddr = opts.ListenAddress
	if opts.DialTimeoutMs > 0 {
		p.dialTimeout = time.Duration(opts.DialTimeoutMs) * time.Millisecond
	} else {
		p.dialTimeout = 5 * time.Second
	}
	tlsConf, err := selfSignedTLSConfig()
	if err != nil {
		return fmt.Errorf("quictransport: tls config: %w", err)
	}
	p.tlsConf = tlsConf
	return nil
}

// Start implements transport.Provider: begins accepting inbound QUIC
// connections and dispatching their envelopes to the registered Handler.
func (p *Provider) Start(ctx context.Context) error {
	p.mu.Lock()
	if p.localAddr == "" {
		p.mu.Unlock()
		return fmt.Errorf("quictransport: Init must set a ListenAddress before Start")
	}
	ln, err := quic.ListenAddr(p.localAddr, p.tlsConf, nil)
	if err != nil {
		p.mu.Unlock()
		return fmt.Errorf("quictransport: listen %s: %w", p.localAddr, err)
	}
	p.listener = ln
	p.listenAddrs = []string{ln.Addr().String()}
	runCtx, cancel := context.WithCancel(ctx)
	p.ctx = runCtx
	p.cancel = cancel
	p.mu.Unlock()

	go p.acceptLoop(runCtx)
	return nil
}

func (p *Provider) acceptLoop(ctx context.Context) {
	for {
		conn, err := p.listener.Accept(ctx)
		if err != nil {
			return // listener closed or ctx cancelled
		}
		go p.serveConn(ctx, conn)
	}
}

func (p *Provider) serveConn(ctx context.Context, conn *quic.Conn) {
	for {
		stream, err := conn.AcceptStream(ctx)
		if err != nil {
			return
		}
		go p.serveStream(stream)
	}
}

func (p *Provider) serveStream(stream *quic.Stream) {
	defer stream.Close()
	env, err := readEnvelope(stream)
	if err != nil {
		return
	}
	p.mu.Lock()
	h := p.handler
	p.mu.Unlock()
	if h != nil {
		_ = h(env)
	}
}

// Stop implements transport.Provider.
func (p *Provider) Stop() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	if p.cancel != nil {
		p.cancel()
	}
	for _, c := range p.conns {
		_ = c.CloseWithError(0, "shutdown")
	}
	if p.listener != nil {
		return p.listener.Close()
	}
	return nil
}

// Dial implements transport.Provider: eagerly establishes (and caches) a
// QUIC connection to address, so the first Send to it doesn't pay the
// handshake cost.
func (p *Provider) Dial(ctx context.Context, address string) error {
	_, err := p.connFor(ctx, address)
	return err
}

func (p *Provider) connFor(ctx context.Context, address string) (*quic.Conn, error) {
	p.mu.Lock()
	if c, ok := p.conns[address]; ok {
		p.mu.Unlock()
		return c, nil
	}
	dialTimeout := p.dialTimeout
	p.mu.Unlock()

	dialCtx, cancel := context.WithTimeout(ctx, dialTimeout)
	defer cancel()
	conn, err := quic.DialAddr(dialCtx, address, &tls.Config{InsecureSkipVerify: true, NextProtos: []string{"orizon-actors"}}, nil)
	if err != nil {
		return nil, fmt.Errorf("quictransport: dial %s: %w", address, err)
	}
	p.mu.Lock()
	p.conns[address] = conn
	p.mu.Unlock()
	return conn, nil
}

// Send implements transport.Provider: opens a stream on the (cached)
// connection to address and writes one length-prefixed JSON envelope.
func (p *Provider) Send(ctx context.Context, address string, env transport.Envelope) error {
	conn, err := p.connFor(ctx, address)
	if err != nil {
		return err
	}
	stream, err := conn.OpenStreamSync(ctx)
	if err != nil {
		p.mu.Lock()
		delete(p.conns, address)
		p.mu.Unlock()
		return fmt.Errorf("quictransport: open stream to %s: %w", address, err)
	}
	defer stream.Close()
	return writeEnvelope(stream, env)
}

// OnMessage implements transport.Provider.
func (p *Provider) OnMessage(h transport.Handler) {
	p.mu.Lock()
	p.handler = h
	p.mu.Unlock()
}

// GetLocalAddress implements transport.Provider.
func (p *Provider) GetLocalAddress() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.listener != nil {
		return p.listener.Addr().String()
	}
	return p.localAddr
}

// GetListenAddresses implements transport.Provider.
func (p *Provider) GetListenAddresses() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.listenAddrs...)
}

func writeEnvelope(w io.Writer, env transport.Envelope) error {
	b, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("quictransport: marshal envelope: %w", err)
	}
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(b)))
	if _, err := w.Write(lenBuf[:]); err != nil {
		return err
	}
	_, err = w.Write(b)
	return err
}

func readEnvelope(r io.Reader) (transport.Envelope, error) {
	var env transport.Envelope
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return env, err
	}
	n := binary.BigEndian.Uint32(lenBuf[:])
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return env, err
	}
	if err := json.Unmarshal(buf, &env); err != nil {
		return env, fmt.Errorf("quictransport: unmarshal envelope: %w", err)
	}
	return env, nil
}

// selfSignedTLSConfig generates an ephemeral self-signed certificate, since
// this provider is a node-to-node actor transport rather than a public
// service and doesn't assume a pre-provisioned PKI.
func selfSignedTLSConfig() (*tls.Config, error) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, err
	}
	template := x509.Certificate{
		SerialNumber: big.NewInt(1),
		NotBefore:    time.Now(),
		NotAfter:     time.Now().Add(24 * time.Hour),
	}
	der, err := x509.CreateCertificate(rand.Reader, &template, &template, &key.PublicKey, key)
	if err != nil {
		return nil, err
	}
	cert := tls.Certificate{Certificate: [][]byte{der}, PrivateKey: key}
	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		NextProtos:   []string{"orizon-actors"},
	}, nil
}
