// Package pipe implements the pipe framework (component C8): a shared
// lifecycle state machine, a reconnect supervisor with bounded backoff,
// and transport-specific pipes (websocket, mqtt, tcp, udp, http/webhook)
// layered over it. Grounded on the teacher's retry-loop style in
// scheduler.go and its rakunlabs/ada HTTP wiring in server.go,
// generalized from "one retrying workflow trigger" / "one HTTP mux" to
// "many independently-lifecycled external transports".
package pipe

import (
	"context"
	"sync"
	"time"

	"github.com/flowbotic/runtime/internal/errs"
	"github.com/flowbotic/runtime/internal/event"
)

// State is one of the shared pipe lifecycle states (§4.8).
type State string

const (
	StateNew          State = "new"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateDisconnected State = "disconnected"
	StateBackoff      State = "backoff"
	StateClosed       State = "closed"
)

// DefaultMaxAttempts and DefaultBackoffDelay match the framework's
// documented reconnect defaults (§4.8).
const (
	DefaultMaxAttempts = 10
	DefaultBackoffDelay = 5 * time.Second
)

// Transport is the minimal contract every concrete pipe type implements.
// Connect should establish the connection (dial, handshake, subscribe,
// bind) and return as soon as it's usable, running any read/serve loop in
// its own goroutine; it's called again on every reconnect attempt. Done
// returns a channel that's closed when that connection ends, however that
// happens (read error, peer close, listener close) — the supervisor
// reconnects when it fires. Close releases any transport-held resources
// and must be safe to call even if Connect never succeeded.
type Transport interface {
	Connect(ctx context.Context) error
	Done() <-chan struct{}
	Close() error
}

// Pipe wraps a Transport with the shared lifecycle state machine and
// reconnect supervisor.
type Pipe struct {
	Name      string
	transport Transport

	maxAttempts int
	backoffDelay time.Duration

	router     *event.Router
	errHandler *errs.Handler

	mu    sync.Mutex
	state State

	cancel context.CancelFunc
}

// Transport returns the underlying transport, for callers (pipe actions)
// that need to type-assert against a transport-specific capability such
// as a one-way Send or a request/response overlay.
func (p *Pipe) Transport() Transport {
	return p.transport
}

// Option configures a Pipe at construction.
type Option func(*Pipe)

// WithMaxAttempts overrides DefaultMaxAttempts.
func WithMaxAttempts(n int) Option {
	return func(p *Pipe) { p.maxAttempts = n }
}

// WithBackoffDelay overrides DefaultBackoffDelay.
func WithBackoffDelay(d time.Duration) Option {
	return func(p *Pipe) { p.backoffDelay = d }
}

// New constructs a Pipe around transport. router receives lifecycle events
// (pipe:connected, pipe:disconnected, pipe:closed) under the pipe's name.
func New(name string, transport Transport, router *event.Router, errHandler *errs.Handler, opts ...Option) *Pipe {
	p := &Pipe{
		Name:         name,
		transport:    transport,
		maxAttempts:  DefaultMaxAttempts,
		backoffDelay: DefaultBackoffDelay,
		router:       router,
		errHandler:   errHandler,
		state:        StateNew,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// State returns the pipe's current lifecycle state.
func (p *Pipe) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

func (p *Pipe) setState(s State) {
	p.mu.Lock()
	p.state = s
	p.mu.Unlock()
}

// Start begins the connect/reconnect supervisor loop in the background.
// Call Stop (or cancel the runtime-wide context this loop is derived from)
// to close the pipe.
func (p *Pipe) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	p.mu.Lock()
	p.cancel = cancel
	p.mu.Unlock()

	go p.supervise(ctx)
}

// Stop closes the pipe and stops the supervisor loop. Safe to call more
// than once.
func (p *Pipe) Stop() {
	p.mu.Lock()
	cancel := p.cancel
	p.cancel = nil
	p.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	_ = p.transport.Close()
	p.setState(StateClosed)
	p.emit("pipe:closed", nil)
}

// supervise drives the connect -> connected -> disconnected -> backoff
// cycle, attempting at most maxAttempts consecutive failures before
// giving up and moving to closed.
func (p *Pipe) supervise(ctx context.Context) {
	attempt := 0
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		p.setState(StateConnecting)
		err := p.transport.Connect(ctx)
		if err == nil {
			attempt = 0
			p.setState(StateConnected)
			p.emit("pipe:connected", nil)

			select {
			case <-ctx.Done():
				return
			case <-p.transport.Done():
				// connection ended on its own; loop around and reconnect
			}
			continue
		}

		attempt++
		p.setState(StateDisconnected)
		p.emit("pipe:disconnected", map[string]any{"error": err.Error(), "attempt": attempt})
		if p.errHandler != nil {
			p.errHandler.Handle(ctx, errs.NewTransportError(p.Name, err), errs.CategoryPipe, errs.SeverityWarn)
		}

		if attempt >= p.maxAttempts {
			p.setState(StateClosed)
			p.emit("pipe:closed", map[string]any{"reason": "max_attempts_exceeded"})
			return
		}

		p.setState(StateBackoff)
		timer := time.NewTimer(p.backoffDelay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

func (p *Pipe) emit(eventName string, data map[string]any) {
	if p.router == nil {
		return
	}
	merged := map[string]any{"pipe": p.Name}
	for k, v := range data {
		merged[k] = v
	}
	p.router.Emit(context.Background(), eventName, merged)
}
