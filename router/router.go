// Package router serializes inbound peer events and internal round requests
// through one FIFO queue drained by a single dispatch loop.
package router

import (
	"context"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/absmach/fedmob/pkg/message"
)

// Context carries correlation data alongside a queued message.
type Context struct {
	PeerID    string
	Round     int
	Config    message.Config
	RequestID string
}

// Envelope is a message queued together with its Context.
type Envelope struct {
	Ctx Context
	Msg message.Message
}

// HandlerFunc handles one message. It runs on the dispatch loop and must not
// block on network I/O or on another round.
type HandlerFunc func(ctx context.Context, rc Context, msg message.Message) error

// Table holds one handler per message kind the hub consumes. A nil entry
// drops messages of that kind.
type Table struct {
	StartTraining    HandlerFunc
	UpdateWeights    HandlerFunc
	TrainingUpdate   HandlerFunc
	TrainingComplete HandlerFunc
	EvaluateComplete HandlerFunc
	Fit              HandlerFunc
	Evaluate         HandlerFunc
}

func (t Table) handler(typ message.Type) HandlerFunc {
	switch typ {
	case message.StartTraining:
		return t.StartTraining
	case message.UpdateWeights:
		return t.UpdateWeights
	case message.TrainingUpdate:
		return t.TrainingUpdate
	case message.TrainingComplete:
		return t.TrainingComplete
	case message.EvaluateComplete:
		return t.EvaluateComplete
	case message.Fit:
		return t.Fit
	case message.Evaluate:
		return t.Evaluate
	default:
		// Register is handled by the transport handshake. The remaining
		// known types only flow hub to peer.
		return nil
	}
}

type Router struct {
	table  Table
	logger *slog.Logger

	mu      sync.Mutex
	queue   []Envelope
	notify  chan struct{}
	stopped bool
	running bool
	cancel  context.CancelFunc

	stop     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

func New(table Table, logger *slog.Logger) *Router {
	return &Router{
		table:  table,
		logger: logger,
		notify: make(chan struct{}, 1),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
}

// Enqueue appends msg to the queue. It never blocks.
func (r *Router) Enqueue(rc Context, msg message.Message) error {
	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()

		return ErrStopped
	}
	r.queue = append(r.queue, Envelope{Ctx: rc, Msg: msg})
	r.mu.Unlock()

	select {
	case r.notify <- struct{}{}:
	default:
	}

	return nil
}

// Len returns the number of queued messages.
func (r *Router) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return len(r.queue)
}

// Run drains the queue until Stop is called or ctx is done. Handlers run one
// at a time in enqueue order.
func (r *Router) Run(ctx context.Context) error {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()

		return ErrAlreadyRunning
	}
	r.running = true
	ctx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.mu.Unlock()

	defer close(r.done)
	defer cancel()

	r.logger.Info("router started")
	for {
		env, ok := r.pop()
		if ok {
			r.dispatch(ctx, env)

			continue
		}

		select {
		case <-r.notify:
		case <-r.stop:
			r.drop()

			return nil
		case <-ctx.Done():
			r.shut()
			r.drop()

			return ctx.Err()
		}
	}
}

// Stop signals the loop and waits up to timeout for the in-flight handler to
// return. Past the timeout the handler's context is canceled and the loop is
// abandoned.
func (r *Router) Stop(timeout time.Duration) error {
	r.shut()

	r.mu.Lock()
	running, cancel := r.running, r.cancel
	r.mu.Unlock()
	if !running {
		return nil
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-r.done:
		r.logger.Info("router stopped")

		return nil
	case <-timer.C:
		cancel()
		r.logger.Error("router did not stop in time, abandoning dispatch loop", slog.Duration("timeout", timeout))

		return ErrStopTimeout
	}
}

func (r *Router) shut() {
	r.stopOnce.Do(func() {
		r.mu.Lock()
		r.stopped = true
		r.mu.Unlock()
		close(r.stop)
	})
}

func (r *Router) pop() (Envelope, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	select {
	case <-r.stop:
		return Envelope{}, false
	default:
	}

	if len(r.queue) == 0 {
		return Envelope{}, false
	}
	env := r.queue[0]
	r.queue[0] = Envelope{}
	r.queue = r.queue[1:]

	return env, true
}

func (r *Router) drop() {
	r.mu.Lock()
	n := len(r.queue)
	r.queue = nil
	r.mu.Unlock()

	if n > 0 {
		r.logger.Warn("router stopped with queued messages", slog.Int("dropped", n))
	}
}

func (r *Router) dispatch(ctx context.Context, env Envelope) {
	defer func() {
		if p := recover(); p != nil {
			r.logger.Error("handler panicked",
				slog.String("type", string(env.Msg.Type)),
				slog.String("peer_id", env.Ctx.PeerID),
				slog.Any("panic", p),
				slog.String("stack", string(debug.Stack())),
			)
		}
	}()

	h := r.table.handler(env.Msg.Type)
	if h == nil {
		r.logger.Warn("no handler for message type, dropping",
			slog.String("type", string(env.Msg.Type)),
			slog.String("peer_id", env.Ctx.PeerID),
		)

		return
	}

	if err := h(ctx, env.Ctx, env.Msg); err != nil {
		r.logger.Warn("handler failed",
			slog.String("type", string(env.Msg.Type)),
			slog.String("peer_id", env.Ctx.PeerID),
			slog.Any("error", err),
		)
	}
}
