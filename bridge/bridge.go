// Package bridge turns blocking fit and evaluate calls into asynchronous
// request and response exchanges with peers.
//
// Each outstanding request owns a one-shot result cell. The dispatch loop
// writes the cell at most once and only the blocked caller reads it, so a
// response arriving after the caller gave up is dropped without effect.
package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/absmach/fedmob/pkg/message"
	"github.com/absmach/fedmob/pkg/weights"
	"github.com/google/uuid"
)

const (
	DefaultFitTimeout      = 900 * time.Second
	DefaultEvaluateTimeout = 30 * time.Second
)

// Kind is the round call a request belongs to.
type Kind uint8

const (
	Fit Kind = iota
	Evaluate
)

func (k Kind) String() string {
	switch k {
	case Fit:
		return "fit"
	case Evaluate:
		return "evaluate"
	default:
		return "unknown"
	}
}

// Type is the internal router message type carrying requests of this kind.
func (k Kind) Type() message.Type {
	if k == Evaluate {
		return message.Evaluate
	}

	return message.Fit
}

// Request is an outstanding round call to one peer.
type Request struct {
	ID      string
	PeerID  string
	Round   int
	Kind    Kind
	Config  message.Config
	Payload json.RawMessage
}

// Message builds the router message that delivers the request.
func (r Request) Message() message.Message {
	return message.Message{
		Type:    r.Kind.Type(),
		Round:   message.Int(r.Round),
		Config:  r.Config,
		Weights: r.Payload,
	}
}

// Dispatcher hands a request to the dispatch loop. It must not block.
type Dispatcher interface {
	Dispatch(ctx context.Context, req Request) error
}

// Response is what a peer sent back for a request.
type Response struct {
	Status     string
	Error      string
	Weights    json.RawMessage
	NumSamples int
	Loss       float64
	Metrics    map[string]any
	Err        error
}

// FitResult is the outcome of a fit call. A result with zero samples carries
// no contribution; Err then tells why.
type FitResult struct {
	Weights    []weights.Tensor
	NumSamples int
	Metrics    map[string]any
	Err        error
}

type EvaluateResult struct {
	Loss       float64
	NumSamples int
	Metrics    map[string]any
	Err        error
}

type Config struct {
	FitTimeout      time.Duration
	EvaluateTimeout time.Duration
	// Layout, when set, is the expected model architecture. Fit results that
	// do not match it are discarded.
	Layout weights.Layout
}

type key struct {
	peer string
	kind Kind
}

type pending struct {
	id    string
	round int
	done  chan Response
}

type Bridge struct {
	dispatcher Dispatcher
	cfg        Config
	logger     *slog.Logger

	mu      sync.Mutex
	pending map[key]*pending
}

func New(dispatcher Dispatcher, cfg Config, logger *slog.Logger) *Bridge {
	if cfg.FitTimeout <= 0 {
		cfg.FitTimeout = DefaultFitTimeout
	}
	if cfg.EvaluateTimeout <= 0 {
		cfg.EvaluateTimeout = DefaultEvaluateTimeout
	}

	return &Bridge{
		dispatcher: dispatcher,
		cfg:        cfg,
		logger:     logger,
		pending:    make(map[key]*pending),
	}
}

// RequestFit asks the peer to train on ws and blocks until it answers, the
// fit timeout elapses or ctx is done. It never fails: on any error the input
// weights come back with zero samples.
func (b *Bridge) RequestFit(ctx context.Context, peerID string, ws []weights.Tensor, cfg message.Config) FitResult {
	resp, err := b.call(ctx, Fit, peerID, ws, cfg)
	if err == nil {
		var res FitResult
		if res, err = b.fitResult(resp); err == nil {
			return res
		}
	}

	b.logger.WarnContext(ctx, "fit produced no contribution",
		slog.String("peer_id", peerID),
		slog.Int("round", cfg.Int("round", 0)),
		slog.Any("error", err),
	)

	return FitResult{
		Weights: weights.Clone(ws),
		Metrics: map[string]any{},
		Err:     err,
	}
}

// RequestEvaluate asks the peer to evaluate ws. Like RequestFit it never
// fails; errors yield zero samples.
func (b *Bridge) RequestEvaluate(ctx context.Context, peerID string, ws []weights.Tensor, cfg message.Config) EvaluateResult {
	resp, err := b.call(ctx, Evaluate, peerID, ws, cfg)
	if err == nil {
		if err = responseErr(resp); err == nil {
			return EvaluateResult{
				Loss:       resp.Loss,
				NumSamples: max(resp.NumSamples, 0),
				Metrics:    metricsOrEmpty(resp.Metrics),
			}
		}
	}

	b.logger.WarnContext(ctx, "evaluate produced no contribution",
		slog.String("peer_id", peerID),
		slog.Int("round", cfg.Int("round", 0)),
		slog.Any("error", err),
	)

	return EvaluateResult{
		Metrics: map[string]any{},
		Err:     err,
	}
}

// Resolve delivers resp to the pending request of the given kind. A non-zero
// round must match the request's round. It reports whether a request was
// waiting; a late or mismatched response is dropped.
func (b *Bridge) Resolve(peerID string, kind Kind, round int, resp Response) bool {
	k := key{peer: peerID, kind: kind}

	b.mu.Lock()
	p, ok := b.pending[k]
	if !ok {
		b.mu.Unlock()
		b.logger.Debug("dropping response without pending request",
			slog.String("peer_id", peerID),
			slog.String("kind", kind.String()),
		)

		return false
	}
	if round != 0 && round != p.round {
		b.mu.Unlock()
		b.logger.Warn("dropping response for another round",
			slog.String("peer_id", peerID),
			slog.String("kind", kind.String()),
			slog.Int("round", round),
			slog.Int("pending_round", p.round),
		)

		return false
	}
	delete(b.pending, k)
	b.mu.Unlock()

	// The cell is buffered and the request left the map under the lock, so
	// this is its only write.
	p.done <- resp

	return true
}

// Fail resolves the pending request of the given kind with err.
func (b *Bridge) Fail(peerID string, kind Kind, err error) bool {
	return b.Resolve(peerID, kind, 0, Response{Err: err})
}

// Abort fails every pending request of the peer.
func (b *Bridge) Abort(peerID string) int {
	n := 0
	for _, kind := range []Kind{Fit, Evaluate} {
		if b.Fail(peerID, kind, ErrAborted) {
			n++
		}
	}

	return n
}

// Pending returns the round of the peer's outstanding request of the given kind.
func (b *Bridge) Pending(peerID string, kind Kind) (int, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	p, ok := b.pending[key{peer: peerID, kind: kind}]
	if !ok {
		return 0, false
	}

	return p.round, true
}

// Holds reports whether request id is still the one awaiting a reply from
// the peer.
func (b *Bridge) Holds(peerID string, kind Kind, id string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	p, ok := b.pending[key{peer: peerID, kind: kind}]

	return ok && p.id == id
}

func (b *Bridge) call(ctx context.Context, kind Kind, peerID string, ws []weights.Tensor, cfg message.Config) (Response, error) {
	payload, err := weights.EncodeJSON(ws)
	if err != nil {
		return Response{}, err
	}

	req := Request{
		ID:      uuid.NewString(),
		PeerID:  peerID,
		Round:   cfg.Int("round", 0),
		Kind:    kind,
		Config:  cfg.Clone(),
		Payload: payload,
	}
	p := &pending{
		id:    req.ID,
		round: req.Round,
		done:  make(chan Response, 1),
	}

	k := key{peer: peerID, kind: kind}
	b.mu.Lock()
	prev, ok := b.pending[k]
	b.pending[k] = p
	b.mu.Unlock()
	if ok {
		prev.done <- Response{Err: ErrSuperseded}
	}
	defer b.clear(k, p)

	if err := b.dispatcher.Dispatch(ctx, req); err != nil {
		return Response{}, fmt.Errorf("failed to dispatch %s request: %w", kind, err)
	}

	timeout := b.cfg.FitTimeout
	if kind == Evaluate {
		timeout = b.cfg.EvaluateTimeout
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case resp := <-p.done:
		return resp, resp.Err
	case <-timer.C:
		return Response{}, fmt.Errorf("%w after %s", ErrTimeout, timeout)
	case <-ctx.Done():
		return Response{}, ctx.Err()
	}
}

// clear removes p unless a newer request or a resolver already took its place.
func (b *Bridge) clear(k key, p *pending) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if cur, ok := b.pending[k]; ok && cur == p {
		delete(b.pending, k)
	}
}

func (b *Bridge) fitResult(resp Response) (FitResult, error) {
	if err := responseErr(resp); err != nil {
		return FitResult{}, err
	}

	ws, err := weights.DecodeJSON(resp.Weights)
	if err != nil {
		return FitResult{}, err
	}
	if b.cfg.Layout != nil {
		if err := b.cfg.Layout.Validate(ws); err != nil {
			return FitResult{}, err
		}
	}

	return FitResult{
		Weights:    ws,
		NumSamples: max(resp.NumSamples, 0),
		Metrics:    metricsOrEmpty(resp.Metrics),
	}, nil
}

func responseErr(resp Response) error {
	if resp.Err != nil {
		return resp.Err
	}
	if resp.Status == message.StatusFailure {
		return fmt.Errorf("%w: %s", ErrPeerFailed, resp.Error)
	}

	return nil
}

func metricsOrEmpty(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}

	return m
}
