package coordinator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/absmach/fedmob/hub"
	pkgerrors "github.com/absmach/fedmob/pkg/errors"
	"github.com/absmach/fedmob/pkg/fl"
	"github.com/absmach/fedmob/pkg/weights"
	"github.com/absmach/fedmob/session"
	"github.com/cenkalti/backoff/v4"
	"golang.org/x/sync/errgroup"
)

const (
	allPeers        = math.MaxUint64
	waitMaxInterval = 5 * time.Second
)

var _ Service = (*service)(nil)

type service struct {
	hub        hub.Service
	store      *fl.Store
	aggregator fl.Aggregator
	logger     *slog.Logger
	now        func() time.Time

	mu     sync.Mutex
	status Status
	cancel context.CancelFunc
	done   chan struct{}
}

func NewService(h hub.Service, store *fl.Store, aggregator fl.Aggregator, logger *slog.Logger) Service {
	return &service{
		hub:        h,
		store:      store,
		aggregator: aggregator,
		logger:     logger,
		now:        time.Now,
		status:     Status{State: Idle},
	}
}

func (svc *service) Start(ctx context.Context, cfg Config) (Status, error) {
	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return Status{}, err
	}

	// The run outlives the request that started it.
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	done := make(chan struct{})
	if err := svc.begin(cfg, cancel, done); err != nil {
		cancel()

		return Status{}, err
	}

	go func() {
		defer close(done)
		defer cancel()
		if err := svc.run(runCtx, cfg); err != nil {
			svc.logger.Warn("training run ended with error", slog.Any("error", err))
		}
	}()

	return svc.Status(ctx)
}

func (svc *service) Run(ctx context.Context, cfg Config) error {
	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	done := make(chan struct{})
	defer close(done)
	if err := svc.begin(cfg, cancel, done); err != nil {
		return err
	}

	return svc.run(ctx, cfg)
}

func (svc *service) Stop(ctx context.Context) error {
	svc.mu.Lock()
	cancel, done, running := svc.cancel, svc.done, svc.status.State == Running
	svc.mu.Unlock()
	if !running || cancel == nil {
		return pkgerrors.ErrNotRunning
	}

	cancel()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (svc *service) Status(_ context.Context) (Status, error) {
	svc.mu.Lock()
	defer svc.mu.Unlock()

	st := svc.status
	if st.Evaluation != nil {
		ev := *st.Evaluation
		st.Evaluation = &ev
	}

	return st, nil
}

func (svc *service) ListRounds(ctx context.Context, offset, limit uint64) (fl.RoundPage, error) {
	return svc.store.ListRounds(ctx, offset, limit)
}

func (svc *service) ViewRound(ctx context.Context, round int) (fl.Round, error) {
	return svc.store.Round(ctx, round)
}

func (svc *service) begin(cfg Config, cancel context.CancelFunc, done chan struct{}) error {
	svc.mu.Lock()
	defer svc.mu.Unlock()

	if svc.status.State == Running {
		return pkgerrors.ErrAlreadyRunning
	}
	svc.status = Status{
		State:     Running,
		NumRounds: cfg.NumRounds,
		StartedAt: svc.now(),
	}
	svc.cancel = cancel
	svc.done = done

	return nil
}

func (svc *service) run(ctx context.Context, cfg Config) (err error) {
	attached := map[string]struct{}{}
	defer func() {
		svc.release(context.WithoutCancel(ctx), attached)
		svc.end(ctx, err)
	}()

	var global []weights.Tensor
	for round := 1; round <= cfg.NumRounds; round++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		svc.setRound(round)

		rec, model, err := svc.runRound(ctx, cfg, round, global, attached)
		if serr := svc.store.SaveRound(context.WithoutCancel(ctx), rec); serr != nil {
			return errors.Join(err, fmt.Errorf("failed to save round %d: %w", round, serr))
		}
		if err != nil {
			return err
		}
		if rec.Aggregated {
			global = model.Weights
		}
		svc.setEvaluation(rec.Evaluation)
	}

	return nil
}

// runRound trains on sampled peers, aggregates their updates and evaluates
// the new global model. A round that yields no aggregate still returns a
// record and no error; the caller keeps the previous weights.
func (svc *service) runRound(ctx context.Context, cfg Config, round int, global []weights.Tensor, attached map[string]struct{}) (fl.Round, fl.Model, error) {
	rec := fl.Round{
		Number:       round,
		StartedAt:    svc.now(),
		Participants: []string{},
		Contributors: []string{},
		Failures:     map[string]string{},
	}
	finish := func(err error) (fl.Round, fl.Model, error) {
		rec.FinishedAt = svc.now()
		if err != nil {
			rec.Error = err.Error()
		}

		return rec, fl.Model{}, err
	}

	idle, err := svc.waitForPeers(ctx, cfg)
	if err != nil {
		return finish(err)
	}
	fitPeers := sample(idle, cfg.MinFit)
	for _, id := range fitPeers {
		if err := svc.hub.Attach(ctx, id); err != nil {
			rec.Failures[id] = err.Error()

			continue
		}
		attached[id] = struct{}{}
		rec.Participants = append(rec.Participants, id)
	}

	if global == nil && len(rec.Participants) > 0 {
		global = svc.initialWeights(ctx, rec.Participants[0])
	}

	updates := svc.fit(ctx, cfg, round, rec.Participants, global)
	for _, u := range updates {
		if u.err != nil {
			rec.Failures[u.PeerID] = u.err.Error()
		}
	}
	contributing := fl.Contributing(updatesOf(updates))
	for _, u := range contributing {
		rec.Contributors = append(rec.Contributors, u.PeerID)
	}

	model, err := svc.aggregator.Aggregate(round, contributing)
	if err != nil {
		svc.logger.WarnContext(ctx, "round produced no aggregate",
			slog.Int("round", round),
			slog.Any("error", err),
		)
		rec.Error = err.Error()
		rec.FinishedAt = svc.now()

		return rec, fl.Model{}, nil
	}
	if err := svc.store.SaveModel(ctx, model); err != nil {
		return finish(fmt.Errorf("failed to save model of round %d: %w", round, err))
	}
	rec.Aggregated = true
	rec.NumSamples = model.NumSamples
	rec.Metrics = model.Metrics

	evalPeers := sample(svc.available(ctx), cfg.MinEvaluate)
	evals := svc.evaluate(ctx, cfg, round, evalPeers, model.Weights)
	summary, err := fl.AggregateEvaluate(evals)
	if err != nil {
		svc.logger.WarnContext(ctx, "round produced no evaluation",
			slog.Int("round", round),
			slog.Any("error", err),
		)
	} else {
		rec.Evaluation = &summary
		svc.logger.InfoContext(ctx, "round evaluated",
			slog.Int("round", round),
			slog.Float64("loss", summary.Loss),
			slog.Float64("accuracy", summary.Accuracy),
			slog.Int("num_clients", summary.NumClients),
		)
	}
	rec.FinishedAt = svc.now()

	return rec, model, nil
}

// waitForPeers polls the hub with exponential backoff until enough peers are
// connected and idle, or the wait timeout elapses.
func (svc *service) waitForPeers(ctx context.Context, cfg Config) ([]string, error) {
	var idle []string
	op := func() error {
		page, err := svc.hub.ListPeers(ctx, 0, allPeers)
		if err != nil {
			return backoff.Permanent(err)
		}
		idle = idleOf(page.Sessions)
		if len(page.Sessions) < cfg.MinAvailable || len(idle) < cfg.MinFit {
			return fmt.Errorf("%w: %d connected, %d idle, need %d and %d",
				ErrNotEnoughPeers, len(page.Sessions), len(idle), cfg.MinAvailable, cfg.MinFit)
		}

		return nil
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = min(b.InitialInterval, cfg.WaitTimeout/10)
	b.MaxInterval = min(waitMaxInterval, cfg.WaitTimeout)
	b.MaxElapsedTime = cfg.WaitTimeout
	notify := func(err error, next time.Duration) {
		svc.logger.InfoContext(ctx, "waiting for peers",
			slog.String("reason", err.Error()),
			slog.Duration("retry_in", next),
		)
	}
	if err := backoff.RetryNotify(op, backoff.WithContext(b, ctx), notify); err != nil {
		return nil, err
	}

	return idle, nil
}

func (svc *service) available(ctx context.Context) []string {
	page, err := svc.hub.ListPeers(ctx, 0, allPeers)
	if err != nil {
		svc.logger.WarnContext(ctx, "failed to list peers", slog.Any("error", err))

		return nil
	}

	return idleOf(page.Sessions)
}

// initialWeights seeds the first round with the parameters a peer last
// reported. Without any, peers train from their own initialization.
func (svc *service) initialWeights(ctx context.Context, peerID string) []weights.Tensor {
	ws, err := svc.hub.GetParameters(ctx, peerID)
	if err != nil || ws == nil {
		return []weights.Tensor{}
	}

	return ws
}

type fitUpdate struct {
	fl.Update
	err error
}

func (svc *service) fit(ctx context.Context, cfg Config, round int, peers []string, global []weights.Tensor) []fitUpdate {
	updates := make([]fitUpdate, len(peers))

	var g errgroup.Group
	for i, id := range peers {
		g.Go(func() error {
			res := svc.hub.Fit(ctx, id, global, cfg.FitConfig(round))
			updates[i] = fitUpdate{
				Update: fl.Update{
					PeerID:     id,
					Weights:    res.Weights,
					NumSamples: res.NumSamples,
					Metrics:    res.Metrics,
				},
				err: res.Err,
			}

			return nil
		})
	}
	_ = g.Wait()

	return updates
}

func (svc *service) evaluate(ctx context.Context, cfg Config, round int, peers []string, global []weights.Tensor) []fl.Evaluation {
	evals := make([]fl.Evaluation, len(peers))

	var g errgroup.Group
	for i, id := range peers {
		g.Go(func() error {
			res := svc.hub.Evaluate(ctx, id, global, cfg.EvaluateConfig(round))
			evals[i] = fl.Evaluation{
				PeerID:     id,
				Loss:       res.Loss,
				NumSamples: res.NumSamples,
				Metrics:    res.Metrics,
			}

			return nil
		})
	}
	_ = g.Wait()

	return evals
}

// release marks every attached peer completed and ends its session.
func (svc *service) release(ctx context.Context, attached map[string]struct{}) {
	for id := range attached {
		if err := svc.hub.Finish(ctx, id); err != nil && !errors.Is(err, pkgerrors.ErrPeerNotFound) {
			svc.logger.WarnContext(ctx, "failed to finish peer", slog.String("peer_id", id), slog.Any("error", err))
		}
		if err := svc.hub.Detach(ctx, id); err != nil && !errors.Is(err, pkgerrors.ErrPeerNotFound) {
			svc.logger.WarnContext(ctx, "failed to detach peer", slog.String("peer_id", id), slog.Any("error", err))
		}
	}
}

func (svc *service) setRound(round int) {
	svc.mu.Lock()
	defer svc.mu.Unlock()

	svc.status.Round = round
}

func (svc *service) setEvaluation(ev *fl.EvaluationSummary) {
	if ev == nil {
		return
	}

	svc.mu.Lock()
	defer svc.mu.Unlock()

	svc.status.Evaluation = ev
}

func (svc *service) end(ctx context.Context, err error) {
	svc.mu.Lock()
	defer svc.mu.Unlock()

	svc.status.FinishedAt = svc.now()
	svc.cancel = nil
	switch {
	case err == nil:
		svc.status.State = Completed
	case errors.Is(err, context.Canceled) && ctx.Err() != nil:
		svc.status.State = Stopped
	default:
		svc.status.State = Failed
		svc.status.Error = err.Error()
	}
}

func idleOf(sessions []session.Session) []string {
	ids := make([]string, 0, len(sessions))
	for _, s := range sessions {
		if !s.Training() {
			ids = append(ids, s.ID)
		}
	}

	return ids
}

func updatesOf(fus []fitUpdate) []fl.Update {
	out := make([]fl.Update, len(fus))
	for i, u := range fus {
		out[i] = u.Update
	}

	return out
}

// sample picks up to n ids at random.
func sample(ids []string, n int) []string {
	out := append([]string(nil), ids...)
	rand.Shuffle(len(out), func(i, j int) {
		out[i], out[j] = out[j], out[i]
	})
	if n < len(out) {
		out = out[:n]
	}

	return out
}
