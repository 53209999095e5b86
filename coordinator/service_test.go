package coordinator_test

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/absmach/fedmob/bridge"
	"github.com/absmach/fedmob/coordinator"
	"github.com/absmach/fedmob/hub/mocks"
	pkgerrors "github.com/absmach/fedmob/pkg/errors"
	"github.com/absmach/fedmob/pkg/fl"
	"github.com/absmach/fedmob/pkg/message"
	"github.com/absmach/fedmob/pkg/storage"
	"github.com/absmach/fedmob/pkg/weights"
	"github.com/absmach/fedmob/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func tensor(t *testing.T, vals ...float32) weights.Tensor {
	t.Helper()

	ts, err := weights.NewTensor([]int{len(vals)}, vals)
	require.NoError(t, err)

	return ts
}

func page(ids ...string) session.Page {
	p := session.Page{Total: uint64(len(ids)), Sessions: []session.Session{}}
	for _, id := range ids {
		p.Sessions = append(p.Sessions, session.Session{ID: id, State: session.Ready})
	}

	return p
}

func newService(t *testing.T) (coordinator.Service, *mocks.Service, *fl.Store) {
	t.Helper()

	h := new(mocks.Service)
	store := fl.NewStore(storage.NewInMemoryStorage())
	svc := coordinator.NewService(h, store, fl.NewFedAvgAggregator(), slog.Default())

	return svc, h, store
}

func expectRelease(h *mocks.Service) {
	h.On("Attach", mock.Anything, mock.Anything).Return(nil)
	h.On("Finish", mock.Anything, mock.Anything).Return(nil)
	h.On("Detach", mock.Anything, mock.Anything).Return(nil)
	h.On("GetParameters", mock.Anything, mock.Anything).Return([]weights.Tensor(nil), nil)
}

func roundIs(n string) any {
	return mock.MatchedBy(func(cfg message.Config) bool {
		return cfg.String("round") == n
	})
}

func TestRunAveragesRounds(t *testing.T) {
	ctx := context.Background()
	svc, h, store := newService(t)
	expectRelease(h)
	h.On("ListPeers", mock.Anything, mock.Anything, mock.Anything).Return(page("p1", "p2"), nil)

	w1 := tensor(t, 1, 2)
	w2 := tensor(t, 5, 6)
	avg := []weights.Tensor{tensor(t, 4, 5)}

	h.On("Fit", mock.Anything, "p1", mock.Anything, mock.Anything).
		Return(bridge.FitResult{Weights: []weights.Tensor{w1}, NumSamples: 10, Metrics: map[string]any{}})
	h.On("Fit", mock.Anything, "p2", mock.Anything, mock.Anything).
		Return(bridge.FitResult{Weights: []weights.Tensor{w2}, NumSamples: 30, Metrics: map[string]any{}})
	h.On("Evaluate", mock.Anything, "p1", mock.Anything, mock.Anything).
		Return(bridge.EvaluateResult{Loss: 1, NumSamples: 10, Metrics: map[string]any{"accuracy": 0.5}})
	h.On("Evaluate", mock.Anything, "p2", mock.Anything, mock.Anything).
		Return(bridge.EvaluateResult{Loss: 3, NumSamples: 30, Metrics: map[string]any{"accuracy": 0.9}})

	err := svc.Run(ctx, coordinator.Config{NumRounds: 2, MinAvailable: 2, LearningRate: 0.1})
	require.NoError(t, err)

	// The second round trains from the first round's aggregate.
	h.AssertCalled(t, "Fit", mock.Anything, "p1", []weights.Tensor{}, roundIs("1"))
	h.AssertCalled(t, "Fit", mock.Anything, "p1", avg, roundIs("2"))
	h.AssertCalled(t, "Evaluate", mock.Anything, "p2", avg, roundIs("2"))
	h.AssertCalled(t, "Fit", mock.Anything, "p2", mock.Anything, mock.MatchedBy(func(cfg message.Config) bool {
		return cfg.String("learning_rate") == "0.1" && cfg.String("epochs") == "1" &&
			cfg.String("batch_size") == "32" && cfg.String("model_variant") == "basic"
	}))
	h.AssertNumberOfCalls(t, "Finish", 2)
	h.AssertNumberOfCalls(t, "Detach", 2)

	rounds, err := svc.ListRounds(ctx, 0, 10)
	require.NoError(t, err)
	require.Equal(t, uint64(2), rounds.Total)
	for i, r := range rounds.Rounds {
		assert.Equal(t, i+1, r.Number)
		assert.True(t, r.Aggregated)
		assert.Equal(t, 40, r.NumSamples)
		assert.ElementsMatch(t, []string{"p1", "p2"}, r.Contributors)
		require.NotNil(t, r.Evaluation)
		assert.InDelta(t, 2.5, r.Evaluation.Loss, 1e-9)
		assert.InDelta(t, 0.8, r.Evaluation.Accuracy, 1e-9)
	}

	model, err := store.LatestModel(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, model.Round)
	assert.Equal(t, avg, model.Weights)

	st, err := svc.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, coordinator.Completed, st.State)
	assert.Equal(t, 2, st.Round)
	require.NotNil(t, st.Evaluation)
	assert.Equal(t, 2, st.Evaluation.NumClients)
}

func TestRunExcludesFailedPeers(t *testing.T) {
	ctx := context.Background()
	svc, h, _ := newService(t)
	expectRelease(h)
	h.On("ListPeers", mock.Anything, mock.Anything, mock.Anything).Return(page("p1", "p2"), nil)

	w1 := tensor(t, 2, 4)
	h.On("Fit", mock.Anything, "p1", mock.Anything, mock.Anything).
		Return(bridge.FitResult{Weights: []weights.Tensor{w1}, NumSamples: 8, Metrics: map[string]any{}})
	h.On("Fit", mock.Anything, "p2", mock.Anything, mock.Anything).
		Return(bridge.FitResult{Weights: []weights.Tensor{}, Metrics: map[string]any{}, Err: bridge.ErrTimeout})
	h.On("Evaluate", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(bridge.EvaluateResult{Metrics: map[string]any{}, Err: bridge.ErrTimeout})

	require.NoError(t, svc.Run(ctx, coordinator.Config{NumRounds: 1, MinAvailable: 2}))

	r, err := svc.ViewRound(ctx, 1)
	require.NoError(t, err)
	assert.True(t, r.Aggregated)
	assert.Equal(t, []string{"p1"}, r.Contributors)
	assert.Equal(t, 8, r.NumSamples)
	assert.Contains(t, r.Failures, "p2")
	assert.Nil(t, r.Evaluation)
}

func TestRunWithoutContributions(t *testing.T) {
	ctx := context.Background()
	svc, h, store := newService(t)
	expectRelease(h)
	h.On("ListPeers", mock.Anything, mock.Anything, mock.Anything).Return(page("p1"), nil)
	h.On("Fit", mock.Anything, "p1", mock.Anything, mock.Anything).
		Return(bridge.FitResult{Weights: []weights.Tensor{}, Metrics: map[string]any{}, Err: bridge.ErrAborted})

	require.NoError(t, svc.Run(ctx, coordinator.Config{NumRounds: 2, MinAvailable: 1}))
	h.AssertNotCalled(t, "Evaluate", mock.Anything, mock.Anything, mock.Anything, mock.Anything)

	rounds, err := svc.ListRounds(ctx, 0, 10)
	require.NoError(t, err)
	require.Len(t, rounds.Rounds, 2)
	for _, r := range rounds.Rounds {
		assert.False(t, r.Aggregated)
		assert.Equal(t, fl.ErrNoUpdates.Error(), r.Error)
	}

	_, err = store.LatestModel(ctx)
	assert.ErrorIs(t, err, pkgerrors.ErrNotFound)
}

func TestRunNotEnoughPeers(t *testing.T) {
	ctx := context.Background()
	svc, h, _ := newService(t)
	expectRelease(h)
	h.On("ListPeers", mock.Anything, mock.Anything, mock.Anything).Return(page("p1"), nil)

	err := svc.Run(ctx, coordinator.Config{NumRounds: 1, MinAvailable: 2, WaitTimeout: 50 * time.Millisecond})
	assert.ErrorIs(t, err, coordinator.ErrNotEnoughPeers)
	h.AssertNotCalled(t, "Fit", mock.Anything, mock.Anything, mock.Anything, mock.Anything)

	st, err := svc.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, coordinator.Failed, st.State)
	assert.NotEmpty(t, st.Error)

	r, err := svc.ViewRound(ctx, 1)
	require.NoError(t, err)
	assert.Contains(t, r.Error, coordinator.ErrNotEnoughPeers.Error())
}

func TestStartStop(t *testing.T) {
	ctx := context.Background()
	svc, h, _ := newService(t)
	expectRelease(h)
	h.On("ListPeers", mock.Anything, mock.Anything, mock.Anything).Return(page(), nil)

	assert.ErrorIs(t, svc.Stop(ctx), pkgerrors.ErrNotRunning)

	st, err := svc.Start(ctx, coordinator.Config{NumRounds: 1, WaitTimeout: time.Minute})
	require.NoError(t, err)
	assert.Equal(t, coordinator.Running, st.State)
	assert.Equal(t, 1, st.NumRounds)

	_, err = svc.Start(ctx, coordinator.Config{})
	assert.ErrorIs(t, err, pkgerrors.ErrAlreadyRunning)

	stopCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	require.NoError(t, svc.Stop(stopCtx))

	st, err = svc.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, coordinator.Stopped, st.State)
	assert.False(t, st.FinishedAt.IsZero())
}

func TestListPeersFailure(t *testing.T) {
	svc, h, _ := newService(t)
	expectRelease(h)
	errHub := errors.New("hub unavailable")
	h.On("ListPeers", mock.Anything, mock.Anything, mock.Anything).Return(session.Page{}, errHub)

	err := svc.Run(context.Background(), coordinator.Config{NumRounds: 1, WaitTimeout: time.Minute})
	assert.ErrorIs(t, err, errHub)
}

func TestConfig(t *testing.T) {
	cases := []struct {
		desc string
		cfg  coordinator.Config
		err  error
	}{
		{desc: "defaults", cfg: coordinator.Config{}},
		{desc: "negative rounds", cfg: coordinator.Config{NumRounds: -1}, err: coordinator.ErrInvalidConfig},
		{desc: "negative batch size", cfg: coordinator.Config{BatchSize: -3}, err: coordinator.ErrInvalidConfig},
		{desc: "negative learning rate", cfg: coordinator.Config{LearningRate: -0.1}, err: coordinator.ErrInvalidConfig},
		{desc: "negative wait", cfg: coordinator.Config{WaitTimeout: -time.Second}, err: coordinator.ErrInvalidConfig},
	}
	for _, tc := range cases {
		t.Run(tc.desc, func(t *testing.T) {
			err := tc.cfg.WithDefaults().Validate()
			assert.ErrorIs(t, err, tc.err)
		})
	}

	cfg := coordinator.Config{MinAvailable: 4}.WithDefaults()
	assert.Equal(t, coordinator.DefaultNumRounds, cfg.NumRounds)
	assert.Equal(t, 4, cfg.MinFit)
	assert.Equal(t, 4, cfg.MinEvaluate)
	assert.Equal(t, message.Config{
		"round":         "3",
		"batch_size":    "32",
		"model_variant": "basic",
	}, cfg.EvaluateConfig(3))
}
