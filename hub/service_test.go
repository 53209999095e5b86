package hub_test

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/absmach/fedmob/bridge"
	"github.com/absmach/fedmob/hub"
	pkgerrors "github.com/absmach/fedmob/pkg/errors"
	"github.com/absmach/fedmob/pkg/message"
	"github.com/absmach/fedmob/pkg/weights"
	"github.com/absmach/fedmob/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const waitFor = 2 * time.Second

var errClosed = errors.New("connection closed")

// peer is an in-memory session.Conn that records what the hub sends.
type peer struct {
	msgs   chan message.Message
	closed atomic.Bool
}

func newPeer() *peer {
	return &peer{msgs: make(chan message.Message, 32)}
}

func (p *peer) Send(_ context.Context, msg message.Message) error {
	if p.closed.Load() {
		return errClosed
	}
	select {
	case p.msgs <- msg:
		return nil
	default:
		return session.ErrOutboxFull
	}
}

func (p *peer) Close() error {
	p.closed.Store(true)

	return nil
}

func (p *peer) next(t *testing.T) message.Message {
	t.Helper()

	select {
	case msg := <-p.msgs:
		return msg
	case <-time.After(waitFor):
		require.FailNow(t, "peer received nothing")

		return message.Message{}
	}
}

func newHub(t *testing.T, cfg hub.Config) hub.Service {
	t.Helper()

	svc := hub.NewService(cfg, slog.Default())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = svc.Start(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
		_ = svc.Shutdown(context.Background())
	})

	return svc
}

func register(t *testing.T, svc hub.Service, id string) *peer {
	t.Helper()

	p := newPeer()
	require.NoError(t, svc.Connect(context.Background(), id, p))
	ack := p.next(t)
	require.Equal(t, message.RegisterAck, ack.Type)
	require.Equal(t, message.StatusSuccess, ack.Status)

	return p
}

func tensor(t *testing.T, vals ...float32) weights.Tensor {
	t.Helper()

	ts, err := weights.NewTensor([]int{len(vals)}, vals)
	require.NoError(t, err)

	return ts
}

func encode(t *testing.T, ts ...weights.Tensor) json.RawMessage {
	t.Helper()

	raw, err := weights.EncodeJSON(ts)
	require.NoError(t, err)

	return raw
}

func state(t *testing.T, svc hub.Service, id string) session.State {
	t.Helper()

	s, err := svc.ViewPeer(context.Background(), id)
	require.NoError(t, err)

	return s.State
}

func TestFitRoundTrip(t *testing.T) {
	ctx := context.Background()
	svc := newHub(t, hub.Config{})
	p := register(t, svc, "p1")
	assert.Equal(t, session.Ready, state(t, svc, "p1"))

	w := tensor(t, 0.25, -1, 8)

	go func() {
		start := p.next(t)
		assert.Equal(t, message.StartTraining, start.Type)
		assert.Equal(t, message.Int(1), start.Round)
		assert.JSONEq(t, `[]`, string(start.Weights))
		assert.Equal(t, session.Training, state(t, svc, "p1"))

		_ = svc.Receive(ctx, "p1", message.Message{
			Type:       message.TrainingComplete,
			Weights:    encode(t, w),
			NumSamples: 50,
			Metrics:    map[string]any{"acc": 0.9},
		})
	}()

	res := svc.Fit(ctx, "p1", []weights.Tensor{}, message.Config{"round": 1})
	require.NoError(t, res.Err)
	assert.Equal(t, []weights.Tensor{w}, res.Weights)
	assert.Equal(t, 50, res.NumSamples)
	assert.Equal(t, map[string]any{"acc": 0.9}, res.Metrics)

	assert.Equal(t, message.TrainingAcknowledged, p.next(t).Type)
	s, err := svc.ViewPeer(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, session.ActiveSession, s.State)
	assert.InDelta(t, 100, s.Progress, 1e-9)
}

func TestFitTimeoutKeepsPeer(t *testing.T) {
	ctx := context.Background()
	svc := newHub(t, hub.Config{FitTimeout: 30 * time.Millisecond})
	p := register(t, svc, "p1")

	input := []weights.Tensor{tensor(t, 1, 2)}
	res := svc.Fit(ctx, "p1", input, message.Config{"round": "1"})
	assert.ErrorIs(t, res.Err, bridge.ErrTimeout)
	assert.Zero(t, res.NumSamples)
	assert.Equal(t, input, res.Weights)
	assert.Equal(t, message.StartTraining, p.next(t).Type)

	s, err := svc.ViewPeer(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, session.ActiveSession, s.State)
	assert.Equal(t, 1, s.Round)

	summary, err := svc.Summary(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Idle)
	assert.Zero(t, summary.Training)

	// The late completion is acknowledged but changes nothing else.
	require.NoError(t, svc.Receive(ctx, "p1", message.Message{Type: message.TrainingComplete, NumSamples: 3}))
	assert.Equal(t, message.TrainingAcknowledged, p.next(t).Type)
	assert.Equal(t, session.ActiveSession, state(t, svc, "p1"))

	// The peer takes the next round.
	go func() {
		assert.Equal(t, message.StartTraining, p.next(t).Type)
		_ = svc.Receive(ctx, "p1", message.Message{Type: message.TrainingComplete, Round: 2, NumSamples: 7})
	}()
	res = svc.Fit(ctx, "p1", input, message.Config{"round": "2"})
	require.NoError(t, res.Err)
	assert.Equal(t, 7, res.NumSamples)
}

func TestSupersededFitKeepsNewRound(t *testing.T) {
	ctx := context.Background()
	svc := newHub(t, hub.Config{})
	p := register(t, svc, "p1")

	first := make(chan bridge.FitResult, 1)
	go func() {
		first <- svc.Fit(ctx, "p1", nil, message.Config{"round": "1"})
	}()
	assert.Equal(t, message.Int(1), p.next(t).Round)

	second := make(chan bridge.FitResult, 1)
	go func() {
		second <- svc.Fit(ctx, "p1", nil, message.Config{"round": "2"})
	}()
	assert.Equal(t, message.Int(2), p.next(t).Round)

	res := <-first
	assert.ErrorIs(t, res.Err, bridge.ErrSuperseded)

	s, err := svc.ViewPeer(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, session.Training, s.State)
	assert.Equal(t, 2, s.Round)

	require.NoError(t, svc.Receive(ctx, "p1", message.Message{Type: message.TrainingComplete, Round: 2, NumSamples: 5}))
	res = <-second
	require.NoError(t, res.Err)
	assert.Equal(t, 5, res.NumSamples)
	assert.Equal(t, message.TrainingAcknowledged, p.next(t).Type)
	assert.Equal(t, session.ActiveSession, state(t, svc, "p1"))
}

func TestFitUnknownPeer(t *testing.T) {
	svc := newHub(t, hub.Config{})

	res := svc.Fit(context.Background(), "ghost", nil, message.Config{"round": "1"})
	assert.Error(t, res.Err)
	assert.Zero(t, res.NumSamples)
}

func TestDisconnectAbortsFit(t *testing.T) {
	ctx := context.Background()
	svc := newHub(t, hub.Config{})
	p := register(t, svc, "p1")

	results := make(chan bridge.FitResult, 1)
	go func() {
		results <- svc.Fit(ctx, "p1", nil, message.Config{"round": "2"})
	}()
	assert.Equal(t, message.StartTraining, p.next(t).Type)

	require.NoError(t, svc.Disconnect(ctx, "p1", p))
	assert.True(t, p.closed.Load())

	select {
	case res := <-results:
		assert.ErrorIs(t, res.Err, bridge.ErrAborted)
	case <-time.After(waitFor):
		t.Fatal("fit was not aborted")
	}

	_, err := svc.ViewPeer(ctx, "p1")
	assert.ErrorIs(t, err, pkgerrors.ErrPeerNotFound)
	assert.ErrorIs(t, svc.Disconnect(ctx, "p1", nil), pkgerrors.ErrPeerNotFound)
}

func TestEvaluateRoundTrip(t *testing.T) {
	ctx := context.Background()
	svc := newHub(t, hub.Config{})
	p := register(t, svc, "p1")

	go func() {
		req := p.next(t)
		assert.Equal(t, message.EvaluateRequest, req.Type)
		assert.NotEmpty(t, req.Parameters)
		assert.Equal(t, "32", req.Config.String("batch_size"))

		_ = svc.Receive(ctx, "p1", message.Message{
			Type:        message.EvaluateComplete,
			Loss:        0.4,
			Accuracy:    0.85,
			NumExamples: 20,
		})
	}()

	res := svc.Evaluate(ctx, "p1", []weights.Tensor{tensor(t, 1)}, message.Config{"round": "1", "batch_size": "32"})
	require.NoError(t, res.Err)
	assert.InDelta(t, 0.4, res.Loss, 1e-9)
	assert.Equal(t, 20, res.NumSamples)
	assert.InDelta(t, 0.85, res.Metrics["accuracy"], 1e-9)
}

func TestPeerMessages(t *testing.T) {
	ctx := context.Background()
	svc := newHub(t, hub.Config{})
	p := register(t, svc, "p1")

	w := tensor(t, 3, 4)
	require.NoError(t, svc.Receive(ctx, "p1", message.Message{Type: message.UpdateWeights, Weights: encode(t, w)}))
	require.NoError(t, svc.Receive(ctx, "p1", message.Message{Type: message.UpdateWeights, Weights: json.RawMessage(`{"bad":1}`)}))
	require.NoError(t, svc.Receive(ctx, "p1", message.Message{Type: "gradient_push"}))
	require.NoError(t, svc.Receive(ctx, "p1", message.Message{Type: message.StartTraining, Round: 5}))

	started := p.next(t)
	assert.Equal(t, message.TrainingStarted, started.Type)
	assert.Equal(t, message.Int(5), started.Round)

	params, err := svc.GetParameters(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, []weights.Tensor{w}, params)

	require.NoError(t, svc.Receive(ctx, "p1", message.Message{Type: message.TrainingUpdate, Progress: 42}))
	require.Eventually(t, func() bool {
		s, err := svc.ViewPeer(ctx, "p1")

		return err == nil && s.Progress == 42 && s.State == session.Training && s.Round == 5
	}, waitFor, 5*time.Millisecond)

	// A repeated register is acknowledged again.
	require.NoError(t, svc.Receive(ctx, "p1", message.Message{Type: message.Register, ClientID: "p1"}))
	assert.Equal(t, message.RegisterAck, p.next(t).Type)

	assert.ErrorIs(t, svc.Receive(ctx, "ghost", message.Message{Type: message.TrainingUpdate}), pkgerrors.ErrNotRegistered)
	_, err = svc.GetParameters(ctx, "ghost")
	assert.ErrorIs(t, err, pkgerrors.ErrPeerNotFound)
}

func TestRegistration(t *testing.T) {
	ctx := context.Background()
	svc := newHub(t, hub.Config{})

	anon := newPeer()
	assert.ErrorIs(t, svc.Connect(ctx, "", anon), pkgerrors.ErrEmptyKey)
	nack := anon.next(t)
	assert.Equal(t, message.RegisterAck, nack.Type)
	assert.Equal(t, message.StatusFailure, nack.Status)

	first := register(t, svc, "p1")
	second := register(t, svc, "p1")
	assert.True(t, first.closed.Load())
	assert.False(t, second.closed.Load())

	// The replaced connection going away must not evict the new one.
	assert.ErrorIs(t, svc.Disconnect(ctx, "p1", first), pkgerrors.ErrPeerNotFound)
	_, err := svc.ViewPeer(ctx, "p1")
	assert.NoError(t, err)
}

func TestLifecycleTransitions(t *testing.T) {
	ctx := context.Background()
	svc := newHub(t, hub.Config{})
	register(t, svc, "p1")

	require.NoError(t, svc.Attach(ctx, "p1"))
	assert.Equal(t, session.ActiveSession, state(t, svc, "p1"))
	require.NoError(t, svc.Finish(ctx, "p1"))
	assert.Equal(t, session.Completed, state(t, svc, "p1"))
	require.NoError(t, svc.Detach(ctx, "p1"))
	assert.Equal(t, session.Ready, state(t, svc, "p1"))

	assert.ErrorIs(t, svc.Attach(ctx, "ghost"), pkgerrors.ErrPeerNotFound)
	assert.ErrorIs(t, svc.Detach(ctx, "ghost"), pkgerrors.ErrPeerNotFound)
	assert.ErrorIs(t, svc.Finish(ctx, "ghost"), pkgerrors.ErrPeerNotFound)
}

func TestListAndSummary(t *testing.T) {
	ctx := context.Background()
	svc := newHub(t, hub.Config{})
	for _, id := range []string{"c", "a", "b"} {
		register(t, svc, id)
	}

	cases := []struct {
		desc   string
		offset uint64
		limit  uint64
		ids    []string
	}{
		{desc: "all", limit: 10, ids: []string{"a", "b", "c"}},
		{desc: "page", offset: 1, limit: 1, ids: []string{"b"}},
		{desc: "past end", offset: 5, limit: 1, ids: []string{}},
	}
	for _, tc := range cases {
		t.Run(tc.desc, func(t *testing.T) {
			page, err := svc.ListPeers(ctx, tc.offset, tc.limit)
			require.NoError(t, err)
			assert.Equal(t, uint64(3), page.Total)

			ids := []string{}
			for _, s := range page.Sessions {
				ids = append(ids, s.ID)
			}
			assert.Equal(t, tc.ids, ids)
		})
	}

	sum, err := svc.Summary(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, sum.Total)
	assert.Equal(t, 3, sum.Idle)
	assert.Zero(t, sum.Training)
}

func TestSweep(t *testing.T) {
	ctx := context.Background()
	svc := newHub(t, hub.Config{StaleThreshold: 20 * time.Millisecond, SweepInterval: time.Hour})
	stale := register(t, svc, "stale")
	time.Sleep(40 * time.Millisecond)
	register(t, svc, "fresh")

	ids, err := svc.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"stale"}, ids)
	assert.True(t, stale.closed.Load())

	page, err := svc.ListPeers(ctx, 0, 10)
	require.NoError(t, err)
	require.Len(t, page.Sessions, 1)
	assert.Equal(t, "fresh", page.Sessions[0].ID)
}

func TestShutdown(t *testing.T) {
	svc := hub.NewService(hub.Config{}, slog.Default())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		_ = svc.Start(ctx)
	}()

	p := register(t, svc, "p1")
	require.NoError(t, svc.Shutdown(context.Background()))
	assert.True(t, p.closed.Load())
	assert.ErrorIs(t, svc.Connect(context.Background(), "p2", newPeer()), pkgerrors.ErrShuttingDown)
}
