package mqtt_test

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/absmach/fedmob/hub"
	pkgerrors "github.com/absmach/fedmob/pkg/errors"
	"github.com/absmach/fedmob/pkg/message"
	pubsub "github.com/absmach/fedmob/pkg/mqtt"
	"github.com/absmach/fedmob/pkg/mqtt/mocks"
	"github.com/absmach/fedmob/pkg/weights"
	"github.com/absmach/fedmob/transport/mqtt"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

const (
	prefix  = "fl"
	waitFor = 2 * time.Second
)

type publication struct {
	topic string
	msg   message.Message
}

type env struct {
	svc       hub.Service
	transport *mqtt.Transport
	ps        *mocks.PubSub
	published chan publication

	mu       sync.Mutex
	handlers map[string]pubsub.Handler
}

func newEnv(t *testing.T) *env {
	t.Helper()

	e := &env{
		ps:        new(mocks.PubSub),
		published: make(chan publication, 32),
		handlers:  map[string]pubsub.Handler{},
	}
	e.ps.On("Subscribe", mock.Anything, mock.Anything, mock.Anything).Run(func(args mock.Arguments) {
		e.mu.Lock()
		defer e.mu.Unlock()
		e.handlers[args.String(1)] = args.Get(2).(pubsub.Handler)
	}).Return(nil)
	e.ps.On("Publish", mock.Anything, mock.Anything, mock.Anything).Run(func(args mock.Arguments) {
		e.published <- publication{topic: args.String(1), msg: args.Get(2).(message.Message)}
	}).Return(nil)
	e.ps.On("Unsubscribe", mock.Anything, mock.Anything).Return(nil)

	e.svc = hub.NewService(hub.Config{}, slog.Default())
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		_ = e.svc.Start(ctx)
	}()

	e.transport = mqtt.New(e.svc, e.ps, mqtt.Config{Prefix: prefix}, slog.Default())
	require.NoError(t, e.transport.Subscribe(ctx))
	t.Cleanup(func() {
		_ = e.transport.Close(context.Background())
		cancel()
		_ = e.svc.Shutdown(context.Background())
	})

	return e
}

func (e *env) deliver(topic, payload string) error {
	e.mu.Lock()
	h := e.handlers[prefix+"/peers/+/up"]
	if strings.HasSuffix(topic, "/status") {
		h = e.handlers[prefix+"/peers/+/status"]
	}
	e.mu.Unlock()

	return h(topic, []byte(payload))
}

func (e *env) next(t *testing.T) publication {
	t.Helper()

	select {
	case p := <-e.published:
		return p
	case <-time.After(waitFor):
		require.FailNow(t, "nothing was published")

		return publication{}
	}
}

func up(id string) string {
	return fmt.Sprintf("%s/peers/%s/up", prefix, id)
}

func down(id string) string {
	return fmt.Sprintf("%s/peers/%s/down", prefix, id)
}

func TestSubscribe(t *testing.T) {
	e := newEnv(t)

	e.ps.AssertCalled(t, "Subscribe", mock.Anything, "fl/peers/+/up", mock.Anything)
	e.ps.AssertCalled(t, "Subscribe", mock.Anything, "fl/peers/+/status", mock.Anything)

	require.NoError(t, e.transport.Close(context.Background()))
	e.ps.AssertCalled(t, "Unsubscribe", mock.Anything, "fl/peers/+/up")
	e.ps.AssertCalled(t, "Unsubscribe", mock.Anything, "fl/peers/+/status")
}

func TestRegister(t *testing.T) {
	e := newEnv(t)

	cases := []struct {
		desc    string
		peer    string
		payload string
		status  string
	}{
		{desc: "register", peer: "p1", payload: `{"type":"register","client_id":"p1"}`, status: message.StatusSuccess},
		{desc: "register without client id", peer: "p2", payload: `{"type":"register"}`, status: message.StatusSuccess},
		{desc: "register with mismatched id", peer: "p3", payload: `{"type":"register","client_id":"other"}`, status: message.StatusFailure},
		{desc: "message before register", peer: "p4", payload: `{"type":"training_update","progress":5}`, status: message.StatusFailure},
	}
	for _, tc := range cases {
		t.Run(tc.desc, func(t *testing.T) {
			require.NoError(t, e.deliver(up(tc.peer), tc.payload))

			p := e.next(t)
			assert.Equal(t, down(tc.peer), p.topic)
			assert.Equal(t, message.RegisterAck, p.msg.Type)
			assert.Equal(t, tc.status, p.msg.Status)
		})
	}

	_, err := e.svc.ViewPeer(context.Background(), "p1")
	assert.NoError(t, err)
	_, err = e.svc.ViewPeer(context.Background(), "p3")
	assert.ErrorIs(t, err, pkgerrors.ErrPeerNotFound)
}

func TestMalformedTraffic(t *testing.T) {
	e := newEnv(t)

	assert.Error(t, e.deliver(up("p1"), `{"type":`))
	assert.Error(t, e.deliver(up("p1"), `{"progress":1}`))
	assert.Error(t, e.deliver("fl/peers/up", `{"type":"register"}`))
	assert.Error(t, e.deliver("other/peers/p1/up", `{"type":"register"}`))
}

func TestFitOverMQTT(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	require.NoError(t, e.deliver(up("p1"), `{"type":"register","client_id":"p1"}`))
	require.Equal(t, message.RegisterAck, e.next(t).msg.Type)

	trained, err := weights.NewTensor([]int{3}, []float32{0.5, 1.5, 2.5})
	require.NoError(t, err)
	raw, err := weights.EncodeJSON([]weights.Tensor{trained})
	require.NoError(t, err)

	go func() {
		p := e.next(t)
		assert.Equal(t, down("p1"), p.topic)
		assert.Equal(t, message.StartTraining, p.msg.Type)

		payload := fmt.Sprintf(`{"type":"training_complete","round":"4","weights":%s,"num_samples":"25"}`, raw)
		assert.NoError(t, e.deliver(up("p1"), payload))
	}()

	res := e.svc.Fit(ctx, "p1", nil, message.Config{"round": "4"})
	require.NoError(t, res.Err)
	assert.Equal(t, 25, res.NumSamples)
	assert.Equal(t, []weights.Tensor{trained}, res.Weights)

	assert.Equal(t, message.TrainingAcknowledged, e.next(t).msg.Type)
}

func TestOfflineStatus(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	require.NoError(t, e.deliver(up("p1"), `{"type":"register","client_id":"p1"}`))
	e.next(t)

	require.NoError(t, e.deliver("fl/peers/p1/status", "online"))
	_, err := e.svc.ViewPeer(ctx, "p1")
	require.NoError(t, err)

	require.NoError(t, e.deliver("fl/peers/p1/status", mqtt.StatusOffline))
	_, err = e.svc.ViewPeer(ctx, "p1")
	assert.ErrorIs(t, err, pkgerrors.ErrPeerNotFound)

	// A second will for the same peer is harmless.
	assert.NoError(t, e.deliver("fl/peers/p1/status", mqtt.StatusOffline))
}
