package ws_test

import (
	"context"
	"log/slog"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/absmach/fedmob/hub"
	"github.com/absmach/fedmob/pkg/message"
	"github.com/absmach/fedmob/pkg/weights"
	"github.com/absmach/fedmob/session"
	"github.com/absmach/fedmob/transport/ws"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const waitFor = 2 * time.Second

func newServer(t *testing.T) (hub.Service, string) {
	t.Helper()

	svc := hub.NewService(hub.Config{}, slog.Default())
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		_ = svc.Start(ctx)
	}()

	srv := httptest.NewServer(ws.NewHandler(svc, ws.Config{OutboxSize: 8}, slog.Default()))
	t.Cleanup(func() {
		srv.Close()
		cancel()
		_ = svc.Shutdown(context.Background())
	})

	return svc, "ws" + strings.TrimPrefix(srv.URL, "http")
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()

	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = conn.Close()
	})

	return conn
}

func read(t *testing.T, conn *websocket.Conn) message.Message {
	t.Helper()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(waitFor)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	msg, err := message.Parse(data)
	require.NoError(t, err)

	return msg
}

func register(t *testing.T, url, id string) *websocket.Conn {
	t.Helper()

	conn := dial(t, url)
	require.NoError(t, conn.WriteJSON(message.Message{Type: message.Register, ClientID: id}))
	ack := read(t, conn)
	require.Equal(t, message.RegisterAck, ack.Type)
	require.Equal(t, message.StatusSuccess, ack.Status)

	return conn
}

func TestHandshake(t *testing.T) {
	_, url := newServer(t)

	cases := []struct {
		desc  string
		first string
	}{
		{desc: "wrong first message", first: `{"type":"training_update","progress":10}`},
		{desc: "missing client id", first: `{"type":"register"}`},
		{desc: "malformed json", first: `{"type":`},
	}
	for _, tc := range cases {
		t.Run(tc.desc, func(t *testing.T) {
			conn := dial(t, url)
			require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(tc.first)))

			ack := read(t, conn)
			assert.Equal(t, message.RegisterAck, ack.Type)
			assert.Equal(t, message.StatusFailure, ack.Status)
			assert.NotEmpty(t, ack.Error)

			require.NoError(t, conn.SetReadDeadline(time.Now().Add(waitFor)))
			_, _, err := conn.ReadMessage()
			assert.Error(t, err)
		})
	}
}

func TestFitOverWebsocket(t *testing.T) {
	ctx := context.Background()
	svc, url := newServer(t)
	conn := register(t, url, "phone-1")

	s, err := svc.ViewPeer(ctx, "phone-1")
	require.NoError(t, err)
	assert.Equal(t, session.Ready, s.State)

	trained, err := weights.NewTensor([]int{2, 2}, []float32{1, 2, 3, 4})
	require.NoError(t, err)
	raw, err := weights.EncodeJSON([]weights.Tensor{trained})
	require.NoError(t, err)

	go func() {
		start := read(t, conn)
		assert.Equal(t, message.StartTraining, start.Type)
		assert.Equal(t, "5", start.Config.String("epochs"))

		_ = conn.WriteJSON(message.Message{Type: message.TrainingUpdate, Progress: 50})
		_ = conn.WriteJSON(message.Message{
			Type:       message.TrainingComplete,
			Round:      1,
			Weights:    raw,
			NumSamples: 12,
			Metrics:    map[string]any{"loss": 0.3},
		})
	}()

	res := svc.Fit(ctx, "phone-1", []weights.Tensor{}, message.Config{"round": "1", "epochs": "5"})
	require.NoError(t, res.Err)
	assert.Equal(t, 12, res.NumSamples)
	assert.Equal(t, []weights.Tensor{trained}, res.Weights)
	assert.InDelta(t, 0.3, res.Metrics["loss"], 1e-9)

	assert.Equal(t, message.TrainingAcknowledged, read(t, conn).Type)
}

func TestCloseRemovesPeer(t *testing.T) {
	ctx := context.Background()
	svc, url := newServer(t)
	conn := register(t, url, "phone-2")

	require.NoError(t, conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye")))
	require.NoError(t, conn.Close())

	assert.Eventually(t, func() bool {
		_, err := svc.ViewPeer(ctx, "phone-2")

		return err != nil
	}, waitFor, 10*time.Millisecond)
}

func TestReconnectReplacesConnection(t *testing.T) {
	ctx := context.Background()
	svc, url := newServer(t)
	first := register(t, url, "phone-3")
	second := register(t, url, "phone-3")

	// The replaced connection is closed by the hub.
	require.NoError(t, first.SetReadDeadline(time.Now().Add(waitFor)))
	_, _, err := first.ReadMessage()
	assert.Error(t, err)

	time.Sleep(50 * time.Millisecond)
	_, err = svc.ViewPeer(ctx, "phone-3")
	require.NoError(t, err)

	require.NoError(t, second.WriteJSON(message.Message{Type: message.StartTraining, Round: 2}))
	started := read(t, second)
	assert.Equal(t, message.TrainingStarted, started.Type)
	assert.Equal(t, message.Int(2), started.Round)
}
