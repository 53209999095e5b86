package session

import (
	"context"
	"log/slog"
	"sync"
	"testing"

	"github.com/absmach/fedmob/pkg/message"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOutboxPreservesOrder(t *testing.T) {
	var (
		mu  sync.Mutex
		got []message.Type
	)
	write := func(_ context.Context, msg message.Message) error {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, msg.Type)

		return nil
	}
	closed := false
	o := NewOutbox("p1", 8, write, func() error { closed = true; return nil }, slog.Default())

	want := []message.Type{message.RegisterAck, message.StartTraining, message.TrainingAcknowledged}
	for _, typ := range want {
		require.NoError(t, o.Send(context.Background(), message.Message{Type: typ}))
	}
	require.NoError(t, o.Close())

	assert.Equal(t, want, got)
	assert.True(t, closed)
	assert.ErrorIs(t, o.Send(context.Background(), message.Message{Type: message.RegisterAck}), ErrOutboxClosed)
	assert.NoError(t, o.Close())
}

func TestOutboxFull(t *testing.T) {
	release := make(chan struct{})
	write := func(context.Context, message.Message) error {
		<-release

		return nil
	}
	o := NewOutbox("p1", 1, write, nil, slog.Default())

	// The writer blocks on the first message so the queue fills up.
	var err error
	for range 4 {
		if err = o.Send(context.Background(), message.Message{Type: message.TrainingUpdate}); err != nil {
			break
		}
	}
	assert.ErrorIs(t, err, ErrOutboxFull)

	close(release)
	require.NoError(t, o.Close())
}

func TestOutboxCanceledContext(t *testing.T) {
	o := NewOutbox("p1", 1, func(context.Context, message.Message) error { return nil }, nil, slog.Default())
	defer o.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.ErrorIs(t, o.Send(ctx, message.Message{Type: message.RegisterAck}), context.Canceled)
}
