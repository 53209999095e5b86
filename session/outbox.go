package session

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/absmach/fedmob/pkg/message"
)

const DefaultOutboxSize = 64

var (
	ErrOutboxClosed = errors.New("outbox closed")
	ErrOutboxFull   = errors.New("outbox full")
)

// WriteFunc performs the blocking network write of one message.
type WriteFunc func(ctx context.Context, msg message.Message) error

var _ Conn = (*Outbox)(nil)

// Outbox adapts a blocking writer into a Conn. Messages are queued and a
// single goroutine writes them in order, so Send never waits on the network.
type Outbox struct {
	id     string
	queue  chan message.Message
	write  WriteFunc
	closer func() error
	logger *slog.Logger

	done     chan struct{}
	stopped  chan struct{}
	once     sync.Once
	closeErr error
}

// NewOutbox starts the writer goroutine. closer releases the underlying
// connection once the queue has been drained.
func NewOutbox(id string, size int, write WriteFunc, closer func() error, logger *slog.Logger) *Outbox {
	if size <= 0 {
		size = DefaultOutboxSize
	}
	o := &Outbox{
		id:      id,
		queue:   make(chan message.Message, size),
		write:   write,
		closer:  closer,
		logger:  logger,
		done:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
	go o.run()

	return o
}

func (o *Outbox) Send(ctx context.Context, msg message.Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	select {
	case <-o.done:
		return ErrOutboxClosed
	default:
	}

	select {
	case o.queue <- msg:
		return nil
	case <-o.done:
		return ErrOutboxClosed
	default:
		return ErrOutboxFull
	}
}

// Close flushes queued messages, stops the writer and closes the connection.
// It is safe to call more than once.
func (o *Outbox) Close() error {
	o.once.Do(func() {
		close(o.done)
		<-o.stopped
		if o.closer != nil {
			o.closeErr = o.closer()
		}
	})

	return o.closeErr
}

func (o *Outbox) run() {
	defer close(o.stopped)

	ctx := context.Background()
	for {
		select {
		case msg := <-o.queue:
			o.send(ctx, msg)
		case <-o.done:
			for {
				select {
				case msg := <-o.queue:
					o.send(ctx, msg)
				default:
					return
				}
			}
		}
	}
}

func (o *Outbox) send(ctx context.Context, msg message.Message) {
	if err := o.write(ctx, msg); err != nil {
		o.logger.Warn("failed to write message to peer",
			slog.String("peer_id", o.id),
			slog.String("type", string(msg.Type)),
			slog.Any("error", err),
		)
	}
}
