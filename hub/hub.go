// Package hub connects training peers to the round driver. It owns the
// session registry, the message router and the rendezvous bridge.
package hub

import (
	"context"
	"time"

	"github.com/absmach/fedmob/bridge"
	"github.com/absmach/fedmob/pkg/message"
	"github.com/absmach/fedmob/pkg/weights"
	"github.com/absmach/fedmob/session"
)

type Service interface {
	// Connect registers a peer after its register handshake and acknowledges it.
	Connect(ctx context.Context, peerID string, conn session.Conn) error
	// Disconnect removes the peer and aborts its outstanding requests. A
	// non-nil conn only removes the peer while conn is still its connection.
	Disconnect(ctx context.Context, peerID string, conn session.Conn) error
	// Receive queues an inbound message from a registered peer.
	Receive(ctx context.Context, peerID string, msg message.Message) error

	Fit(ctx context.Context, peerID string, ws []weights.Tensor, cfg message.Config) bridge.FitResult
	Evaluate(ctx context.Context, peerID string, ws []weights.Tensor, cfg message.Config) bridge.EvaluateResult
	// GetParameters returns the latest weights the peer reported.
	GetParameters(ctx context.Context, peerID string) ([]weights.Tensor, error)

	Attach(ctx context.Context, peerID string) error
	Detach(ctx context.Context, peerID string) error
	Finish(ctx context.Context, peerID string) error

	ListPeers(ctx context.Context, offset, limit uint64) (session.Page, error)
	ViewPeer(ctx context.Context, peerID string) (session.Session, error)
	Summary(ctx context.Context) (session.Summary, error)
	// Sweep disconnects peers that have been silent for longer than the
	// stale threshold and returns their ids.
	Sweep(ctx context.Context) ([]string, error)

	// Start runs the dispatch loop and the stale sweeper until ctx is done.
	Start(ctx context.Context) error
	Shutdown(ctx context.Context) error
}

type Config struct {
	FitTimeout      time.Duration `env:"FIT_TIMEOUT"      envDefault:"900s"`
	EvaluateTimeout time.Duration `env:"EVALUATE_TIMEOUT" envDefault:"30s"`
	StaleThreshold  time.Duration `env:"STALE_THRESHOLD"  envDefault:"300s"`
	SweepInterval   time.Duration `env:"SWEEP_INTERVAL"   envDefault:"60s"`
	StopTimeout     time.Duration `env:"STOP_TIMEOUT"     envDefault:"5s"`
	// Layout is the model architecture fit results are checked against.
	Layout weights.Layout `env:"-"`
}

func (c Config) withDefaults() Config {
	if c.FitTimeout <= 0 {
		c.FitTimeout = bridge.DefaultFitTimeout
	}
	if c.EvaluateTimeout <= 0 {
		c.EvaluateTimeout = bridge.DefaultEvaluateTimeout
	}
	if c.StaleThreshold <= 0 {
		c.StaleThreshold = 300 * time.Second
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = 60 * time.Second
	}
	if c.StopTimeout <= 0 {
		c.StopTimeout = 5 * time.Second
	}

	return c
}
