// Package coordinator drives federated averaging rounds over the peers
// connected to the hub.
package coordinator

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/absmach/fedmob/pkg/fl"
	"github.com/absmach/fedmob/pkg/message"
)

const (
	DefaultNumRounds    = 3
	DefaultMinAvailable = 2
	DefaultEpochs       = 1
	DefaultBatchSize    = 32
	DefaultLearningRate = 0.01
	DefaultModelVariant = "basic"
	DefaultWaitTimeout  = 120 * time.Second
)

type Service interface {
	// Start launches a run in the background and returns its initial status.
	Start(ctx context.Context, cfg Config) (Status, error)
	// Run executes all rounds and returns when the last one is persisted.
	Run(ctx context.Context, cfg Config) error
	// Stop cancels the current run, if any.
	Stop(ctx context.Context) error
	Status(ctx context.Context) (Status, error)
	ListRounds(ctx context.Context, offset, limit uint64) (fl.RoundPage, error)
	ViewRound(ctx context.Context, round int) (fl.Round, error)
}

// Config is the training strategy of one run.
type Config struct {
	NumRounds    int     `json:"num_rounds"    toml:"num_rounds"`
	MinAvailable int     `json:"min_available" toml:"min_available"`
	MinFit       int     `json:"min_fit"       toml:"min_fit"`
	MinEvaluate  int     `json:"min_evaluate"  toml:"min_evaluate"`
	Epochs       int     `json:"epochs"        toml:"epochs"`
	BatchSize    int     `json:"batch_size"    toml:"batch_size"`
	LearningRate float64 `json:"learning_rate" toml:"learning_rate"`
	ModelVariant string  `json:"model_variant" toml:"model_variant"`
	// WaitTimeout bounds how long a round waits for enough peers.
	WaitTimeout time.Duration `json:"-" toml:"-"`
}

// WithDefaults fills unset fields. Negative values are left for Validate.
func (c Config) WithDefaults() Config {
	if c.NumRounds == 0 {
		c.NumRounds = DefaultNumRounds
	}
	if c.MinAvailable == 0 {
		c.MinAvailable = DefaultMinAvailable
	}
	if c.MinFit == 0 {
		c.MinFit = c.MinAvailable
	}
	if c.MinEvaluate == 0 {
		c.MinEvaluate = c.MinFit
	}
	if c.Epochs == 0 {
		c.Epochs = DefaultEpochs
	}
	if c.BatchSize == 0 {
		c.BatchSize = DefaultBatchSize
	}
	if c.LearningRate == 0 {
		c.LearningRate = DefaultLearningRate
	}
	if c.ModelVariant == "" {
		c.ModelVariant = DefaultModelVariant
	}
	if c.WaitTimeout == 0 {
		c.WaitTimeout = DefaultWaitTimeout
	}

	return c
}

func (c Config) Validate() error {
	switch {
	case c.NumRounds < 0, c.MinAvailable < 0, c.MinFit < 0, c.MinEvaluate < 0:
		return fmt.Errorf("%w: peer and round counts must not be negative", ErrInvalidConfig)
	case c.Epochs < 0, c.BatchSize < 0:
		return fmt.Errorf("%w: epochs and batch size must not be negative", ErrInvalidConfig)
	case c.LearningRate < 0, math.IsNaN(c.LearningRate), math.IsInf(c.LearningRate, 0):
		return fmt.Errorf("%w: learning rate %v", ErrInvalidConfig, c.LearningRate)
	case c.WaitTimeout < 0:
		return fmt.Errorf("%w: negative wait timeout", ErrInvalidConfig)
	}

	return nil
}

// FitConfig is sent with every fit request. Values are strings, which is
// what peers expect.
func (c Config) FitConfig(round int) message.Config {
	return message.Config{
		"round":         strconv.Itoa(round),
		"epochs":        strconv.Itoa(c.Epochs),
		"batch_size":    strconv.Itoa(c.BatchSize),
		"learning_rate": strconv.FormatFloat(c.LearningRate, 'g', -1, 64),
		"model_variant": c.ModelVariant,
	}
}

func (c Config) EvaluateConfig(round int) message.Config {
	return message.Config{
		"round":         strconv.Itoa(round),
		"batch_size":    strconv.Itoa(c.BatchSize),
		"model_variant": c.ModelVariant,
	}
}

type State string

const (
	Idle      State = "idle"
	Running   State = "running"
	Completed State = "completed"
	Failed    State = "failed"
	Stopped   State = "stopped"
)

type Status struct {
	State      State                 `json:"state"`
	Round      int                   `json:"round"`
	NumRounds  int                   `json:"num_rounds"`
	StartedAt  time.Time             `json:"started_at,omitzero"`
	FinishedAt time.Time             `json:"finished_at,omitzero"`
	Error      string                `json:"error,omitempty"`
	Evaluation *fl.EvaluationSummary `json:"evaluation,omitempty"`
}
