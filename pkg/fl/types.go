package fl

import (
	"time"

	"github.com/absmach/fedmob/pkg/weights"
)

// Update is one peer's fit outcome. Updates with NumSamples <= 0 carry no
// contribution and are excluded from aggregation.
type Update struct {
	PeerID     string           `json:"peer_id"`
	Weights    []weights.Tensor `json:"-"`
	NumSamples int              `json:"num_samples"`
	Metrics    map[string]any   `json:"metrics,omitempty"`
}

// Evaluation is one peer's evaluate outcome.
type Evaluation struct {
	PeerID     string         `json:"peer_id"`
	Loss       float64        `json:"loss"`
	NumSamples int            `json:"num_samples"`
	Metrics    map[string]any `json:"metrics,omitempty"`
}

// Model is the result of aggregating one round of updates.
type Model struct {
	Round      int              `cbor:"1,keyasint" json:"round"`
	Weights    []weights.Tensor `cbor:"2,keyasint" json:"-"`
	NumSamples int              `cbor:"3,keyasint" json:"num_samples"`
	Metrics    map[string]any   `cbor:"4,keyasint" json:"metrics,omitempty"`
	CreatedAt  time.Time        `cbor:"5,keyasint" json:"created_at"`
}

// EvaluationSummary is the sample-weighted mean of a round's evaluations.
type EvaluationSummary struct {
	Loss       float64 `json:"loss"`
	Accuracy   float64 `json:"accuracy"`
	NumSamples int     `json:"total_samples"`
	NumClients int     `json:"num_clients"`
}

// Round is the persisted record of one training round.
type Round struct {
	Number       int                `json:"round"`
	StartedAt    time.Time          `json:"started_at"`
	FinishedAt   time.Time          `json:"finished_at,omitempty"`
	Participants []string           `json:"participants"`
	Contributors []string           `json:"contributors"`
	Failures     map[string]string  `json:"failures,omitempty"`
	NumSamples   int                `json:"total_samples"`
	Metrics      map[string]any     `json:"metrics,omitempty"`
	Evaluation   *EvaluationSummary `json:"evaluation,omitempty"`
	Aggregated   bool               `json:"aggregated"`
	Error        string             `json:"error,omitempty"`
}

type RoundPage struct {
	Offset uint64  `json:"offset"`
	Limit  uint64  `json:"limit"`
	Total  uint64  `json:"total"`
	Rounds []Round `json:"rounds"`
}

type Aggregator interface {
	Aggregate(round int, updates []Update) (Model, error)
}
