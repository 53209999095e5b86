package fl

import (
	"fmt"
	"math"
	"time"

	"github.com/absmach/fedmob/pkg/weights"
)

const algorithmFedAvg = "FedAvg"

var _ Aggregator = (*FedAvgAggregator)(nil)

type FedAvgAggregator struct {
	now func() time.Time
}

func NewFedAvgAggregator() *FedAvgAggregator {
	return &FedAvgAggregator{now: time.Now}
}

// Aggregate computes the sample-weighted mean of the updates layer by layer.
// Updates without samples are dropped first. All arithmetic is float32 to
// match the precision peers train in.
func (f *FedAvgAggregator) Aggregate(round int, updates []Update) (Model, error) {
	valid := Contributing(updates)
	if len(valid) == 0 {
		return Model{}, ErrNoUpdates
	}

	var total int
	for _, u := range valid {
		if total > math.MaxInt-u.NumSamples {
			return Model{}, ErrOverflow
		}
		total += u.NumSamples
	}

	first := valid[0].Weights
	for _, u := range valid[1:] {
		if len(u.Weights) != len(first) {
			return Model{}, fmt.Errorf("%w: peer %s has %d layers, peer %s has %d",
				ErrLayerMismatch, valid[0].PeerID, len(first), u.PeerID, len(u.Weights))
		}
		for l := range first {
			if !u.Weights[l].SameShape(first[l]) {
				return Model{}, fmt.Errorf("%w: layer %d of peer %s has shape %v, expected %v",
					ErrShapeMismatch, l, u.PeerID, u.Weights[l].Shape, first[l].Shape)
			}
		}
	}

	aggregated := make([]weights.Tensor, len(first))
	for l := range first {
		acc, err := weights.Zeros(first[l].Shape)
		if err != nil {
			return Model{}, fmt.Errorf("layer %d: %w", l, err)
		}
		for _, u := range valid {
			w := float32(float64(u.NumSamples) / float64(total))
			for i, v := range u.Weights[l].Data {
				acc.Data[i] += w * v
			}
		}
		aggregated[l] = acc
	}

	return Model{
		Round:      round,
		Weights:    aggregated,
		NumSamples: total,
		Metrics: map[string]any{
			"algorithm":              algorithmFedAvg,
			"num_clients":            len(valid),
			"total_samples":          total,
			"avg_samples_per_client": float64(total) / float64(len(valid)),
		},
		CreatedAt: f.now(),
	}, nil
}

// Contributing returns the updates that carry samples.
func Contributing(updates []Update) []Update {
	out := make([]Update, 0, len(updates))
	for _, u := range updates {
		if u.NumSamples > 0 {
			out = append(out, u)
		}
	}

	return out
}

// AggregateEvaluate computes the sample-weighted mean loss and accuracy.
// Accuracy is read from each evaluation's "accuracy" metric and averaged over
// the evaluations that report it.
func AggregateEvaluate(evals []Evaluation) (EvaluationSummary, error) {
	var (
		sum              EvaluationSummary
		weightedLoss     float64
		weightedAccuracy float64
		accuracySamples  float64
	)
	for _, e := range evals {
		if e.NumSamples <= 0 {
			continue
		}
		if sum.NumSamples > math.MaxInt-e.NumSamples {
			return EvaluationSummary{}, ErrOverflow
		}
		n := float64(e.NumSamples)
		weightedLoss += e.Loss * n
		if acc, ok := number(e.Metrics["accuracy"]); ok {
			weightedAccuracy += acc * n
			accuracySamples += n
		}
		sum.NumSamples += e.NumSamples
		sum.NumClients++
	}
	if sum.NumSamples == 0 {
		return EvaluationSummary{}, ErrNoEvaluations
	}

	sum.Loss = weightedLoss / float64(sum.NumSamples)
	if accuracySamples > 0 {
		sum.Accuracy = weightedAccuracy / accuracySamples
	}

	return sum, nil
}

func number(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}
