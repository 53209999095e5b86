package hub

import (
	"context"
	"fmt"
	"log/slog"
	"maps"

	"github.com/absmach/fedmob/bridge"
	"github.com/absmach/fedmob/pkg/message"
	"github.com/absmach/fedmob/pkg/weights"
	"github.com/absmach/fedmob/router"
)

const accuracyKey = "accuracy"

func (svc *service) handlers() router.Table {
	return router.Table{
		StartTraining:    svc.handleStartTraining,
		UpdateWeights:    svc.handleUpdateWeights,
		TrainingUpdate:   svc.handleTrainingUpdate,
		TrainingComplete: svc.handleTrainingComplete,
		EvaluateComplete: svc.handleEvaluateComplete,
		Fit:              svc.handleFit,
		Evaluate:         svc.handleEvaluate,
	}
}

// handleFit delivers a fit request to the peer and starts its round.
func (svc *service) handleFit(ctx context.Context, rc router.Context, msg message.Message) error {
	if !svc.bridge.Holds(rc.PeerID, bridge.Fit, rc.RequestID) {
		svc.logger.DebugContext(ctx, "dropping expired fit request",
			slog.String("peer_id", rc.PeerID),
			slog.Int("round", rc.Round),
		)

		return nil
	}
	if !svc.registry.MarkTraining(rc.PeerID, rc.Round) {
		svc.bridge.Fail(rc.PeerID, bridge.Fit, fmt.Errorf("peer %s is not connected", rc.PeerID))

		return nil
	}
	// The caller may have given up between the check and the transition.
	if !svc.bridge.Holds(rc.PeerID, bridge.Fit, rc.RequestID) {
		svc.registry.ReleaseTraining(rc.PeerID, rc.Round)

		return nil
	}

	err := svc.registry.Send(ctx, rc.PeerID, message.Message{
		Type:    message.StartTraining,
		Round:   message.Int(rc.Round),
		Config:  rc.Config,
		Weights: msg.Weights,
	})
	if err != nil {
		svc.registry.MarkActive(rc.PeerID)
		svc.bridge.Fail(rc.PeerID, bridge.Fit, err)

		return fmt.Errorf("failed to send start_training: %w", err)
	}

	return nil
}

func (svc *service) handleEvaluate(ctx context.Context, rc router.Context, msg message.Message) error {
	if !svc.bridge.Holds(rc.PeerID, bridge.Evaluate, rc.RequestID) {
		svc.logger.DebugContext(ctx, "dropping expired evaluate request",
			slog.String("peer_id", rc.PeerID),
			slog.Int("round", rc.Round),
		)

		return nil
	}
	err := svc.registry.Send(ctx, rc.PeerID, message.Message{
		Type:       message.EvaluateRequest,
		Round:      message.Int(rc.Round),
		Config:     rc.Config,
		Parameters: msg.Weights,
	})
	if err != nil {
		svc.bridge.Fail(rc.PeerID, bridge.Evaluate, err)

		return fmt.Errorf("failed to send evaluate_request: %w", err)
	}

	return nil
}

// handleStartTraining serves peers that start a round on their own.
func (svc *service) handleStartTraining(ctx context.Context, rc router.Context, msg message.Message) error {
	round := int(msg.Round)
	if round == 0 {
		round = msg.Config.Int("round", 0)
	}
	svc.registry.MarkTraining(rc.PeerID, round)

	return svc.registry.Send(ctx, rc.PeerID, message.Message{
		Type:  message.TrainingStarted,
		Round: message.Int(round),
	})
}

func (svc *service) handleUpdateWeights(_ context.Context, rc router.Context, msg message.Message) error {
	ws, err := weights.DecodeJSON(msg.Weights)
	if err != nil {
		return fmt.Errorf("failed to decode weights: %w", err)
	}
	svc.registry.SetParameters(rc.PeerID, ws)

	return nil
}

func (svc *service) handleTrainingUpdate(_ context.Context, rc router.Context, msg message.Message) error {
	svc.registry.UpdateProgress(rc.PeerID, float64(msg.Progress))

	return nil
}

func (svc *service) handleTrainingComplete(ctx context.Context, rc router.Context, msg message.Message) error {
	resolved := svc.bridge.Resolve(rc.PeerID, bridge.Fit, int(msg.Round), bridge.Response{
		Status:     msg.Status,
		Error:      msg.Error,
		Weights:    msg.Weights,
		NumSamples: int(msg.NumSamples),
		Metrics:    msg.Metrics,
	})
	if !resolved {
		svc.logger.DebugContext(ctx, "training_complete without pending fit",
			slog.String("peer_id", rc.PeerID),
			slog.Int("round", int(msg.Round)),
		)
	}
	svc.registry.MarkCompleted(rc.PeerID)

	return svc.registry.Send(ctx, rc.PeerID, message.Message{Type: message.TrainingAcknowledged})
}

func (svc *service) handleEvaluateComplete(ctx context.Context, rc router.Context, msg message.Message) error {
	metrics := make(map[string]any, len(msg.Metrics)+1)
	maps.Copy(metrics, msg.Metrics)
	if _, ok := metrics[accuracyKey]; !ok {
		metrics[accuracyKey] = float64(msg.Accuracy)
	}

	samples := int(msg.NumExamples)
	if samples == 0 {
		samples = int(msg.NumSamples)
	}

	resolved := svc.bridge.Resolve(rc.PeerID, bridge.Evaluate, int(msg.Round), bridge.Response{
		Status:     msg.Status,
		Error:      msg.Error,
		Loss:       float64(msg.Loss),
		NumSamples: samples,
		Metrics:    metrics,
	})
	if !resolved {
		svc.logger.DebugContext(ctx, "evaluate_complete without pending evaluate",
			slog.String("peer_id", rc.PeerID),
			slog.Int("round", int(msg.Round)),
		)
	}

	return nil
}
