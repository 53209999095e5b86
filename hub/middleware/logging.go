package middleware

import (
	"context"
	"log/slog"
	"time"

	"github.com/absmach/fedmob/bridge"
	"github.com/absmach/fedmob/hub"
	"github.com/absmach/fedmob/pkg/message"
	"github.com/absmach/fedmob/pkg/weights"
	"github.com/absmach/fedmob/session"
)

var _ hub.Service = (*loggingMiddleware)(nil)

type loggingMiddleware struct {
	logger *slog.Logger
	svc    hub.Service
}

func Logging(logger *slog.Logger, svc hub.Service) hub.Service {
	return &loggingMiddleware{
		logger: logger,
		svc:    svc,
	}
}

func (lm *loggingMiddleware) Connect(ctx context.Context, peerID string, conn session.Conn) (err error) {
	defer func(begin time.Time) {
		args := []any{
			slog.String("duration", time.Since(begin).String()),
			slog.String("peer_id", peerID),
		}
		if err != nil {
			args = append(args, slog.Any("error", err))
			lm.logger.Warn("Connect peer failed", args...)

			return
		}
		lm.logger.Info("Connect peer completed successfully", args...)
	}(time.Now())

	return lm.svc.Connect(ctx, peerID, conn)
}

func (lm *loggingMiddleware) Disconnect(ctx context.Context, peerID string, conn session.Conn) (err error) {
	defer func(begin time.Time) {
		args := []any{
			slog.String("duration", time.Since(begin).String()),
			slog.String("peer_id", peerID),
		}
		if err != nil {
			args = append(args, slog.Any("error", err))
			lm.logger.Warn("Disconnect peer failed", args...)

			return
		}
		lm.logger.Info("Disconnect peer completed successfully", args...)
	}(time.Now())

	return lm.svc.Disconnect(ctx, peerID, conn)
}

// Receive runs once per inbound message, so success is logged at debug level.
func (lm *loggingMiddleware) Receive(ctx context.Context, peerID string, msg message.Message) (err error) {
	defer func(begin time.Time) {
		args := []any{
			slog.String("duration", time.Since(begin).String()),
			slog.String("peer_id", peerID),
			slog.String("type", string(msg.Type)),
		}
		if err != nil {
			args = append(args, slog.Any("error", err))
			lm.logger.Warn("Receive message failed", args...)

			return
		}
		lm.logger.Debug("Receive message completed successfully", args...)
	}(time.Now())

	return lm.svc.Receive(ctx, peerID, msg)
}

func (lm *loggingMiddleware) Fit(ctx context.Context, peerID string, ws []weights.Tensor, cfg message.Config) (res bridge.FitResult) {
	defer func(begin time.Time) {
		args := []any{
			slog.String("duration", time.Since(begin).String()),
			slog.Group("fit",
				slog.String("peer_id", peerID),
				slog.Int("round", cfg.Int("round", 0)),
				slog.Int("num_samples", res.NumSamples),
			),
		}
		if res.Err != nil {
			args = append(args, slog.Any("error", res.Err))
			lm.logger.Warn("Fit returned no contribution", args...)

			return
		}
		lm.logger.Info("Fit completed successfully", args...)
	}(time.Now())

	return lm.svc.Fit(ctx, peerID, ws, cfg)
}

func (lm *loggingMiddleware) Evaluate(ctx context.Context, peerID string, ws []weights.Tensor, cfg message.Config) (res bridge.EvaluateResult) {
	defer func(begin time.Time) {
		args := []any{
			slog.String("duration", time.Since(begin).String()),
			slog.Group("evaluate",
				slog.String("peer_id", peerID),
				slog.Int("round", cfg.Int("round", 0)),
				slog.Int("num_samples", res.NumSamples),
				slog.Float64("loss", res.Loss),
			),
		}
		if res.Err != nil {
			args = append(args, slog.Any("error", res.Err))
			lm.logger.Warn("Evaluate returned no contribution", args...)

			return
		}
		lm.logger.Info("Evaluate completed successfully", args...)
	}(time.Now())

	return lm.svc.Evaluate(ctx, peerID, ws, cfg)
}

func (lm *loggingMiddleware) GetParameters(ctx context.Context, peerID string) (ws []weights.Tensor, err error) {
	defer func(begin time.Time) {
		args := []any{
			slog.String("duration", time.Since(begin).String()),
			slog.String("peer_id", peerID),
			slog.Int("layers", len(ws)),
		}
		if err != nil {
			args = append(args, slog.Any("error", err))
			lm.logger.Warn("Get parameters failed", args...)

			return
		}
		lm.logger.Info("Get parameters completed successfully", args...)
	}(time.Now())

	return lm.svc.GetParameters(ctx, peerID)
}

func (lm *loggingMiddleware) Attach(ctx context.Context, peerID string) (err error) {
	defer func(begin time.Time) {
		args := []any{
			slog.String("duration", time.Since(begin).String()),
			slog.String("peer_id", peerID),
		}
		if err != nil {
			args = append(args, slog.Any("error", err))
			lm.logger.Warn("Attach peer failed", args...)

			return
		}
		lm.logger.Info("Attach peer completed successfully", args...)
	}(time.Now())

	return lm.svc.Attach(ctx, peerID)
}

func (lm *loggingMiddleware) Detach(ctx context.Context, peerID string) (err error) {
	defer func(begin time.Time) {
		args := []any{
			slog.String("duration", time.Since(begin).String()),
			slog.String("peer_id", peerID),
		}
		if err != nil {
			args = append(args, slog.Any("error", err))
			lm.logger.Warn("Detach peer failed", args...)

			return
		}
		lm.logger.Info("Detach peer completed successfully", args...)
	}(time.Now())

	return lm.svc.Detach(ctx, peerID)
}

func (lm *loggingMiddleware) Finish(ctx context.Context, peerID string) (err error) {
	defer func(begin time.Time) {
		args := []any{
			slog.String("duration", time.Since(begin).String()),
			slog.String("peer_id", peerID),
		}
		if err != nil {
			args = append(args, slog.Any("error", err))
			lm.logger.Warn("Finish peer failed", args...)

			return
		}
		lm.logger.Info("Finish peer completed successfully", args...)
	}(time.Now())

	return lm.svc.Finish(ctx, peerID)
}

func (lm *loggingMiddleware) ListPeers(ctx context.Context, offset, limit uint64) (resp session.Page, err error) {
	defer func(begin time.Time) {
		args := []any{
			slog.String("duration", time.Since(begin).String()),
			slog.Uint64("offset", offset),
			slog.Uint64("limit", limit),
		}
		if err != nil {
			args = append(args, slog.Any("error", err))
			lm.logger.Warn("List peers failed", args...)

			return
		}
		lm.logger.Info("List peers completed successfully", args...)
	}(time.Now())

	return lm.svc.ListPeers(ctx, offset, limit)
}

func (lm *loggingMiddleware) ViewPeer(ctx context.Context, peerID string) (resp session.Session, err error) {
	defer func(begin time.Time) {
		args := []any{
			slog.String("duration", time.Since(begin).String()),
			slog.Group("peer",
				slog.String("id", peerID),
				slog.String("state", resp.State.String()),
			),
		}
		if err != nil {
			args = append(args, slog.Any("error", err))
			lm.logger.Warn("View peer failed", args...)

			return
		}
		lm.logger.Info("View peer completed successfully", args...)
	}(time.Now())

	return lm.svc.ViewPeer(ctx, peerID)
}

func (lm *loggingMiddleware) Summary(ctx context.Context) (resp session.Summary, err error) {
	defer func(begin time.Time) {
		args := []any{
			slog.String("duration", time.Since(begin).String()),
			slog.Int("total", resp.Total),
			slog.Int("training", resp.Training),
		}
		if err != nil {
			args = append(args, slog.Any("error", err))
			lm.logger.Warn("Summary failed", args...)

			return
		}
		lm.logger.Info("Summary completed successfully", args...)
	}(time.Now())

	return lm.svc.Summary(ctx)
}

func (lm *loggingMiddleware) Sweep(ctx context.Context) (ids []string, err error) {
	defer func(begin time.Time) {
		args := []any{
			slog.String("duration", time.Since(begin).String()),
			slog.Any("removed", ids),
		}
		if err != nil {
			args = append(args, slog.Any("error", err))
			lm.logger.Warn("Sweep failed", args...)

			return
		}
		lm.logger.Info("Sweep completed successfully", args...)
	}(time.Now())

	return lm.svc.Sweep(ctx)
}

func (lm *loggingMiddleware) Start(ctx context.Context) (err error) {
	defer func(begin time.Time) {
		args := []any{
			slog.String("duration", time.Since(begin).String()),
		}
		if err != nil {
			args = append(args, slog.Any("error", err))
			lm.logger.Warn("Hub stopped with error", args...)

			return
		}
		lm.logger.Info("Hub stopped", args...)
	}(time.Now())

	return lm.svc.Start(ctx)
}

func (lm *loggingMiddleware) Shutdown(ctx context.Context) (err error) {
	defer func(begin time.Time) {
		args := []any{
			slog.String("duration", time.Since(begin).String()),
		}
		if err != nil {
			args = append(args, slog.Any("error", err))
			lm.logger.Warn("Shutdown failed", args...)

			return
		}
		lm.logger.Info("Shutdown completed successfully", args...)
	}(time.Now())

	return lm.svc.Shutdown(ctx)
}
