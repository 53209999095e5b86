package middleware

import (
	"context"

	"github.com/absmach/fedmob/bridge"
	"github.com/absmach/fedmob/hub"
	"github.com/absmach/fedmob/pkg/message"
	"github.com/absmach/fedmob/pkg/weights"
	"github.com/absmach/fedmob/session"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var _ hub.Service = (*tracing)(nil)

type tracing struct {
	tracer trace.Tracer
	svc    hub.Service
}

func Tracing(tracer trace.Tracer, svc hub.Service) hub.Service {
	return &tracing{tracer, svc}
}

func (tm *tracing) Connect(ctx context.Context, peerID string, conn session.Conn) error {
	ctx, span := tm.tracer.Start(ctx, "connect", trace.WithAttributes(
		attribute.String("peer_id", peerID),
	))
	defer span.End()

	return tm.svc.Connect(ctx, peerID, conn)
}

func (tm *tracing) Disconnect(ctx context.Context, peerID string, conn session.Conn) error {
	ctx, span := tm.tracer.Start(ctx, "disconnect", trace.WithAttributes(
		attribute.String("peer_id", peerID),
	))
	defer span.End()

	return tm.svc.Disconnect(ctx, peerID, conn)
}

func (tm *tracing) Receive(ctx context.Context, peerID string, msg message.Message) error {
	ctx, span := tm.tracer.Start(ctx, "receive", trace.WithAttributes(
		attribute.String("peer_id", peerID),
		attribute.String("type", string(msg.Type)),
	))
	defer span.End()

	return tm.svc.Receive(ctx, peerID, msg)
}

func (tm *tracing) Fit(ctx context.Context, peerID string, ws []weights.Tensor, cfg message.Config) bridge.FitResult {
	ctx, span := tm.tracer.Start(ctx, "fit", trace.WithAttributes(
		attribute.String("peer_id", peerID),
		attribute.Int("round", cfg.Int("round", 0)),
		attribute.Int("layers", len(ws)),
	))
	defer span.End()

	res := tm.svc.Fit(ctx, peerID, ws, cfg)
	span.SetAttributes(attribute.Int("num_samples", res.NumSamples))
	if res.Err != nil {
		span.SetStatus(codes.Error, res.Err.Error())
	}

	return res
}

func (tm *tracing) Evaluate(ctx context.Context, peerID string, ws []weights.Tensor, cfg message.Config) bridge.EvaluateResult {
	ctx, span := tm.tracer.Start(ctx, "evaluate", trace.WithAttributes(
		attribute.String("peer_id", peerID),
		attribute.Int("round", cfg.Int("round", 0)),
	))
	defer span.End()

	res := tm.svc.Evaluate(ctx, peerID, ws, cfg)
	span.SetAttributes(attribute.Int("num_samples", res.NumSamples))
	if res.Err != nil {
		span.SetStatus(codes.Error, res.Err.Error())
	}

	return res
}

func (tm *tracing) GetParameters(ctx context.Context, peerID string) ([]weights.Tensor, error) {
	ctx, span := tm.tracer.Start(ctx, "get-parameters", trace.WithAttributes(
		attribute.String("peer_id", peerID),
	))
	defer span.End()

	return tm.svc.GetParameters(ctx, peerID)
}

func (tm *tracing) Attach(ctx context.Context, peerID string) error {
	ctx, span := tm.tracer.Start(ctx, "attach", trace.WithAttributes(
		attribute.String("peer_id", peerID),
	))
	defer span.End()

	return tm.svc.Attach(ctx, peerID)
}

func (tm *tracing) Detach(ctx context.Context, peerID string) error {
	ctx, span := tm.tracer.Start(ctx, "detach", trace.WithAttributes(
		attribute.String("peer_id", peerID),
	))
	defer span.End()

	return tm.svc.Detach(ctx, peerID)
}

func (tm *tracing) Finish(ctx context.Context, peerID string) error {
	ctx, span := tm.tracer.Start(ctx, "finish", trace.WithAttributes(
		attribute.String("peer_id", peerID),
	))
	defer span.End()

	return tm.svc.Finish(ctx, peerID)
}

func (tm *tracing) ListPeers(ctx context.Context, offset, limit uint64) (session.Page, error) {
	ctx, span := tm.tracer.Start(ctx, "list-peers", trace.WithAttributes(
		attribute.Int64("offset", int64(offset)),
		attribute.Int64("limit", int64(limit)),
	))
	defer span.End()

	return tm.svc.ListPeers(ctx, offset, limit)
}

func (tm *tracing) ViewPeer(ctx context.Context, peerID string) (session.Session, error) {
	ctx, span := tm.tracer.Start(ctx, "view-peer", trace.WithAttributes(
		attribute.String("peer_id", peerID),
	))
	defer span.End()

	return tm.svc.ViewPeer(ctx, peerID)
}

func (tm *tracing) Summary(ctx context.Context) (session.Summary, error) {
	ctx, span := tm.tracer.Start(ctx, "summary")
	defer span.End()

	return tm.svc.Summary(ctx)
}

func (tm *tracing) Sweep(ctx context.Context) ([]string, error) {
	ctx, span := tm.tracer.Start(ctx, "sweep")
	defer span.End()

	return tm.svc.Sweep(ctx)
}

func (tm *tracing) Start(ctx context.Context) error {
	return tm.svc.Start(ctx)
}

func (tm *tracing) Shutdown(ctx context.Context) error {
	ctx, span := tm.tracer.Start(ctx, "shutdown")
	defer span.End()

	return tm.svc.Shutdown(ctx)
}
