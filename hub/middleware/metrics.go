package middleware

import (
	"context"
	"time"

	"github.com/absmach/fedmob/bridge"
	"github.com/absmach/fedmob/hub"
	"github.com/absmach/fedmob/pkg/message"
	"github.com/absmach/fedmob/pkg/weights"
	"github.com/absmach/fedmob/session"
	"github.com/go-kit/kit/metrics"
)

var _ hub.Service = (*metricsMiddleware)(nil)

type metricsMiddleware struct {
	counter metrics.Counter
	latency metrics.Histogram
	svc     hub.Service
}

func Metrics(counter metrics.Counter, latency metrics.Histogram, svc hub.Service) hub.Service {
	return &metricsMiddleware{
		counter: counter,
		latency: latency,
		svc:     svc,
	}
}

func (mm *metricsMiddleware) observe(method string, begin time.Time) {
	mm.counter.With("method", method).Add(1)
	mm.latency.With("method", method).Observe(time.Since(begin).Seconds())
}

func (mm *metricsMiddleware) Connect(ctx context.Context, peerID string, conn session.Conn) error {
	defer mm.observe("connect", time.Now())

	return mm.svc.Connect(ctx, peerID, conn)
}

func (mm *metricsMiddleware) Disconnect(ctx context.Context, peerID string, conn session.Conn) error {
	defer mm.observe("disconnect", time.Now())

	return mm.svc.Disconnect(ctx, peerID, conn)
}

func (mm *metricsMiddleware) Receive(ctx context.Context, peerID string, msg message.Message) error {
	defer mm.observe("receive", time.Now())

	return mm.svc.Receive(ctx, peerID, msg)
}

func (mm *metricsMiddleware) Fit(ctx context.Context, peerID string, ws []weights.Tensor, cfg message.Config) bridge.FitResult {
	defer mm.observe("fit", time.Now())

	return mm.svc.Fit(ctx, peerID, ws, cfg)
}

func (mm *metricsMiddleware) Evaluate(ctx context.Context, peerID string, ws []weights.Tensor, cfg message.Config) bridge.EvaluateResult {
	defer mm.observe("evaluate", time.Now())

	return mm.svc.Evaluate(ctx, peerID, ws, cfg)
}

func (mm *metricsMiddleware) GetParameters(ctx context.Context, peerID string) ([]weights.Tensor, error) {
	defer mm.observe("get-parameters", time.Now())

	return mm.svc.GetParameters(ctx, peerID)
}

func (mm *metricsMiddleware) Attach(ctx context.Context, peerID string) error {
	defer mm.observe("attach", time.Now())

	return mm.svc.Attach(ctx, peerID)
}

func (mm *metricsMiddleware) Detach(ctx context.Context, peerID string) error {
	defer mm.observe("detach", time.Now())

	return mm.svc.Detach(ctx, peerID)
}

func (mm *metricsMiddleware) Finish(ctx context.Context, peerID string) error {
	defer mm.observe("finish", time.Now())

	return mm.svc.Finish(ctx, peerID)
}

func (mm *metricsMiddleware) ListPeers(ctx context.Context, offset, limit uint64) (session.Page, error) {
	defer mm.observe("list-peers", time.Now())

	return mm.svc.ListPeers(ctx, offset, limit)
}

func (mm *metricsMiddleware) ViewPeer(ctx context.Context, peerID string) (session.Session, error) {
	defer mm.observe("view-peer", time.Now())

	return mm.svc.ViewPeer(ctx, peerID)
}

func (mm *metricsMiddleware) Summary(ctx context.Context) (session.Summary, error) {
	defer mm.observe("summary", time.Now())

	return mm.svc.Summary(ctx)
}

func (mm *metricsMiddleware) Sweep(ctx context.Context) ([]string, error) {
	defer mm.observe("sweep", time.Now())

	return mm.svc.Sweep(ctx)
}

func (mm *metricsMiddleware) Start(ctx context.Context) error {
	return mm.svc.Start(ctx)
}

func (mm *metricsMiddleware) Shutdown(ctx context.Context) error {
	defer mm.observe("shutdown", time.Now())

	return mm.svc.Shutdown(ctx)
}
