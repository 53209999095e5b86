package hub

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/absmach/fedmob/bridge"
	pkgerrors "github.com/absmach/fedmob/pkg/errors"
	"github.com/absmach/fedmob/pkg/message"
	"github.com/absmach/fedmob/pkg/weights"
	"github.com/absmach/fedmob/router"
	"github.com/absmach/fedmob/session"
	"golang.org/x/sync/errgroup"
)

var _ Service = (*service)(nil)

type service struct {
	cfg      Config
	registry *session.Registry
	router   *router.Router
	bridge   *bridge.Bridge
	logger   *slog.Logger
	closing  atomic.Bool
}

func NewService(cfg Config, logger *slog.Logger) Service {
	cfg = cfg.withDefaults()

	svc := &service{
		cfg:      cfg,
		registry: session.NewRegistry(logger),
		logger:   logger,
	}
	svc.router = router.New(svc.handlers(), logger)
	svc.bridge = bridge.New(dispatcher{router: svc.router}, bridge.Config{
		FitTimeout:      cfg.FitTimeout,
		EvaluateTimeout: cfg.EvaluateTimeout,
		Layout:          cfg.Layout,
	}, logger)

	return svc
}

// dispatcher hands bridge requests to the router queue.
type dispatcher struct {
	router *router.Router
}

func (d dispatcher) Dispatch(_ context.Context, req bridge.Request) error {
	rc := router.Context{
		PeerID:    req.PeerID,
		Round:     req.Round,
		Config:    req.Config,
		RequestID: req.ID,
	}

	return d.router.Enqueue(rc, req.Message())
}

func (svc *service) Connect(ctx context.Context, peerID string, conn session.Conn) error {
	if svc.closing.Load() {
		return pkgerrors.ErrShuttingDown
	}
	if peerID == "" {
		nack := message.Message{
			Type:   message.RegisterAck,
			Status: message.StatusFailure,
			Error:  "client_id is required",
		}
		if err := conn.Send(ctx, nack); err != nil {
			svc.logger.WarnContext(ctx, "failed to reject registration", slog.Any("error", err))
		}

		return pkgerrors.ErrEmptyKey
	}

	// A re-registering peer starts over; anything it had in flight is lost.
	if prev := svc.registry.Add(peerID, conn); prev != nil && prev != conn {
		svc.bridge.Abort(peerID)
		if err := prev.Close(); err != nil {
			svc.logger.WarnContext(ctx, "failed to close replaced connection",
				slog.String("peer_id", peerID),
				slog.Any("error", err),
			)
		}
	}

	return svc.registry.Send(ctx, peerID, message.Message{
		Type:   message.RegisterAck,
		Status: message.StatusSuccess,
	})
}

func (svc *service) Disconnect(ctx context.Context, peerID string, conn session.Conn) error {
	if conn == nil {
		var ok bool
		if conn, ok = svc.registry.Remove(peerID); !ok {
			return pkgerrors.ErrPeerNotFound
		}
	} else if !svc.registry.RemoveConn(peerID, conn) {
		return pkgerrors.ErrPeerNotFound
	}

	if n := svc.bridge.Abort(peerID); n > 0 {
		svc.logger.InfoContext(ctx, "aborted requests of disconnected peer",
			slog.String("peer_id", peerID),
			slog.Int("requests", n),
		)
	}

	if conn != nil {
		return conn.Close()
	}

	return nil
}

func (svc *service) Receive(ctx context.Context, peerID string, msg message.Message) error {
	if !svc.registry.Touch(peerID) {
		return pkgerrors.ErrNotRegistered
	}

	if msg.Type == message.Register {
		return svc.registry.Send(ctx, peerID, message.Message{
			Type:   message.RegisterAck,
			Status: message.StatusSuccess,
		})
	}

	return svc.router.Enqueue(router.Context{
		PeerID: peerID,
		Round:  int(msg.Round),
	}, msg)
}

func (svc *service) Fit(ctx context.Context, peerID string, ws []weights.Tensor, cfg message.Config) bridge.FitResult {
	res := svc.bridge.RequestFit(ctx, peerID, ws, cfg)
	if res.Err == nil {
		return res
	}
	// A newer request owns the session state.
	if _, busy := svc.bridge.Pending(peerID, bridge.Fit); !busy {
		svc.registry.ReleaseTraining(peerID, cfg.Int("round", 0))
	}

	return res
}

func (svc *service) Evaluate(ctx context.Context, peerID string, ws []weights.Tensor, cfg message.Config) bridge.EvaluateResult {
	return svc.bridge.RequestEvaluate(ctx, peerID, ws, cfg)
}

func (svc *service) GetParameters(_ context.Context, peerID string) ([]weights.Tensor, error) {
	s, ok := svc.registry.Get(peerID)
	if !ok {
		return nil, pkgerrors.ErrPeerNotFound
	}
	if s.Parameters == nil {
		return []weights.Tensor{}, nil
	}

	return s.Parameters, nil
}

func (svc *service) Attach(_ context.Context, peerID string) error {
	return found(svc.registry.MarkActive(peerID))
}

func (svc *service) Detach(_ context.Context, peerID string) error {
	return found(svc.registry.MarkSessionEnded(peerID))
}

func (svc *service) Finish(_ context.Context, peerID string) error {
	return found(svc.registry.MarkFinished(peerID))
}

func (svc *service) ListPeers(_ context.Context, offset, limit uint64) (session.Page, error) {
	all := svc.registry.List()
	total := uint64(len(all))

	page := session.Page{
		Offset:   offset,
		Limit:    limit,
		Total:    total,
		Sessions: []session.Session{},
	}
	if offset >= total {
		return page, nil
	}
	end := total
	if limit < total-offset {
		end = offset + limit
	}
	page.Sessions = all[offset:end]

	return page, nil
}

func (svc *service) ViewPeer(_ context.Context, peerID string) (session.Session, error) {
	s, ok := svc.registry.Get(peerID)
	if !ok {
		return session.Session{}, pkgerrors.ErrPeerNotFound
	}

	return s, nil
}

func (svc *service) Summary(_ context.Context) (session.Summary, error) {
	return svc.registry.Summary(), nil
}

func (svc *service) Sweep(ctx context.Context) ([]string, error) {
	stale := svc.registry.ListStaleSince(svc.cfg.StaleThreshold)

	removed := make([]string, 0, len(stale))
	var errs error
	for _, id := range stale {
		err := svc.Disconnect(ctx, id, nil)
		switch {
		case err == nil:
			removed = append(removed, id)
		case errors.Is(err, pkgerrors.ErrPeerNotFound):
		default:
			removed = append(removed, id)
			errs = errors.Join(errs, err)
		}
	}

	return removed, errs
}

func (svc *service) Start(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		err := svc.router.Run(ctx)
		if errors.Is(err, context.Canceled) {
			return nil
		}

		return err
	})

	g.Go(func() error {
		ticker := time.NewTicker(svc.cfg.SweepInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
				ids, err := svc.Sweep(ctx)
				if err != nil {
					svc.logger.WarnContext(ctx, "stale sweep failed", slog.Any("error", err))
				}
				if len(ids) > 0 {
					svc.logger.InfoContext(ctx, "removed stale peers", slog.Any("peers", ids))
				}
			}
		}
	})

	return g.Wait()
}

func (svc *service) Shutdown(ctx context.Context) error {
	svc.closing.Store(true)

	timeout := svc.cfg.StopTimeout
	if deadline, ok := ctx.Deadline(); ok {
		timeout = min(timeout, time.Until(deadline))
	}
	err := svc.router.Stop(timeout)

	for id, conn := range svc.registry.Clear() {
		svc.bridge.Abort(id)
		if conn == nil {
			continue
		}
		if cerr := conn.Close(); cerr != nil {
			err = errors.Join(err, cerr)
		}
	}

	return err
}

func found(ok bool) error {
	if !ok {
		return pkgerrors.ErrPeerNotFound
	}

	return nil
}
