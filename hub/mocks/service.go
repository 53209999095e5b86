package mocks

import (
	"context"

	"github.com/absmach/fedmob/bridge"
	"github.com/absmach/fedmob/hub"
	"github.com/absmach/fedmob/pkg/message"
	"github.com/absmach/fedmob/pkg/weights"
	"github.com/absmach/fedmob/session"
	"github.com/stretchr/testify/mock"
)

var _ hub.Service = (*Service)(nil)

// Service is a mock implementation of the hub.Service interface.
type Service struct {
	mock.Mock
}

func (m *Service) Connect(ctx context.Context, peerID string, conn session.Conn) error {
	args := m.Called(ctx, peerID, conn)

	return args.Error(0)
}

func (m *Service) Disconnect(ctx context.Context, peerID string, conn session.Conn) error {
	args := m.Called(ctx, peerID, conn)

	return args.Error(0)
}

func (m *Service) Receive(ctx context.Context, peerID string, msg message.Message) error {
	args := m.Called(ctx, peerID, msg)

	return args.Error(0)
}

func (m *Service) Fit(ctx context.Context, peerID string, ws []weights.Tensor, cfg message.Config) bridge.FitResult {
	args := m.Called(ctx, peerID, ws, cfg)

	return args.Get(0).(bridge.FitResult)
}

func (m *Service) Evaluate(ctx context.Context, peerID string, ws []weights.Tensor, cfg message.Config) bridge.EvaluateResult {
	args := m.Called(ctx, peerID, ws, cfg)

	return args.Get(0).(bridge.EvaluateResult)
}

func (m *Service) GetParameters(ctx context.Context, peerID string) ([]weights.Tensor, error) {
	args := m.Called(ctx, peerID)
	ws, _ := args.Get(0).([]weights.Tensor)

	return ws, args.Error(1)
}

func (m *Service) Attach(ctx context.Context, peerID string) error {
	args := m.Called(ctx, peerID)

	return args.Error(0)
}

func (m *Service) Detach(ctx context.Context, peerID string) error {
	args := m.Called(ctx, peerID)

	return args.Error(0)
}

func (m *Service) Finish(ctx context.Context, peerID string) error {
	args := m.Called(ctx, peerID)

	return args.Error(0)
}

func (m *Service) ListPeers(ctx context.Context, offset, limit uint64) (session.Page, error) {
	args := m.Called(ctx, offset, limit)

	return args.Get(0).(session.Page), args.Error(1)
}

func (m *Service) ViewPeer(ctx context.Context, peerID string) (session.Session, error) {
	args := m.Called(ctx, peerID)

	return args.Get(0).(session.Session), args.Error(1)
}

func (m *Service) Summary(ctx context.Context) (session.Summary, error) {
	args := m.Called(ctx)

	return args.Get(0).(session.Summary), args.Error(1)
}

func (m *Service) Sweep(ctx context.Context) ([]string, error) {
	args := m.Called(ctx)
	ids, _ := args.Get(0).([]string)

	return ids, args.Error(1)
}

func (m *Service) Start(ctx context.Context) error {
	args := m.Called(ctx)

	return args.Error(0)
}

func (m *Service) Shutdown(ctx context.Context) error {
	args := m.Called(ctx)

	return args.Error(0)
}
