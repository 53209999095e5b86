package mocks

import (
	"context"

	"github.com/absmach/fedmob/coordinator"
	"github.com/absmach/fedmob/pkg/fl"
	"github.com/stretchr/testify/mock"
)

var _ coordinator.Service = (*Service)(nil)

// Service is a mock implementation of the coordinator.Service interface.
type Service struct {
	mock.Mock
}

func (m *Service) Start(ctx context.Context, cfg coordinator.Config) (coordinator.Status, error) {
	args := m.Called(ctx, cfg)

	return args.Get(0).(coordinator.Status), args.Error(1)
}

func (m *Service) Run(ctx context.Context, cfg coordinator.Config) error {
	args := m.Called(ctx, cfg)

	return args.Error(0)
}

func (m *Service) Stop(ctx context.Context) error {
	args := m.Called(ctx)

	return args.Error(0)
}

func (m *Service) Status(ctx context.Context) (coordinator.Status, error) {
	args := m.Called(ctx)

	return args.Get(0).(coordinator.Status), args.Error(1)
}

func (m *Service) ListRounds(ctx context.Context, offset, limit uint64) (fl.RoundPage, error) {
	args := m.Called(ctx, offset, limit)

	return args.Get(0).(fl.RoundPage), args.Error(1)
}

func (m *Service) ViewRound(ctx context.Context, round int) (fl.Round, error) {
	args := m.Called(ctx, round)

	return args.Get(0).(fl.Round), args.Error(1)
}
