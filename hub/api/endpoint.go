package api

import (
	"context"
	"errors"

	"github.com/absmach/fedmob/coordinator"
	"github.com/absmach/fedmob/hub"
	pkgerrors "github.com/absmach/fedmob/pkg/errors"
	apiutil "github.com/absmach/supermq/api/http/util"
	"github.com/go-kit/kit/endpoint"
)

func listPeersEndpoint(svc hub.Service) endpoint.Endpoint {
	return func(ctx context.Context, request any) (any, error) {
		req, ok := request.(listEntityReq)
		if !ok {
			return listPeersResponse{}, errors.Join(apiutil.ErrValidation, pkgerrors.ErrInvalidData)
		}
		if err := req.validate(); err != nil {
			return listPeersResponse{}, errors.Join(apiutil.ErrValidation, err)
		}

		peers, err := svc.ListPeers(ctx, req.offset, req.limit)
		if err != nil {
			return listPeersResponse{}, err
		}

		return listPeersResponse{
			Page: peers,
		}, nil
	}
}

func viewPeerEndpoint(svc hub.Service) endpoint.Endpoint {
	return func(ctx context.Context, request any) (any, error) {
		req, ok := request.(entityReq)
		if !ok {
			return peerResponse{}, errors.Join(apiutil.ErrValidation, pkgerrors.ErrInvalidData)
		}
		if err := req.validate(); err != nil {
			return peerResponse{}, errors.Join(apiutil.ErrValidation, err)
		}

		peer, err := svc.ViewPeer(ctx, req.id)
		if err != nil {
			return peerResponse{}, err
		}

		return peerResponse{
			Session: peer,
		}, nil
	}
}

func disconnectPeerEndpoint(svc hub.Service) endpoint.Endpoint {
	return func(ctx context.Context, request any) (any, error) {
		req, ok := request.(entityReq)
		if !ok {
			return peerResponse{}, errors.Join(apiutil.ErrValidation, pkgerrors.ErrInvalidData)
		}
		if err := req.validate(); err != nil {
			return peerResponse{}, errors.Join(apiutil.ErrValidation, err)
		}

		if err := svc.Disconnect(ctx, req.id, nil); err != nil {
			return peerResponse{}, err
		}

		return peerResponse{
			deleted: true,
		}, nil
	}
}

func summaryEndpoint(svc hub.Service) endpoint.Endpoint {
	return func(ctx context.Context, _ any) (any, error) {
		sum, err := svc.Summary(ctx)
		if err != nil {
			return summaryResponse{}, err
		}

		return summaryResponse{
			Summary: sum,
		}, nil
	}
}

func listRoundsEndpoint(svc coordinator.Service) endpoint.Endpoint {
	return func(ctx context.Context, request any) (any, error) {
		req, ok := request.(listEntityReq)
		if !ok {
			return listRoundsResponse{}, errors.Join(apiutil.ErrValidation, pkgerrors.ErrInvalidData)
		}
		if err := req.validate(); err != nil {
			return listRoundsResponse{}, errors.Join(apiutil.ErrValidation, err)
		}

		rounds, err := svc.ListRounds(ctx, req.offset, req.limit)
		if err != nil {
			return listRoundsResponse{}, err
		}

		return listRoundsResponse{
			RoundPage: rounds,
		}, nil
	}
}

func viewRoundEndpoint(svc coordinator.Service) endpoint.Endpoint {
	return func(ctx context.Context, request any) (any, error) {
		req, ok := request.(roundReq)
		if !ok {
			return roundResponse{}, errors.Join(apiutil.ErrValidation, pkgerrors.ErrInvalidData)
		}
		if err := req.validate(); err != nil {
			return roundResponse{}, errors.Join(apiutil.ErrValidation, err)
		}

		round, err := svc.ViewRound(ctx, req.round)
		if err != nil {
			return roundResponse{}, err
		}

		return roundResponse{
			Round: round,
		}, nil
	}
}

func startTrainingEndpoint(svc coordinator.Service) endpoint.Endpoint {
	return func(ctx context.Context, request any) (any, error) {
		req, ok := request.(trainingReq)
		if !ok {
			return statusResponse{}, errors.Join(apiutil.ErrValidation, pkgerrors.ErrInvalidData)
		}
		if err := req.validate(); err != nil {
			return statusResponse{}, err
		}

		st, err := svc.Start(ctx, req.Config)
		if err != nil {
			return statusResponse{}, err
		}

		return statusResponse{
			Status:  st,
			started: true,
		}, nil
	}
}

func trainingStatusEndpoint(svc coordinator.Service) endpoint.Endpoint {
	return func(ctx context.Context, _ any) (any, error) {
		st, err := svc.Status(ctx)
		if err != nil {
			return statusResponse{}, err
		}

		return statusResponse{
			Status: st,
		}, nil
	}
}

func stopTrainingEndpoint(svc coordinator.Service) endpoint.Endpoint {
	return func(ctx context.Context, _ any) (any, error) {
		if err := svc.Stop(ctx); err != nil {
			return statusResponse{}, err
		}

		return statusResponse{
			stopped: true,
		}, nil
	}
}
