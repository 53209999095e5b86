package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/absmach/fedmob/coordinator"
	"github.com/absmach/fedmob/hub"
	"github.com/absmach/fedmob/pkg/api"
	"github.com/absmach/supermq"
	apiutil "github.com/absmach/supermq/api/http/util"
	"github.com/go-chi/chi/v5"
	kithttp "github.com/go-kit/kit/transport/http"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// MakeHandler serves the management API. peers handles websocket upgrades
// on /ws and may be nil when the websocket transport is disabled.
func MakeHandler(svc hub.Service, coord coordinator.Service, peers http.Handler, logger *slog.Logger, instanceID string) http.Handler {
	mux := chi.NewRouter()

	opts := []kithttp.ServerOption{
		kithttp.ServerErrorEncoder(apiutil.LoggingErrorEncoder(logger, api.EncodeError)),
	}

	mux.Route("/peers", func(r chi.Router) {
		r.Get("/", otelhttp.NewHandler(kithttp.NewServer(
			listPeersEndpoint(svc),
			decodeListEntityReq,
			api.EncodeResponse,
			opts...,
		), "list-peers").ServeHTTP)
		r.Route("/{peerID}", func(r chi.Router) {
			r.Get("/", otelhttp.NewHandler(kithttp.NewServer(
				viewPeerEndpoint(svc),
				decodeEntityReq("peerID"),
				api.EncodeResponse,
				opts...,
			), "view-peer").ServeHTTP)
			r.Delete("/", otelhttp.NewHandler(kithttp.NewServer(
				disconnectPeerEndpoint(svc),
				decodeEntityReq("peerID"),
				api.EncodeResponse,
				opts...,
			), "disconnect-peer").ServeHTTP)
		})
	})

	mux.Get("/summary", otelhttp.NewHandler(kithttp.NewServer(
		summaryEndpoint(svc),
		kithttp.NopRequestDecoder,
		api.EncodeResponse,
		opts...,
	), "summary").ServeHTTP)

	mux.Route("/rounds", func(r chi.Router) {
		r.Get("/", otelhttp.NewHandler(kithttp.NewServer(
			listRoundsEndpoint(coord),
			decodeListEntityReq,
			api.EncodeResponse,
			opts...,
		), "list-rounds").ServeHTTP)
		r.Get("/{round}", otelhttp.NewHandler(kithttp.NewServer(
			viewRoundEndpoint(coord),
			decodeRoundReq,
			api.EncodeResponse,
			opts...,
		), "view-round").ServeHTTP)
	})

	mux.Route("/training", func(r chi.Router) {
		r.Post("/", otelhttp.NewHandler(kithttp.NewServer(
			startTrainingEndpoint(coord),
			decodeTrainingReq,
			api.EncodeResponse,
			opts...,
		), "start-training").ServeHTTP)
		r.Get("/", otelhttp.NewHandler(kithttp.NewServer(
			trainingStatusEndpoint(coord),
			kithttp.NopRequestDecoder,
			api.EncodeResponse,
			opts...,
		), "training-status").ServeHTTP)
		r.Delete("/", otelhttp.NewHandler(kithttp.NewServer(
			stopTrainingEndpoint(coord),
			kithttp.NopRequestDecoder,
			api.EncodeResponse,
			opts...,
		), "stop-training").ServeHTTP)
	})

	if peers != nil {
		mux.Handle("/ws", peers)
	}

	mux.Get("/health", supermq.Health("fedmob", instanceID))
	mux.Handle("/metrics", promhttp.Handler())

	return mux
}

func decodeEntityReq(key string) kithttp.DecodeRequestFunc {
	return func(_ context.Context, r *http.Request) (any, error) {
		return entityReq{
			id: chi.URLParam(r, key),
		}, nil
	}
}

func decodeListEntityReq(_ context.Context, r *http.Request) (any, error) {
	o, err := apiutil.ReadNumQuery[uint64](r, api.OffsetKey, api.DefOffset)
	if err != nil {
		return nil, errors.Join(apiutil.ErrValidation, err)
	}

	l, err := apiutil.ReadNumQuery[uint64](r, api.LimitKey, api.DefLimit)
	if err != nil {
		return nil, errors.Join(apiutil.ErrValidation, err)
	}

	return listEntityReq{
		offset: o,
		limit:  l,
	}, nil
}

func decodeRoundReq(_ context.Context, r *http.Request) (any, error) {
	n, err := strconv.Atoi(chi.URLParam(r, "round"))
	if err != nil {
		return nil, errors.Join(apiutil.ErrValidation, err)
	}

	return roundReq{
		round: n,
	}, nil
}

// decodeTrainingReq accepts an empty body, which starts a run with the
// default strategy.
func decodeTrainingReq(_ context.Context, r *http.Request) (any, error) {
	var req trainingReq
	if r.ContentLength == 0 {
		return req, nil
	}
	if !strings.Contains(r.Header.Get("Content-Type"), api.ContentType) {
		return nil, errors.Join(apiutil.ErrValidation, apiutil.ErrUnsupportedContentType)
	}

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		return nil, errors.Join(err, apiutil.ErrValidation)
	}

	return req, nil
}
