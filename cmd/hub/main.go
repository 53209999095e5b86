package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/url"
	"os"

	"github.com/absmach/fedmob"
	"github.com/absmach/fedmob/coordinator"
	"github.com/absmach/fedmob/hub"
	"github.com/absmach/fedmob/hub/api"
	"github.com/absmach/fedmob/hub/middleware"
	pkgerrors "github.com/absmach/fedmob/pkg/errors"
	"github.com/absmach/fedmob/pkg/fl"
	pubsub "github.com/absmach/fedmob/pkg/mqtt"
	"github.com/absmach/fedmob/pkg/storage"
	"github.com/absmach/fedmob/pkg/storage/sqlstore"
	"github.com/absmach/fedmob/transport/mqtt"
	"github.com/absmach/fedmob/transport/ws"
	"github.com/absmach/supermq/pkg/jaeger"
	"github.com/absmach/supermq/pkg/prometheus"
	"github.com/absmach/supermq/pkg/server"
	httpserver "github.com/absmach/supermq/pkg/server/http"
	"github.com/caarlos0/env/v11"
	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"golang.org/x/sync/errgroup"
)

const (
	svcName       = "hub"
	defHTTPPort   = "8765"
	envPrefixHTTP = "FEDMOB_HTTP_"
	envPrefixHub  = "FEDMOB_HUB_"
	envPrefixWS   = "FEDMOB_WS_"
	envPrefixMQTT = "FEDMOB_MQTT_"
	pathEnv       = ".env"
)

type envConfig struct {
	LogLevel   string  `env:"FEDMOB_LOG_LEVEL"    envDefault:"info"`
	InstanceID string  `env:"FEDMOB_INSTANCE_ID"`
	ConfigFile string  `env:"FEDMOB_CONFIG_FILE"`
	AutoStart  bool    `env:"FEDMOB_AUTOSTART"    envDefault:"false"`
	MQTT       bool    `env:"FEDMOB_MQTT_ENABLED" envDefault:"false"`
	OTELURL    url.URL `env:"FEDMOB_OTEL_URL"`
	TraceRatio float64 `env:"FEDMOB_TRACE_RATIO"  envDefault:"0"`
	Storage    storage.Config
}

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	g, ctx := errgroup.WithContext(ctx)

	if _, err := os.Stat(pathEnv); err == nil {
		_ = godotenv.Load(pathEnv)
	}

	cfg := envConfig{}
	if err := env.Parse(&cfg); err != nil {
		log.Fatalf("failed to load configuration : %s", err.Error())
	}

	if cfg.InstanceID == "" {
		cfg.InstanceID = uuid.NewString()
	}

	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
		log.Fatalf("failed to parse log level: %s", err.Error())
	}
	logHandler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	})
	logger := slog.New(logHandler)
	slog.SetDefault(logger)

	var tp trace.TracerProvider
	switch {
	case cfg.OTELURL == (url.URL{}):
		tp = noop.NewTracerProvider()
	default:
		sdktp, err := jaeger.NewProvider(ctx, svcName, cfg.OTELURL, cfg.InstanceID, cfg.TraceRatio)
		if err != nil {
			logger.Error("failed to initialize opentelemetry", slog.String("error", err.Error()))

			return
		}
		defer func() {
			if err := sdktp.Shutdown(ctx); err != nil {
				logger.Error("error shutting down tracer provider", slog.Any("error", err))
			}
		}()
		tp = sdktp
	}
	tracer := tp.Tracer(svcName)

	hubCfg := hub.Config{}
	if err := env.ParseWithOptions(&hubCfg, env.Options{Prefix: envPrefixHub}); err != nil {
		logger.Error("failed to load hub configuration", slog.String("error", err.Error()))

		return
	}

	var strategy *fedmob.Config
	if cfg.ConfigFile != "" {
		loaded, err := fedmob.LoadConfig(cfg.ConfigFile)
		if err != nil {
			logger.Error("failed to load strategy file", slog.String("path", cfg.ConfigFile), slog.String("error", err.Error()))

			return
		}
		strategy = loaded
		if err := applyTimeouts(&hubCfg, loaded.Timeouts); err != nil {
			logger.Error("failed to apply strategy timeouts", slog.String("error", err.Error()))

			return
		}
		layout, err := loaded.Model.Layout()
		if err != nil {
			logger.Error("failed to parse model layout", slog.String("error", err.Error()))

			return
		}
		hubCfg.Layout = layout
	}

	store, err := newStorage(cfg.Storage)
	if err != nil {
		logger.Error("failed to initialize storage", slog.String("type", cfg.Storage.Type), slog.String("error", err.Error()))

		return
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Error("error closing storage", slog.Any("error", err))
		}
	}()

	svc := hub.NewService(hubCfg, logger)
	svc = middleware.Logging(logger, svc)
	svc = middleware.Tracing(tracer, svc)
	counter, latency := prometheus.MakeMetrics(svcName, "api")
	svc = middleware.Metrics(counter, latency, svc)

	coord := coordinator.NewService(svc, fl.NewStore(store), fl.NewFedAvgAggregator(), logger)

	wsCfg := ws.Config{}
	if err := env.ParseWithOptions(&wsCfg, env.Options{Prefix: envPrefixWS}); err != nil {
		logger.Error("failed to load websocket configuration", slog.String("error", err.Error()))

		return
	}

	if cfg.MQTT {
		transport, ps, err := newMQTTTransport(ctx, svc, logger)
		if err != nil {
			logger.Error("failed to initialize mqtt transport", slog.String("error", err.Error()))

			return
		}
		defer func() {
			closeCtx := context.Background()
			if err := errors.Join(transport.Close(closeCtx), ps.Disconnect(closeCtx)); err != nil {
				logger.Warn("error closing mqtt transport", slog.Any("error", err))
			}
		}()
	}

	httpServerConfig := server.Config{Port: defHTTPPort}
	if err := env.ParseWithOptions(&httpServerConfig, env.Options{Prefix: envPrefixHTTP}); err != nil {
		logger.Error(fmt.Sprintf("failed to load %s HTTP server configuration : %s", svcName, err.Error()))

		return
	}

	handler := api.MakeHandler(svc, coord, ws.NewHandler(svc, wsCfg, logger), logger, cfg.InstanceID)
	hs := httpserver.NewServer(ctx, cancel, svcName, httpServerConfig, handler, logger)

	g.Go(func() error {
		return svc.Start(ctx)
	})

	g.Go(func() error {
		return hs.Start()
	})

	g.Go(func() error {
		return server.StopSignalHandler(ctx, cancel, logger, svcName, hs)
	})

	if strategy != nil && strategy.Schedule.Cron != "" {
		schedule, err := strategy.Schedule.Parse()
		if err != nil {
			logger.Error("failed to parse training schedule", slog.String("error", err.Error()))

			return
		}
		sched := coordinator.NewScheduler(coord, schedule, strategy.Strategy, logger)
		g.Go(func() error {
			return sched.Start(ctx)
		})
	}

	if cfg.AutoStart {
		if strategy == nil {
			strategy = &fedmob.Config{}
		}
		if _, err := coord.Start(ctx, strategy.Strategy); err != nil {
			logger.Error("failed to start training run", slog.String("error", err.Error()))
		}
	}

	if err := g.Wait(); err != nil {
		logger.Error(fmt.Sprintf("%s service exited with error: %s", svcName, err))
	}

	shutdownCtx := context.WithoutCancel(ctx)
	if err := coord.Stop(shutdownCtx); err != nil && !errors.Is(err, pkgerrors.ErrNotRunning) {
		logger.Warn("error stopping training run", slog.Any("error", err))
	}
	if err := svc.Shutdown(shutdownCtx); err != nil {
		logger.Warn("error shutting down hub", slog.Any("error", err))
	}
}

func newStorage(cfg storage.Config) (storage.Storage, error) {
	switch cfg.Type {
	case storage.Memory, "":
		return storage.NewInMemoryStorage(), nil
	case storage.Badger:
		return storage.NewBadgerStorage(cfg.BadgerPath)
	case storage.SQLite:
		return sqlstore.NewDatabase(sqlstore.SQLite, cfg.SQLitePath)
	case storage.Postgres:
		dsn := sqlstore.PostgresDSN(cfg.PostgresHost, cfg.PostgresPort, cfg.PostgresUser, cfg.PostgresPass, cfg.PostgresDB, cfg.PostgresSSLMode)

		return sqlstore.NewDatabase(sqlstore.Postgres, dsn)
	default:
		return nil, fmt.Errorf("%w: %s", storage.ErrUnsupportedType, cfg.Type)
	}
}

func newMQTTTransport(ctx context.Context, svc hub.Service, logger *slog.Logger) (*mqtt.Transport, pubsub.PubSub, error) {
	psCfg := pubsub.Config{}
	if err := env.ParseWithOptions(&psCfg, env.Options{Prefix: envPrefixMQTT}); err != nil {
		return nil, nil, err
	}
	ps, err := pubsub.NewPubSub(psCfg, logger)
	if err != nil {
		return nil, nil, err
	}

	tCfg := mqtt.Config{}
	if err := env.ParseWithOptions(&tCfg, env.Options{Prefix: envPrefixMQTT}); err != nil {
		return nil, nil, errors.Join(err, ps.Disconnect(ctx))
	}
	transport := mqtt.New(svc, ps, tCfg, logger)
	if err := transport.Subscribe(ctx); err != nil {
		return nil, nil, errors.Join(err, ps.Disconnect(ctx))
	}

	return transport, ps, nil
}

func applyTimeouts(cfg *hub.Config, t fedmob.TimeoutConfig) error {
	fit, err := t.FitTimeout()
	if err != nil {
		return err
	}
	eval, err := t.EvaluateTimeout()
	if err != nil {
		return err
	}
	if fit > 0 {
		cfg.FitTimeout = fit
	}
	if eval > 0 {
		cfg.EvaluateTimeout = eval
	}

	return nil
}
