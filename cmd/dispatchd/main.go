package main

import (
	"context"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/redis/go-redis/v9"

	"github.com/paxoscn/llmdispatch/internal/configstore"
	"github.com/paxoscn/llmdispatch/internal/metrics"
	"github.com/paxoscn/llmdispatch/internal/server"
	"github.com/paxoscn/llmdispatch/internal/telemetry"
	"github.com/paxoscn/llmdispatch/llmcore"
	"github.com/paxoscn/llmdispatch/llmcore/dispatch"
	"github.com/paxoscn/llmdispatch/llmcore/health"
	"github.com/paxoscn/llmdispatch/llmcore/idempotency"
)

func main() {
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	otelProviders, err := telemetry.Init(telemetryConfigFromEnv(), logger)
	if err != nil {
		logger.Warn("failed to initialize telemetry", zap.Error(err))
	} else {
		defer otelProviders.Shutdown(context.Background())
	}

	registry, err := bootstrapRegistry(logger)
	exitOnErr(logger, "bootstrap failed", err)

	tracker := health.New()
	d := dispatch.New(registry, tracker, dispatch.DefaultConfig())
	d.Metrics = metrics.NewCollector("dispatchd", logger)

	prober := dispatch.NewProber(d, 0)
	prober.Start(context.Background())
	defer prober.Stop()

	store, err := openConfigStore(logger)
	exitOnErr(logger, "config store setup failed", err)

	facade := &llmcore.Facade{Store: store, Dispatch: d}
	if cache := openIdempotencyCache(logger); cache != nil {
		facade.Idempotent = cache
		facade.KeyFunc = idempotency.Key
	}

	h := newHandler(facade, logger)
	srv := server.NewManager(h, server.DefaultConfig(), logger)
	exitOnErr(logger, "failed to start HTTP server", srv.Start())

	logger.Info("dispatchd listening", zap.String("addr", srv.Addr()))
	srv.WaitForShutdown()
	logger.Info("dispatchd stopped")
}

// telemetryConfigFromEnv enables tracing when OTEL_EXPORTER_OTLP_ENDPOINT
// is set; absence leaves telemetry disabled (noop providers), matching
// the other optional-env-var bootstrap behaviors of §6.
func telemetryConfigFromEnv() telemetry.Config {
	endpoint := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")
	return telemetry.Config{
		Enabled:      endpoint != "",
		ServiceName:  envOr("OTEL_SERVICE_NAME", "dispatchd"),
		OTLPEndpoint: endpoint,
		SampleRate:   1.0,
	}
}

// openConfigStore opens the sqlite-backed ConfigStore at LLM_CONFIG_DSN,
// defaulting to an in-process file, per §6.
func openConfigStore(logger *zap.Logger) (*configstore.Store, error) {
	dsn := os.Getenv("LLM_CONFIG_DSN")
	db, err := configstore.Open(configstore.DriverSQLite, dsn)
	if err != nil {
		return nil, err
	}
	return configstore.New(db, logger)
}

// openIdempotencyCache returns an idempotency cache backed by
// LLM_IDEMPOTENCY_REDIS_ADDR, or nil if that variable is unset —
// absence disables caching, it is not a bootstrap failure (§6).
func openIdempotencyCache(logger *zap.Logger) *idempotency.Cache {
	addr := os.Getenv("LLM_IDEMPOTENCY_REDIS_ADDR")
	if addr == "" {
		return nil
	}
	client := redis.NewClient(&redis.Options{Addr: addr, DialTimeout: 5 * time.Second})
	return idempotency.New(client, logger)
}
