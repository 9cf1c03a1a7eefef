package main

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/md-rashed-zaman/slicehub/libs/config"
	"github.com/md-rashed-zaman/slicehub/libs/db"
	"github.com/md-rashed-zaman/slicehub/libs/httpx"
	"github.com/md-rashed-zaman/slicehub/libs/kafkax"
	otelx "github.com/md-rashed-zaman/slicehub/libs/otel"
	"github.com/md-rashed-zaman/slicehub/libs/outbox"
	"github.com/md-rashed-zaman/slicehub/libs/redisx"
	"github.com/md-rashed-zaman/slicehub/libs/runtime"
	"github.com/md-rashed-zaman/slicehub/services/loyalty-service/internal/consumer"
	"github.com/md-rashed-zaman/slicehub/services/loyalty-service/internal/handlers"
	"github.com/md-rashed-zaman/slicehub/services/loyalty-service/internal/jobs"
	"github.com/md-rashed-zaman/slicehub/services/loyalty-service/internal/loyalty"
	"github.com/md-rashed-zaman/slicehub/services/loyalty-service/internal/storage"
	"github.com/md-rashed-zaman/slicehub/services/loyalty-service/internal/tiers"
	"github.com/md-rashed-zaman/slicehub/services/loyalty-service/migrations"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

func main() {
	service := config.String("SERVICE_NAME", "loyalty-service")
	port, err := config.Port("PORT", "8085")
	if err != nil {
		panic(err)
	}
	logger := runtime.NewLogger(service)

	ctx, stop := runtime.SignalContext()
	defer stop()

	otelShutdown, err := otelx.Setup(ctx, otelx.ConfigFromEnv(service))
	if err != nil {
		logger.Error("otel setup failed", "err", err)
	} else {
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = otelShutdown(shutdownCtx)
		}()
	}

	dbURL, err := config.RequiredString("DATABASE_URL")
	if err != nil {
		panic(err)
	}
	pool, err := db.Open(ctx, dbURL)
	if err != nil {
		logger.Error("db connection failed", "err", err)
		panic(err)
	}
	defer pool.Close()

	if config.Bool("DB_AUTO_MIGRATE", true) {
		if err := db.Migrate(ctx, pool, migrations.FS, ".", logger); err != nil {
			logger.Error("db migration failed", "err", err)
			panic(err)
		}
	}

	table, err := tiers.LoadFile(config.String("LOYALTY_TIERS_FILE", ""))
	if err != nil {
		logger.Error("tier table invalid", "err", err)
		panic(err)
	}
	loc := loadLocation(logger, config.String("LOYALTY_TIMEZONE", "America/Sao_Paulo"))

	outboxRepo := outbox.NewRepository()
	pgStore := storage.NewPostgresStore(pool, outboxRepo)

	readyChecks := []runtime.ReadyCheck{{Name: "db", Check: db.ReadyCheck(pool)}}
	if brokers := config.String("KAFKA_BROKERS", ""); brokers != "" {
		readyChecks = append(readyChecks, runtime.ReadyCheck{Name: "kafka", Check: kafkax.ReadyCheck(brokers, consumer.TopicOrderCompleted)})
	}

	var store loyalty.AccountStore = pgStore
	if rdb := redisx.NewClientFromEnv(); rdb != nil {
		defer func() { _ = rdb.Close() }()
		readyChecks = append(readyChecks, runtime.ReadyCheck{Name: "redis", Check: redisx.ReadyCheck(rdb)})
		cache := storage.NewRedisStore(rdb, logger, storage.RedisStoreConfig{
			Prefix: config.String("LOYALTY_CACHE_PREFIX", "loyalty"),
			TTL:    config.Seconds("LOYALTY_CACHE_TTL_SECONDS", 30*24*time.Hour),
		})
		store = storage.NewFallbackStore(pgStore, cache, logger)
		logger.Info("account store fallback enabled (redis)")
	}

	svc := loyalty.NewService(store, loyalty.NewEngine(table, loc), logger, loyalty.Config{
		PointsPerCurrencyUnit: config.Int("POINTS_PER_CURRENCY_UNIT", 1),
	})

	outboxPublisher := outbox.NewPublisher(pool, outboxRepo, logger, outbox.PublisherConfig{
		Brokers:   config.String("KAFKA_BROKERS", ""),
		PollEvery: 2 * time.Second,
		BatchSize: 50,
	})
	go outboxPublisher.Run(ctx)

	startConsumer(ctx, logger, svc)

	if config.Bool("LOYALTY_BIRTHDAY_SWEEP_ENABLED", true) {
		worker := jobs.NewBirthdayWorker(pool, pgStore, svc, logger, jobs.BirthdayWorkerConfig{
			Interval:        config.Seconds("LOYALTY_BIRTHDAY_SWEEP_INTERVAL_SECONDS", time.Hour),
			BatchSize:       config.Int("LOYALTY_BIRTHDAY_SWEEP_BATCH_SIZE", 100),
			AdvisoryLockKey: int64(config.Int("LOYALTY_BIRTHDAY_SWEEP_LOCK_KEY", 5150001)),
			Location:        loc,
		})
		go worker.Run(ctx)
	}

	mux := runtime.NewBaseMuxWithReady(readyChecks...)
	handlers.New(svc, logger).Register(mux)
	setupEntitlementsRoutes(ctx, mux, logger)

	handler := httpx.Chain(mux,
		httpx.WithRequestID,
		httpx.WithAccessLog(logger),
		httpx.WithBodyLimit(64<<10),
	)
	handler = otelhttp.NewHandler(handler, "loyalty")
	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("http server starting", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server error", "err", err)
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "err", err)
	}
	logger.Info("http server stopped")
}

func startConsumer(ctx context.Context, logger *slog.Logger, svc *loyalty.Service) {
	brokers := config.String("KAFKA_BROKERS", "")
	if brokers == "" {
		logger.Warn("order consumer disabled (no kafka brokers configured)")
		return
	}
	c := kafkax.NewConsumer(logger, kafkax.ConsumerConfig{
		Brokers: brokers,
		GroupID: config.String("KAFKA_GROUP_ID", "loyalty-service"),
		Topic:   consumer.TopicOrderCompleted,

		MaxRetryBackoff: config.Seconds("KAFKA_MAX_RETRY_BACKOFF_SECONDS", 30*time.Second),
	}, consumer.OrderHandler(svc, logger))
	go c.Run(ctx)
}

func loadLocation(logger *slog.Logger, name string) *time.Location {
	loc, err := time.LoadLocation(name)
	if err != nil {
		logger.Warn("unknown timezone, using UTC", "timezone", name, "err", err)
		return time.UTC
	}
	return loc
}
