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
	"github.com/md-rashed-zaman/slicehub/services/billing-service/internal/cache"
	"github.com/md-rashed-zaman/slicehub/services/billing-service/internal/consumer"
	"github.com/md-rashed-zaman/slicehub/services/billing-service/internal/entitlements"
	"github.com/md-rashed-zaman/slicehub/services/billing-service/internal/handlers"
	"github.com/md-rashed-zaman/slicehub/services/billing-service/internal/reconcile"
	"github.com/md-rashed-zaman/slicehub/services/billing-service/internal/storage"
	"github.com/md-rashed-zaman/slicehub/services/billing-service/internal/subscriptions"
	"github.com/md-rashed-zaman/slicehub/services/billing-service/internal/usage"
	"github.com/md-rashed-zaman/slicehub/services/billing-service/migrations"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

func main() {
	service := config.String("SERVICE_NAME", "billing-service")
	port, err := config.Port("PORT", "8084")
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

	catalog, err := entitlements.LoadCatalogFile(config.String("BILLING_CATALOG_FILE", ""))
	if err != nil {
		logger.Error("plan catalog invalid", "err", err)
		panic(err)
	}
	loc := loadLocation(logger, config.String("BILLING_TIMEZONE", "America/Sao_Paulo"))

	readyChecks := []runtime.ReadyCheck{{Name: "db", Check: db.ReadyCheck(pool)}}
	if brokers := config.String("KAFKA_BROKERS", ""); brokers != "" {
		readyChecks = append(readyChecks, runtime.ReadyCheck{Name: "kafka", Check: kafkax.ReadyCheck(brokers, consumer.TopicOrderCompleted)})
	}

	var snapshots usage.Cache
	if rdb := redisx.NewClientFromEnv(); rdb != nil {
		defer func() { _ = rdb.Close() }()
		readyChecks = append(readyChecks, runtime.ReadyCheck{Name: "redis", Check: redisx.ReadyCheck(rdb)})
		snapshots = cache.NewSnapshotCache(rdb,
			config.String("BILLING_CACHE_PREFIX", "billing"),
			config.Seconds("BILLING_CACHE_TTL_SECONDS", 5*time.Minute),
		)
		logger.Info("entitlement snapshot cache enabled (redis)")
	}

	repo := storage.NewRepository(pool)
	outboxRepo := outbox.NewRepository()
	subSvc := subscriptions.New(repo, outboxRepo, catalog)
	usageSvc := usage.NewService(repo, catalog, snapshots, logger, usage.Config{Location: loc})

	outboxPublisher := outbox.NewPublisher(pool, outboxRepo, logger, outbox.PublisherConfig{
		Brokers:   config.String("KAFKA_BROKERS", ""),
		PollEvery: 2 * time.Second,
		BatchSize: 50,
	})
	go outboxPublisher.Run(ctx)

	startConsumer(ctx, logger, usageSvc)

	mux := runtime.NewBaseMuxWithReady(readyChecks...)
	handlers.New(repo, subSvc, usageSvc, logger, handlers.Config{
		StripeWebhookSecret:    config.String("STRIPE_WEBHOOK_SECRET", ""),
		StripeWebhookTolerance: config.Seconds("STRIPE_WEBHOOK_TOLERANCE_SECONDS", 300*time.Second),
		StripeSecretKey:        config.String("STRIPE_SECRET_KEY", ""),
		StripePrices: map[string]string{
			entitlements.PlanBasic: config.String("STRIPE_PRICE_BASIC", ""),
			entitlements.PlanPro:   config.String("STRIPE_PRICE_PRO", ""),
			entitlements.PlanUltra: config.String("STRIPE_PRICE_ULTRA", ""),
		},
		Currency:           config.String("BILLING_CURRENCY", "brl"),
		CheckoutSuccessURL: config.String("CHECKOUT_SUCCESS_URL", ""),
		CheckoutCancelURL:  config.String("CHECKOUT_CANCEL_URL", ""),
	}).Register(mux)

	handler := httpx.Chain(mux,
		httpx.WithRequestID,
		httpx.WithAccessLog(logger),
	)
	handler = otelhttp.NewHandler(handler, "billing")
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

	// Periodically self-heal subscription state when webhooks are missed.
	if config.Bool("BILLING_STRIPE_RECONCILE_ENABLED", false) {
		rec := reconcile.NewStripeReconciler(pool, repo, subSvc, usageSvc, logger, reconcile.StripeReconcilerConfig{
			StripeSecretKey: config.String("STRIPE_SECRET_KEY", ""),
			BatchSize:       config.Int("BILLING_STRIPE_RECONCILE_BATCH_SIZE", 50),
			AdvisoryLockKey: int64(config.Int("BILLING_STRIPE_RECONCILE_LOCK_KEY", 4242001)),
		})
		go rec.Run(ctx, config.Seconds("BILLING_STRIPE_RECONCILE_INTERVAL_SECONDS", 5*time.Minute))
	}

	if err := startGrpcServer(ctx, logger, usageSvc); err != nil {
		logger.Error("grpc server failed to start", "err", err)
	}

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "err", err)
	}
	logger.Info("http server stopped")
}

func startConsumer(ctx context.Context, logger *slog.Logger, svc *usage.Service) {
	brokers := config.String("KAFKA_BROKERS", "")
	if brokers == "" {
		logger.Warn("order consumer disabled (no kafka brokers configured)")
		return
	}
	c := kafkax.NewConsumer(logger, kafkax.ConsumerConfig{
		Brokers: brokers,
		GroupID: config.String("KAFKA_GROUP_ID", "billing-service"),
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
