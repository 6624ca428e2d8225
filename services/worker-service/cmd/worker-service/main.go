package main

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/md-rashed-zaman/recipeshare/libs/auth"
	"github.com/md-rashed-zaman/recipeshare/libs/config"
	"github.com/md-rashed-zaman/recipeshare/libs/db"
	"github.com/md-rashed-zaman/recipeshare/libs/events"
	"github.com/md-rashed-zaman/recipeshare/libs/httpx"
	"github.com/md-rashed-zaman/recipeshare/libs/jobqueue"
	"github.com/md-rashed-zaman/recipeshare/libs/kafkax"
	"github.com/md-rashed-zaman/recipeshare/libs/metrics"
	otelx "github.com/md-rashed-zaman/recipeshare/libs/otel"
	"github.com/md-rashed-zaman/recipeshare/libs/outbox"
	"github.com/md-rashed-zaman/recipeshare/libs/runtime"
	"github.com/md-rashed-zaman/recipeshare/services/worker-service/internal/dashboard"
	"github.com/md-rashed-zaman/recipeshare/services/worker-service/internal/deadletter"
	"github.com/md-rashed-zaman/recipeshare/services/worker-service/internal/dedup"
	"github.com/md-rashed-zaman/recipeshare/services/worker-service/internal/notification"
	"github.com/md-rashed-zaman/recipeshare/services/worker-service/internal/workerconfig"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

func main() {
	if err := runtime.LoadDotEnv(); err != nil {
		panic(err)
	}
	service := config.String("SERVICE_NAME", "worker-service")
	port, err := config.Port("PORT", "8090")
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

	workerCfg, err := workerconfig.Load(config.String("WORKER_CONFIG_FILE", ""))
	if err != nil {
		logger.Error("worker config invalid", "err", err)
		panic(err)
	}

	dbURL, err := config.RequiredString("DATABASE_URL")
	if err != nil {
		panic(err)
	}
	if config.Bool("DB_AUTO_MIGRATE", false) {
		if err := db.Migrate(ctx, dbURL); err != nil {
			logger.Error("db migration failed", "err", err)
			panic(err)
		}
	}
	pool, err := db.Open(ctx, dbURL)
	if err != nil {
		logger.Error("db connection failed", "err", err)
		panic(err)
	}
	defer pool.Close()

	readyChecks := []runtime.ReadyCheck{{Name: "db", Check: db.ReadyCheck(pool)}}

	backend, err := openQueueBackend(ctx, config.String("QUEUE_BACKEND", "postgres"), workerCfg.Queues, pool, dbURL, logger)
	if err != nil {
		logger.Error("queue backend unavailable", "err", err)
		panic(err)
	}
	defer backend.close()
	readyChecks = append(readyChecks, backend.checks...)
	for _, run := range backend.run {
		go run(ctx)
	}

	inbox := dedup.NewPostgresDeduper(pool)
	var deduper events.Deduper = inbox
	switch strings.ToLower(config.String("DEDUP_BACKEND", "postgres")) {
	case "redis":
		rdb := redis.NewClient(&redis.Options{Addr: config.String("REDIS_ADDR", "redis:6379")})
		defer rdb.Close()
		deduper = dedup.NewRedisDeduper(rdb, workerCfg.Retention.Handled, config.String("DEDUP_REDIS_PREFIX", "handled"))
		readyChecks = append(readyChecks, runtime.ReadyCheck{Name: "redis", Check: func(ctx context.Context) error {
			return rdb.Ping(ctx).Err()
		}})
	case "none":
		deduper = events.NopDeduper{}
	}

	var sender notification.Sender
	switch strings.ToLower(config.String("EMAIL_SENDER", "smtp")) {
	case "log":
		sender = notification.NewLogSender(logger)
	default:
		sender = notification.NewSMTPSender(
			config.String("SMTP_HOST", "mailpit"),
			config.String("SMTP_PORT", "1025"),
			config.String("SMTP_FROM", "no-reply@recipeshare.local"),
		)
	}
	if suffix := config.String("NOTIFICATION_FAIL_SUFFIX", ""); suffix != "" {
		logger.Warn("notification fault injection enabled", "suffix", suffix)
		sender = notification.NewFailingSender(sender, suffix)
	}
	notifier := notification.NewEmailNotifier(sender, logger, notification.Config{
		BaseURL: config.String("PUBLIC_BASE_URL", ""),
	})

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	sink := metrics.NewPrometheusSink(registry, logger)
	if backend.inspector != nil {
		registry.MustRegister(metrics.NewQueueCollector(backend.inspector))
	}

	outboxRepo := outbox.NewRepository()
	kafkaBrokers := config.String("KAFKA_BROKERS", "")
	relay := outbox.NewRelay(pool, outboxRepo, logger, outbox.RelayConfig{
		Brokers:   kafkaBrokers,
		PollEvery: config.Duration("OUTBOX_POLL_INTERVAL", 2*time.Second),
		BatchSize: config.Int("OUTBOX_BATCH_SIZE", 50, 1),
	})
	go relay.Run(ctx)
	if kafkaBrokers != "" {
		readyChecks = append(readyChecks, runtime.ReadyCheck{Name: "kafka", Check: kafkax.ReadyCheck(kafkaBrokers)})
	}

	server := jobqueue.NewServer(backend.broker, logger, jobqueue.ServerConfig{
		Queues:       workerCfg.Queues,
		Concurrency:  workerCfg.Concurrency,
		PollInterval: workerCfg.PollInterval,
		Lease:        workerCfg.Lease,
		JobTimeout:   workerCfg.JobTimeout,
		Backoff:      jobqueue.ExponentialBackoff(workerCfg.Backoff.Base, workerCfg.Backoff.Max),
		MaxAttempts:  workerCfg.MaxAttempts(),
		Metrics:      sink,
		Wakeups:      backend.wakeups,
		OnDeadLetter: deadletter.NewHook(pool, outboxRepo, logger),
	})
	server.Register(events.JobType, events.NewHandler(notifier, deduper, logger).JobHandler())

	serverDone := make(chan struct{})
	go func() {
		defer close(serverDone)
		if err := server.Run(ctx); err != nil {
			logger.Error("job server error", "err", err)
		}
	}()

	mux := runtime.NewBaseMuxWithReady(readyChecks...)
	mux.Handle("/metrics", metrics.Handler(registry))

	janitor, err := jobqueue.NewJanitor(backend.store, logger, jobqueue.JanitorConfig{
		Schedule:           workerCfg.Retention.Schedule,
		SucceededRetention: workerCfg.Retention.Succeeded,
		FailedRetention:    workerCfg.Retention.Failed,
		Extra: []jobqueue.SweepFunc{func(ctx context.Context) (int64, error) {
			return inbox.Purge(ctx, workerCfg.Retention.Handled)
		}},
	})
	if err != nil {
		logger.Error("janitor config invalid", "err", err)
		panic(err)
	}
	go janitor.Run(ctx)

	if backend.inspector != nil {
		adminSecret := config.String("DASHBOARD_JWT_SECRET", "")
		if adminSecret == "" {
			logger.Warn("DASHBOARD_JWT_SECRET not set; dashboard will reject every request")
		}
		dashboard.NewHandler(backend.inspector, logger).
			Register(mux, auth.RequireRole(adminSecret, nil, auth.RoleAdmin))
	} else {
		logger.Info("dashboard disabled for this queue backend")
	}

	handler := httpx.Chain(mux,
		httpx.WithRequestID,
		httpx.WithRecover(logger),
		httpx.WithAccessLog(logger),
		httpx.WithCORS(httpx.CORSPolicyFromEnv()),
		httpx.WithBodyLimit(1<<20),
		httpx.WithTimeout(config.Duration("HTTP_HANDLER_TIMEOUT", 15*time.Second)),
	)
	handler = otelhttp.NewHandler(handler, "worker")
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

	select {
	case <-serverDone:
	case <-shutdownCtx.Done():
		logger.Warn("job server did not stop before shutdown timeout")
	}
}
