package main

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/md-rashed-zaman/recipeshare/libs/config"
	"github.com/md-rashed-zaman/recipeshare/libs/db"
	"github.com/md-rashed-zaman/recipeshare/libs/events"
	"github.com/md-rashed-zaman/recipeshare/libs/httpx"
	"github.com/md-rashed-zaman/recipeshare/libs/jobqueue"
	otelx "github.com/md-rashed-zaman/recipeshare/libs/otel"
	"github.com/md-rashed-zaman/recipeshare/libs/outbox"
	"github.com/md-rashed-zaman/recipeshare/libs/runtime"
	"github.com/md-rashed-zaman/recipeshare/services/recipe-service/internal/handlers"
	"github.com/md-rashed-zaman/recipeshare/services/recipe-service/internal/recipes"
	"github.com/md-rashed-zaman/recipeshare/services/recipe-service/internal/storage"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

func main() {
	if err := runtime.LoadDotEnv(); err != nil {
		panic(err)
	}
	service := config.String("SERVICE_NAME", "recipe-service")
	port, err := config.Port("PORT", "8080")
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

	// Recipes and their jobs share one transaction, so the producer always
	// uses the Postgres broker regardless of which backend the workers drain.
	broker := jobqueue.NewPostgresBroker(pool, config.String("QUEUE_NOTIFY_CHANNEL", jobqueue.DefaultNotifyChannel), logger)
	publisher := events.NewPublisher(broker, events.PublisherConfig{
		Queue:       config.String("EVENTS_QUEUE", jobqueue.DefaultQueue),
		Routes:      parseRoutes(config.List("EVENT_ROUTES", "")),
		MaxAttempts: config.Int("EVENTS_MAX_ATTEMPTS", jobqueue.DefaultRetries+1, 1),
	})
	svc := recipes.NewService(pool, storage.NewRecipeRepository(), publisher, outbox.NewRepository(), nil)

	var limiter httpx.Limiter
	limit := config.Int("RATE_LIMIT_PER_MINUTE", 60, 1)
	if addr := config.String("REDIS_ADDR", ""); addr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: addr})
		defer rdb.Close()
		limiter = httpx.NewRedisRateLimiter(rdb, limit, time.Minute, "ratelimit:recipes")
		readyChecks = append(readyChecks, runtime.ReadyCheck{Name: "redis", Check: func(ctx context.Context) error {
			return rdb.Ping(ctx).Err()
		}})
	} else {
		limiter = httpx.NewMemoryRateLimiter(limit, time.Minute, nil)
	}

	mux := runtime.NewBaseMuxWithReady(readyChecks...)
	handlers.NewRecipeHandler(svc, logger).
		Register(mux, httpx.RateLimit(limiter, logger, config.Bool("RATE_LIMIT_FAIL_OPEN", true)))

	handler := httpx.Chain(mux,
		httpx.WithRequestID,
		httpx.WithRecover(logger),
		httpx.WithAccessLog(logger),
		httpx.WithCORS(httpx.CORSPolicyFromEnv()),
		httpx.WithBodyLimit(int64(config.Int("HTTP_MAX_BODY_BYTES", 64<<10, 1))),
		httpx.WithTimeout(config.Duration("HTTP_HANDLER_TIMEOUT", 10*time.Second)),
	)
	handler = otelhttp.NewHandler(handler, "http")
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

// parseRoutes reads "event_type=queue" pairs.
func parseRoutes(pairs []string) map[string]string {
	routes := map[string]string{}
	for _, p := range pairs {
		k, v, ok := strings.Cut(p, "=")
		if !ok {
			continue
		}
		routes[strings.TrimSpace(k)] = strings.TrimSpace(v)
	}
	return routes
}
