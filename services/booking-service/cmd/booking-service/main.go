package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/glamdesk/salonbook/libs/db"
	"github.com/glamdesk/salonbook/libs/httpx"
	"github.com/glamdesk/salonbook/libs/kafkax"
	otelx "github.com/glamdesk/salonbook/libs/otel"
	"github.com/glamdesk/salonbook/libs/runtime"
	"github.com/glamdesk/salonbook/services/booking-service/internal/availability"
	"github.com/glamdesk/salonbook/services/booking-service/internal/booking"
	"github.com/glamdesk/salonbook/services/booking-service/internal/config"
	"github.com/glamdesk/salonbook/services/booking-service/internal/consumer"
	"github.com/glamdesk/salonbook/services/booking-service/internal/handlers"
	"github.com/glamdesk/salonbook/services/booking-service/internal/inbox"
	"github.com/glamdesk/salonbook/services/booking-service/internal/metrics"
	"github.com/glamdesk/salonbook/services/booking-service/internal/outbox"
	"github.com/glamdesk/salonbook/services/booking-service/internal/rulecache"
	"github.com/glamdesk/salonbook/services/booking-service/internal/storage"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("invalid configuration", "err", err)
		os.Exit(1)
	}
	logger := runtime.NewLogger(cfg.ServiceName)

	ctx, stop := runtime.SignalContext(context.Background(), logger)
	defer stop()

	otelShutdown, err := otelx.Setup(ctx, cfg.OTel)
	if err != nil {
		logger.Error("otel setup failed", "err", err)
	} else {
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = otelShutdown(shutdownCtx)
		}()
	}

	pool, err := db.Open(ctx, cfg.DatabaseURL, db.Options{
		MaxConns:         cfg.DBMaxConns,
		StatementTimeout: cfg.StoreTimeout,
	})
	if err != nil {
		logger.Error("db connection failed", "err", err)
		os.Exit(1)
	}
	defer pool.Close()

	metrics.Register()

	outboxRepo := outbox.NewRepository(pool)
	repo := storage.NewBookingRepository(pool, outboxRepo, logger)
	rules := rulecache.New(repo, cfg.RuleCacheSize, cfg.RuleCacheTTL)

	// Slot queries read blocked time through the cache; the guard reads
	// everything inside its own transaction.
	slots := availability.NewService(availability.Sources{
		WorkingHours: repo,
		BlockedTimes: rules,
		Appointments: repo,
	}, repo)
	guard := booking.NewGuard(repo, repo, logger)

	var writer outbox.MessageWriter
	if w := kafkax.NewWriter(cfg.KafkaBrokers); w != nil {
		defer w.Close()
		writer = w
	}
	go outbox.NewPublisher(outboxRepo, writer, logger, outbox.PublisherConfig{
		PollEvery: 2 * time.Second,
		BatchSize: 50,
	}).Run(ctx)

	if len(kafkax.SplitBrokers(cfg.KafkaBrokers)) > 0 && cfg.KafkaBlockedTimeTopic != "" {
		reader := consumer.NewReader(consumer.Config{
			Brokers: cfg.KafkaBrokers,
			GroupID: cfg.KafkaGroupID,
			Topic:   cfg.KafkaBlockedTimeTopic,
		})
		defer reader.Close()
		go consumer.New(logger, reader, inbox.NewRepository(pool), rules.HandleChanged).Run(ctx)
	} else {
		logger.Warn("blocked-time consumer disabled; rule cache relies on its TTL", "ttl", cfg.RuleCacheTTL)
	}

	readyChecks := []runtime.ReadyCheck{{Name: "db", Check: db.ReadyCheck(pool)}}
	if writer != nil {
		readyChecks = append(readyChecks, runtime.ReadyCheck{Name: "kafka", Check: kafkax.ReadyCheck(cfg.KafkaBrokers)})
	}

	// Validate has already parsed the list.
	proxies, _ := httpx.ParseTrustedProxies(cfg.TrustedProxies)
	rateLimit := httpx.NewRateLimiter(cfg.RateLimitPerMinute, time.Minute).Middleware(proxies...)
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		defer rdb.Close()
		rateLimit = httpx.NewRedisRateLimiter(rdb, cfg.RateLimitPerMinute, time.Minute, "salonbook:rl:").
			Middleware(logger, cfg.RateLimitFailOpen, proxies...)
		readyChecks = append(readyChecks, runtime.ReadyCheck{
			Name:  "redis",
			Check: func(ctx context.Context) error { return rdb.Ping(ctx).Err() },
		})
		logger.Info("rate limiting enabled (redis)", "per_minute", cfg.RateLimitPerMinute, "redis_addr", cfg.RedisAddr)
	} else {
		logger.Info("rate limiting enabled (in-memory)", "per_minute", cfg.RateLimitPerMinute)
	}

	if err := startGrpcServer(ctx, logger, cfg.GRPCPort, db.ReadyCheck(pool)); err != nil {
		logger.Error("grpc server init failed", "err", err)
		os.Exit(1)
	}

	mux := runtime.NewBaseMuxWithReady(readyChecks...)
	mux.Handle("/metrics", promhttp.Handler())

	api := http.NewServeMux()
	handlers.NewBookingHandler(slots, guard, repo, logger, cfg.DefaultGranularityMinutes).Register(api)
	mux.Handle("/api/", httpx.Chain(api,
		httpx.WithCORS(httpx.CORSPolicy{
			AllowedOrigins: cfg.CORSAllowedOrigins,
			AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
			AllowedHeaders: cfg.CORSAllowedHeaders,
			ExposedHeaders: []string{"Retry-After", httpx.RequestIDHeader},
			MaxAge:         10 * time.Minute,
		}),
		rateLimit,
		httpx.WithBodyLimit(cfg.BodyLimitBytes),
		httpx.WithTimeout(cfg.RequestTimeout),
	))

	httpHandler := httpx.Chain(mux,
		httpx.WithRequestID,
		httpx.WithAccessLog(logger),
		httpx.WithRecover(logger),
	)
	httpHandler = otelhttp.NewHandler(httpHandler, "booking")
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           httpHandler,
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
