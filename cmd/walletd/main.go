package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"log/slog"

	"github.com/J9-tops/secure-wallet-api/internal/auth"
	"github.com/J9-tops/secure-wallet-api/internal/config"
	"github.com/J9-tops/secure-wallet-api/internal/handlers"
	"github.com/J9-tops/secure-wallet-api/internal/oauth"
	"github.com/J9-tops/secure-wallet-api/internal/paystack"
	"github.com/J9-tops/secure-wallet-api/internal/rate"
	"github.com/J9-tops/secure-wallet-api/internal/service"
	"github.com/J9-tops/secure-wallet-api/internal/storage"
	"github.com/J9-tops/secure-wallet-api/libs/health"
	"github.com/J9-tops/secure-wallet-api/libs/httpmiddleware"
	"github.com/J9-tops/secure-wallet-api/libs/kafka"
	"github.com/J9-tops/secure-wallet-api/libs/logging"
	"github.com/J9-tops/secure-wallet-api/libs/metrics"
	"github.com/J9-tops/secure-wallet-api/libs/trace"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(1)
	}

	logger := logging.NewLogger(cfg.App.LogLevel, cfg.App.ServiceName, cfg.App.Env)
	shutdownTracer, err := trace.InitTracer(cfg.App.ServiceName, cfg.App.Env)
	if err != nil {
		logger.Error("tracer init failed", "error", err)
	} else {
		defer func() {
			_ = shutdownTracer(context.Background())
		}()
	}

	if cfg.App.Env == "dev" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics.Register(registry)

	domainMetrics := service.NewMetrics()
	domainMetrics.Register(registry)

	pool, err := connectDB(cfg)
	if err != nil {
		logger.Error("db connection failed", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	publisher, publisherClose := buildPublisher(cfg, logger, registry)
	defer func() {
		_ = publisherClose()
	}()

	loginLimiter, webhookLimiter, rateRedis, limiterClose, err := buildLimiters(cfg, logger)
	if err != nil {
		logger.Error("rate limiter init failed", "error", err)
		os.Exit(1)
	}
	defer func() {
		_ = limiterClose()
	}()

	ready := health.NewManager()
	ready.AddCheck("postgres", pool.Ping)
	if rateRedis != nil {
		ready.AddCheck("redis", func(ctx context.Context) error {
			return rateRedis.Ping(ctx).Err()
		})
	}

	store := storage.New(pool, logger)

	gateway := paystack.NewClient(cfg.Paystack.BaseURL, cfg.Paystack.SecretKey, logger)
	google := oauth.NewGoogleClient(cfg.Google.ClientID, cfg.Google.ClientSecret, cfg.Google.RedirectURL)

	walletSvc := service.NewWalletService(store, gateway, publisher, cfg.Kafka.EventsTopic, logger, domainMetrics)
	keySvc := service.NewAPIKeyService(store, logger, domainMetrics)
	webhookSvc := service.NewWebhookService(store, cfg.Paystack.SecretKey, publisher, cfg.Kafka.EventsTopic, logger, domainMetrics)

	resolver := auth.NewResolver(store, cfg.JWTSecret)

	authHandler := handlers.NewAuthHandler(store, google, logger, cfg.JWTSecret, cfg.SessionTokenTTL, cfg.JWTIssuer, loginLimiter)
	walletHandler := handlers.NewWalletHandler(walletSvc, logger)
	keyHandler := handlers.NewAPIKeyHandler(keySvc, logger)
	webhookHandler := handlers.NewWebhookHandler(webhookSvc, logger, webhookLimiter)

	router := gin.New()
	router.Use(httpmiddleware.RequestID())
	router.Use(httpmiddleware.Logger(logger))
	router.Use(httpmiddleware.Recovery(logger))
	router.Use(trace.Middleware(cfg.App.ServiceName))

	router.GET("/healthz", health.LivenessHandler)
	router.GET("/readyz", health.ReadinessHandler(ready))
	router.GET(cfg.App.MetricsPath, gin.WrapH(metrics.Handler(registry)))

	handlers.RegisterRoutes(router, resolver, authHandler, walletHandler, keyHandler, webhookHandler)

	addr := fmt.Sprintf("%s:%d", cfg.App.HTTP.Host, cfg.App.HTTP.Port)
	server := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  cfg.App.HTTP.ReadTimeout,
		WriteTimeout: cfg.App.HTTP.WriteTimeout,
		IdleTimeout:  cfg.App.HTTP.IdleTimeout,
	}

	go func() {
		logger.Info("wallet service starting", "addr", addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
		}
	}()

	waitForShutdown(server, logger)
}

func connectDB(cfg *config.Config) (*pgxpool.Pool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, cfg.DB.DSN())
	if err != nil {
		return nil, err
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return pool, nil
}

// buildPublisher wires the Kafka producer with a DLQ fallback. Brokers are
// optional: without them events are skipped and the ledger still works.
func buildPublisher(cfg *config.Config, logger *slog.Logger, registry *prometheus.Registry) (kafka.Publisher, func() error) {
	if len(cfg.Kafka.Brokers) == 0 {
		logger.Warn("kafka brokers not configured, events disabled")
		return nil, func() error { return nil }
	}

	producerMetrics := kafka.NewProducerMetrics(registry)
	producer, err := kafka.NewSyncProducer(cfg.Kafka.Brokers, logger, producerMetrics)
	if err != nil {
		logger.Error("kafka producer init failed, events disabled", "error", err)
		return nil, func() error { return nil }
	}

	publisher := kafka.NewDLQPublisher(producer, producer, cfg.Kafka.DLQTopic, logger)
	return publisher, publisher.Close
}

func buildLimiters(cfg *config.Config, logger *slog.Logger) (login rate.Limiter, webhook rate.Limiter, client *redis.Client, closeFn func() error, err error) {
	noop := func() error { return nil }

	if cfg.RateLimit.Redis.Addr != "" {
		client = redis.NewClient(&redis.Options{
			Addr:     cfg.RateLimit.Redis.Addr,
			Password: cfg.RateLimit.Redis.Password,
			DB:       cfg.RateLimit.Redis.DB,
		})

		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		if pingErr := client.Ping(ctx).Err(); pingErr != nil {
			_ = client.Close()
			if cfg.App.Env == "dev" || cfg.App.Env == "test" {
				logger.Warn("redis rate limiter unavailable, falling back to memory", "error", pingErr)
				return memoryLimiters(cfg, noop)
			}
			return nil, nil, nil, nil, pingErr
		}

		login = rate.NewRedisLimiter(client, cfg.RateLimit.LoginLimit, cfg.RateLimit.Window, cfg.RateLimit.Redis.Prefix+"login:")
		webhook = rate.NewRedisLimiter(client, cfg.RateLimit.WebhookLimit, cfg.RateLimit.Window, cfg.RateLimit.Redis.Prefix+"webhook:")
		return login, webhook, client, client.Close, nil
	}

	return memoryLimiters(cfg, noop)
}

func memoryLimiters(cfg *config.Config, closeFn func() error) (rate.Limiter, rate.Limiter, *redis.Client, func() error, error) {
	login := rate.NewMemory(cfg.RateLimit.LoginLimit, cfg.RateLimit.Window)
	webhook := rate.NewMemory(cfg.RateLimit.WebhookLimit, cfg.RateLimit.Window)
	return login, webhook, nil, closeFn, nil
}

func waitForShutdown(server *http.Server, logger *slog.Logger) {
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	logger.Info("shutdown started")
	if err := server.Shutdown(ctx); err != nil {
		logger.Error("shutdown error", "error", err)
		return
	}
	logger.Info("shutdown complete")
}
