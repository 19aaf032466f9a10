package main

import (
	"context"
	"errors"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/extra/redisotel/v9"
	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/noah-isme/backend-gateway/internal/config"
	"github.com/noah-isme/backend-gateway/internal/health"
	"github.com/noah-isme/backend-gateway/internal/lock"
	"github.com/noah-isme/backend-gateway/internal/notify"
	"github.com/noah-isme/backend-gateway/internal/obs"
	"github.com/noah-isme/backend-gateway/internal/queue"
	"github.com/noah-isme/backend-gateway/internal/resilience"
	"github.com/noah-isme/backend-gateway/internal/settle"
	"github.com/noah-isme/backend-gateway/internal/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logFormat := envOrDefault("OBS_LOG_FORMAT", "json")
	logLevel := envOrDefault("OBS_LOG_LEVEL", "info")
	logger := obs.NewLogger(logFormat, logLevel).With().Str("component", "worker").Logger()

	metricsNamespace := envOrDefault("OBS_METRICS_NAMESPACE", "gateway")
	obs.MustRegisterDomainMetrics(metricsNamespace, nil)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool := mustInitDatabase(ctx, cfg, logger)
	defer pool.Close()

	redisClient := mustInitRedis(ctx, cfg, logger)
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Error().Err(err).Msg("close redis")
		}
	}()

	st := store.New(pool)
	emitter := notify.Emitter{
		Q: queue.Enqueuer{
			R:           redisClient,
			Prefix:      cfg.QueueRedisPrefix,
			DedupTTL:    cfg.IdempotencyTTL,
			MaxAttempts: cfg.QueueMaxAttempts,
		},
		MaxAttempts: cfg.WebhookMaxAttempts,
	}

	outcome := settle.OutcomePolicy{
		TestMode:        cfg.TestMode,
		TestSuccess:     cfg.TestPaymentSuccess,
		UPISuccessRate:  cfg.UPISuccessRate,
		CardSuccessRate: cfg.CardSuccessRate,
		Rand:            rand.Float64,
	}
	paymentProcessor := settle.PaymentProcessor{
		Store:   st,
		Notify:  emitter,
		Outcome: outcome,
		Delay: settle.DelayPolicy{
			TestMode: cfg.TestMode,
			Test:     cfg.TestProcessingDelay,
			Min:      cfg.ProcessingDelayMin,
			Max:      cfg.ProcessingDelayMax,
		},
		Logger: &logger,
	}
	refundProcessor := settle.RefundProcessor{
		Store:  st,
		Notify: emitter,
		Delay: settle.DelayPolicy{
			TestMode: cfg.TestMode,
			Test:     cfg.TestProcessingDelay,
			Min:      cfg.RefundDelayMin,
			Max:      cfg.RefundDelayMax,
		},
		Logger: &logger,
	}

	schedule := notify.Schedule{Test: cfg.WebhookRetryIntervalsTest}
	dispatcher := notify.Dispatcher{
		Store: st,
		HTTP: resilience.HTTPClient{
			Client:  &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)},
			Breaker: resilience.NewBreaker(cfg.CircuitWebhookMinReq, cfg.CircuitWebhookFailureRate, cfg.CircuitWebhookOpenFor).WithTarget("webhook-delivery").WithLogger(logger),
			Timeout: cfg.WebhookRequestTimeout,
		},
		Schedule:    schedule,
		MaxAttempts: cfg.WebhookMaxAttempts,
		BodyLimit:   cfg.WebhookResponseBodyLimit,
		Logger:      &logger,
	}

	dlqStore := queue.NewStore(pool)
	locker := &lock.Locker{R: redisClient}
	workers := []queue.Worker{
		{
			R:                 redisClient,
			Prefix:            cfg.QueueRedisPrefix,
			Kind:              queue.KindSettlePayment,
			Concurrency:       cfg.QueueConcurrency,
			VisibilityTimeout: cfg.QueueVisibilityTimeout,
			Store:             dlqStore,
			Lock:              locker,
			LockTTL:           cfg.QueueVisibilityTimeout,
			Logger:            &logger,
			Handler:           paymentProcessor.Handle,
		},
		{
			R:                 redisClient,
			Prefix:            cfg.QueueRedisPrefix,
			Kind:              queue.KindSettleRefund,
			Concurrency:       cfg.QueueConcurrency,
			VisibilityTimeout: cfg.QueueVisibilityTimeout,
			Store:             dlqStore,
			Lock:              locker,
			LockTTL:           cfg.QueueVisibilityTimeout,
			Logger:            &logger,
			Handler:           refundProcessor.Handle,
		},
		{
			R:                 redisClient,
			Prefix:            cfg.QueueRedisPrefix,
			Kind:              queue.KindDeliverWebhook,
			Concurrency:       cfg.QueueConcurrency,
			VisibilityTimeout: cfg.QueueVisibilityTimeout,
			Backoff:           schedule.Delay,
			Store:             dlqStore,
			Lock:              locker,
			LockTTL:           cfg.QueueVisibilityTimeout,
			Logger:            &logger,
			Handler:           dispatcher.Handle,
		},
	}

	heartbeat := health.Heartbeat{
		R:        redisClient,
		Interval: cfg.HeartbeatInterval,
		TTL:      cfg.HeartbeatTTL,
		Logger:   &logger,
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		heartbeat.Run(ctx)
	}()
	for _, w := range workers {
		wg.Add(1)
		go func(w queue.Worker) {
			defer wg.Done()
			if err := w.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error().Err(err).Str("kind", w.Kind).Msg("worker stopped with error")
				stop()
			}
		}(w)
	}

	logger.Info().Msg("worker starting")
	wg.Wait()
	logger.Info().Msg("worker shutdown complete")
}

func mustInitDatabase(ctx context.Context, cfg *config.Config, logger zerolog.Logger) *pgxpool.Pool {
	poolConfig, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("parse database config")
	}
	poolConfig.ConnConfig.Tracer = obs.PGXTracer{}
	if poolConfig.ConnConfig.RuntimeParams == nil {
		poolConfig.ConnConfig.RuntimeParams = map[string]string{}
	}
	poolConfig.ConnConfig.RuntimeParams["application_name"] = "gateway-worker"
	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		logger.Fatal().Err(err).Msg("connect database")
	}
	if err := pool.Ping(ctx); err != nil {
		logger.Fatal().Err(err).Msg("ping database")
	}
	return pool
}

func mustInitRedis(ctx context.Context, cfg *config.Config, logger zerolog.Logger) *redis.Client {
	redisOpts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("parse redis url")
	}
	redisClient := redis.NewClient(redisOpts)
	if err := redisotel.InstrumentTracing(redisClient); err != nil {
		logger.Error().Err(err).Msg("instrument redis tracing")
	}
	if err := redisClient.Ping(ctx).Err(); err != nil {
		logger.Fatal().Err(err).Msg("ping redis")
	}
	return redisClient
}

func envOrDefault(key, fallback string) string {
	if val, ok := os.LookupEnv(key); ok {
		trimmed := strings.TrimSpace(val)
		if trimmed != "" {
			return trimmed
		}
	}
	return fallback
}
