package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	redis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"hookrelay/internal/api"
	"hookrelay/internal/auth"
	"hookrelay/internal/buildinfo"
	"hookrelay/internal/config"
	"hookrelay/internal/logger"
	"hookrelay/internal/metrics"
	"hookrelay/internal/ratelimit"
	"hookrelay/internal/scheduler"
	"hookrelay/internal/store"
	"hookrelay/internal/urlguard"
	"hookrelay/internal/webhooks"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	log, err := logger.New(cfg.IsDevelopment(), cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "init logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	if err := run(cfg, log); err != nil {
		log.Fatal("server error", zap.Error(err))
	}
}

func run(cfg config.Config, log *zap.Logger) error {
	ctx := context.Background()
	var ready []func(context.Context) error

	// Store: Postgres when configured, memory otherwise
	var st store.Store
	if cfg.Database.URL != "" {
		pg, err := store.NewPostgres(ctx, cfg.Database.URL, cfg.Database.MaxConns, store.WithPostgresLogger(log))
		if err != nil {
			return fmt.Errorf("connect postgres: %w", err)
		}
		defer pg.Close()
		if cfg.Database.Migrate {
			if err := pg.Migrate(ctx); err != nil {
				return err
			}
		}
		st = pg
		log.Info("using postgres store")
	} else {
		st = store.NewMemory()
		log.Warn("DATABASE_URL not set; using in-memory store")
	}

	// Redis backs the rate limiter and the delivery event broker across replicas
	var broker api.EventBroker = api.NewBroker()
	var limiter ratelimit.Store = ratelimit.NewMemoryStore(cfg.Rate.RPS, cfg.Rate.Burst, cfg.Rate.TTL)
	if cfg.Redis.URL != "" {
		opt, err := redis.ParseURL(cfg.Redis.URL)
		if err != nil {
			return fmt.Errorf("parse REDIS_URL: %w", err)
		}
		rdb := redis.NewClient(opt)
		defer func() { _ = rdb.Close() }()
		broker = api.NewRedisBroker(rdb, log)
		limiter = ratelimit.NewRedisStore(rdb, cfg.Rate.Burst, redisWindow(cfg.Rate))
		ready = append(ready, func(ctx context.Context) error { return rdb.Ping(ctx).Err() })
		log.Info("using redis broker and rate limiter")
	}

	guard := urlguard.New(urlguard.WithLocalhost(cfg.IsDevelopment()))
	var control func(network, address string, c syscall.RawConn) error
	if cfg.Webhook.BlockPrivateDial {
		control = guard.DialControl
	}

	sched := scheduler.New(cfg.Webhook.Workers, scheduler.WithLogger(log))
	metrics.RegisterDefault()
	metrics.RegisterSchedulerGauges(
		func() float64 { return float64(sched.Pending()) },
		func() float64 { return float64(sched.InFlight()) },
	)

	registry := webhooks.NewRegistry(st, guard, webhooks.WithRegistryLogger(log))
	breaker := webhooks.NewBreaker(st, registry, cfg.Webhook.BreakerWindow, log)
	engine := webhooks.NewEngine(st, breaker, sched,
		webhooks.WithHTTPClient(webhooks.NewHTTPClient(cfg.Webhook.Timeout, control)),
		webhooks.WithTimeout(cfg.Webhook.Timeout),
		webhooks.WithEventSink(broker),
		webhooks.WithEngineLogger(log))
	pub := webhooks.NewPublisher(st, engine,
		webhooks.WithMaxAttempts(cfg.Webhook.MaxAttempts),
		webhooks.WithPublisherLogger(log))

	server := &api.Server{
		Store:    st,
		Registry: registry,
		Pub:      pub,
		Auth: auth.NewVerifier(auth.Config{
			Mode:            cfg.Auth.Mode,
			HMACSecret:      cfg.Auth.HMACSecret,
			JWKSURL:         cfg.Auth.JWKSURL,
			CredentialClaim: cfg.Auth.CredentialClaim,
			ScopeClaim:      cfg.Auth.ScopeClaim,
		}),
		Broker:  broker,
		Limiter: limiter,
		Logger:  log,
		Info:    debugInfo(cfg),
		Ready:   ready,
	}

	srv := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           server.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("API listening", zap.String("addr", srv.Addr), zap.String("version", buildinfo.Version))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-quit:
		log.Info("shutting down", zap.String("signal", sig.String()))
	case err := <-errCh:
		if err != nil {
			return err
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("http shutdown", zap.Error(err))
	}
	// pending retries are dropped; in-flight attempts finish within the timeout
	if err := sched.Stop(shutdownCtx); err != nil {
		log.Warn("scheduler stop", zap.Error(err), zap.Int64("in_flight", sched.InFlight()))
	}
	log.Info("server exited")
	return nil
}

// redisWindow sizes the fixed window so that Burst requests per window average to RPS.
func redisWindow(r config.Rate) time.Duration {
	if r.RPS <= 0 || r.Burst <= 0 {
		return time.Second
	}
	return time.Duration(float64(r.Burst) / r.RPS * float64(time.Second))
}

func debugInfo(cfg config.Config) map[string]any {
	return map[string]any{
		"APP_ENV":                    cfg.Env,
		"PORT":                       cfg.Port,
		"AUTH_MODE":                  cfg.Auth.Mode,
		"RATE_RPS":                   cfg.Rate.RPS,
		"RATE_BURST":                 cfg.Rate.Burst,
		"WEBHOOK_MAX_ATTEMPTS":       cfg.Webhook.MaxAttempts,
		"WEBHOOK_TIMEOUT":            cfg.Webhook.Timeout.String(),
		"WEBHOOK_WORKERS":            cfg.Webhook.Workers,
		"WEBHOOK_BLOCK_PRIVATE_DIAL": cfg.Webhook.BlockPrivateDial,
		"HAS_DATABASE_URL":           cfg.Database.URL != "",
		"HAS_REDIS_URL":              cfg.Redis.URL != "",
	}
}
