package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"

	"folioassist/internal/api"
	"folioassist/internal/auth"
	"folioassist/internal/chat"
	"folioassist/internal/config"
	"folioassist/internal/logger"
	"folioassist/internal/metrics"
	"folioassist/internal/persona"
	"folioassist/internal/redis"
	"folioassist/internal/scheduler"
	"folioassist/internal/service/ai"
	"folioassist/internal/service/exchange"
	"folioassist/internal/storage"
	"folioassist/internal/worker"
)

func main() {
	// .env is optional
	_ = godotenv.Load()

	cfg, err := config.Load(os.Getenv("FOLIO_CONFIG"))
	if err != nil {
		bootLog := logger.New(logger.Config{})
		bootLog.Fatal().Err(err).Msg("load config")
	}
	log := logger.New(logger.Config{Level: cfg.BasicConfig.LogLevel, Pretty: cfg.BasicConfig.LogPretty})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Fatal().Err(err).Msg("server stopped")
	}
}

func run(ctx context.Context, cfg *config.Config, log zerolog.Logger) error {
	dbType, err := storage.SelectDriver(cfg)
	if err != nil {
		return err
	}
	db, err := storage.Open(dbType, cfg)
	if err != nil {
		return err
	}
	defer db.Close()
	if err := storage.Migrate(db, dbType); err != nil {
		return err
	}
	log.Info().Str("driver", dbType).Msg("exchange log ready")

	var rdb *redis.Client
	if cfg.Redis.Enabled() {
		rdb, err = redis.NewRedisClient(ctx, cfg.Redis)
		if err != nil {
			// rate limiting and expiry hints are optional
			log.Warn().Err(err).Msg("redis unavailable, continuing without it")
			rdb = nil
		} else {
			defer rdb.Close()
		}
	}

	p, err := persona.FromConfig(ctx, cfg.Persona)
	if err != nil {
		return err
	}
	if cfg.Provider.APIKey == "" {
		log.Warn().Str("provider", cfg.Provider.Name).Msg("no api key configured, every reply will be the fallback message")
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	generator := ai.NewService(cfg.Provider)
	exchanges := exchange.NewService(db)
	chatLog := logger.Component(log, "chat")
	recordExchange := exchanges.Hook(logger.Component(log, "exchange"))

	registry := worker.NewRegistry(
		func(id string) *chat.Widget {
			return chat.New(generator, p,
				chat.WithSessionID(id),
				chat.WithLogger(chatLog),
				chat.WithMetrics(m),
				chat.WithExchangeHook(recordExchange),
				chat.WithRequestTimeout(cfg.BasicConfig.RequestTimeoutDuration()),
				chat.WithMaxHistory(cfg.Provider.MaxHistoryMessages),
			)
		},
		worker.Config{
			MaxSessions: cfg.BasicConfig.MaxSessions,
			IdleTTL:     cfg.BasicConfig.IdleTTL(),
		},
		worker.WithMetrics(m),
		worker.WithLogger(logger.Component(log, "registry")),
		worker.WithRetiredCache(worker.NewRetiredCache(rdb, logger.Component(log, "registry"))),
	)
	defer registry.CloseAll()

	sched := scheduler.New(logger.Component(log, "scheduler"))
	if err := sched.Add(scheduler.Job{
		Name:     "idle-session-sweep",
		Schedule: cfg.BasicConfig.SweepSchedule,
		Run: func(ctx context.Context) error {
			registry.Sweep(ctx)
			return nil
		},
	}); err != nil {
		return err
	}
	if err := sched.Add(scheduler.Job{
		Name:     "exchange-retention",
		Schedule: cfg.BasicConfig.RetentionSchedule,
		Run: func(ctx context.Context) error {
			n, err := exchanges.PurgeExpired(ctx, cfg.BasicConfig.ExchangeRetention(), time.Now())
			if err == nil && n > 0 {
				log.Info().Int64("deleted", n).Msg("old exchanges purged")
			}
			return err
		},
	}); err != nil {
		return err
	}
	sched.Start()
	defer sched.Stop()

	handlerOpts := []api.HandlerOption{
		api.WithExchangeLog(exchanges),
		api.WithOperators(auth.NewService(cfg.BasicConfig.AdminToken)),
		api.WithLogger(logger.Component(log, "api")),
		api.WithHealthCheck("database", db.PingContext),
	}
	var limiter gin.HandlerFunc
	if rdb != nil {
		handlerOpts = append(handlerOpts, api.WithHealthCheck("redis", rdb.Ping))
		if qps := cfg.Redis.RateLimitQPS; qps > 0 {
			limiter = api.RateLimit(rdb, qps, m, logger.Component(log, "ratelimit"))
		}
	}

	if cfg.BasicConfig.LogLevel != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := api.NewRouter(api.NewHandler(registry, p, handlerOpts...), api.RouterConfig{
		AllowedOrigins: cfg.BasicConfig.AllowedOrigins,
		Limiter:        limiter,
		Gatherer:       reg,
		Logger:         log,
	})

	srv := &http.Server{
		Addr:              cfg.BasicConfig.ServerAddress,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", srv.Addr).Str("provider", cfg.Provider.Name).Str("model", cfg.Provider.Model).Msg("server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
