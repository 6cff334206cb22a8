package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"futures-trading-engine/config"
	"futures-trading-engine/internal/adaptive"
	"futures-trading-engine/internal/api"
	"futures-trading-engine/internal/backtest"
	"futures-trading-engine/internal/executor"
	"futures-trading-engine/internal/features"
	"futures-trading-engine/internal/logging"
	"futures-trading-engine/internal/market"
	"futures-trading-engine/internal/position"
	"futures-trading-engine/internal/regime"
	"futures-trading-engine/internal/secrets"
	"futures-trading-engine/internal/store"
	"futures-trading-engine/internal/trader"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		os.Exit(1)
	}

	logger := logging.New(cfg.Logging.Level, cfg.Logging.Pretty)
	logger.Info().
		Str("symbol", cfg.Trading.Symbol).
		Str("interval", cfg.Trading.Interval).
		Msg("futures trading engine starting")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	resolver, err := secrets.NewResolver(secrets.Config{
		Enabled:   cfg.Vault.Enabled,
		Address:   cfg.Vault.Address,
		Token:     cfg.Vault.Token,
		MountPath: cfg.Vault.MountPath,
		BasePath:  cfg.Vault.BasePath,
	}, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize secrets resolver")
	}

	st := buildStore(ctx, cfg, resolver, logger)
	loc := cfg.Location()

	extractor := features.NewExtractor(loc, cfg.Trading.RTHStartMinutes, cfg.Trading.RTHEndMinutes)
	classifier := regime.NewClassifier(regime.Thresholds{})
	engine := adaptive.NewEngine(extractor, classifier, nil, logger)

	tracker := position.NewTracker(st, position.Config{
		PointValue:   cfg.Trading.PointValue,
		MaxContracts: cfg.Trading.MaxContracts,
		MaxDailyLoss: cfg.Trading.MaxDailyLoss,
		Location:     loc,
	}, logger)
	if err := tracker.Load(ctx); err != nil {
		logger.Fatal().Err(err).Msg("failed to load position state")
	}

	breaker := executor.NewBreaker(executor.DefaultBreakerConfig(), logger)

	simCfg := backtest.DefaultConfig()
	simCfg.Symbol = cfg.Trading.Symbol
	simCfg.PointValue = cfg.Trading.PointValue
	simCfg.Contracts = cfg.Trading.Contracts
	simCfg.CommissionPerSide = cfg.Simulation.CommissionPerSide
	simCfg.ExchangeFeePerSide = cfg.Simulation.ExchangeFeePerSide
	simCfg.RegulatoryFeePerSide = cfg.Simulation.RegulatoryFeePerSide
	simCfg.SlippageATRFraction = cfg.Simulation.SlippageATRFraction
	simCfg.MaxTradesPerDay = cfg.Trading.MaxTradesPerDay
	simCfg.RejectionProbability = cfg.Simulation.RejectionProbability
	simCfg.WarmupBars = cfg.Simulation.WarmupBars
	simCfg.Location = loc

	feed := buildFeed(ctx, cfg, logger)

	if cfg.Executor.Enabled {
		client := executor.NewClient(cfg.Executor.WebhookURL, cfg.Executor.Timeout, logger)
		loop := trader.NewLoop(feed, engine, tracker, client, breaker, st, trader.Config{
			Symbol:        cfg.Trading.Symbol,
			Interval:      cfg.Trading.Interval,
			WindowBars:    cfg.Feed.MaxWindow,
			Contracts:     cfg.Trading.Contracts,
			EvaluateEvery: cfg.Trading.EvaluateEvery,
			Location:      loc,
			RTHEndMinutes: cfg.Trading.RTHEndMinutes,
		}, logger)
		if err := loop.RestoreLearning(ctx); err != nil {
			logger.Fatal().Err(err).Msg("failed to restore learning state")
		}
		go func() {
			if err := loop.Run(ctx); err != nil && ctx.Err() == nil {
				logger.Error().Err(err).Msg("live evaluation loop exited")
			}
		}()
	} else {
		logger.Warn().Msg("executor disabled, live trading loop not started")
	}

	server := api.NewServer(api.Config{
		Host:           cfg.Server.Host,
		Port:           cfg.Server.Port,
		AllowedOrigins: cfg.Server.AllowedOrigins,
		Symbol:         cfg.Trading.Symbol,
		Interval:       cfg.Trading.Interval,
		WindowBars:     cfg.Feed.MaxWindow,
		TrainFraction:  cfg.Simulation.TrainFraction,
		Simulation:     simCfg,
	}, engine, tracker, breaker, feed, logger)

	httpServer := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler: server.Router(),
	}
	go func() {
		logger.Info().Str("addr", httpServer.Addr).Msg("API server listening")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("API server failed")
		}
	}()

	<-ctx.Done()
	logger.Info().Msg("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("API server shutdown failed")
	}
	logger.Info().Msg("engine stopped")
}

// buildStore picks the persistence backend: Postgres when a DSN is
// configured, then Redis, then in-memory for development.
func buildStore(ctx context.Context, cfg *config.Config, resolver *secrets.Resolver, logger zerolog.Logger) store.Store {
	dsn, err := resolver.Get(ctx, "POSTGRES_DSN")
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to resolve postgres credentials")
	}
	if dsn == "" {
		dsn = cfg.Postgres.DSN
	}
	if dsn != "" {
		pool, err := pgxpool.New(ctx, dsn)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to create postgres pool")
		}
		pg := store.NewPostgresStore(pool, logger)
		if err := pg.EnsureSchema(ctx); err != nil {
			logger.Fatal().Err(err).Msg("failed to ensure postgres schema")
		}
		logger.Info().Msg("using postgres state store")
		return pg
	}

	if cfg.Redis.Address != "" {
		password, err := resolver.Get(ctx, "REDIS_PASSWORD")
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to resolve redis credentials")
		}
		if password == "" {
			password = cfg.Redis.Password
		}
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Address,
			Password: password,
			DB:       cfg.Redis.DB,
		})
		logger.Info().Str("addr", cfg.Redis.Address).Msg("using redis state store")
		return store.NewRedisStore(client, "engine", logger)
	}

	logger.Warn().Msg("no persistence configured, state is in-memory only")
	return store.NewMemoryStore()
}

// buildFeed connects the candle stream when configured; without one the
// API still serves, but signal and backtest endpoints have no data.
func buildFeed(ctx context.Context, cfg *config.Config, logger zerolog.Logger) market.Feed {
	if cfg.Feed.StreamURL == "" {
		logger.Warn().Msg("no candle stream configured")
		return &market.StaticFeed{}
	}
	feed := market.NewStreamFeed(cfg.Feed.StreamURL, cfg.Feed.MaxWindow, logger)
	go func() {
		if err := feed.Run(ctx, cfg.Trading.Symbol, cfg.Trading.Interval); err != nil && ctx.Err() == nil {
			logger.Error().Err(err).Msg("candle stream terminated")
		}
	}()
	return feed
}
