package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"prime-flipper/internal/api"
	"prime-flipper/internal/catalog"
	"prime-flipper/internal/config"
	"prime-flipper/internal/db"
	"prime-flipper/internal/engine"
	"prime-flipper/internal/market"
	"prime-flipper/internal/ratelimit"
)

func main() {
	godotenv.Load()

	cfg, err := config.LoadFromEnv()
	if err != nil {
		zap.NewExample().Fatal("config-invalid", zap.Error(err))
	}

	logger, err := buildLogger(cfg.LogLevel)
	if err != nil {
		zap.NewExample().Fatal("logger-init-failed", zap.Error(err))
	}
	defer logger.Sync()

	store, err := db.Open(cfg.DatabasePath, logger)
	if err != nil {
		logger.Fatal("db-open-failed", zap.Error(err))
	}
	defer store.Close()

	limiter := ratelimit.New(cfg.RateLimitRequests, cfg.RateLimitWindow)
	client := market.NewClient(market.Options{
		V1URL:   cfg.MarketV1URL,
		V2URL:   cfg.MarketV2URL,
		Timeout: cfg.RequestTimeout,
	}, limiter, logger)

	cat := catalog.New(cfg.CacheDir, client, cfg.WorkerCount, logger)
	analyzer := engine.NewAnalyzer(cat, client, store, engine.Options{
		Workers:         cfg.WorkerCount,
		Timeout:         cfg.AnalysisTimeout,
		DefaultStrategy: cfg.DefaultStrategy,
	}, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.PollInterval > 0 {
		go analyzer.Poll(ctx, cfg.PollInterval, engine.Params{Strategy: cfg.DefaultStrategy})
		logger.Info("poll-loop-enabled", zap.Duration("interval", cfg.PollInterval))
	}

	server := api.NewServer(cfg, analyzer, store, cat, logger)
	httpServer := &http.Server{
		Addr:        ":" + cfg.HTTPPort,
		Handler:     server.Handler(),
		ReadTimeout: 15 * time.Second,
		// No write timeout: the progress stream stays open for the full
		// duration of a run.
		IdleTimeout: 120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http-listening", zap.String("port", cfg.HTTPPort))
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("http-server-failed", zap.Error(err))
		}
	case <-ctx.Done():
		logger.Info("shutdown-requested")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Warn("shutdown-incomplete", zap.Error(err))
		}
	}
}

func buildLogger(level string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	lvl, err := zap.ParseAtomicLevel(level)
	if err != nil {
		return nil, err
	}
	cfg.Level = lvl
	return cfg.Build()
}
