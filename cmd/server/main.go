package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/nadmax/callscope/internal/api"
	"github.com/nadmax/callscope/internal/app"
	"github.com/nadmax/callscope/internal/config"
	"github.com/nadmax/callscope/internal/logger"
	"github.com/nadmax/callscope/internal/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

func main() {
	cfg, envLoaded := config.New()

	log, err := logger.New(cfg.Log)
	if err != nil {
		panic(err)
	}
	defer func() { _ = log.Sync() }()

	if !envLoaded {
		log.Debug("no .env file loaded")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, log, nil)
	if err != nil {
		log.Fatal("failed to start", zap.Error(err))
	}

	defer func() {
		if err := a.Close(); err != nil {
			log.Error("failed to close application", zap.Error(err))
		}
	}()

	apiHandler := api.NewAPI(a.Session, a.Tracker, a.NewAdviceSystem, cfg.Location(), log.Named("api"))
	defer apiHandler.Close()

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/", apiHandler)

	srv := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           middleware.LoggingMiddleware(log.Named("http"))(middleware.MetricsMiddleware(mux)),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go startMetricsCollector(ctx, a.Cache)

	go func() {
		log.Info("server starting",
			zap.String("addr", srv.Addr),
			zap.String("storage", cfg.Storage.Backend),
			zap.String("crm", cfg.CRM.BaseURL),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server stopped", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	log.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("graceful shutdown failed", zap.Error(err))
	}
}
