// Command worker runs the advice analyzers once against the CRM and prints
// every advice as one JSON line on stdout.
package main

import (
	"context"
	"encoding/json"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nadmax/callscope/internal/app"
	"github.com/nadmax/callscope/internal/config"
	"github.com/nadmax/callscope/internal/logger"
	"go.uber.org/zap"
)

func main() {
	cfg, _ := config.New()
	if len(cfg.Log.OutputPaths) == 1 && cfg.Log.OutputPaths[0] == "stdout" {
		// stdout carries the advices.
		cfg.Log.OutputPaths = []string{"stderr"}
	}

	log, err := logger.New(cfg.Log)
	if err != nil {
		panic(err)
	}
	defer func() { _ = log.Sync() }()

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

	sys := a.NewAdviceSystem()
	defer sys.Close()

	start := time.Now()
	enc := json.NewEncoder(os.Stdout)
	count := 0
	for adv := range sys.LoadAdvices(ctx) {
		if err := enc.Encode(adv); err != nil {
			log.Error("failed to write advice", zap.Error(err))
			return
		}
		count++
	}

	if ctx.Err() != nil {
		log.Warn("interrupted before all analyzers finished", zap.Int("advices", count))
		return
	}

	log.Info("advices generated", zap.Int("count", count), zap.Duration("took", time.Since(start)))
}
