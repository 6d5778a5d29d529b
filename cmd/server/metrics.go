package main

import (
	"context"
	"time"

	"github.com/nadmax/callscope/internal/cache"
	"github.com/nadmax/callscope/internal/metrics"
)

func startMetricsCollector(ctx context.Context, c *cache.Cache) {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()

	for {
		metrics.UpdateCacheEntries(c.Len())

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
