package fetcher

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/nadmax/callscope/internal/analytics"
	"go.uber.org/zap"
)

// Retrying wraps a Fetcher and retries transport failures and 5xx responses
// with linear back-off. Client errors are returned immediately.
type Retrying struct {
	next    Fetcher
	retries int
	delay   time.Duration
	logger  *zap.Logger
}

func NewRetrying(next Fetcher, retries int, delay time.Duration, logger *zap.Logger) *Retrying {
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Retrying{next: next, retries: retries, delay: delay, logger: logger}
}

func retryable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return statusErr.StatusCode >= http.StatusInternalServerError || statusErr.StatusCode == http.StatusTooManyRequests
	}

	return true
}

func do[T any](ctx context.Context, r *Retrying, operation string, fn func(context.Context) (T, error)) (T, error) {
	var (
		result T
		err    error
	)

	for attempt := 0; attempt <= r.retries; attempt++ {
		result, err = fn(ctx)
		if err == nil || !retryable(err) || attempt == r.retries {
			return result, err
		}

		r.logger.Warn("fetch failed, will retry",
			zap.String("operation", operation),
			zap.Int("attempt", attempt+1),
			zap.Int("max_retries", r.retries),
			zap.Error(err),
		)

		select {
		case <-time.After(time.Duration(attempt+1) * r.delay):
		case <-ctx.Done():
			var zero T
			return zero, ctx.Err()
		}
	}

	return result, err
}

func (r *Retrying) FetchAnalytic(ctx context.Context, sliceName string, extractStatic bool) (AnalyticResult, error) {
	return do(ctx, r, "analytic", func(ctx context.Context) (AnalyticResult, error) {
		return r.next.FetchAnalytic(ctx, sliceName, extractStatic)
	})
}

func (r *Retrying) FetchProjects(ctx context.Context, deleted bool) (analytics.StaticData, error) {
	return do(ctx, r, "projects", func(ctx context.Context) (analytics.StaticData, error) {
		return r.next.FetchProjects(ctx, deleted)
	})
}

func (r *Retrying) FetchProjectsConfig(ctx context.Context) (analytics.ProjectsConfig, error) {
	return do(ctx, r, "projects_config", r.next.FetchProjectsConfig)
}

func (r *Retrying) FetchClientInfo(ctx context.Context) (analytics.ClientInfo, error) {
	return do(ctx, r, "client_info", r.next.FetchClientInfo)
}
