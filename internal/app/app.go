// Package app wires the cache, the session and the advice system from the
// service configuration. Both binaries start from here.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/nadmax/callscope/internal/advice"
	"github.com/nadmax/callscope/internal/analytics"
	"github.com/nadmax/callscope/internal/cache"
	"github.com/nadmax/callscope/internal/config"
	"github.com/nadmax/callscope/internal/fetcher"
	"github.com/nadmax/callscope/internal/notify"
	"github.com/nadmax/callscope/internal/session"
	"github.com/nadmax/callscope/internal/storage"
	"github.com/nadmax/callscope/internal/tracker"
	"go.uber.org/zap"
)

var (
	ErrUnknownBackend = errors.New("unknown cache storage backend")
	ErrInvalidPayload = errors.New("invalid task payload")
)

// Task names understood by the tracker.
const (
	TaskWarmSlice      = "warm_slice"
	TaskLoadFullStatic = "load_full_static"
	TaskResetSession   = "reset_session"
)

type App struct {
	Config   *config.Config
	Logger   *zap.Logger
	Cache    *cache.Cache
	Session  *session.Session
	Tracker  *tracker.Tracker
	Notifier *notify.EmailNotifier

	clock   clockwork.Clock
	closers []io.Closer
}

type Option func(*App)

// WithClock replaces the wall clock used by the session, the tracker and the
// named tasks.
func WithClock(clock clockwork.Clock) Option {
	return func(a *App) { a.clock = clock }
}

// New builds the application. A nil fetcher means the CRM HTTP API from cfg.
func New(ctx context.Context, cfg *config.Config, logger *zap.Logger, f fetcher.Fetcher, opts ...Option) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	a := &App{Config: cfg, Logger: logger, clock: clockwork.NewRealClock()}
	for _, opt := range opts {
		opt(a)
	}

	adapter, err := a.openStorage(ctx)
	if err != nil {
		return nil, err
	}

	opts := []cache.Option{cache.WithLogger(logger.Named("cache"))}
	if adapter != nil {
		opts = append(opts, cache.WithAdapter(adapter))
	}
	a.Cache = cache.New(opts...)

	if f == nil {
		f = fetcher.NewRetrying(
			fetcher.NewHTTPFetcher(cfg.CRM.BaseURL, cfg.CRM.Token, cfg.CRM.Timeout),
			cfg.CRM.Retries,
			cfg.CRM.RetryDelay,
			logger.Named("fetcher"),
		)
	}

	sessionOpts := session.DefaultOptions()
	sessionOpts.TodayTTL = cfg.Cache.TodayTTL
	sessionOpts.PastTTL = cfg.Cache.PastTTL
	sessionOpts.ConfigTTL = cfg.Cache.ConfigTTL
	sessionOpts.UseStorage = cfg.Cache.UseStorage && adapter != nil
	sessionOpts.Location = cfg.Location()
	sessionOpts.Clock = a.clock
	a.Session = session.New(a.Cache, f, logger.Named("session"), sessionOpts)

	a.Tracker = tracker.New(logger.Named("tracker"), tracker.WithClock(a.clock))
	a.registerTasks()

	n, err := notify.NewEmailNotifier(notify.EmailConfig{
		APIKey:      cfg.Email.APIKey,
		FromName:    cfg.Email.FromName,
		FromAddress: cfg.Email.FromAddress,
		To:          cfg.Email.To,
		MinPriority: ParsePriority(cfg.Email.MinPriority),
	}, logger.Named("notify"))
	switch {
	case err == nil:
		a.Notifier = n
	case errors.Is(err, notify.ErrNotConfigured):
		logger.Info("advice emails disabled")
	default:
		return nil, err
	}

	return a, nil
}

func (a *App) openStorage(ctx context.Context) (cache.Adapter, error) {
	cfg := a.Config

	switch cfg.Storage.Backend {
	case "", "none":
		return nil, nil
	case "memory":
		return storage.NewMemoryAdapter(), nil
	case "redis":
		r, err := storage.NewRedisAdapter(ctx, cfg.Redis.Address, cfg.Redis.Password, cfg.Storage.Namespace)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, r)
		a.Logger.Info("cache storage connected", zap.String("backend", "redis"), zap.String("addr", cfg.Redis.Address))
		return r, nil
	case "postgres":
		p, err := storage.NewPostgresAdapter(ctx, cfg.Postgres.DSN)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, p)
		a.Logger.Info("cache storage connected", zap.String("backend", "postgres"))
		return p, nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownBackend, cfg.Storage.Backend)
	}
}

// NewAdviceSystem returns a fresh advice system, with e-mail notification
// attached when configured.
func (a *App) NewAdviceSystem() *advice.System {
	s := advice.NewSystem(a.Session, a.Logger.Named("advice"), advice.SystemOptions{
		Worker: advice.WorkerOptions{
			RequestTimeout: a.Config.Advice.RequestTimeout,
			Location:       a.Config.Location(),
		},
		MaxConcurrentRequests: a.Config.Advice.MaxConcurrentRequests,
	})
	if a.Notifier != nil {
		a.Notifier.Attach(s)
	}

	return s
}

func (a *App) registerTasks() {
	loc := a.Config.Location()

	a.Tracker.RegisterHandler(TaskWarmSlice, func(ctx context.Context, payload map[string]any) error {
		name, err := a.warmSliceName(payload, loc)
		if err != nil {
			return err
		}

		_, err = a.Session.GetAnalyticBySliceName(ctx, name)
		return err
	})

	a.Tracker.RegisterHandler(TaskLoadFullStatic, func(ctx context.Context, payload map[string]any) error {
		deleted, _ := payload["deleted"].(bool)
		_, err := a.Session.LoadFullStaticData(ctx, deleted)
		return err
	})

	a.Tracker.RegisterHandler(TaskResetSession, func(ctx context.Context, _ map[string]any) error {
		a.Session.Reset(ctx)
		return nil
	})
}

// warmSliceName reads either a ready slice name ("slice") or a day range
// ("start", "end", "deleted"). A missing start means today, a missing end
// means the start day.
func (a *App) warmSliceName(payload map[string]any, loc *time.Location) (string, error) {
	if name, ok := payload["slice"].(string); ok && name != "" {
		if _, err := analytics.ParseSliceName(name, loc); err != nil {
			return "", err
		}
		return name, nil
	}

	deleted, _ := payload["deleted"].(bool)

	start := analytics.TruncateDay(a.clock.Now().In(loc))
	if raw, ok := payload["start"]; ok {
		day, err := payloadDay(raw, loc)
		if err != nil {
			return "", fmt.Errorf("%w: start: %w", ErrInvalidPayload, err)
		}
		start = day
	}

	end := start
	if raw, ok := payload["end"]; ok {
		day, err := payloadDay(raw, loc)
		if err != nil {
			return "", fmt.Errorf("%w: end: %w", ErrInvalidPayload, err)
		}
		end = day
	}

	if end.Before(start) {
		return "", fmt.Errorf("%w: end before start", ErrInvalidPayload)
	}

	return analytics.SliceName(start, end, deleted), nil
}

func payloadDay(raw any, loc *time.Location) (time.Time, error) {
	s, ok := raw.(string)
	if !ok {
		return time.Time{}, fmt.Errorf("expected YYYY-MM-DD string, got %T", raw)
	}

	return analytics.ParseDay(s, loc)
}

func ParsePriority(s string) advice.Priority {
	switch s {
	case "low":
		return advice.PriorityLow
	case "medium":
		return advice.PriorityMedium
	default:
		return advice.PriorityHigh
	}
}

// Close waits for pending e-mails and releases storage connections.
func (a *App) Close() error {
	if a.Notifier != nil {
		a.Notifier.Wait()
	}

	var errs []error
	for _, c := range a.closers {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}
