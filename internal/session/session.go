// Package session is the single place that turns date ranges into cached
// analytics. It names slices, collapses concurrent loads and upgrades the
// partial project metadata found in analytics responses to the full listing.
package session

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/nadmax/callscope/internal/analytics"
	"github.com/nadmax/callscope/internal/cache"
	"github.com/nadmax/callscope/internal/fetcher"
	"go.uber.org/zap"
)

var (
	staticDataKey     = cache.SingletonKey("static_data")
	projectsConfigKey = cache.SingletonKey("projects_config")
	clientInfoKey     = cache.SingletonKey("client_info")
)

type Options struct {
	// TodayTTL applies to slices that include the current day.
	TodayTTL time.Duration
	// PastTTL applies to slices that ended before today.
	PastTTL    time.Duration
	ConfigTTL  time.Duration
	UseStorage bool
	Location   *time.Location
	Clock      clockwork.Clock
}

func DefaultOptions() Options {
	return Options{
		TodayTTL:   5 * time.Minute,
		PastTTL:    24 * time.Hour,
		ConfigTTL:  time.Hour,
		UseStorage: true,
		Location:   time.Local,
		Clock:      clockwork.NewRealClock(),
	}
}

// call is a load shared by every caller that arrives while it runs.
type call struct {
	done chan struct{}
	err  error
}

func newCall() *call {
	return &call{done: make(chan struct{})}
}

func (c *call) wait(ctx context.Context) error {
	select {
	case <-c.done:
		return c.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// source tracks the static-data bootstrap of one class of slices (active or
// deleted projects).
type source struct {
	mu      sync.Mutex
	loaded  bool
	loading *call
}

type fullLoader struct {
	mu      sync.Mutex
	loaded  bool
	loading *call
}

type Session struct {
	cache   *cache.Cache
	fetcher fetcher.Fetcher
	logger  *zap.Logger
	opts    Options

	sources     map[bool]*source
	fullLoaders map[bool]*fullLoader

	// resetMu orders loader writes against Reset; generation counts resets.
	resetMu    sync.RWMutex
	generation atomic.Uint64
}

func New(c *cache.Cache, f fetcher.Fetcher, logger *zap.Logger, opts Options) *Session {
	defaults := DefaultOptions()
	if opts.TodayTTL <= 0 {
		opts.TodayTTL = defaults.TodayTTL
	}
	if opts.PastTTL <= 0 {
		opts.PastTTL = defaults.PastTTL
	}
	if opts.ConfigTTL <= 0 {
		opts.ConfigTTL = defaults.ConfigTTL
	}
	if opts.Location == nil {
		opts.Location = defaults.Location
	}
	if opts.Clock == nil {
		opts.Clock = defaults.Clock
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Session{
		cache:       c,
		fetcher:     f,
		logger:      logger,
		opts:        opts,
		sources:     map[bool]*source{false: {}, true: {}},
		fullLoaders: map[bool]*fullLoader{false: {}, true: {}},
	}
}

// GetAnalyticSliceName names the slice of [start, end] by calendar day in the
// session's location.
func (s *Session) GetAnalyticSliceName(start, end time.Time, deleted bool) string {
	return analytics.SliceName(start.In(s.opts.Location), end.In(s.opts.Location), deleted)
}

func (s *Session) GetAnalytic(ctx context.Context, start, end time.Time, deleted bool) (analytics.Analytic, error) {
	return s.GetAnalyticBySliceName(ctx, s.GetAnalyticSliceName(start, end, deleted))
}

// GetAnalyticBySliceName returns the analytic of a slice. The first request
// of a slice class also extracts the embedded static data; every request that
// arrives while it runs waits for it instead of fetching again. Afterwards
// each distinct slice is fetched once and memoized.
func (s *Session) GetAnalyticBySliceName(ctx context.Context, sliceName string) (analytics.Analytic, error) {
	src := s.sources[analytics.IsDeletedSlice(sliceName)]

	if err := s.bootstrap(ctx, src, sliceName); err != nil {
		return nil, err
	}

	return cache.Get(ctx, s.cache, cache.SliceKey(sliceName), func(ctx context.Context) (analytics.Analytic, error) {
		result, err := s.fetcher.FetchAnalytic(ctx, sliceName, false)
		if err != nil {
			return nil, fmt.Errorf("failed to fetch analytic %s: %w", sliceName, err)
		}
		return result.Analytic, nil
	}, s.sliceOptions(sliceName))
}

func (s *Session) bootstrap(ctx context.Context, src *source, sliceName string) error {
	src.mu.Lock()
	if src.loaded {
		src.mu.Unlock()
		return nil
	}

	c := src.loading
	if c == nil {
		c = newCall()
		src.loading = c
		go s.runBootstrap(context.WithoutCancel(ctx), src, c, s.currentGeneration(), sliceName)
	}
	src.mu.Unlock()

	return c.wait(ctx)
}

// runBootstrap clears the in-flight marker on failure so that the next
// request retries instead of failing forever. A load overtaken by Reset no
// longer owns src.loading and leaves src untouched.
func (s *Session) runBootstrap(ctx context.Context, src *source, c *call, gen uint64, sliceName string) {
	err := s.loadWithStatic(ctx, gen, sliceName)

	src.mu.Lock()
	if err != nil {
		s.logger.Warn("failed to bootstrap analytics", zap.String("slice", sliceName), zap.Error(err))
	}
	if src.loading == c {
		src.loaded = err == nil
		src.loading = nil
	}
	c.err = err
	src.mu.Unlock()

	close(c.done)
}

func (s *Session) loadWithStatic(ctx context.Context, gen uint64, sliceName string) error {
	result, err := s.fetcher.FetchAnalytic(ctx, sliceName, true)
	if err != nil {
		return fmt.Errorf("failed to fetch analytic %s: %w", sliceName, err)
	}

	if result.Analytic == nil {
		result.Analytic = make(analytics.Analytic)
	}

	// Static data scraped from an analytic is partial: it never overrides
	// what the full listing already provided.
	committed, err := s.commit(gen, func() error {
		cache.Set(ctx, s.cache, cache.SliceKey(sliceName), result.Analytic, s.sliceOptions(sliceName))
		if len(result.StaticData) == 0 {
			return nil
		}
		_, err := s.mergeStatic(ctx, analytics.FillMissing, result.StaticData)
		return err
	})
	if err != nil {
		return err
	}
	if !committed {
		s.logger.Debug("discarding analytics loaded before reset", zap.String("slice", sliceName))
		return nil
	}

	s.logger.Debug("analytics bootstrapped",
		zap.String("slice", sliceName),
		zap.Int("projects", len(result.Analytic)),
		zap.Int("static_projects", len(result.StaticData)),
	)

	return nil
}

func (s *Session) mergeStatic(ctx context.Context, merge func(current, incoming analytics.StaticData) analytics.StaticData, incoming analytics.StaticData) (analytics.StaticData, error) {
	return cache.AtomicUpdate(ctx, s.cache, staticDataKey, func(current analytics.StaticData) (analytics.StaticData, error) {
		return merge(current, incoming), nil
	}, cache.Options{TTL: cache.NoExpiry, UseStorage: s.opts.UseStorage})
}

func (s *Session) currentGeneration() uint64 {
	return s.generation.Load()
}

// commit runs write unless Reset ran since gen was read.
func (s *Session) commit(gen uint64, write func() error) (bool, error) {
	s.resetMu.RLock()
	defer s.resetMu.RUnlock()

	if s.generation.Load() != gen {
		return false, nil
	}

	return true, write()
}

func (s *Session) sliceOptions(sliceName string) cache.Options {
	opts := cache.Options{TTL: s.opts.TodayTTL, UseStorage: s.opts.UseStorage}

	slice, err := analytics.ParseSliceName(sliceName, s.opts.Location)
	if err != nil {
		return opts
	}

	today := analytics.TruncateDay(s.opts.Clock.Now().In(s.opts.Location))
	if slice.End.Before(today) {
		opts.TTL = s.opts.PastTTL
	}

	return opts
}

// GetStaticData returns a copy of the project metadata known so far, which
// may be partial until LoadFullStaticData has run.
func (s *Session) GetStaticData() analytics.StaticData {
	data, ok := cache.Peek[analytics.StaticData](s.cache, staticDataKey)
	if !ok {
		return make(analytics.StaticData)
	}

	return data.Clone()
}

func (s *Session) GetProject(id analytics.ProjectID) (*analytics.ProjectStaticInfo, bool) {
	data, ok := cache.Peek[analytics.StaticData](s.cache, staticDataKey)
	if !ok {
		return nil, false
	}

	p, ok := data[id]
	if !ok {
		return nil, false
	}

	return p.Clone(), true
}

// LoadFullStaticData fetches the authoritative project listing once per
// deleted flag and merges it over the partial data. Concurrent callers share
// one fetch; a failed fetch is retried by the next call.
func (s *Session) LoadFullStaticData(ctx context.Context, deleted bool) (analytics.StaticData, error) {
	fl := s.fullLoaders[deleted]

	fl.mu.Lock()
	if fl.loaded {
		fl.mu.Unlock()
		return s.GetStaticData(), nil
	}

	c := fl.loading
	if c == nil {
		c = newCall()
		fl.loading = c
		go s.runFullLoad(context.WithoutCancel(ctx), fl, c, s.currentGeneration(), deleted)
	}
	fl.mu.Unlock()

	if err := c.wait(ctx); err != nil {
		return nil, err
	}

	return s.GetStaticData(), nil
}

func (s *Session) runFullLoad(ctx context.Context, fl *fullLoader, c *call, gen uint64, deleted bool) {
	err := s.loadFull(ctx, gen, deleted)

	fl.mu.Lock()
	if err != nil {
		s.logger.Warn("failed to load full static data", zap.Bool("deleted", deleted), zap.Error(err))
	}
	if fl.loading == c {
		fl.loaded = err == nil
		fl.loading = nil
	}
	c.err = err
	fl.mu.Unlock()

	close(c.done)
}

func (s *Session) loadFull(ctx context.Context, gen uint64, deleted bool) error {
	full, err := s.fetcher.FetchProjects(ctx, deleted)
	if err != nil {
		return fmt.Errorf("failed to fetch projects: %w", err)
	}

	var merged analytics.StaticData
	committed, err := s.commit(gen, func() error {
		var err error
		merged, err = s.mergeStatic(ctx, analytics.MergeStatic, full)
		return err
	})
	if err != nil {
		return err
	}
	if !committed {
		s.logger.Debug("discarding projects loaded before reset", zap.Bool("deleted", deleted))
		return nil
	}

	s.logger.Info("full static data loaded",
		zap.Bool("deleted", deleted),
		zap.Int("fetched", len(full)),
		zap.Int("total", len(merged)),
	)

	return nil
}

func (s *Session) GetProjectsConfig(ctx context.Context) (analytics.ProjectsConfig, error) {
	return cache.Get(ctx, s.cache, projectsConfigKey, s.fetcher.FetchProjectsConfig,
		cache.Options{TTL: s.opts.ConfigTTL, UseStorage: s.opts.UseStorage})
}

func (s *Session) GetClientInfo(ctx context.Context) (analytics.ClientInfo, error) {
	return cache.Get(ctx, s.cache, clientInfoKey, s.fetcher.FetchClientInfo,
		cache.Options{TTL: s.opts.ConfigTTL, UseStorage: s.opts.UseStorage})
}

// Reset drops every cached value and forgets completed loads. Loads still
// running keep serving their current waiters but their results are not
// stored.
func (s *Session) Reset(ctx context.Context) {
	s.resetMu.Lock()
	defer s.resetMu.Unlock()

	s.generation.Add(1)
	for _, src := range s.sources {
		src.mu.Lock()
		src.loaded = false
		src.loading = nil
		src.mu.Unlock()
	}
	for _, fl := range s.fullLoaders {
		fl.mu.Lock()
		fl.loaded = false
		fl.loading = nil
		fl.mu.Unlock()
	}

	s.cache.Clear(ctx)
}
