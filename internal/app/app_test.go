package app

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/jonboulle/clockwork"
	"github.com/nadmax/callscope/internal/advice"
	"github.com/nadmax/callscope/internal/analytics"
	"github.com/nadmax/callscope/internal/config"
	"github.com/nadmax/callscope/internal/fetcher"
	"github.com/nadmax/callscope/internal/tracker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func testConfig(backend string) *config.Config {
	cfg := config.FromEnv()
	cfg.Storage.Backend = backend
	cfg.Cache.Timezone = "UTC"
	cfg.Email = config.EmailConfig{}
	return cfg
}

func TestNewWithBackends(t *testing.T) {
	tests := []struct {
		backend string
		storage bool
	}{
		{backend: "none", storage: false},
		{backend: "memory", storage: true},
	}

	for _, tt := range tests {
		t.Run(tt.backend, func(t *testing.T) {
			a, err := New(context.Background(), testConfig(tt.backend), zap.NewNop(), fetcher.NewMockFetcher())
			require.NoError(t, err)
			defer func() { assert.NoError(t, a.Close()) }()

			assert.NotNil(t, a.Session)
			assert.Nil(t, a.Notifier)
		})
	}
}

func TestNewWithRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := testConfig("redis")
	cfg.Redis.Address = mr.Addr()

	f := fetcher.NewMockFetcher()
	f.SetAnalytic("start=2024-01-01&end=2024-01-01", fetcher.AnalyticResult{
		Analytic: analytics.Analytic{1: analytics.NewCallCounters(4, nil)},
	})

	a, err := New(context.Background(), cfg, zap.NewNop(), f)
	require.NoError(t, err)
	defer func() { assert.NoError(t, a.Close()) }()

	_, err = a.Session.GetAnalyticBySliceName(context.Background(), "start=2024-01-01&end=2024-01-01")
	require.NoError(t, err)

	keys := mr.Keys()
	assert.Contains(t, keys, cfg.Storage.Namespace+":slice:start=2024-01-01&end=2024-01-01")
}

func TestNewUnknownBackend(t *testing.T) {
	_, err := New(context.Background(), testConfig("floppy"), zap.NewNop(), fetcher.NewMockFetcher())
	assert.ErrorIs(t, err, ErrUnknownBackend)
}

func TestNewWithEmail(t *testing.T) {
	cfg := testConfig("none")
	cfg.Email = config.EmailConfig{APIKey: "key", FromAddress: "noreply@example.com", To: "owner@example.com", MinPriority: "medium"}

	a, err := New(context.Background(), cfg, zap.NewNop(), fetcher.NewMockFetcher())
	require.NoError(t, err)
	defer func() { _ = a.Close() }()

	assert.NotNil(t, a.Notifier)
}

func TestRegisteredTasks(t *testing.T) {
	f := fetcher.NewMockFetcher()
	f.Projects[false] = analytics.StaticData{5: {ID: 5, Name: "Five"}}

	a, err := New(context.Background(), testConfig("none"), zap.NewNop(), f)
	require.NoError(t, err)
	defer func() { _ = a.Close() }()

	warm, err := a.Tracker.AddNamed(TaskWarmSlice, map[string]any{"slice": "start=2024-02-01&end=2024-02-03"}, tracker.Options{})
	require.NoError(t, err)
	full, err := a.Tracker.AddNamed(TaskLoadFullStatic, map[string]any{"deleted": false}, tracker.Options{Parallel: true})
	require.NoError(t, err)
	bad, err := a.Tracker.AddNamed(TaskWarmSlice, map[string]any{"slice": "garbage"}, tracker.Options{})
	require.NoError(t, err)

	a.Tracker.Run(context.Background())
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, a.Tracker.Wait(ctx))

	for id, want := range map[string]tracker.Status{warm: tracker.StatusCompleted, full: tracker.StatusCompleted, bad: tracker.StatusFailed} {
		task, err := a.Tracker.Get(id)
		require.NoError(t, err)
		assert.Equal(t, want, task.Status, task.Name)
	}

	assert.Equal(t, 1, f.AnalyticCallCount())
	p, ok := a.Session.GetProject(5)
	require.True(t, ok)
	assert.Equal(t, "Five", p.Name)
}

func TestWarmSlicePayloads(t *testing.T) {
	clock := clockwork.NewFakeClockAt(time.Date(2024, 3, 15, 10, 0, 0, 0, time.UTC))

	tests := []struct {
		name    string
		payload map[string]any
		want    string
		wantErr bool
	}{
		{name: "slice name", payload: map[string]any{"slice": "start=2024-02-01&end=2024-02-03"}, want: "start=2024-02-01&end=2024-02-03"},
		{name: "day range", payload: map[string]any{"start": "2024-02-01", "end": "2024-02-07"}, want: "start=2024-02-01&end=2024-02-07"},
		{name: "deleted range", payload: map[string]any{"start": "2024-02-01", "end": "2024-02-02", "deleted": true}, want: "start=2024-02-01&end=2024-02-02&type=deleted"},
		{name: "start only", payload: map[string]any{"start": "2024-02-10"}, want: "start=2024-02-10&end=2024-02-10"},
		{name: "defaults to today", payload: map[string]any{}, want: "start=2024-03-15&end=2024-03-15"},
		{name: "bad slice", payload: map[string]any{"slice": "garbage"}, wantErr: true},
		{name: "bad day", payload: map[string]any{"start": "15/03/2024"}, wantErr: true},
		{name: "wrong type", payload: map[string]any{"start": 20240315}, wantErr: true},
		{name: "end before start", payload: map[string]any{"start": "2024-02-07", "end": "2024-02-01"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := fetcher.NewMockFetcher()
			a, err := New(context.Background(), testConfig("none"), zap.NewNop(), f, WithClock(clock))
			require.NoError(t, err)
			defer func() { _ = a.Close() }()

			id, err := a.Tracker.AddNamed(TaskWarmSlice, tt.payload, tracker.Options{})
			require.NoError(t, err)
			a.Tracker.Run(context.Background())
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			require.NoError(t, a.Tracker.Wait(ctx))

			task, err := a.Tracker.Get(id)
			require.NoError(t, err)
			if tt.wantErr {
				assert.Equal(t, tracker.StatusFailed, task.Status)
				assert.Zero(t, f.AnalyticCallCount())
				return
			}

			assert.Equal(t, tracker.StatusCompleted, task.Status)
			calls := f.AnalyticCalls()
			require.Len(t, calls, 1)
			assert.Equal(t, tt.want, calls[0].SliceName)
		})
	}
}

func TestParsePriority(t *testing.T) {
	assert.Equal(t, advice.PriorityLow, ParsePriority("low"))
	assert.Equal(t, advice.PriorityMedium, ParsePriority("medium"))
	assert.Equal(t, advice.PriorityHigh, ParsePriority("high"))
	assert.Equal(t, advice.PriorityHigh, ParsePriority(""))
}

func TestNewAdviceSystem(t *testing.T) {
	a, err := New(context.Background(), testConfig("none"), zap.NewNop(), fetcher.NewMockFetcher())
	require.NoError(t, err)
	defer func() { _ = a.Close() }()

	s := a.NewAdviceSystem()
	defer s.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	require.NoError(t, s.WaitForLoadComplete(ctx))
	assert.Equal(t, advice.StateLoaded, s.State())
}
