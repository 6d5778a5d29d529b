package fetcher

import (
	"context"
	"sync"

	"github.com/nadmax/callscope/internal/analytics"
)

// MockFetcher is an in-memory Fetcher that records every call.
type MockFetcher struct {
	mu sync.Mutex

	FetchAnalyticCalls       []FetchAnalyticCall
	FetchProjectsCalls       []bool
	FetchProjectsConfigCalls int
	FetchClientInfoCalls     int

	Analytics      map[string]AnalyticResult
	Projects       map[bool]analytics.StaticData
	ProjectsConfig analytics.ProjectsConfig
	ClientInfo     analytics.ClientInfo

	// AnalyticFunc overrides Analytics when set.
	AnalyticFunc func(ctx context.Context, sliceName string, extractStatic bool) (AnalyticResult, error)
	// ProjectsFunc overrides Projects when set.
	ProjectsFunc func(ctx context.Context, deleted bool) (analytics.StaticData, error)

	FetchAnalyticError       error
	FetchProjectsError       error
	FetchProjectsConfigError error
	FetchClientInfoError     error
}

type FetchAnalyticCall struct {
	SliceName     string
	ExtractStatic bool
}

func NewMockFetcher() *MockFetcher {
	return &MockFetcher{
		Analytics: make(map[string]AnalyticResult),
		Projects:  make(map[bool]analytics.StaticData),
	}
}

func (m *MockFetcher) FetchAnalytic(ctx context.Context, sliceName string, extractStatic bool) (AnalyticResult, error) {
	m.mu.Lock()
	m.FetchAnalyticCalls = append(m.FetchAnalyticCalls, FetchAnalyticCall{SliceName: sliceName, ExtractStatic: extractStatic})
	fn := m.AnalyticFunc
	err := m.FetchAnalyticError
	result, ok := m.Analytics[sliceName]
	m.mu.Unlock()

	if fn != nil {
		return fn(ctx, sliceName, extractStatic)
	}
	if err != nil {
		return AnalyticResult{}, err
	}
	if !ok {
		return AnalyticResult{Analytic: make(analytics.Analytic)}, nil
	}

	out := AnalyticResult{Analytic: result.Analytic.Clone()}
	if extractStatic && result.StaticData != nil {
		out.StaticData = result.StaticData.Clone()
	}

	return out, nil
}

func (m *MockFetcher) FetchProjects(ctx context.Context, deleted bool) (analytics.StaticData, error) {
	m.mu.Lock()
	m.FetchProjectsCalls = append(m.FetchProjectsCalls, deleted)
	fn := m.ProjectsFunc
	err := m.FetchProjectsError
	data := m.Projects[deleted]
	m.mu.Unlock()

	if fn != nil {
		return fn(ctx, deleted)
	}
	if err != nil {
		return nil, err
	}

	return data.Clone(), nil
}

func (m *MockFetcher) FetchProjectsConfig(_ context.Context) (analytics.ProjectsConfig, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.FetchProjectsConfigCalls++
	return m.ProjectsConfig, m.FetchProjectsConfigError
}

func (m *MockFetcher) FetchClientInfo(_ context.Context) (analytics.ClientInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.FetchClientInfoCalls++
	return m.ClientInfo, m.FetchClientInfoError
}

func (m *MockFetcher) AnalyticCallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return len(m.FetchAnalyticCalls)
}

func (m *MockFetcher) AnalyticCalls() []FetchAnalyticCall {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]FetchAnalyticCall, len(m.FetchAnalyticCalls))
	copy(out, m.FetchAnalyticCalls)
	return out
}

func (m *MockFetcher) ProjectsCallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return len(m.FetchProjectsCalls)
}

// SetAnalytic registers the response for a slice.
func (m *MockFetcher) SetAnalytic(sliceName string, result AnalyticResult) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.Analytics[sliceName] = result
}
