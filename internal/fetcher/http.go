package fetcher

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/nadmax/callscope/internal/analytics"
	"github.com/nadmax/callscope/internal/metrics"
)

// HTTPFetcher reads analytics from the CRM JSON gateway.
type HTTPFetcher struct {
	baseURL string
	token   string
	client  *http.Client
}

func NewHTTPFetcher(baseURL, token string, timeout time.Duration) *HTTPFetcher {
	return &HTTPFetcher{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		client:  &http.Client{Timeout: timeout},
	}
}

// StatusError is returned for non-2xx gateway responses.
type StatusError struct {
	Path       string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("gateway %s returned status %d", e.Path, e.StatusCode)
}

func (f *HTTPFetcher) getJSON(ctx context.Context, operation, path string, query url.Values, dst any) (err error) {
	start := time.Now()
	defer func() { metrics.RecordFetch(operation, err, time.Since(start)) }()

	u := f.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if f.token != "" {
		req.Header.Set("Authorization", "Bearer "+f.token)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to fetch %s: %w", path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return &StatusError{Path: path, StatusCode: resp.StatusCode}
	}

	if err := json.NewDecoder(resp.Body).Decode(dst); err != nil {
		return fmt.Errorf("failed to decode %s: %w", path, err)
	}

	return nil
}

func (f *HTTPFetcher) FetchAnalytic(ctx context.Context, sliceName string, extractStatic bool) (AnalyticResult, error) {
	query, err := url.ParseQuery(sliceName)
	if err != nil {
		return AnalyticResult{}, fmt.Errorf("invalid slice name %q: %w", sliceName, err)
	}
	if extractStatic {
		query.Set("static", "1")
	}

	var result AnalyticResult
	if err := f.getJSON(ctx, "analytic", "/analytic", query, &result); err != nil {
		return AnalyticResult{}, err
	}
	if result.Analytic == nil {
		result.Analytic = make(analytics.Analytic)
	}
	if !extractStatic {
		result.StaticData = nil
	}

	return result, nil
}

func (f *HTTPFetcher) FetchProjects(ctx context.Context, deleted bool) (analytics.StaticData, error) {
	query := url.Values{}
	if deleted {
		query.Set("type", "deleted")
	}

	var projects []*analytics.ProjectStaticInfo
	if err := f.getJSON(ctx, "projects", "/projects", query, &projects); err != nil {
		return nil, err
	}

	data := make(analytics.StaticData, len(projects))
	for _, p := range projects {
		if p == nil {
			continue
		}
		data[p.ID] = p
	}

	return data, nil
}

func (f *HTTPFetcher) FetchProjectsConfig(ctx context.Context) (analytics.ProjectsConfig, error) {
	var cfg analytics.ProjectsConfig
	err := f.getJSON(ctx, "projects_config", "/projects/config", nil, &cfg)
	return cfg, err
}

func (f *HTTPFetcher) FetchClientInfo(ctx context.Context) (analytics.ClientInfo, error) {
	var info analytics.ClientInfo
	err := f.getJSON(ctx, "client_info", "/client", nil, &info)
	return info, err
}
