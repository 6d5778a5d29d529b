// Package fetcher defines the boundary to the CRM: everything the analytics
// session needs from the network goes through Fetcher.
package fetcher

import (
	"context"

	"github.com/nadmax/callscope/internal/analytics"
)

// AnalyticResult is one parsed analytics response. StaticData is only set
// when it was requested and the response carried embedded project data.
type AnalyticResult struct {
	Analytic   analytics.Analytic   `json:"analytic"`
	StaticData analytics.StaticData `json:"staticData,omitempty"`
}

type Fetcher interface {
	FetchAnalytic(ctx context.Context, sliceName string, extractStatic bool) (AnalyticResult, error)
	FetchProjects(ctx context.Context, deleted bool) (analytics.StaticData, error)
	FetchProjectsConfig(ctx context.Context) (analytics.ProjectsConfig, error)
	FetchClientInfo(ctx context.Context) (analytics.ClientInfo, error)
}
