package session

import (
	"context"
	"sort"

	"github.com/nadmax/callscope/internal/analytics"
	"golang.org/x/sync/errgroup"
)

type ProjectComparison struct {
	ProjectID analytics.ProjectID    `json:"project_id"`
	Current   analytics.CallCounters `json:"current"`
	Previous  analytics.CallCounters `json:"previous"`
	// LeadsChange is the relative change of leads in percent; 0 when the
	// previous period had no leads.
	LeadsChange int `json:"leads_change"`
}

type Comparison struct {
	Current  string              `json:"current"`
	Previous string              `json:"previous"`
	Projects []ProjectComparison `json:"projects"`
}

// ComparePeriods loads a slice and the slice of equal length right before it
// and pairs their counters per project.
func (s *Session) ComparePeriods(ctx context.Context, current analytics.Slice) (Comparison, error) {
	previous := current.Previous()
	currentName := current.Name()
	previousName := previous.Name()

	var cur, prev analytics.Analytic
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		cur, err = s.GetAnalyticBySliceName(gctx, currentName)
		return err
	})
	g.Go(func() error {
		var err error
		prev, err = s.GetAnalyticBySliceName(gctx, previousName)
		return err
	})
	if err := g.Wait(); err != nil {
		return Comparison{}, err
	}

	ids := make(map[analytics.ProjectID]struct{}, len(cur)+len(prev))
	for id := range cur {
		ids[id] = struct{}{}
	}
	for id := range prev {
		ids[id] = struct{}{}
	}

	out := Comparison{Current: currentName, Previous: previousName, Projects: make([]ProjectComparison, 0, len(ids))}
	for id := range ids {
		c, p := cur[id], prev[id]
		out.Projects = append(out.Projects, ProjectComparison{
			ProjectID:   id,
			Current:     c,
			Previous:    p,
			LeadsChange: relativeChange(c.Value(analytics.StatusLeads), p.Value(analytics.StatusLeads)),
		})
	}
	sort.Slice(out.Projects, func(i, j int) bool { return out.Projects[i].ProjectID < out.Projects[j].ProjectID })

	return out, nil
}

func relativeChange(current, previous int) int {
	if previous == 0 {
		return 0
	}

	return analytics.CalcPercent(current-previous, previous)
}
