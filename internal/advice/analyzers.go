package advice

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/nadmax/callscope/internal/analytics"
)

// Analyzer inspects analytics and returns at most one advice. A nil advice
// with a nil error means there is nothing to say.
type Analyzer struct {
	Name string
	Run  func(ctx context.Context, env *Env) (*Advice, error)
}

const (
	missedMinProcessed   = 10
	missedPercentAlert   = 30
	noLeadsMinProcessed  = 20
	leadsDropMinPrevious = 10
	leadsDropPercent     = 30
	onboardingWindow     = 14 * 24 * time.Hour
	silenceLookbackDays  = 7
)

// DefaultAnalyzers lists every analyzer in display order.
func DefaultAnalyzers() []Analyzer {
	return []Analyzer{
		{Name: "calls_stopped", Run: analyzeCallsStopped},
		{Name: "missed_calls", Run: analyzeMissedCalls},
		{Name: "leads_drop", Run: analyzeLeadsDrop},
		{Name: "no_leads", Run: analyzeNoLeads},
		{Name: "limit_reached", Run: analyzeLimitReached},
		{Name: "inactive_with_traffic", Run: analyzeInactiveWithTraffic},
		{Name: "want_phones", Run: analyzeWantPhones},
		{Name: "onboarding", Run: analyzeOnboarding},
	}
}

func lastDays(env *Env, days int) (time.Time, time.Time) {
	end := env.Today().AddDate(0, 0, -1)
	return end.AddDate(0, 0, -(days - 1)), end
}

func sortedIDs(ids []analytics.ProjectID) []analytics.ProjectID {
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// analyzeCallsStopped looks for the most recent day without any processed
// call, stopping at the first day that had traffic.
func analyzeCallsStopped(ctx context.Context, env *Env) (*Advice, error) {
	start, end := lastDays(env, silenceLookbackDays)

	silent := 0
	for day := range env.Days(start, end) {
		a, err := day.Load(ctx)
		if err != nil {
			return nil, err
		}
		if a.Total().Processed > 0 {
			break
		}
		silent++
	}

	if silent == 0 || silent == silenceLookbackDays {
		return nil, nil
	}

	since := end.AddDate(0, 0, -(silent - 1))
	return &Advice{
		Title:       "Calls stopped coming in",
		Description: fmt.Sprintf("No calls were processed during the last %d day(s), since %s.", silent, since.Format("2006-01-02")),
		Priority:    PriorityHigh,
		Actions: []Action{
			{Type: ActionContactSupport, Label: "Contact support"},
			{Type: ActionOpenPeriod, Label: "Open period", SliceName: analytics.SliceName(since, end, false)},
		},
	}, nil
}

func analyzeMissedCalls(ctx context.Context, env *Env) (*Advice, error) {
	start, end := lastDays(env, 7)
	a, err := env.Period(ctx, start, end)
	if err != nil {
		return nil, err
	}

	var ids []analytics.ProjectID
	for id, c := range a {
		if c.Processed >= missedMinProcessed && c.Percent(analytics.StatusMissed) >= missedPercentAlert {
			ids = append(ids, id)
		}
	}
	if len(ids) == 0 {
		return nil, nil
	}

	return &Advice{
		Title:       "Many calls are missed",
		Description: fmt.Sprintf("%d project(s) missed at least %d%% of calls over the last week.", len(ids), missedPercentAlert),
		Priority:    PriorityHigh,
		Actions: []Action{
			{Type: ActionOpenProjects, Label: "Show projects", ProjectIDs: sortedIDs(ids)},
		},
	}, nil
}

func analyzeLeadsDrop(ctx context.Context, env *Env) (*Advice, error) {
	start, end := lastDays(env, 7)
	current, err := env.Period(ctx, start, end)
	if err != nil {
		return nil, err
	}
	previous, err := env.Period(ctx, start.AddDate(0, 0, -7), start.AddDate(0, 0, -1))
	if err != nil {
		return nil, err
	}

	cur := current.Total().Value(analytics.StatusLeads)
	prev := previous.Total().Value(analytics.StatusLeads)
	if prev < leadsDropMinPrevious {
		return nil, nil
	}

	drop := analytics.CalcPercent(prev-cur, prev)
	if drop < leadsDropPercent {
		return nil, nil
	}

	return &Advice{
		Title:       "Leads dropped week over week",
		Description: fmt.Sprintf("Leads fell by %d%% (%d → %d) compared to the previous week.", drop, prev, cur),
		Priority:    PriorityHigh,
		Actions: []Action{
			{Type: ActionOpenPeriod, Label: "Compare periods", SliceName: analytics.SliceName(start, end, false)},
		},
	}, nil
}

func analyzeNoLeads(ctx context.Context, env *Env) (*Advice, error) {
	start, end := lastDays(env, 14)
	a, err := env.Period(ctx, start, end)
	if err != nil {
		return nil, err
	}
	static, err := env.StaticData(ctx, false)
	if err != nil {
		return nil, err
	}

	var ids []analytics.ProjectID
	for id, c := range a {
		if c.Processed < noLeadsMinProcessed || c.Value(analytics.StatusLeads) > 0 {
			continue
		}
		if p, ok := static[id]; ok && p.Status != "" && !p.IsActive() {
			continue
		}
		ids = append(ids, id)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	return &Advice{
		Title:       "Projects without leads",
		Description: fmt.Sprintf("%d active project(s) received calls but produced no leads in two weeks.", len(ids)),
		Priority:    PriorityMedium,
		Actions: []Action{
			{Type: ActionOpenProjects, Label: "Review projects", ProjectIDs: sortedIDs(ids)},
		},
	}, nil
}

func analyzeLimitReached(ctx context.Context, env *Env) (*Advice, error) {
	yesterday := env.Today().AddDate(0, 0, -1)
	a, err := env.Period(ctx, yesterday, yesterday)
	if err != nil {
		return nil, err
	}
	static, err := env.StaticData(ctx, true)
	if err != nil {
		return nil, err
	}

	var ids []analytics.ProjectID
	for id, c := range a {
		p, ok := static[id]
		if !ok || p.Limit == nil || *p.Limit <= 0 {
			continue
		}
		if c.Value(analytics.StatusLeads) >= *p.Limit {
			ids = append(ids, id)
		}
	}
	if len(ids) == 0 {
		return nil, nil
	}

	return &Advice{
		Title:       "Daily lead limit reached",
		Description: fmt.Sprintf("%d project(s) hit their daily limit yesterday; raising it may bring more leads.", len(ids)),
		Priority:    PriorityMedium,
		Actions: []Action{
			{Type: ActionEditLimits, Label: "Edit limits", ProjectIDs: sortedIDs(ids)},
		},
	}, nil
}

func analyzeInactiveWithTraffic(ctx context.Context, env *Env) (*Advice, error) {
	start, end := lastDays(env, 7)
	a, err := env.Period(ctx, start, end)
	if err != nil {
		return nil, err
	}
	static, err := env.StaticData(ctx, false)
	if err != nil {
		return nil, err
	}

	var ids []analytics.ProjectID
	for id, c := range a {
		if p, ok := static[id]; ok && p.Status == analytics.ProjectInactive && c.Processed > 0 {
			ids = append(ids, id)
		}
	}
	if len(ids) == 0 {
		return nil, nil
	}

	return &Advice{
		Title:       "Inactive projects still receive calls",
		Description: fmt.Sprintf("%d inactive project(s) had calls last week. Reactivate them to count leads.", len(ids)),
		Priority:    PriorityMedium,
		Actions: []Action{
			{Type: ActionOpenProjects, Label: "Show projects", ProjectIDs: sortedIDs(ids)},
		},
	}, nil
}

func analyzeWantPhones(ctx context.Context, env *Env) (*Advice, error) {
	cfg, err := env.ProjectsConfig(ctx)
	if err != nil {
		return nil, err
	}
	if cfg.WantPhones <= 0 || cfg.IsCallCenter {
		return nil, nil
	}

	return &Advice{
		Title:       "Phone numbers requested",
		Description: fmt.Sprintf("You asked for %d phone number(s). Finish the order to start tracking them.", cfg.WantPhones),
		Priority:    PriorityLow,
		Actions: []Action{
			{Type: ActionOrderPhones, Label: "Order phones"},
		},
	}, nil
}

func analyzeOnboarding(ctx context.Context, env *Env) (*Advice, error) {
	info, err := env.ClientInfo(ctx)
	if err != nil {
		return nil, err
	}
	if info.CreatedAt.IsZero() || env.now.Sub(info.CreatedAt) > onboardingWindow {
		return nil, nil
	}

	return &Advice{
		Title:       "Welcome aboard",
		Description: "Your account is less than two weeks old. Our team can help you set up projects.",
		Priority:    PriorityLow,
		Actions: []Action{
			{Type: ActionContactSupport, Label: "Book a walkthrough"},
		},
	}, nil
}
