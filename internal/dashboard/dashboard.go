// Package dashboard serves the summary numbers shown on the analytics home
// screen.
package dashboard

import (
	"net/http"
	"sort"
	"time"

	"github.com/nadmax/callscope/internal/advice"
	"github.com/nadmax/callscope/internal/analytics"
	"github.com/nadmax/callscope/internal/httputil"
	"github.com/nadmax/callscope/internal/tracker"
)

type ProjectSource interface {
	GetStaticData() analytics.StaticData
}

type TaskSource interface {
	Queued() []tracker.Task
	Running() bool
}

type Dashboard struct {
	projects ProjectSource
	tasks    TaskSource
	advices  func() *advice.System
}

type Stats struct {
	Projects          int                             `json:"projects"`
	ProjectsByStatus  map[analytics.ProjectStatus]int `json:"projects_by_status"`
	AdviceState       string                          `json:"advice_state"`
	LiveAdvices       int                             `json:"live_advices"`
	AdvicesByPriority map[string]int                  `json:"advices_by_priority"`
	QueuedTasks       int                             `json:"queued_tasks"`
	TrackerRunning    bool                            `json:"tracker_running"`
	LastUpdated       time.Time                       `json:"last_updated"`
}

type ProjectSummary struct {
	ID     analytics.ProjectID     `json:"id"`
	Name   analytics.SmartName     `json:"name"`
	Status analytics.ProjectStatus `json:"status,omitempty"`
	Type   analytics.ProjectType   `json:"type,omitempty"`
}

func NewDashboard(projects ProjectSource, tasks TaskSource, advices func() *advice.System) *Dashboard {
	return &Dashboard{projects: projects, tasks: tasks, advices: advices}
}

func (d *Dashboard) GetStats(w http.ResponseWriter, _ *http.Request) {
	data := d.projects.GetStaticData()
	stats := Stats{
		Projects:          len(data),
		ProjectsByStatus:  make(map[analytics.ProjectStatus]int),
		AdvicesByPriority: make(map[string]int),
		LastUpdated:       time.Now(),
	}

	for _, p := range data {
		if p.Status != "" {
			stats.ProjectsByStatus[p.Status]++
		}
	}

	if sys := d.advices(); sys != nil {
		stats.AdviceState = sys.State().String()
		for _, a := range sys.Advices() {
			stats.LiveAdvices++
			stats.AdvicesByPriority[a.Priority.String()]++
		}
	}

	stats.QueuedTasks = len(d.tasks.Queued())
	stats.TrackerRunning = d.tasks.Running()

	_ = httputil.WriteJSON(w, http.StatusOK, stats)
}

// GetProjects lists the known projects with their display names, ordered by
// id.
func (d *Dashboard) GetProjects(w http.ResponseWriter, _ *http.Request) {
	data := d.projects.GetStaticData()

	summaries := make([]ProjectSummary, 0, len(data))
	for id, p := range data {
		summaries = append(summaries, ProjectSummary{
			ID:     id,
			Name:   p.SmartName(),
			Status: p.Status,
			Type:   p.Type,
		})
	}
	sort.Slice(summaries, func(i, j int) bool { return summaries[i].ID < summaries[j].ID })

	_ = httputil.WriteJSON(w, http.StatusOK, summaries)
}
