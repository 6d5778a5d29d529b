// Package advice generates heuristic recommendations from cached analytics.
//
// A Worker runs the analyzers in its own goroutine and talks to the host only
// through JSON messages; a System owns the worker, answers its data requests
// from the session cache and streams the resulting advices to consumers.
package advice

import "github.com/nadmax/callscope/internal/analytics"

type Priority int

const (
	PriorityLow Priority = iota
	PriorityMedium
	PriorityHigh
)

func (p Priority) String() string {
	switch p {
	case PriorityLow:
		return "low"
	case PriorityMedium:
		return "medium"
	case PriorityHigh:
		return "high"
	default:
		return "unknown"
	}
}

type ActionType string

const (
	ActionOpenProjects   ActionType = "open_projects"
	ActionEditLimits     ActionType = "edit_limits"
	ActionOpenPeriod     ActionType = "open_period"
	ActionContactSupport ActionType = "contact_support"
	ActionOrderPhones    ActionType = "order_phones"
)

type Action struct {
	Type       ActionType            `json:"type"`
	Label      string                `json:"label"`
	ProjectIDs []analytics.ProjectID `json:"project_ids,omitempty"`
	SliceName  string                `json:"slice_name,omitempty"`
}

type Advice struct {
	ID          string   `json:"id"`
	Source      string   `json:"source"`
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Priority    Priority `json:"priority"`
	Actions     []Action `json:"actions,omitempty"`
}
