package tracker

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type Status string

const (
	StatusQueued    Status = "queued"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
	StatusFailed    Status = "failed"
)

// Func is the body of a task. It must observe ctx to be cancellable once
// started.
type Func func(ctx context.Context) error

// Handler is a named task implementation selected by AddNamed.
type Handler func(ctx context.Context, payload map[string]any) error

type Options struct {
	// Priority tasks go after the last priority task already queued.
	Priority bool
	// Parallel tasks run concurrently with everything else.
	Parallel bool
}

type Task struct {
	ID          string         `json:"id"`
	Name        string         `json:"name"`
	Payload     map[string]any `json:"payload,omitempty"`
	Priority    bool           `json:"priority"`
	Parallel    bool           `json:"parallel"`
	Status      Status         `json:"status"`
	CreatedAt   time.Time      `json:"created_at"`
	StartedAt   *time.Time     `json:"started_at,omitempty"`
	CompletedAt *time.Time     `json:"completed_at,omitempty"`
	Error       string         `json:"error,omitempty"`

	fn        Func
	cancel    context.CancelFunc
	cancelled bool
}

func newTask(name string, payload map[string]any, fn Func, opts Options, now time.Time) *Task {
	return &Task{
		ID:        uuid.New().String(),
		Name:      name,
		Payload:   payload,
		Priority:  opts.Priority,
		Parallel:  opts.Parallel,
		Status:    StatusQueued,
		CreatedAt: now,
		fn:        fn,
	}
}

func (t *Task) mode() string {
	if t.Parallel {
		return "parallel"
	}
	return "sequential"
}

func (t *Task) snapshot() Task {
	return Task{
		ID:          t.ID,
		Name:        t.Name,
		Payload:     t.Payload,
		Priority:    t.Priority,
		Parallel:    t.Parallel,
		Status:      t.Status,
		CreatedAt:   t.CreatedAt,
		StartedAt:   t.StartedAt,
		CompletedAt: t.CompletedAt,
		Error:       t.Error,
	}
}

// enqueue inserts t into q. A priority task lands right after the last
// priority task so priority tasks keep their relative order.
func enqueue(q []*Task, t *Task) []*Task {
	if !t.Priority {
		return append(q, t)
	}

	at := 0
	for i, queued := range q {
		if queued.Priority {
			at = i + 1
		}
	}

	q = append(q, nil)
	copy(q[at+1:], q[at:])
	q[at] = t

	return q
}

func remove(q []*Task, id string) []*Task {
	for i, t := range q {
		if t.ID == id {
			return append(q[:i:i], q[i+1:]...)
		}
	}
	return q
}
