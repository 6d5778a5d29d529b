// Package tracker runs background tasks through two queues: sequential tasks
// run one at a time, parallel tasks start as soon as the tracker sees them.
package tracker

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"

	"github.com/jonboulle/clockwork"
	"github.com/nadmax/callscope/internal/events"
	"github.com/nadmax/callscope/internal/metrics"
	"go.uber.org/zap"
)

var (
	ErrUnknownTask = errors.New("unknown task")
	ErrNotFound    = errors.New("task not found")
)

// Drain summarizes one run of the tracker, from Run until both queues and the
// active set are empty.
type Drain struct {
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
	Cancelled int `json:"cancelled"`
}

type Tracker struct {
	logger *zap.Logger
	clock  clockwork.Clock

	mu         sync.Mutex
	handlers   map[string]Handler
	sequential []*Task
	parallel   []*Task
	active     map[string]*Task
	current    *Task
	tasks      map[string]*Task
	running    bool
	drain      Drain
	changed    chan struct{}
	idle       chan struct{}

	Finished *events.Bus[Drain]
}

type Option func(*Tracker)

func WithClock(clock clockwork.Clock) Option {
	return func(t *Tracker) { t.clock = clock }
}

func New(logger *zap.Logger, opts ...Option) *Tracker {
	if logger == nil {
		logger = zap.NewNop()
	}

	idle := make(chan struct{})
	close(idle)

	t := &Tracker{
		logger:   logger,
		clock:    clockwork.NewRealClock(),
		handlers: make(map[string]Handler),
		active:   make(map[string]*Task),
		tasks:    make(map[string]*Task),
		changed:  make(chan struct{}),
		idle:     idle,
		Finished: events.NewBus[Drain](),
	}
	for _, opt := range opts {
		opt(t)
	}

	return t
}

func (t *Tracker) RegisterHandler(name string, h Handler) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.handlers[name] = h
}

// Add queues fn under name and returns the task id. Queued tasks wait for Run.
func (t *Tracker) Add(name string, fn Func, opts Options) string {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.add(newTask(name, nil, fn, opts, t.clock.Now()))
}

// AddNamed queues the registered handler name with payload.
func (t *Tracker) AddNamed(name string, payload map[string]any, opts Options) (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	h, ok := t.handlers[name]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownTask, name)
	}

	fn := func(ctx context.Context) error { return h(ctx, payload) }
	return t.add(newTask(name, payload, fn, opts, t.clock.Now())), nil
}

func (t *Tracker) add(task *Task) string {
	if task.Parallel {
		t.parallel = enqueue(t.parallel, task)
	} else {
		t.sequential = enqueue(t.sequential, task)
	}
	t.tasks[task.ID] = task
	t.notify()

	metrics.RecordTrackerTask(task.mode(), string(StatusQueued))
	return task.ID
}

func (t *Tracker) notify() {
	close(t.changed)
	t.changed = make(chan struct{})
}

// Run drains both queues in the background. Calling it while a drain is in
// progress does nothing. Finished fires once the drain is over.
func (t *Tracker) Run(ctx context.Context) {
	t.mu.Lock()
	if t.running {
		t.mu.Unlock()
		return
	}
	t.running = true
	t.drain = Drain{}
	t.idle = make(chan struct{})
	t.mu.Unlock()

	go t.loop(ctx)
}

func (t *Tracker) loop(ctx context.Context) {
	for {
		t.mu.Lock()
		for _, task := range t.parallel {
			t.start(ctx, task)
		}
		t.parallel = nil

		if t.current == nil && len(t.sequential) > 0 {
			task := t.sequential[0]
			t.sequential = t.sequential[1:]
			t.current = task
			t.start(ctx, task)
		}

		if len(t.active) == 0 && len(t.sequential) == 0 && len(t.parallel) == 0 {
			t.running = false
			drain := t.drain
			close(t.idle)
			t.mu.Unlock()

			t.logger.Debug("task queues drained",
				zap.Int("completed", drain.Completed),
				zap.Int("failed", drain.Failed),
				zap.Int("cancelled", drain.Cancelled),
			)
			t.Finished.Publish(drain)
			return
		}

		changed := t.changed
		t.mu.Unlock()

		<-changed
	}
}

// start must be called with t.mu held.
func (t *Tracker) start(ctx context.Context, task *Task) {
	taskCtx, cancel := context.WithCancel(ctx)
	now := t.clock.Now()
	task.cancel = cancel
	task.Status = StatusRunning
	task.StartedAt = &now
	t.active[task.ID] = task

	metrics.RecordTrackerTask(task.mode(), string(StatusRunning))
	metrics.UpdateActiveTasks(len(t.active))

	go func() {
		err := t.execute(taskCtx, task)
		cancel()
		t.finish(task, err)
	}()
}

func (t *Tracker) execute(ctx context.Context, task *Task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("task panicked: %v\n%s", r, debug.Stack())
		}
	}()

	return task.fn(ctx)
}

func (t *Tracker) finish(task *Task, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.clock.Now()
	task.CompletedAt = &now
	switch {
	case task.cancelled:
		task.Status = StatusCancelled
		t.drain.Cancelled++
	case err != nil:
		task.Status = StatusFailed
		task.Error = err.Error()
		t.drain.Failed++
		t.logger.Warn("task failed", zap.String("task_id", task.ID), zap.String("name", task.Name), zap.Error(err))
	default:
		task.Status = StatusCompleted
		t.drain.Completed++
	}

	delete(t.active, task.ID)
	if t.current == task {
		t.current = nil
	}
	t.notify()

	metrics.RecordTrackerTask(task.mode(), string(task.Status))
	metrics.UpdateActiveTasks(len(t.active))
}

// Cancel drops a queued task or signals a running one. Running tasks stop
// only when their body observes the context.
func (t *Tracker) Cancel(id string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	task, ok := t.tasks[id]
	if !ok {
		return ErrNotFound
	}

	switch task.Status {
	case StatusQueued:
		if task.Parallel {
			t.parallel = remove(t.parallel, id)
		} else {
			t.sequential = remove(t.sequential, id)
		}
		now := t.clock.Now()
		task.Status = StatusCancelled
		task.CompletedAt = &now
		t.notify()
		metrics.RecordTrackerTask(task.mode(), string(StatusCancelled))
	case StatusRunning:
		task.cancelled = true
		task.cancel()
	}

	return nil
}

func (t *Tracker) Get(id string) (Task, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	task, ok := t.tasks[id]
	if !ok {
		return Task{}, ErrNotFound
	}

	return task.snapshot(), nil
}

// Queued lists queued tasks in execution order, sequential first.
func (t *Tracker) Queued() []Task {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]Task, 0, len(t.sequential)+len(t.parallel))
	for _, task := range t.sequential {
		out = append(out, task.snapshot())
	}
	for _, task := range t.parallel {
		out = append(out, task.snapshot())
	}

	return out
}

func (t *Tracker) Running() bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.running
}

// Wait blocks until the current drain is over.
func (t *Tracker) Wait(ctx context.Context) error {
	t.mu.Lock()
	idle := t.idle
	t.mu.Unlock()

	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
