package advice

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/nadmax/callscope/internal/metrics"
	"go.uber.org/zap"
)

// DefaultRequestTimeout bounds every round trip to the host.
const DefaultRequestTimeout = 15 * time.Second

var (
	ErrTimeout       = errors.New("timed out waiting for host response")
	ErrWorkerStopped = errors.New("advice worker stopped")
)

type WorkerOptions struct {
	RequestTimeout time.Duration
	Location       *time.Location
	Clock          clockwork.Clock
	Analyzers      []Analyzer
}

type waiter struct {
	typ   MessageType
	match func(Message) bool
	ch    chan Message
}

// Worker runs the analyzers. The host feeds it through Inbox and reads
// requests, advices and the completion signal from Outbox.
type Worker struct {
	inbox     chan Message
	outbox    chan Message
	analyzers []Analyzer
	timeout   time.Duration
	loc       *time.Location
	clock     clockwork.Clock
	logger    *zap.Logger

	mu      sync.Mutex
	waiters []*waiter
	runs    sync.WaitGroup
}

func NewWorker(logger *zap.Logger, opts WorkerOptions) *Worker {
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = DefaultRequestTimeout
	}
	if opts.Location == nil {
		opts.Location = time.Local
	}
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	if opts.Analyzers == nil {
		opts.Analyzers = DefaultAnalyzers()
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Worker{
		inbox:     make(chan Message, 16),
		outbox:    make(chan Message, 16),
		analyzers: opts.Analyzers,
		timeout:   opts.RequestTimeout,
		loc:       opts.Location,
		clock:     opts.Clock,
		logger:    logger,
	}
}

func (w *Worker) Inbox() chan<- Message {
	return w.inbox
}

func (w *Worker) Outbox() <-chan Message {
	return w.outbox
}

// Run handles inbound messages until ctx is done. It returns after every
// analyzer run it started has finished.
func (w *Worker) Run(ctx context.Context) {
	defer w.runs.Wait()

	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-w.inbox:
			if msg.Type == MsgGetAdvices {
				w.runs.Add(1)
				go func() {
					defer w.runs.Done()
					w.runAll(ctx)
				}()
				continue
			}

			if !w.dispatch(msg) {
				w.logger.Debug("dropping unexpected message", zap.String("type", string(msg.Type)))
			}
		}
	}
}

func (w *Worker) dispatch(msg Message) bool {
	w.mu.Lock()
	for i, wt := range w.waiters {
		if wt.typ != msg.Type || !wt.match(msg) {
			continue
		}
		w.waiters = append(w.waiters[:i:i], w.waiters[i+1:]...)
		w.mu.Unlock()

		wt.ch <- msg
		return true
	}
	w.mu.Unlock()

	return false
}

func (w *Worker) register(typ MessageType, match func(Message) bool) *waiter {
	wt := &waiter{typ: typ, match: match, ch: make(chan Message, 1)}

	w.mu.Lock()
	w.waiters = append(w.waiters, wt)
	w.mu.Unlock()

	return wt
}

func (w *Worker) unregister(target *waiter) {
	w.mu.Lock()
	defer w.mu.Unlock()

	for i, wt := range w.waiters {
		if wt == target {
			w.waiters = append(w.waiters[:i:i], w.waiters[i+1:]...)
			return
		}
	}
}

func (w *Worker) pending() int {
	w.mu.Lock()
	defer w.mu.Unlock()

	return len(w.waiters)
}

func (w *Worker) send(ctx context.Context, msg Message) error {
	select {
	case w.outbox <- msg:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("%w: %w", ErrWorkerStopped, ctx.Err())
	}
}

// request sends req and waits for the first inbound message of respType that
// satisfies match.
func (w *Worker) request(ctx context.Context, req Message, respType MessageType, match func(Message) bool) (Message, error) {
	wt := w.register(respType, match)
	defer w.unregister(wt)

	if err := w.send(ctx, req); err != nil {
		return Message{}, err
	}

	timer := time.NewTimer(w.timeout)
	defer timer.Stop()

	select {
	case msg := <-wt.ch:
		return msg, nil
	case <-timer.C:
		return Message{}, fmt.Errorf("%w: %s after %s", ErrTimeout, respType, w.timeout)
	case <-ctx.Done():
		return Message{}, fmt.Errorf("%w: %w", ErrWorkerStopped, ctx.Err())
	}
}

func (w *Worker) runAll(ctx context.Context) {
	env := newEnv(w)

	for _, a := range w.analyzers {
		if ctx.Err() != nil {
			return
		}

		adv, err := w.runAnalyzer(ctx, a, env)
		if err != nil {
			w.logger.Warn("analyzer failed", zap.String("analyzer", a.Name), zap.Error(err))
			continue
		}
		if adv == nil {
			continue
		}

		adv.ID = uuid.NewString()
		adv.Source = a.Name
		msg, err := NewMessage(MsgAdvice, adv)
		if err != nil {
			w.logger.Error("failed to encode advice", zap.String("analyzer", a.Name), zap.Error(err))
			continue
		}
		if err := w.send(ctx, msg); err != nil {
			return
		}
		metrics.RecordAdvice(adv.Priority.String())
	}

	done, _ := NewMessage(MsgLoadComplete, nil)
	_ = w.send(ctx, done)
}

func (w *Worker) runAnalyzer(ctx context.Context, a Analyzer, env *Env) (adv *Advice, err error) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("analyzer panicked: %v\n%s", r, debug.Stack())
		}

		outcome := "empty"
		switch {
		case err != nil:
			outcome = "failed"
		case adv != nil:
			outcome = "advice"
		}
		metrics.RecordAnalyzerRun(a.Name, outcome, time.Since(start))
	}()

	return a.Run(ctx, env)
}
