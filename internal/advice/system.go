package advice

import (
	"context"
	"iter"
	"sync"

	"github.com/nadmax/callscope/internal/analytics"
	"github.com/nadmax/callscope/internal/events"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

type State int

const (
	StateIdle State = iota
	StateLoading
	StateLoaded
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateLoading:
		return "loading"
	case StateLoaded:
		return "loaded"
	default:
		return "unknown"
	}
}

// Source answers the worker's data requests. *session.Session implements it.
type Source interface {
	GetAnalyticBySliceName(ctx context.Context, sliceName string) (analytics.Analytic, error)
	GetProjectsConfig(ctx context.Context) (analytics.ProjectsConfig, error)
	GetClientInfo(ctx context.Context) (analytics.ClientInfo, error)
	GetStaticData() analytics.StaticData
	LoadFullStaticData(ctx context.Context, deleted bool) (analytics.StaticData, error)
}

type SystemOptions struct {
	Worker WorkerOptions
	// MaxConcurrentRequests bounds how many worker requests are served at
	// once.
	MaxConcurrentRequests int
}

type Summary struct {
	Emitted int `json:"emitted"`
	Live    int `json:"live"`
}

// System owns one advice worker. Loading starts on the first call to
// LoadAdvices or WaitForLoadComplete and happens once per System.
type System struct {
	source Source
	logger *zap.Logger
	opts   SystemOptions

	mu      sync.Mutex
	state   State
	emitted []Advice
	removed map[string]struct{}
	changed chan struct{}
	done    chan struct{}
	cancel  context.CancelFunc

	Added     *events.Bus[Advice]
	Removed   *events.Bus[Advice]
	Completed *events.Bus[Summary]
}

func NewSystem(source Source, logger *zap.Logger, opts SystemOptions) *System {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.MaxConcurrentRequests <= 0 {
		opts.MaxConcurrentRequests = 8
	}

	return &System{
		source:    source,
		logger:    logger,
		opts:      opts,
		removed:   make(map[string]struct{}),
		changed:   make(chan struct{}),
		done:      make(chan struct{}),
		Added:     events.NewBus[Advice](),
		Removed:   events.NewBus[Advice](),
		Completed: events.NewBus[Summary](),
	}
}

func (s *System) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.state
}

func (s *System) start(ctx context.Context) {
	s.mu.Lock()
	if s.state != StateIdle {
		s.mu.Unlock()
		return
	}
	s.state = StateLoading
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s.cancel = cancel
	s.mu.Unlock()

	w := NewWorker(s.logger.Named("advice-worker"), s.opts.Worker)
	go w.Run(runCtx)
	go s.host(runCtx, w)

	msg, _ := NewMessage(MsgGetAdvices, nil)
	select {
	case w.Inbox() <- msg:
	case <-runCtx.Done():
	}
}

func (s *System) host(ctx context.Context, w *Worker) {
	var g errgroup.Group
	g.SetLimit(s.opts.MaxConcurrentRequests)
	defer func() {
		_ = g.Wait()
		s.complete()
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-w.Outbox():
			switch msg.Type {
			case MsgAdvice:
				var adv Advice
				if err := msg.Decode(&adv); err != nil {
					s.logger.Warn("dropping malformed advice", zap.Error(err))
					continue
				}
				s.add(adv)
			case MsgLoadComplete:
				s.complete()
				s.mu.Lock()
				cancel := s.cancel
				s.mu.Unlock()
				cancel()
				return
			default:
				g.Go(func() error {
					s.serve(ctx, w, msg)
					return nil
				})
			}
		}
	}
}

func (s *System) serve(ctx context.Context, w *Worker, msg Message) {
	resp, err := s.answer(ctx, msg)
	if err != nil {
		s.logger.Warn("cannot answer worker request", zap.String("type", string(msg.Type)), zap.Error(err))
		return
	}

	select {
	case w.Inbox() <- resp:
	case <-ctx.Done():
	}
}

func (s *System) answer(ctx context.Context, msg Message) (Message, error) {
	switch msg.Type {
	case MsgRequestPeriod:
		var req PeriodRequest
		if err := msg.Decode(&req); err != nil {
			return Message{}, err
		}
		a, err := s.source.GetAnalyticBySliceName(ctx, req.SliceName)
		if err != nil {
			s.logger.Warn("failed to load period for advices", zap.String("slice", req.SliceName), zap.Error(err))
		}
		return NewMessage(MsgPeriodResponse, PeriodResponse{SliceName: req.SliceName, Analytics: a, Error: errorString(err)})

	case MsgRequestProjectsConfig:
		cfg, err := s.source.GetProjectsConfig(ctx)
		return NewMessage(MsgProjectsConfigResponse, ProjectsConfigResponse{Config: cfg, Error: errorString(err)})

	case MsgRequestClientInfo:
		info, err := s.source.GetClientInfo(ctx)
		return NewMessage(MsgClientInfoResponse, ClientInfoResponse{ClientInfo: info, Error: errorString(err)})

	case MsgRequestStaticData:
		var req StaticDataRequest
		if err := msg.Decode(&req); err != nil {
			return Message{}, err
		}
		var (
			data analytics.StaticData
			err  error
		)
		if req.Full {
			data, err = s.source.LoadFullStaticData(ctx, req.Deleted)
		} else {
			data = s.source.GetStaticData()
		}
		return NewMessage(MsgStaticDataResponse, StaticDataResponse{Full: req.Full, Deleted: req.Deleted, StaticData: data, Error: errorString(err)})

	default:
		return Message{}, &UnknownMessageError{Type: msg.Type}
	}
}

type UnknownMessageError struct {
	Type MessageType
}

func (e *UnknownMessageError) Error() string {
	return "unknown message type: " + string(e.Type)
}

func (s *System) notify() {
	close(s.changed)
	s.changed = make(chan struct{})
}

func (s *System) add(adv Advice) {
	s.mu.Lock()
	s.emitted = append(s.emitted, adv)
	s.notify()
	s.mu.Unlock()

	s.Added.Publish(adv)
}

func (s *System) complete() {
	s.mu.Lock()
	if s.state == StateLoaded {
		s.mu.Unlock()
		return
	}
	s.state = StateLoaded
	close(s.done)
	s.notify()
	summary := Summary{Emitted: len(s.emitted), Live: len(s.emitted) - len(s.removed)}
	s.mu.Unlock()

	s.logger.Info("advices loaded", zap.Int("emitted", summary.Emitted))
	s.Completed.Publish(summary)
}

// LoadAdvices starts loading if needed and returns the advice stream. Advices
// already received are yielded at once; then the stream waits for new ones
// and ends when loading is complete and nothing is left. Applied advices are
// skipped. Cancelling ctx ends the stream but not the loading.
func (s *System) LoadAdvices(ctx context.Context) iter.Seq[Advice] {
	s.start(ctx)

	return func(yield func(Advice) bool) {
		next := 0
		for {
			s.mu.Lock()
			if next < len(s.emitted) {
				adv := s.emitted[next]
				next++
				_, gone := s.removed[adv.ID]
				s.mu.Unlock()

				if gone {
					continue
				}
				if !yield(adv) {
					return
				}
				continue
			}
			if s.state == StateLoaded {
				s.mu.Unlock()
				return
			}
			changed := s.changed
			s.mu.Unlock()

			select {
			case <-changed:
			case <-ctx.Done():
				return
			}
		}
	}
}

// WaitForLoadComplete starts loading if needed and blocks until every
// analyzer has finished. Individual analyzer failures do not make it fail.
func (s *System) WaitForLoadComplete(ctx context.Context) error {
	s.start(ctx)

	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ApplyAdvice removes the advice from the live set. It reports whether
// anything was removed; applying twice is a no-op.
func (s *System) ApplyAdvice(id string) bool {
	s.mu.Lock()
	if _, gone := s.removed[id]; gone {
		s.mu.Unlock()
		return false
	}

	var (
		adv   Advice
		found bool
	)
	for _, a := range s.emitted {
		if a.ID == id {
			adv, found = a, true
			break
		}
	}
	if !found {
		s.mu.Unlock()
		return false
	}
	s.removed[id] = struct{}{}
	s.mu.Unlock()

	s.Removed.Publish(adv)
	return true
}

// Advices returns the live advices in emission order.
func (s *System) Advices() []Advice {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Advice, 0, len(s.emitted))
	for _, a := range s.emitted {
		if _, gone := s.removed[a.ID]; !gone {
			out = append(out, a)
		}
	}

	return out
}

// Close stops a running worker. Pending streams end as if loading completed.
func (s *System) Close() {
	s.mu.Lock()
	cancel := s.cancel
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	s.complete()
}
