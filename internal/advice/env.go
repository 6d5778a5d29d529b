package advice

import (
	"context"
	"errors"
	"iter"
	"sync"
	"time"

	"github.com/nadmax/callscope/internal/analytics"
)

const (
	projectsConfigCacheKey = "projectsConfig"
	clientInfoCacheKey     = "clientInfo"
)

// Env is what an analyzer sees of the outside world. Every answer is cached
// for the rest of the run, so analyzers asking for the same slice cost one
// round trip.
type Env struct {
	w   *Worker
	now time.Time

	mu      sync.Mutex
	answers map[string]Message
}

func newEnv(w *Worker) *Env {
	return &Env{
		w:       w,
		now:     w.clock.Now().In(w.loc),
		answers: make(map[string]Message),
	}
}

// Today is the current calendar day in the worker's location.
func (e *Env) Today() time.Time {
	return analytics.TruncateDay(e.now)
}

func (e *Env) ask(ctx context.Context, cacheKey string, req Message, respType MessageType, match func(Message) bool) (Message, error) {
	key := string(respType) + "|" + cacheKey

	e.mu.Lock()
	if msg, ok := e.answers[key]; ok {
		e.mu.Unlock()
		return msg, nil
	}
	e.mu.Unlock()

	msg, err := e.w.request(ctx, req, respType, match)
	if err != nil {
		return Message{}, err
	}

	return msg, nil
}

func (e *Env) remember(cacheKey string, respType MessageType, msg Message) {
	e.mu.Lock()
	e.answers[string(respType)+"|"+cacheKey] = msg
	e.mu.Unlock()
}

// Period returns the analytic of [start, end].
func (e *Env) Period(ctx context.Context, start, end time.Time) (analytics.Analytic, error) {
	return e.slice(ctx, analytics.SliceName(start, end, false))
}

func (e *Env) slice(ctx context.Context, sliceName string) (analytics.Analytic, error) {
	req, err := NewMessage(MsgRequestPeriod, PeriodRequest{SliceName: sliceName})
	if err != nil {
		return nil, err
	}

	msg, err := e.ask(ctx, sliceName, req, MsgPeriodResponse, func(m Message) bool {
		var resp PeriodResponse
		return m.Decode(&resp) == nil && resp.SliceName == sliceName
	})
	if err != nil {
		return nil, err
	}

	var resp PeriodResponse
	if err := msg.Decode(&resp); err != nil {
		return nil, err
	}
	if resp.Error != "" {
		return nil, errors.New(resp.Error)
	}
	e.remember(sliceName, MsgPeriodResponse, msg)

	if resp.Analytics == nil {
		resp.Analytics = make(analytics.Analytic)
	}
	return resp.Analytics, nil
}

// Day is one calendar day whose analytic is requested on Load.
type Day struct {
	Day  time.Time
	Load func(ctx context.Context) (analytics.Analytic, error)
}

// Days lazily walks [start, end] backwards from end, so analyzers looking for
// the most recent match can stop early.
func (e *Env) Days(start, end time.Time) iter.Seq[Day] {
	first := analytics.TruncateDay(start)
	last := analytics.TruncateDay(end)

	return func(yield func(Day) bool) {
		for day := last; !day.Before(first); day = day.AddDate(0, 0, -1) {
			name := analytics.SliceName(day, day, false)
			d := Day{
				Day: day,
				Load: func(ctx context.Context) (analytics.Analytic, error) {
					return e.slice(ctx, name)
				},
			}
			if !yield(d) {
				return
			}
		}
	}
}

func (e *Env) ProjectsConfig(ctx context.Context) (analytics.ProjectsConfig, error) {
	req, _ := NewMessage(MsgRequestProjectsConfig, nil)

	msg, err := e.ask(ctx, projectsConfigCacheKey, req, MsgProjectsConfigResponse, func(Message) bool { return true })
	if err != nil {
		return analytics.ProjectsConfig{}, err
	}

	var resp ProjectsConfigResponse
	if err := msg.Decode(&resp); err != nil {
		return analytics.ProjectsConfig{}, err
	}
	if resp.Error != "" {
		return analytics.ProjectsConfig{}, errors.New(resp.Error)
	}
	e.remember(projectsConfigCacheKey, MsgProjectsConfigResponse, msg)

	return resp.Config, nil
}

func (e *Env) ClientInfo(ctx context.Context) (analytics.ClientInfo, error) {
	req, _ := NewMessage(MsgRequestClientInfo, nil)

	msg, err := e.ask(ctx, clientInfoCacheKey, req, MsgClientInfoResponse, func(Message) bool { return true })
	if err != nil {
		return analytics.ClientInfo{}, err
	}

	var resp ClientInfoResponse
	if err := msg.Decode(&resp); err != nil {
		return analytics.ClientInfo{}, err
	}
	if resp.Error != "" {
		return analytics.ClientInfo{}, errors.New(resp.Error)
	}
	e.remember(clientInfoCacheKey, MsgClientInfoResponse, msg)

	return resp.ClientInfo, nil
}

// StaticData returns project metadata of active projects; full asks the host
// to load the authoritative listing first.
func (e *Env) StaticData(ctx context.Context, full bool) (analytics.StaticData, error) {
	cacheKey := "partial"
	if full {
		cacheKey = "full"
	}

	req, err := NewMessage(MsgRequestStaticData, StaticDataRequest{Full: full})
	if err != nil {
		return nil, err
	}

	msg, err := e.ask(ctx, cacheKey, req, MsgStaticDataResponse, func(m Message) bool {
		var resp StaticDataResponse
		return m.Decode(&resp) == nil && resp.Full == full && !resp.Deleted
	})
	if err != nil {
		return nil, err
	}

	var resp StaticDataResponse
	if err := msg.Decode(&resp); err != nil {
		return nil, err
	}
	if resp.Error != "" {
		return nil, errors.New(resp.Error)
	}
	e.remember(cacheKey, MsgStaticDataResponse, msg)

	if resp.StaticData == nil {
		resp.StaticData = make(analytics.StaticData)
	}
	return resp.StaticData, nil
}
