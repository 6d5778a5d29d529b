// Package api exposes the analytics session, the advice system and the task
// tracker over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/nadmax/callscope/internal/advice"
	"github.com/nadmax/callscope/internal/analytics"
	"github.com/nadmax/callscope/internal/dashboard"
	"github.com/nadmax/callscope/internal/httputil"
	"github.com/nadmax/callscope/internal/session"
	"github.com/nadmax/callscope/internal/tracker"
	"go.uber.org/zap"
)

const dateLayout = "2006-01-02"

// AdviceFactory builds a fresh advice system; the API calls it on startup
// and on every reload.
type AdviceFactory func() *advice.System

type API struct {
	session   *session.Session
	tracker   *tracker.Tracker
	newAdvice AdviceFactory
	loc       *time.Location
	logger    *zap.Logger
	mux       *http.ServeMux

	mu      sync.Mutex
	advices *advice.System
}

type TaskRequest struct {
	Name     string         `json:"name"`
	Payload  map[string]any `json:"payload"`
	Priority bool           `json:"priority"`
	Parallel bool           `json:"parallel"`
}

type AnalyticResponse struct {
	Slice     string                 `json:"slice"`
	Analytics analytics.Analytic     `json:"analytics"`
	Total     analytics.CallCounters `json:"total"`
}

type AdviceStatus struct {
	State string `json:"state"`
	Live  int    `json:"live"`
}

func NewAPI(s *session.Session, t *tracker.Tracker, newAdvice AdviceFactory, loc *time.Location, logger *zap.Logger) *API {
	if loc == nil {
		loc = time.Local
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	api := &API{
		session:   s,
		tracker:   t,
		newAdvice: newAdvice,
		loc:       loc,
		logger:    logger,
		mux:       http.NewServeMux(),
		advices:   newAdvice(),
	}

	api.setupRoutes()
	return api
}

func (a *API) setupRoutes() {
	a.mux.HandleFunc("/api/analytics", a.handleAnalytics)
	a.mux.HandleFunc("/api/analytics/slice", a.handleAnalyticsSlice)
	a.mux.HandleFunc("/api/analytics/compare", a.handleCompare)
	a.mux.HandleFunc("/api/projects", a.handleProjects)
	a.mux.HandleFunc("/api/projects/", a.handleProjectByID)
	a.mux.HandleFunc("/api/advices", a.handleAdvices)
	a.mux.HandleFunc("/api/advices/", a.handleAdviceAction)
	a.mux.HandleFunc("/api/tasks", a.handleTasks)
	a.mux.HandleFunc("/api/tasks/", a.handleTaskByID)

	dash := dashboard.NewDashboard(a.session, a.tracker, a.currentAdvices)
	a.mux.HandleFunc("/api/dashboard/stats", dash.GetStats)
	a.mux.HandleFunc("/api/dashboard/projects", dash.GetProjects)
}

func (a *API) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	a.mux.ServeHTTP(w, r)
}

func (a *API) currentAdvices() *advice.System {
	a.mu.Lock()
	defer a.mu.Unlock()

	return a.advices
}

// Close stops the current advice system.
func (a *API) Close() {
	a.currentAdvices().Close()
}

func (a *API) writeJSON(w http.ResponseWriter, status int, v any) {
	if err := httputil.WriteJSON(w, status, v); err != nil {
		a.logger.Warn("failed to encode response", zap.Error(err))
	}
}

func allowMethod(w http.ResponseWriter, r *http.Request, method string) bool {
	if r.Method != method {
		httputil.WriteJSONError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return false
	}
	return true
}

func flag(r *http.Request, name string) bool {
	v, _ := strconv.ParseBool(r.URL.Query().Get(name))
	return v
}

func (a *API) parseRange(r *http.Request) (time.Time, time.Time, error) {
	q := r.URL.Query()
	start, err := time.ParseInLocation(dateLayout, q.Get("start"), a.loc)
	if err != nil {
		return time.Time{}, time.Time{}, errors.New("start must be YYYY-MM-DD")
	}

	end := start
	if raw := q.Get("end"); raw != "" {
		end, err = time.ParseInLocation(dateLayout, raw, a.loc)
		if err != nil {
			return time.Time{}, time.Time{}, errors.New("end must be YYYY-MM-DD")
		}
	}
	if end.Before(start) {
		return time.Time{}, time.Time{}, errors.New("end is before start")
	}

	return start, end, nil
}

func (a *API) handleAnalytics(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodGet) {
		return
	}

	start, end, err := a.parseRange(r)
	if err != nil {
		httputil.WriteJSONError(w, err.Error(), http.StatusBadRequest)
		return
	}

	deleted := flag(r, "deleted")
	a.writeAnalytic(w, r, a.session.GetAnalyticSliceName(start, end, deleted))
}

func (a *API) handleAnalyticsSlice(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodGet) {
		return
	}

	name := r.URL.Query().Get("name")
	if _, err := analytics.ParseSliceName(name, a.loc); err != nil {
		httputil.WriteJSONError(w, err.Error(), http.StatusBadRequest)
		return
	}

	a.writeAnalytic(w, r, name)
}

func (a *API) writeAnalytic(w http.ResponseWriter, r *http.Request, sliceName string) {
	result, err := a.session.GetAnalyticBySliceName(r.Context(), sliceName)
	if err != nil {
		a.logger.Warn("failed to load analytic", zap.String("slice", sliceName), zap.Error(err))
		httputil.WriteJSONError(w, "Failed to load analytics", http.StatusBadGateway)
		return
	}

	a.writeJSON(w, http.StatusOK, AnalyticResponse{
		Slice:     sliceName,
		Analytics: result,
		Total:     result.Total(),
	})
}

func (a *API) handleCompare(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodGet) {
		return
	}

	start, end, err := a.parseRange(r)
	if err != nil {
		httputil.WriteJSONError(w, err.Error(), http.StatusBadRequest)
		return
	}

	cmp, err := a.session.ComparePeriods(r.Context(), analytics.NewSlice(start, end, flag(r, "deleted")))
	if err != nil {
		a.logger.Warn("failed to compare periods", zap.Error(err))
		httputil.WriteJSONError(w, "Failed to load analytics", http.StatusBadGateway)
		return
	}

	a.writeJSON(w, http.StatusOK, cmp)
}

func (a *API) handleProjects(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodGet) {
		return
	}

	data := a.session.GetStaticData()
	if flag(r, "full") {
		var err error
		data, err = a.session.LoadFullStaticData(r.Context(), flag(r, "deleted"))
		if err != nil {
			a.logger.Warn("failed to load projects", zap.Error(err))
			httputil.WriteJSONError(w, "Failed to load projects", http.StatusBadGateway)
			return
		}
	}

	a.writeJSON(w, http.StatusOK, data)
}

func (a *API) handleProjectByID(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodGet) {
		return
	}

	raw := strings.TrimPrefix(r.URL.Path, "/api/projects/")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		httputil.WriteJSONError(w, "Project ID must be a number", http.StatusBadRequest)
		return
	}

	p, ok := a.session.GetProject(analytics.ProjectID(id))
	if !ok {
		httputil.WriteJSONError(w, "Project not found", http.StatusNotFound)
		return
	}

	a.writeJSON(w, http.StatusOK, struct {
		*analytics.ProjectStaticInfo
		SmartName analytics.SmartName `json:"smart_name"`
	}{p, p.SmartName()})
}

// handleAdvices streams advices as NDJSON, one line per advice, flushing
// each line as soon as it is known.
func (a *API) handleAdvices(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodGet) {
		return
	}

	sys := a.currentAdvices()
	flusher, _ := w.(http.Flusher)

	w.Header().Set("Content-Type", "application/x-ndjson")
	w.WriteHeader(http.StatusOK)

	enc := json.NewEncoder(w)
	for adv := range sys.LoadAdvices(r.Context()) {
		if err := enc.Encode(adv); err != nil {
			a.logger.Debug("advice stream closed", zap.Error(err))
			return
		}
		if flusher != nil {
			flusher.Flush()
		}
	}
}

func (a *API) handleAdviceAction(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/advices/")

	switch {
	case rest == "status":
		if !allowMethod(w, r, http.MethodGet) {
			return
		}
		sys := a.currentAdvices()
		a.writeJSON(w, http.StatusOK, AdviceStatus{State: sys.State().String(), Live: len(sys.Advices())})

	case rest == "reload":
		if !allowMethod(w, r, http.MethodPost) {
			return
		}
		a.mu.Lock()
		old := a.advices
		a.advices = a.newAdvice()
		a.mu.Unlock()
		old.Close()
		w.WriteHeader(http.StatusAccepted)

	case strings.HasSuffix(rest, "/apply"):
		if !allowMethod(w, r, http.MethodPost) {
			return
		}
		id := strings.TrimSuffix(rest, "/apply")
		if id == "" || strings.Contains(id, "/") {
			httputil.WriteJSONError(w, "Advice ID is required", http.StatusBadRequest)
			return
		}
		if !a.currentAdvices().ApplyAdvice(id) {
			httputil.WriteJSONError(w, "Advice not found", http.StatusNotFound)
			return
		}
		w.WriteHeader(http.StatusNoContent)

	default:
		httputil.WriteJSONError(w, "Not found", http.StatusNotFound)
	}
}

func (a *API) handleTasks(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		a.createTask(w, r)
	case http.MethodGet:
		a.writeJSON(w, http.StatusOK, a.tracker.Queued())
	default:
		httputil.WriteJSONError(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

func (a *API) createTask(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		httputil.WriteJSONError(w, "Failed to read request body", http.StatusBadRequest)
		return
	}

	var req TaskRequest
	if err := json.Unmarshal(body, &req); err != nil {
		httputil.WriteJSONError(w, "Invalid JSON", http.StatusBadRequest)
		return
	}
	if req.Name == "" {
		httputil.WriteJSONError(w, "Task name is required", http.StatusBadRequest)
		return
	}

	id, err := a.tracker.AddNamed(req.Name, req.Payload, tracker.Options{Priority: req.Priority, Parallel: req.Parallel})
	if errors.Is(err, tracker.ErrUnknownTask) {
		httputil.WriteJSONError(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err != nil {
		httputil.WriteJSONError(w, err.Error(), http.StatusInternalServerError)
		return
	}

	task, err := a.tracker.Get(id)
	if err != nil {
		httputil.WriteJSONError(w, err.Error(), http.StatusInternalServerError)
		return
	}

	// Tasks outlive the request that queued them.
	a.tracker.Run(context.WithoutCancel(r.Context()))
	a.writeJSON(w, http.StatusCreated, task)
}

func (a *API) handleTaskByID(w http.ResponseWriter, r *http.Request) {
	taskID := strings.TrimPrefix(r.URL.Path, "/api/tasks/")
	if taskID == "" {
		httputil.WriteJSONError(w, "Task ID is required", http.StatusBadRequest)
		return
	}

	switch r.Method {
	case http.MethodGet:
		task, err := a.tracker.Get(taskID)
		if err != nil {
			httputil.WriteJSONError(w, "Task not found", http.StatusNotFound)
			return
		}
		a.writeJSON(w, http.StatusOK, task)
	case http.MethodDelete:
		if err := a.tracker.Cancel(taskID); err != nil {
			httputil.WriteJSONError(w, "Task not found", http.StatusNotFound)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		httputil.WriteJSONError(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}
