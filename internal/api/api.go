package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/linphage/Arzu-Simulater-test-sub001/internal/clock"
	"github.com/linphage/Arzu-Simulater-test-sub001/internal/focus"
	"github.com/linphage/Arzu-Simulater-test-sub001/internal/llm"
	"github.com/linphage/Arzu-Simulater-test-sub001/internal/models"
	"github.com/linphage/Arzu-Simulater-test-sub001/internal/stats"
	"github.com/linphage/Arzu-Simulater-test-sub001/internal/zombie"
)

// UserHeader carries the authenticated user id. Authentication itself happens
// in front of this server.
const UserHeader = "X-User-ID"

// Sweeper runs one zombie sweep on demand.
type Sweeper interface {
	Sweep(ctx context.Context) (zombie.Result, error)
}

// Server provides the REST API handlers.
type Server struct {
	engine  *focus.Engine
	stats   *stats.Aggregator
	sweeper Sweeper
	llm     *llm.Client
	clock   clock.Clock
	logger  *slog.Logger
}

// NewServer creates a new API server.
// The llmClient may be nil if no API key is configured.
func NewServer(e *focus.Engine, agg *stats.Aggregator, sw Sweeper, llmClient *llm.Client) *Server {
	return &Server{
		engine:  e,
		stats:   agg,
		sweeper: sw,
		llm:     llmClient,
		clock:   clock.Real{},
		logger:  slog.Default(),
	}
}

// WithClock sets the clock stats endpoints use as "now".
func (s *Server) WithClock(c clock.Clock) *Server {
	s.clock = c
	return s
}

// WithLogger sets the request logger.
func (s *Server) WithLogger(l *slog.Logger) *Server {
	s.logger = l
	return s
}

// Router returns an http.Handler for the API routes.
func (s *Server) Router() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/v1/healthz", s.healthz)

	mux.HandleFunc("POST /api/v1/sessions", s.startSession)
	mux.HandleFunc("GET /api/v1/sessions", s.listSessions)
	mux.HandleFunc("GET /api/v1/sessions/active", s.activeSession)
	mux.HandleFunc("GET /api/v1/sessions/{id}", s.getSession)
	mux.HandleFunc("POST /api/v1/sessions/{id}/end", s.endSession)
	mux.HandleFunc("GET /api/v1/sessions/{id}/stats", s.sessionStats)

	mux.HandleFunc("POST /api/v1/sessions/{id}/periods", s.startPeriod)
	mux.HandleFunc("GET /api/v1/sessions/{id}/periods", s.listPeriods)
	mux.HandleFunc("GET /api/v1/sessions/{id}/periods/active", s.activePeriod)
	mux.HandleFunc("POST /api/v1/periods/{id}/end", s.endPeriod)

	mux.HandleFunc("GET /api/v1/stats/focus", s.focusStats)
	mux.HandleFunc("GET /api/v1/stats/habit", s.habitStats)
	mux.HandleFunc("POST /api/v1/stats/insight", s.insight)

	mux.HandleFunc("POST /api/v1/tasks", s.createTask)
	mux.HandleFunc("DELETE /api/v1/tasks/{id}", s.deleteTask)
	mux.HandleFunc("POST /api/v1/tasks/{id}/brieflogs", s.createBriefLog)

	mux.HandleFunc("POST /api/v1/admin/sweep", s.sweep)

	return s.logRequests(corsMiddleware(mux))
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, "+UserHeader)
		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.logger.Debug("request", "method", r.Method, "path", r.URL.Path,
			"status", rec.status, "elapsed", time.Since(start))
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

type errorBody struct {
	Error   string                  `json:"error"`
	Code    string                  `json:"code"`
	Period  *models.FocusPeriod     `json:"period,omitempty"`
	Session *models.PomodoroSession `json:"session,omitempty"`
}

// writeEngineError maps engine error kinds to status codes. Conflicts carry
// the blocking record so the client can offer to close it.
func (s *Server) writeEngineError(w http.ResponseWriter, err error) {
	body := errorBody{Error: err.Error(), Code: focus.KindOf(err).String()}

	var fe *focus.Error
	if errors.As(err, &fe) {
		body.Period = fe.Period
		body.Session = fe.Session
	}

	status := http.StatusInternalServerError
	switch focus.KindOf(err) {
	case focus.KindNotFound:
		status = http.StatusNotFound
	case focus.KindConflict:
		status = http.StatusConflict
	case focus.KindValidation:
		status = http.StatusBadRequest
	default:
		s.logger.Error("request failed", "error", err)
	}
	writeJSON(w, status, body)
}

// userID reads the caller's id from the header, falling back to ?userId=.
func userID(r *http.Request) (int64, bool) {
	raw := r.Header.Get(UserHeader)
	if raw == "" {
		raw = r.URL.Query().Get("userId")
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

func requireUser(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, ok := userID(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "missing or invalid "+UserHeader)
	}
	return id, ok
}

// optionalTime normalizes an optional timestamp field.
func optionalTime(raw *string) (*time.Time, error) {
	if raw == nil || *raw == "" {
		return nil, nil
	}
	t, err := clock.ParseString(*raw)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// decode reads an optional JSON body into v. An empty body is allowed.
func decode(r *http.Request, v any) error {
	if r.Body == nil || r.ContentLength == 0 {
		return nil
	}
	return json.NewDecoder(r.Body).Decode(v)
}

func (s *Server) healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// --- Sessions ---

type startSessionRequest struct {
	TaskID         *int64  `json:"taskId"`
	PlannedMinutes int     `json:"plannedMinutes"`
	StartedAt      *string `json:"startedAt"`
}

func (s *Server) startSession(w http.ResponseWriter, r *http.Request) {
	uid, ok := requireUser(w, r)
	if !ok {
		return
	}
	var req startSessionRequest
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	startedAt, err := optionalTime(req.StartedAt)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid startedAt: "+err.Error())
		return
	}

	sess, err := s.engine.StartSession(r.Context(), focus.StartSessionInput{
		UserID:         uid,
		TaskID:         req.TaskID,
		PlannedMinutes: req.PlannedMinutes,
		StartedAt:      startedAt,
	})
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, sess)
}

func (s *Server) listSessions(w http.ResponseWriter, r *http.Request) {
	uid, ok := requireUser(w, r)
	if !ok {
		return
	}
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}
	sessions, err := s.engine.ListSessions(r.Context(), uid, limit)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	if sessions == nil {
		sessions = []*models.PomodoroSession{}
	}
	writeJSON(w, http.StatusOK, sessions)
}

func (s *Server) activeSession(w http.ResponseWriter, r *http.Request) {
	uid, ok := requireUser(w, r)
	if !ok {
		return
	}
	sess, err := s.engine.ActiveSession(r.Context(), uid)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"session": sess})
}

func (s *Server) getSession(w http.ResponseWriter, r *http.Request) {
	uid, ok := requireUser(w, r)
	if !ok {
		return
	}
	sess, err := s.engine.GetSession(r.Context(), uid, r.PathValue("id"))
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

type endSessionRequest struct {
	Completed         bool    `json:"completed"`
	CompletedAt       *string `json:"completedAt"`
	RecomputeDuration bool    `json:"recomputeDuration"`
}

func (s *Server) endSession(w http.ResponseWriter, r *http.Request) {
	uid, ok := requireUser(w, r)
	if !ok {
		return
	}
	var req endSessionRequest
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	completedAt, err := optionalTime(req.CompletedAt)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid completedAt: "+err.Error())
		return
	}

	sess, err := s.engine.EndSession(r.Context(), r.PathValue("id"), focus.EndSessionInput{
		UserID:            uid,
		CompletedFlag:     req.Completed,
		CompletedAt:       completedAt,
		RecomputeDuration: req.RecomputeDuration,
	})
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

func (s *Server) sessionStats(w http.ResponseWriter, r *http.Request) {
	uid, ok := requireUser(w, r)
	if !ok {
		return
	}
	st, err := s.engine.SessionPeriodStats(r.Context(), uid, r.PathValue("id"))
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// --- Periods ---

type startPeriodRequest struct {
	StartTime *string `json:"startTime"`
}

func (s *Server) startPeriod(w http.ResponseWriter, r *http.Request) {
	uid, ok := requireUser(w, r)
	if !ok {
		return
	}
	var req startPeriodRequest
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	startTime, err := optionalTime(req.StartTime)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid startTime: "+err.Error())
		return
	}

	p, err := s.engine.StartPeriod(r.Context(), uid, r.PathValue("id"), startTime)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

func (s *Server) listPeriods(w http.ResponseWriter, r *http.Request) {
	uid, ok := requireUser(w, r)
	if !ok {
		return
	}
	periods, err := s.engine.ListPeriods(r.Context(), uid, r.PathValue("id"))
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	if periods == nil {
		periods = []*models.FocusPeriod{}
	}
	writeJSON(w, http.StatusOK, periods)
}

func (s *Server) activePeriod(w http.ResponseWriter, r *http.Request) {
	uid, ok := requireUser(w, r)
	if !ok {
		return
	}
	p, err := s.engine.ActivePeriod(r.Context(), uid, r.PathValue("id"))
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"period": p})
}

type endPeriodRequest struct {
	EndTime       *string `json:"endTime"`
	IsInterrupted *bool   `json:"isInterrupted"`
}

func (s *Server) endPeriod(w http.ResponseWriter, r *http.Request) {
	uid, ok := requireUser(w, r)
	if !ok {
		return
	}
	var req endPeriodRequest
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	endTime, err := optionalTime(req.EndTime)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid endTime: "+err.Error())
		return
	}

	p, err := s.engine.EndPeriod(r.Context(), r.PathValue("id"), focus.EndPeriodInput{
		UserID:        uid,
		EndTime:       endTime,
		IsInterrupted: req.IsInterrupted,
	})
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// --- Stats ---

// statsParams reads the user, window and reference instant (?at=) of a
// stats request.
func (s *Server) statsParams(w http.ResponseWriter, r *http.Request) (int64, stats.WindowKind, time.Time, bool) {
	uid, ok := requireUser(w, r)
	if !ok {
		return 0, "", time.Time{}, false
	}
	kind, err := stats.ParseWindowKind(r.URL.Query().Get("window"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return 0, "", time.Time{}, false
	}
	now := s.clock.Now()
	if raw := r.URL.Query().Get("at"); raw != "" {
		if now, err = clock.ParseString(raw); err != nil {
			writeError(w, http.StatusBadRequest, "invalid at: "+err.Error())
			return 0, "", time.Time{}, false
		}
	}
	return uid, kind, now, true
}

func (s *Server) focusStats(w http.ResponseWriter, r *http.Request) {
	uid, kind, now, ok := s.statsParams(w, r)
	if !ok {
		return
	}
	rep, err := s.stats.Focus(r.Context(), uid, kind, now)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rep)
}

func (s *Server) habitStats(w http.ResponseWriter, r *http.Request) {
	uid, kind, now, ok := s.statsParams(w, r)
	if !ok {
		return
	}
	rep, err := s.stats.Habit(r.Context(), uid, kind, now)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rep)
}

func (s *Server) insight(w http.ResponseWriter, r *http.Request) {
	if s.llm == nil {
		writeError(w, http.StatusServiceUnavailable, "LLM not configured (set anthropic.api_key)")
		return
	}
	uid, kind, now, ok := s.statsParams(w, r)
	if !ok {
		return
	}
	fr, err := s.stats.Focus(r.Context(), uid, kind, now)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	hr, err := s.stats.Habit(r.Context(), uid, kind, now)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	in, err := s.llm.Insight(r.Context(), fr, hr)
	if err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, in)
}

// --- Tasks and brief logs ---

func (s *Server) createTask(w http.ResponseWriter, r *http.Request) {
	uid, ok := requireUser(w, r)
	if !ok {
		return
	}
	var t models.Task
	if err := json.NewDecoder(r.Body).Decode(&t); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	t.ID = 0
	t.UserID = uid
	t.CreatedAt = time.Time{}
	if err := s.engine.CreateTask(r.Context(), &t); err != nil {
		s.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, t)
}

func (s *Server) deleteTask(w http.ResponseWriter, r *http.Request) {
	uid, ok := requireUser(w, r)
	if !ok {
		return
	}
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid task id")
		return
	}
	if err := s.engine.DeleteTask(r.Context(), uid, id); err != nil {
		s.writeEngineError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type briefLogRequest struct {
	SessionID *string          `json:"sessionId"`
	Type      models.BriefType `json:"briefType"`
	Content   string           `json:"briefContent"`
}

func (s *Server) createBriefLog(w http.ResponseWriter, r *http.Request) {
	uid, ok := requireUser(w, r)
	if !ok {
		return
	}
	taskID, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid task id")
		return
	}
	var req briefLogRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}

	b := &models.BriefLog{
		SessionID: req.SessionID,
		TaskID:    taskID,
		UserID:    uid,
		Type:      req.Type,
		Content:   req.Content,
	}
	if err := s.engine.LogBrief(r.Context(), b); err != nil {
		s.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, b)
}

// --- Maintenance ---

func (s *Server) sweep(w http.ResponseWriter, r *http.Request) {
	if s.sweeper == nil {
		writeError(w, http.StatusServiceUnavailable, "sweeper not configured")
		return
	}
	res, err := s.sweeper.Sweep(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, res)
}
