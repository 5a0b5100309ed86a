// Package focus owns the session and period state machine. It is the single
// place that enforces one open session per user and one open period per
// session.
package focus

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"time"

	"github.com/linphage/Arzu-Simulater-test-sub001/internal/clock"
	"github.com/linphage/Arzu-Simulater-test-sub001/internal/lock"
	"github.com/linphage/Arzu-Simulater-test-sub001/internal/models"
	"github.com/linphage/Arzu-Simulater-test-sub001/internal/store"
)

// DefaultPlannedMinutes is used when a session is started without a plan.
const DefaultPlannedMinutes = 25

// Store is the subset of store.Store the engine needs.
type Store interface {
	GetTask(ctx context.Context, id int64) (*models.Task, error)
	CreateTask(ctx context.Context, t *models.Task) error
	DeleteTask(ctx context.Context, id int64) error
	CreateBriefLog(ctx context.Context, b *models.BriefLog) error

	CreateSession(ctx context.Context, s *models.PomodoroSession) error
	GetSession(ctx context.Context, id string) (*models.PomodoroSession, error)
	GetOpenSession(ctx context.Context, userID int64) (*models.PomodoroSession, error)
	ListSessions(ctx context.Context, userID int64, limit int) ([]*models.PomodoroSession, error)
	CloseSession(ctx context.Context, id string, c store.SessionClose) (bool, error)

	CreatePeriod(ctx context.Context, p *models.FocusPeriod) error
	GetPeriod(ctx context.Context, id string) (*models.FocusPeriod, error)
	GetOpenPeriod(ctx context.Context, sessionID string) (*models.FocusPeriod, error)
	ListPeriods(ctx context.Context, sessionID string) ([]*models.FocusPeriod, error)
	ClosePeriod(ctx context.Context, id string, c store.PeriodClose) (bool, error)
}

// StaleChecker force-closes one user's zombie records before a start.
type StaleChecker interface {
	CloseStaleForUser(ctx context.Context, userID int64) error
}

// Engine runs session and period transitions.
type Engine struct {
	store   Store
	clock   clock.Clock
	locker  lock.Locker
	checker StaleChecker
	logger  *slog.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock sets the clock used for default timestamps.
func WithClock(c clock.Clock) Option { return func(e *Engine) { e.clock = c } }

// WithLocker sets the per-user and per-session locker.
func WithLocker(l lock.Locker) Option { return func(e *Engine) { e.locker = l } }

// WithStaleChecker sets the inline zombie check run before every start.
func WithStaleChecker(c StaleChecker) Option { return func(e *Engine) { e.checker = c } }

// WithLogger sets the engine logger.
func WithLogger(l *slog.Logger) Option { return func(e *Engine) { e.logger = l } }

// New returns an engine over s. Without options it uses the wall clock,
// in-process locks and no inline zombie check.
func New(s Store, opts ...Option) *Engine {
	e := &Engine{
		store:  s,
		clock:  clock.Real{},
		locker: lock.NewMemory(),
		logger: slog.Default(),
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// StartSessionInput describes a new session.
type StartSessionInput struct {
	UserID         int64
	TaskID         *int64
	PlannedMinutes int
	StartedAt      *time.Time
}

// StartSession opens a session for the user. It fails with a conflict
// carrying the existing session when the user already has one open.
func (e *Engine) StartSession(ctx context.Context, in StartSessionInput) (*models.PomodoroSession, error) {
	const op = "start session"

	if in.UserID <= 0 {
		return nil, validation(op, "userId is required")
	}
	if in.PlannedMinutes < 0 {
		return nil, validation(op, "plannedMinutes must not be negative")
	}
	planned := in.PlannedMinutes
	if planned == 0 {
		planned = DefaultPlannedMinutes
	}

	if in.TaskID != nil {
		if _, err := e.getTask(ctx, op, in.UserID, *in.TaskID); err != nil {
			return nil, err
		}
	}

	unlock, err := e.locker.Lock(ctx, lock.UserKey(in.UserID))
	if err != nil {
		return nil, internal(op, err)
	}
	defer unlock()

	if err := e.checkStale(ctx, in.UserID); err != nil {
		return nil, internal(op, err)
	}

	open, err := e.store.GetOpenSession(ctx, in.UserID)
	switch {
	case err == nil:
		return nil, &Error{Kind: KindConflict, Op: op, Message: "user already has an open session " + open.ID, Session: open}
	case !errors.Is(err, store.ErrNotFound):
		return nil, internal(op, err)
	}

	sess := &models.PomodoroSession{
		UserID:                 in.UserID,
		TaskID:                 in.TaskID,
		PlannedDurationMinutes: planned,
		StartedAt:              e.at(in.StartedAt),
	}
	if err := e.store.CreateSession(ctx, sess); err != nil {
		return nil, internal(op, err)
	}
	e.logger.Debug("session started", "session_id", sess.ID, "user_id", sess.UserID)
	return sess, nil
}

// EndSessionInput describes how a session ends.
type EndSessionInput struct {
	UserID        int64
	CompletedFlag bool
	CompletedAt   *time.Time
	// RecomputeDuration replaces the planned minutes with the rounded sum of
	// the session's closed periods.
	RecomputeDuration bool
}

// EndSession closes an open session. Open periods are left alone; they are
// ended by the caller or by the zombie sweep.
func (e *Engine) EndSession(ctx context.Context, sessionID string, in EndSessionInput) (*models.PomodoroSession, error) {
	const op = "end session"

	sess, err := e.getSession(ctx, op, in.UserID, sessionID)
	if err != nil {
		return nil, err
	}
	if !sess.IsOpen() {
		return nil, &Error{Kind: KindConflict, Op: op, Message: "session " + sessionID + " is already closed", Session: sess}
	}

	completedAt := e.at(in.CompletedAt)
	if completedAt.Before(sess.StartedAt) {
		e.logger.Warn("session end precedes start, clamping", "session_id", sessionID,
			"started_at", sess.StartedAt, "completed_at", completedAt)
		completedAt = sess.StartedAt
	}

	c := store.SessionClose{CompletedAt: completedAt, CompletedFlag: in.CompletedFlag}
	if in.RecomputeDuration {
		periods, err := e.store.ListPeriods(ctx, sessionID)
		if err != nil {
			return nil, internal(op, err)
		}
		var total float64
		for _, p := range periods {
			if !p.IsOpen() {
				total += p.Minutes()
			}
		}
		minutes := int(math.Round(total))
		c.PlannedMinutes = &minutes
	}

	ok, err := e.store.CloseSession(ctx, sessionID, c)
	if err != nil {
		return nil, internal(op, err)
	}
	if !ok {
		current, _ := e.store.GetSession(ctx, sessionID)
		return nil, &Error{Kind: KindConflict, Op: op, Message: "session " + sessionID + " is already closed", Session: current}
	}

	closed, err := e.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, internal(op, err)
	}
	return closed, nil
}

// StartPeriod opens a period on one of the user's sessions. The user's zombie
// records are closed first; an existing open period on the session yields a
// conflict carrying that period.
func (e *Engine) StartPeriod(ctx context.Context, userID int64, sessionID string, startTime *time.Time) (*models.FocusPeriod, error) {
	const op = "start period"

	sess, err := e.getSession(ctx, op, userID, sessionID)
	if err != nil {
		return nil, err
	}

	if err := e.checkStale(ctx, sess.UserID); err != nil {
		return nil, internal(op, err)
	}

	unlock, err := e.locker.Lock(ctx, lock.SessionKey(sessionID))
	if err != nil {
		return nil, internal(op, err)
	}
	defer unlock()

	// The stale check may have closed the session itself.
	if sess, err = e.getSession(ctx, op, userID, sessionID); err != nil {
		return nil, err
	}
	if !sess.IsOpen() {
		return nil, &Error{Kind: KindConflict, Op: op, Message: "session " + sessionID + " is closed", Session: sess}
	}

	if open, err := e.store.GetOpenPeriod(ctx, sessionID); err == nil {
		return nil, periodConflict(op, open)
	} else if !errors.Is(err, store.ErrNotFound) {
		return nil, internal(op, err)
	}

	p := &models.FocusPeriod{
		SessionID: sessionID,
		UserID:    sess.UserID,
		TaskID:    sess.TaskID,
		StartTime: e.at(startTime),
		CreatedAt: e.at(nil),
	}
	if err := e.store.CreatePeriod(ctx, p); err != nil {
		if errors.Is(err, store.ErrOpenPeriodExists) {
			// Another process won the race past our lock.
			if open, gerr := e.store.GetOpenPeriod(ctx, sessionID); gerr == nil {
				return nil, periodConflict(op, open)
			}
			return nil, &Error{Kind: KindConflict, Op: op, Message: "session " + sessionID + " already has an open period", Err: err}
		}
		return nil, internal(op, err)
	}
	e.logger.Debug("period started", "period_id", p.ID, "session_id", sessionID)
	return p, nil
}

// EndPeriodInput describes how a period ends. IsInterrupted is required.
type EndPeriodInput struct {
	UserID        int64
	EndTime       *time.Time
	IsInterrupted *bool
}

// EndPeriod closes an open period, writing end time, duration and the
// interruption flag together. An end before the start is clamped to the
// start, giving a zero duration.
func (e *Engine) EndPeriod(ctx context.Context, periodID string, in EndPeriodInput) (*models.FocusPeriod, error) {
	const op = "end period"

	if in.IsInterrupted == nil {
		return nil, validation(op, "isInterrupted is required")
	}

	if in.UserID <= 0 {
		return nil, validation(op, "userId is required")
	}

	p, err := e.store.GetPeriod(ctx, periodID)
	if errors.Is(err, store.ErrNotFound) || (err == nil && p.UserID != in.UserID) {
		return nil, notFound(op, "period %s not found", periodID)
	}
	if err != nil {
		return nil, internal(op, err)
	}
	if !p.IsOpen() {
		return nil, &Error{Kind: KindConflict, Op: op, Message: "period " + periodID + " is already closed", Period: p}
	}

	end := e.at(in.EndTime)
	if end.Before(p.StartTime) {
		e.logger.Warn("period end precedes start, clamping to zero duration", "period_id", periodID,
			"start_time", p.StartTime, "end_time", end)
		end = p.StartTime
	}

	ok, err := e.store.ClosePeriod(ctx, periodID, store.PeriodClose{
		EndTime:         end,
		DurationMinutes: clock.NonNegativeMinutes(p.StartTime, end),
		IsInterrupted:   *in.IsInterrupted,
	})
	if err != nil {
		return nil, internal(op, err)
	}

	closed, gerr := e.store.GetPeriod(ctx, periodID)
	if gerr != nil {
		return nil, internal(op, gerr)
	}
	if !ok {
		return nil, &Error{Kind: KindConflict, Op: op, Message: "period " + periodID + " is already closed", Period: closed}
	}
	return closed, nil
}

// ListPeriods returns a session's periods in start order.
func (e *Engine) ListPeriods(ctx context.Context, userID int64, sessionID string) ([]*models.FocusPeriod, error) {
	const op = "list periods"
	if _, err := e.getSession(ctx, op, userID, sessionID); err != nil {
		return nil, err
	}
	periods, err := e.store.ListPeriods(ctx, sessionID)
	if err != nil {
		return nil, internal(op, err)
	}
	return periods, nil
}

// ActivePeriod returns the session's open period, or nil when there is none.
func (e *Engine) ActivePeriod(ctx context.Context, userID int64, sessionID string) (*models.FocusPeriod, error) {
	const op = "active period"
	if _, err := e.getSession(ctx, op, userID, sessionID); err != nil {
		return nil, err
	}
	p, err := e.store.GetOpenPeriod(ctx, sessionID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, internal(op, err)
	}
	return p, nil
}

// ActiveSession returns the user's open session, or nil when there is none.
func (e *Engine) ActiveSession(ctx context.Context, userID int64) (*models.PomodoroSession, error) {
	const op = "active session"
	sess, err := e.store.GetOpenSession(ctx, userID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, internal(op, err)
	}
	return sess, nil
}

// GetSession looks up one of the user's sessions.
func (e *Engine) GetSession(ctx context.Context, userID int64, sessionID string) (*models.PomodoroSession, error) {
	return e.getSession(ctx, "get session", userID, sessionID)
}

// ListSessions returns the user's most recent sessions first.
func (e *Engine) ListSessions(ctx context.Context, userID int64, limit int) ([]*models.PomodoroSession, error) {
	sessions, err := e.store.ListSessions(ctx, userID, limit)
	if err != nil {
		return nil, internal("list sessions", err)
	}
	return sessions, nil
}

// CreateTask records a task for analytics input.
func (e *Engine) CreateTask(ctx context.Context, t *models.Task) error {
	const op = "create task"
	if t.UserID <= 0 {
		return validation(op, "userId is required")
	}
	if t.Title == "" {
		return validation(op, "title is required")
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = e.clock.Now()
	}
	if err := e.store.CreateTask(ctx, t); err != nil {
		return internal(op, err)
	}
	return nil
}

// DeleteTask removes one of the user's tasks together with its sessions and
// periods.
func (e *Engine) DeleteTask(ctx context.Context, userID, taskID int64) error {
	const op = "delete task"
	if _, err := e.getTask(ctx, op, userID, taskID); err != nil {
		return err
	}
	err := e.store.DeleteTask(ctx, taskID)
	if errors.Is(err, store.ErrNotFound) {
		return notFound(op, "task %d not found", taskID)
	}
	if err != nil {
		return internal(op, err)
	}
	return nil
}

// LogBrief appends a change-log entry against one of the user's tasks.
func (e *Engine) LogBrief(ctx context.Context, b *models.BriefLog) error {
	const op = "log brief"
	if !b.Type.Valid() {
		return validation(op, "briefType must be between 1 and 8")
	}
	if _, err := e.getTask(ctx, op, b.UserID, b.TaskID); err != nil {
		return err
	}
	if b.SessionID != nil {
		if _, err := e.getSession(ctx, op, b.UserID, *b.SessionID); err != nil {
			return err
		}
	}
	if b.CreatedAt.IsZero() {
		b.CreatedAt = e.clock.Now()
	}
	if err := e.store.CreateBriefLog(ctx, b); err != nil {
		return internal(op, err)
	}
	return nil
}

// getSession returns the session when it belongs to userID. Another user's
// session is reported as not found.
func (e *Engine) getSession(ctx context.Context, op string, userID int64, sessionID string) (*models.PomodoroSession, error) {
	if userID <= 0 {
		return nil, validation(op, "userId is required")
	}
	sess, err := e.store.GetSession(ctx, sessionID)
	if errors.Is(err, store.ErrNotFound) || (err == nil && sess.UserID != userID) {
		return nil, notFound(op, "session %s not found", sessionID)
	}
	if err != nil {
		return nil, internal(op, err)
	}
	return sess, nil
}

func (e *Engine) getTask(ctx context.Context, op string, userID, taskID int64) (*models.Task, error) {
	if userID <= 0 {
		return nil, validation(op, "userId is required")
	}
	task, err := e.store.GetTask(ctx, taskID)
	if errors.Is(err, store.ErrNotFound) || (err == nil && task.UserID != userID) {
		return nil, notFound(op, "task %d not found", taskID)
	}
	if err != nil {
		return nil, internal(op, err)
	}
	return task, nil
}

func (e *Engine) checkStale(ctx context.Context, userID int64) error {
	if e.checker == nil {
		return nil
	}
	return e.checker.CloseStaleForUser(ctx, userID)
}

// at returns *t, or now, truncated to stored precision.
func (e *Engine) at(t *time.Time) time.Time {
	if t != nil {
		return clock.Stamp(*t)
	}
	return clock.Stamp(e.clock.Now())
}

func periodConflict(op string, open *models.FocusPeriod) *Error {
	return &Error{
		Kind:    KindConflict,
		Op:      op,
		Message: "session " + open.SessionID + " already has open period " + open.ID,
		Period:  open,
	}
}
