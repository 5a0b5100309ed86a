package store

import (
	"context"
	"errors"
	"time"

	"github.com/linphage/Arzu-Simulater-test-sub001/internal/models"
)

var (
	// ErrNotFound is wrapped by lookups that match no row.
	ErrNotFound = errors.New("not found")
	// ErrOpenPeriodExists is returned by CreatePeriod when the session already
	// has a period without an end time.
	ErrOpenPeriodExists = errors.New("session already has an open focus period")
)

// OpenPeriodFilter selects open periods for reconciliation.
type OpenPeriodFilter struct {
	UserID        int64 // 0 = all users
	StartedBefore time.Time
	Limit         int
}

// OpenSessionFilter selects open sessions for reconciliation.
type OpenSessionFilter struct {
	UserID        int64 // 0 = all users
	StartedBefore time.Time
	Limit         int
}

// SessionClose carries the fields written when a session ends.
type SessionClose struct {
	CompletedAt   time.Time
	CompletedFlag bool
	// PlannedMinutes replaces duration_minutes when non-nil.
	PlannedMinutes *int
}

// PeriodClose carries the fields written when a period ends.
type PeriodClose struct {
	EndTime         time.Time
	DurationMinutes float64
	IsInterrupted   bool
}

// TaskTotals aggregates the sessions and periods recorded against one task.
type TaskTotals struct {
	TaskID            int64
	SessionCount      int
	PlannedMinutes    int
	FocusMinutes      float64
	InterruptedCount  int
	ClosedPeriodCount int
}

// DailyTotals aggregates one user's closed periods by UTC calendar date.
type DailyTotals struct {
	Date         string // YYYY-MM-DD
	FocusMinutes float64
	PeriodCount  int
}

// FocusRow is a closed period joined to its parent session.
type FocusRow struct {
	Period           *models.FocusPeriod
	SessionStartedAt time.Time
	PlannedMinutes   int
}

// Reader is the read-only query surface used to build reports. Every call made
// through one Reader observes the same snapshot where the backend supports it.
type Reader interface {
	ClosedFocusRows(ctx context.Context, userID int64, from, to time.Time) ([]FocusRow, error)
	SessionsStartedBetween(ctx context.Context, userID int64, from, to time.Time) ([]*models.PomodoroSession, error)
	TasksCreatedBetween(ctx context.Context, userID int64, from, to time.Time) ([]*models.Task, error)
	BriefLogsBetween(ctx context.Context, userID int64, from, to time.Time, types []models.BriefType) ([]*models.BriefLog, error)
}

// Store defines the persistence interface for the focus engine.
type Store interface {
	// Tasks
	CreateTask(ctx context.Context, t *models.Task) error
	GetTask(ctx context.Context, id int64) (*models.Task, error)
	DeleteTask(ctx context.Context, id int64) error
	TaskTotals(ctx context.Context, taskID int64) (*TaskTotals, error)

	// Sessions
	CreateSession(ctx context.Context, s *models.PomodoroSession) error
	GetSession(ctx context.Context, id string) (*models.PomodoroSession, error)
	GetOpenSession(ctx context.Context, userID int64) (*models.PomodoroSession, error)
	ListSessions(ctx context.Context, userID int64, limit int) ([]*models.PomodoroSession, error)
	ListOpenSessions(ctx context.Context, filter OpenSessionFilter) ([]*models.PomodoroSession, error)
	CloseSession(ctx context.Context, id string, c SessionClose) (bool, error)
	DailyTotals(ctx context.Context, userID int64, from, to time.Time) ([]DailyTotals, error)

	// Focus periods
	CreatePeriod(ctx context.Context, p *models.FocusPeriod) error
	GetPeriod(ctx context.Context, id string) (*models.FocusPeriod, error)
	GetOpenPeriod(ctx context.Context, sessionID string) (*models.FocusPeriod, error)
	ListPeriods(ctx context.Context, sessionID string) ([]*models.FocusPeriod, error)
	ListOpenPeriods(ctx context.Context, filter OpenPeriodFilter) ([]*models.FocusPeriod, error)
	ClosePeriod(ctx context.Context, id string, c PeriodClose) (bool, error)
	ListPeriodsOutsideRange(ctx context.Context, min, max float64) ([]*models.FocusPeriod, error)
	RepairPeriodDuration(ctx context.Context, id string, end time.Time, duration, raw float64) (bool, error)

	// Brief logs
	CreateBriefLog(ctx context.Context, b *models.BriefLog) error
	ListBriefLogs(ctx context.Context, taskID int64) ([]*models.BriefLog, error)

	// Snapshot runs fn against a read-only, consistent view of the data.
	Snapshot(ctx context.Context, fn func(Reader) error) error

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}
