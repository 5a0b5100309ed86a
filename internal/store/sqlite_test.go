package store

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/linphage/Arzu-Simulater-test-sub001/internal/models"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "test.db")

	s, err := NewSQLiteStore(dbPath)
	require.NoError(t, err)

	err = s.Migrate(context.Background())
	require.NoError(t, err)

	t.Cleanup(func() { s.Close() })
	return s
}

var base = time.Date(2025, 3, 10, 8, 0, 0, 0, time.UTC)

func mustTask(t *testing.T, s Store, userID int64, category models.TaskCategory, created time.Time) *models.Task {
	t.Helper()
	task := &models.Task{UserID: userID, Title: "write report", Category: category, Priority: "high", CreatedAt: created}
	require.NoError(t, s.CreateTask(context.Background(), task))
	return task
}

func mustSession(t *testing.T, s Store, userID int64, taskID *int64, started time.Time) *models.PomodoroSession {
	t.Helper()
	sess := &models.PomodoroSession{UserID: userID, TaskID: taskID, PlannedDurationMinutes: 25, StartedAt: started}
	require.NoError(t, s.CreateSession(context.Background(), sess))
	return sess
}

func mustPeriod(t *testing.T, s Store, sess *models.PomodoroSession, start time.Time) *models.FocusPeriod {
	t.Helper()
	p := &models.FocusPeriod{SessionID: sess.ID, UserID: sess.UserID, TaskID: sess.TaskID, StartTime: start}
	require.NoError(t, s.CreatePeriod(context.Background(), p))
	return p
}

func TestNewSQLiteStore_CreatesDirectory(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "subdir", "test.db")

	s, err := NewSQLiteStore(dbPath)
	require.NoError(t, err)
	defer s.Close()

	_, err = os.Stat(filepath.Join(dir, "subdir"))
	assert.NoError(t, err, "should create parent directory")
}

func TestMigrate_Idempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	// Running migrate again should be a no-op
	err := s.Migrate(ctx)
	assert.NoError(t, err)
}

// --- Tasks ---

func TestTaskCRUD(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	due := base.Add(48 * time.Hour)
	task := &models.Task{UserID: 7, Title: "essay", Category: models.TaskCategoryStudy, Priority: "low", DueDate: &due}
	require.NoError(t, s.CreateTask(ctx, task))
	assert.NotZero(t, task.ID)
	assert.False(t, task.CreatedAt.IsZero())

	got, err := s.GetTask(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, "essay", got.Title)
	assert.Equal(t, models.TaskCategoryStudy, got.Category)
	require.NotNil(t, got.DueDate)
	assert.True(t, due.Equal(*got.DueDate))

	require.NoError(t, s.DeleteTask(ctx, task.ID))
	_, err = s.GetTask(ctx, task.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, s.DeleteTask(ctx, task.ID), ErrNotFound)
}

// --- Sessions ---

func TestSessionCRUD(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	task := mustTask(t, s, 1, models.TaskCategoryWork, base)
	sess := mustSession(t, s, 1, &task.ID, base.Add(500*time.Millisecond))
	assert.NotEmpty(t, sess.ID)
	assert.Equal(t, base, sess.StartedAt, "start time is truncated to seconds")

	got, err := s.GetSession(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), got.UserID)
	require.NotNil(t, got.TaskID)
	assert.Equal(t, task.ID, *got.TaskID)
	assert.Equal(t, 25, got.PlannedDurationMinutes)
	assert.True(t, got.StartedAt.Equal(base))
	assert.True(t, got.IsOpen())

	_, err = s.GetSession(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestGetOpenSession_ReturnsMostRecent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.GetOpenSession(ctx, 1)
	assert.ErrorIs(t, err, ErrNotFound)

	mustSession(t, s, 1, nil, base)
	newer := mustSession(t, s, 1, nil, base.Add(time.Hour))
	mustSession(t, s, 2, nil, base.Add(2*time.Hour))

	got, err := s.GetOpenSession(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, newer.ID, got.ID)
}

func TestCloseSession_Guarded(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	sess := mustSession(t, s, 1, nil, base)
	planned := 30

	ok, err := s.CloseSession(ctx, sess.ID, SessionClose{CompletedAt: base.Add(30 * time.Minute), CompletedFlag: true, PlannedMinutes: &planned})
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.CloseSession(ctx, sess.ID, SessionClose{CompletedAt: base.Add(time.Hour)})
	require.NoError(t, err)
	assert.False(t, ok, "second close is a no-op")

	got, err := s.GetSession(ctx, sess.ID)
	require.NoError(t, err)
	require.NotNil(t, got.CompletedAt)
	assert.True(t, got.CompletedAt.Equal(base.Add(30*time.Minute)))
	assert.True(t, got.CompletedFlag)
	assert.Equal(t, 30, got.PlannedDurationMinutes)
}

func TestListOpenSessions_Filter(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	old := mustSession(t, s, 1, nil, base)
	mustSession(t, s, 1, nil, base.Add(10*time.Hour))
	mustSession(t, s, 2, nil, base)

	got, err := s.ListOpenSessions(ctx, OpenSessionFilter{UserID: 1, StartedBefore: base.Add(time.Hour)})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, old.ID, got[0].ID)

	all, err := s.ListOpenSessions(ctx, OpenSessionFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 3)

	limited, err := s.ListSessions(ctx, 1, 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}

// --- Periods ---

func TestCreatePeriod_OneOpenPerSession(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	sess := mustSession(t, s, 1, nil, base)
	first := mustPeriod(t, s, sess, base)

	err := s.CreatePeriod(ctx, &models.FocusPeriod{SessionID: sess.ID, UserID: 1, StartTime: base.Add(time.Minute)})
	assert.ErrorIs(t, err, ErrOpenPeriodExists)

	open, err := s.GetOpenPeriod(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, first.ID, open.ID)

	ok, err := s.ClosePeriod(ctx, first.ID, PeriodClose{EndTime: base.Add(10 * time.Minute), DurationMinutes: 10})
	require.NoError(t, err)
	assert.True(t, ok)

	// Once closed, a new period may start.
	mustPeriod(t, s, sess, base.Add(11*time.Minute))
}

func TestCreatePeriod_ConcurrentInsertsKeepOneOpen(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	sess := mustSession(t, s, 1, nil, base)

	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- s.CreatePeriod(ctx, &models.FocusPeriod{SessionID: sess.ID, UserID: 1, StartTime: base})
		}()
	}
	wg.Wait()
	close(errs)

	created := 0
	for err := range errs {
		if err == nil {
			created++
			continue
		}
		assert.True(t, errors.Is(err, ErrOpenPeriodExists), "unexpected error: %v", err)
	}
	assert.Equal(t, 1, created)

	periods, err := s.ListPeriods(ctx, sess.ID)
	require.NoError(t, err)
	assert.Len(t, periods, 1)
}

func TestClosePeriod_Guarded(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	sess := mustSession(t, s, 1, nil, base)
	p := mustPeriod(t, s, sess, base)

	ok, err := s.ClosePeriod(ctx, p.ID, PeriodClose{EndTime: base.Add(10 * time.Minute), DurationMinutes: 10, IsInterrupted: true})
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.ClosePeriod(ctx, p.ID, PeriodClose{EndTime: base.Add(20 * time.Minute), DurationMinutes: 20})
	require.NoError(t, err)
	assert.False(t, ok)

	got, err := s.GetPeriod(ctx, p.ID)
	require.NoError(t, err)
	assert.False(t, got.IsOpen())
	assert.Equal(t, 10.0, got.Minutes())
	assert.True(t, got.Interrupted())
	assert.True(t, got.EndTime.Equal(base.Add(10*time.Minute)))

	_, err = s.GetPeriod(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestListOpenPeriods_Filter(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	s1 := mustSession(t, s, 1, nil, base)
	s2 := mustSession(t, s, 2, nil, base)
	old := mustPeriod(t, s, s1, base)
	mustPeriod(t, s, s2, base.Add(3*time.Hour))

	got, err := s.ListOpenPeriods(ctx, OpenPeriodFilter{StartedBefore: base.Add(time.Hour)})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, old.ID, got[0].ID)

	got, err = s.ListOpenPeriods(ctx, OpenPeriodFilter{UserID: 2})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, int64(2), got[0].UserID)
}

func TestRepairPeriodDuration(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	sess := mustSession(t, s, 1, nil, base)
	p := mustPeriod(t, s, sess, base)
	_, err := s.ClosePeriod(ctx, p.ID, PeriodClose{EndTime: base.Add(-5 * time.Minute), DurationMinutes: -5})
	require.NoError(t, err)

	bad, err := s.ListPeriodsOutsideRange(ctx, 0, 120)
	require.NoError(t, err)
	require.Len(t, bad, 1)

	ok, err := s.RepairPeriodDuration(ctx, p.ID, base, 0, -5)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.RepairPeriodDuration(ctx, p.ID, base, 0, -5)
	require.NoError(t, err)
	assert.False(t, ok, "already repaired")

	got, err := s.GetPeriod(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, 0.0, got.Minutes())
	require.NotNil(t, got.RawDurationMinutes)
	assert.Equal(t, -5.0, *got.RawDurationMinutes)

	bad, err = s.ListPeriodsOutsideRange(ctx, 0, 120)
	require.NoError(t, err)
	assert.Empty(t, bad)
}

func TestLegacyTimestampFormats(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	sess := mustSession(t, s, 1, nil, base)
	// Rows written with an explicit offset or Z marker compare as instants.
	_, err := s.DB().ExecContext(ctx,
		`INSERT INTO focus_periods (period_id, session_id, user_id, start_time, end_time, duration_min, is_interrupted, created_at)
		VALUES ('legacy', ?, 1, '2025-03-10T16:00:00+08:00', '2025-03-10T08:30:00Z', 30, 0, '2025-03-10T08:30:00Z')`, sess.ID)
	require.NoError(t, err)

	got, err := s.GetPeriod(ctx, "legacy")
	require.NoError(t, err)
	assert.True(t, got.StartTime.Equal(base))
	assert.True(t, got.EndTime.Equal(base.Add(30*time.Minute)))

	open, err := s.ListOpenPeriods(ctx, OpenPeriodFilter{})
	require.NoError(t, err)
	assert.Empty(t, open)

	totals, err := s.DailyTotals(ctx, 1, base.Add(-time.Minute), base.Add(time.Minute))
	require.NoError(t, err)
	require.Len(t, totals, 1)
	assert.Equal(t, "2025-03-10", totals[0].Date)
}

// --- Brief logs ---

func TestBriefLog_AssociatesLatestSessionAndSurvivesTaskDelete(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	task := mustTask(t, s, 1, models.TaskCategoryWork, base)
	mustSession(t, s, 1, &task.ID, base)
	latest := mustSession(t, s, 1, &task.ID, base.Add(time.Hour))

	b := &models.BriefLog{TaskID: task.ID, UserID: 1, Type: models.BriefTypeCategoryChange, Content: "work -> study"}
	require.NoError(t, s.CreateBriefLog(ctx, b))
	require.NotNil(t, b.SessionID)
	assert.Equal(t, latest.ID, *b.SessionID)

	err := s.CreateBriefLog(ctx, &models.BriefLog{TaskID: task.ID, UserID: 1, Type: models.BriefType(9)})
	assert.Error(t, err)

	require.NoError(t, s.CreateBriefLog(ctx, &models.BriefLog{TaskID: task.ID, UserID: 1, Type: models.BriefTypeDeleteReason, Content: "no longer needed"}))
	require.NoError(t, s.DeleteTask(ctx, task.ID))

	logs, err := s.ListBriefLogs(ctx, task.ID)
	require.NoError(t, err)
	require.Len(t, logs, 2)
	for _, l := range logs {
		assert.Nil(t, l.SessionID, "session link is cleared with the session")
	}

	// Sessions and periods go with the task.
	_, err = s.GetSession(ctx, latest.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestTaskTotals(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	task := mustTask(t, s, 1, models.TaskCategoryWork, base)
	sess := mustSession(t, s, 1, &task.ID, base)
	p1 := mustPeriod(t, s, sess, base)
	_, err := s.ClosePeriod(ctx, p1.ID, PeriodClose{EndTime: base.Add(10 * time.Minute), DurationMinutes: 10, IsInterrupted: true})
	require.NoError(t, err)
	p2 := mustPeriod(t, s, sess, base.Add(11*time.Minute))
	_, err = s.ClosePeriod(ctx, p2.ID, PeriodClose{EndTime: base.Add(16*time.Minute + 30*time.Second), DurationMinutes: 5.5})
	require.NoError(t, err)

	totals, err := s.TaskTotals(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, totals.SessionCount)
	assert.Equal(t, 25, totals.PlannedMinutes)
	assert.Equal(t, 15.5, totals.FocusMinutes)
	assert.Equal(t, 2, totals.ClosedPeriodCount)
	assert.Equal(t, 1, totals.InterruptedCount)
}

// --- Snapshot reads ---

func TestSnapshot_Reader(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	from, to := base, base.Add(7*24*time.Hour)

	work := mustTask(t, s, 1, models.TaskCategoryWork, base.Add(time.Hour))
	mustTask(t, s, 1, models.TaskCategoryLife, base.Add(-time.Hour)) // before window
	mustTask(t, s, 2, models.TaskCategoryWork, base.Add(time.Hour))  // other user

	inside := mustSession(t, s, 1, &work.ID, base.Add(time.Hour))
	outside := mustSession(t, s, 1, &work.ID, base.Add(-2*time.Hour))

	p := mustPeriod(t, s, inside, base.Add(time.Hour))
	_, err := s.ClosePeriod(ctx, p.ID, PeriodClose{EndTime: base.Add(time.Hour + 20*time.Minute), DurationMinutes: 20})
	require.NoError(t, err)
	mustPeriod(t, s, inside, base.Add(2*time.Hour)) // still open
	// Period inside the window whose session started before it.
	q := mustPeriod(t, s, outside, base.Add(time.Minute))
	_, err = s.ClosePeriod(ctx, q.ID, PeriodClose{EndTime: base.Add(5 * time.Minute), DurationMinutes: 4})
	require.NoError(t, err)

	require.NoError(t, s.CreateBriefLog(ctx, &models.BriefLog{TaskID: work.ID, UserID: 1, Type: models.BriefTypePriorityChange, CreatedAt: base.Add(3 * time.Hour)}))
	require.NoError(t, s.CreateBriefLog(ctx, &models.BriefLog{TaskID: work.ID, UserID: 1, Type: models.BriefTypeRemarkProgress, CreatedAt: base.Add(3 * time.Hour)}))

	err = s.Snapshot(ctx, func(r Reader) error {
		rows, err := r.ClosedFocusRows(ctx, 1, from, to)
		require.NoError(t, err)
		require.Len(t, rows, 1)
		assert.Equal(t, p.ID, rows[0].Period.ID)
		assert.Equal(t, 25, rows[0].PlannedMinutes)
		assert.True(t, rows[0].SessionStartedAt.Equal(inside.StartedAt))

		sessions, err := r.SessionsStartedBetween(ctx, 1, from, to)
		require.NoError(t, err)
		require.Len(t, sessions, 1)
		assert.Equal(t, inside.ID, sessions[0].ID)

		tasks, err := r.TasksCreatedBetween(ctx, 1, from, to)
		require.NoError(t, err)
		require.Len(t, tasks, 1)
		assert.Equal(t, work.ID, tasks[0].ID)

		logs, err := r.BriefLogsBetween(ctx, 1, from, to, models.ProblematicBriefTypes)
		require.NoError(t, err)
		require.Len(t, logs, 1)
		assert.Equal(t, models.BriefTypePriorityChange, logs[0].Type)

		all, err := r.BriefLogsBetween(ctx, 1, from, to, nil)
		require.NoError(t, err)
		assert.Len(t, all, 2)

		return nil
	})
	require.NoError(t, err)
}

func TestSnapshot_PropagatesError(t *testing.T) {
	s := newTestStore(t)
	boom := errors.New("boom")
	err := s.Snapshot(context.Background(), func(Reader) error { return boom })
	assert.ErrorIs(t, err, boom)
}

func TestDailyTotals(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	sess := mustSession(t, s, 1, nil, base)
	for i, mins := range []float64{10, 15} {
		start := base.Add(time.Duration(i) * 24 * time.Hour)
		p := mustPeriod(t, s, sess, start)
		_, err := s.ClosePeriod(ctx, p.ID, PeriodClose{EndTime: start.Add(time.Duration(mins) * time.Minute), DurationMinutes: mins})
		require.NoError(t, err)
	}

	totals, err := s.DailyTotals(ctx, 1, base, base.Add(7*24*time.Hour))
	require.NoError(t, err)
	require.Len(t, totals, 2)
	assert.Equal(t, "2025-03-10", totals[0].Date)
	assert.Equal(t, 10.0, totals[0].FocusMinutes)
	assert.Equal(t, "2025-03-11", totals[1].Date)
	assert.Equal(t, 1, totals[1].PeriodCount)
}

func TestRebindDollar(t *testing.T) {
	assert.Equal(t, "SELECT $1, $2", rebindDollar("SELECT ?, ?"))
	assert.Equal(t, "?, ?, ?", placeholders(3))
	assert.Equal(t, "", placeholders(0))
}
