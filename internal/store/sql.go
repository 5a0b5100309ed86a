package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"math/rand"
	"sort"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/linphage/Arzu-Simulater-test-sub001/internal/clock"
	"github.com/linphage/Arzu-Simulater-test-sub001/internal/models"
)

// queryer is satisfied by both *sql.DB and *sql.Tx.
type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type scanner interface {
	Scan(dest ...any) error
}

const (
	sessionCols = `id, user_id, task_id, duration_minutes, completed, started_at, completed_at`
	periodCols  = `period_id, session_id, user_id, task_id, start_time, end_time, duration_min, is_interrupted, raw_duration_min, created_at`
	taskCols    = `id, user_id, title, category, priority, due_date, created_at`
	briefCols   = `debrief_id, session_id, task_id, user_id, brief_type, brief_content, created_at`
)

// sqlStore is the database/sql implementation shared by both backends.
type sqlStore struct {
	db *sql.DB
	d  dialect
}

func newSQLStore(db *sql.DB, d dialect) *sqlStore {
	return &sqlStore{db: db, d: d}
}

// newULID generates a new ULID string.
func newULID() string {
	entropy := rand.New(rand.NewSource(time.Now().UnixNano()))
	return ulid.MustNew(ulid.Timestamp(time.Now()), ulid.Monotonic(entropy, 0)).String()
}

// stamp truncates to whole seconds, the precision both backends share.
func stamp(t time.Time) time.Time {
	return clock.Stamp(t)
}

func (s *sqlStore) q(query string) string { return s.d.rebind(query) }

func (s *sqlStore) nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return s.d.timeArg(stamp(*t))
}

func nullInt64(p *int64) any {
	if p == nil {
		return nil
	}
	return *p
}

func nullString(p *string) any {
	if p == nil {
		return nil
	}
	return *p
}

// Close closes the database connection.
func (s *sqlStore) Close() error {
	return s.db.Close()
}

// DB exposes the underlying handle for maintenance tooling and tests.
func (s *sqlStore) DB() *sql.DB {
	return s.db
}

func (s *sqlStore) migrate(ctx context.Context) error {
	// Create migrations tracking table
	if _, err := s.db.ExecContext(ctx, s.d.migrationsTable()); err != nil {
		return fmt.Errorf("create migrations table: %w", err)
	}

	fsys, dir := s.d.migrations()
	entries, err := fs.ReadDir(fsys, dir)
	if err != nil {
		return fmt.Errorf("read migrations dir: %w", err)
	}

	// Sort by filename
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()

		// Check if already applied
		var count int
		err := s.db.QueryRowContext(ctx, s.q("SELECT COUNT(*) FROM schema_migrations WHERE filename = ?"), name).Scan(&count)
		if err != nil {
			return fmt.Errorf("check migration %s: %w", name, err)
		}
		if count > 0 {
			continue
		}

		data, err := fs.ReadFile(fsys, dir+"/"+name)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", name, err)
		}

		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin migration tx %s: %w", name, err)
		}
		if _, err := tx.ExecContext(ctx, string(data)); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("apply migration %s: %w", name, err)
		}
		if _, err := tx.ExecContext(ctx, s.q("INSERT INTO schema_migrations (filename) VALUES (?)"), name); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("record migration %s: %w", name, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %s: %w", name, err)
		}
	}

	return nil
}

// --- Scanning ---

func scanSession(sc scanner, extra ...any) (*models.PomodoroSession, error) {
	sess := &models.PomodoroSession{}
	var taskID sql.NullInt64
	var startedAt, completedAt any

	dest := append([]any{&sess.ID, &sess.UserID, &taskID, &sess.PlannedDurationMinutes, &sess.CompletedFlag, &startedAt, &completedAt}, extra...)
	if err := sc.Scan(dest...); err != nil {
		return nil, err
	}

	if taskID.Valid {
		id := taskID.Int64
		sess.TaskID = &id
	}
	var err error
	if sess.StartedAt, err = clock.Normalize(startedAt); err != nil {
		return nil, fmt.Errorf("session %s started_at: %w", sess.ID, err)
	}
	if sess.CompletedAt, err = clock.NormalizeNullable(completedAt); err != nil {
		return nil, fmt.Errorf("session %s completed_at: %w", sess.ID, err)
	}
	return sess, nil
}

func scanPeriod(sc scanner, extra ...any) (*models.FocusPeriod, error) {
	p := &models.FocusPeriod{}
	var taskID sql.NullInt64
	var startTime, endTime, createdAt any
	var duration, raw sql.NullFloat64
	var interrupted sql.NullBool

	dest := append([]any{&p.ID, &p.SessionID, &p.UserID, &taskID, &startTime, &endTime, &duration, &interrupted, &raw, &createdAt}, extra...)
	if err := sc.Scan(dest...); err != nil {
		return nil, err
	}

	if taskID.Valid {
		id := taskID.Int64
		p.TaskID = &id
	}
	if duration.Valid {
		d := duration.Float64
		p.DurationMinutes = &d
	}
	if raw.Valid {
		r := raw.Float64
		p.RawDurationMinutes = &r
	}
	if interrupted.Valid {
		b := interrupted.Bool
		p.IsInterrupted = &b
	}

	var err error
	if p.StartTime, err = clock.Normalize(startTime); err != nil {
		return nil, fmt.Errorf("period %s start_time: %w", p.ID, err)
	}
	if p.EndTime, err = clock.NormalizeNullable(endTime); err != nil {
		return nil, fmt.Errorf("period %s end_time: %w", p.ID, err)
	}
	if p.CreatedAt, err = clock.Normalize(createdAt); err != nil {
		return nil, fmt.Errorf("period %s created_at: %w", p.ID, err)
	}
	return p, nil
}

func scanTask(sc scanner) (*models.Task, error) {
	t := &models.Task{}
	var category string
	var dueDate, createdAt any
	if err := sc.Scan(&t.ID, &t.UserID, &t.Title, &category, &t.Priority, &dueDate, &createdAt); err != nil {
		return nil, err
	}
	t.Category = models.TaskCategory(category)

	var err error
	if t.DueDate, err = clock.NormalizeNullable(dueDate); err != nil {
		return nil, fmt.Errorf("task %d due_date: %w", t.ID, err)
	}
	if t.CreatedAt, err = clock.Normalize(createdAt); err != nil {
		return nil, fmt.Errorf("task %d created_at: %w", t.ID, err)
	}
	return t, nil
}

func scanBriefLog(sc scanner) (*models.BriefLog, error) {
	b := &models.BriefLog{}
	var sessionID sql.NullString
	var briefType int
	var createdAt any
	if err := sc.Scan(&b.ID, &sessionID, &b.TaskID, &b.UserID, &briefType, &b.Content, &createdAt); err != nil {
		return nil, err
	}
	b.Type = models.BriefType(briefType)
	if sessionID.Valid {
		id := sessionID.String
		b.SessionID = &id
	}
	var err error
	if b.CreatedAt, err = clock.Normalize(createdAt); err != nil {
		return nil, fmt.Errorf("brief log %s created_at: %w", b.ID, err)
	}
	return b, nil
}

func querySessions(ctx context.Context, q queryer, query string, args ...any) ([]*models.PomodoroSession, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var sessions []*models.PomodoroSession
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		sessions = append(sessions, sess)
	}
	return sessions, rows.Err()
}

func queryPeriods(ctx context.Context, q queryer, query string, args ...any) ([]*models.FocusPeriod, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list periods: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var periods []*models.FocusPeriod
	for rows.Next() {
		p, err := scanPeriod(rows)
		if err != nil {
			return nil, fmt.Errorf("scan period: %w", err)
		}
		periods = append(periods, p)
	}
	return periods, rows.Err()
}

func queryTasks(ctx context.Context, q queryer, query string, args ...any) ([]*models.Task, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var tasks []*models.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

func queryBriefLogs(ctx context.Context, q queryer, query string, args ...any) ([]*models.BriefLog, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list brief logs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var logs []*models.BriefLog
	for rows.Next() {
		b, err := scanBriefLog(rows)
		if err != nil {
			return nil, fmt.Errorf("scan brief log: %w", err)
		}
		logs = append(logs, b)
	}
	return logs, rows.Err()
}

// --- Tasks ---

func (s *sqlStore) CreateTask(ctx context.Context, t *models.Task) error {
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now().UTC()
	}
	t.CreatedAt = stamp(t.CreatedAt)

	err := s.db.QueryRowContext(ctx, s.q(
		`INSERT INTO tasks (user_id, title, category, priority, due_date, created_at)
		VALUES (?, ?, ?, ?, ?, ?) RETURNING id`),
		t.UserID, t.Title, string(t.Category), t.Priority, s.nullTime(t.DueDate), s.d.timeArg(t.CreatedAt),
	).Scan(&t.ID)
	if err != nil {
		return fmt.Errorf("create task: %w", err)
	}
	return nil
}

func (s *sqlStore) GetTask(ctx context.Context, id int64) (*models.Task, error) {
	t, err := scanTask(s.db.QueryRowContext(ctx, s.q(`SELECT `+taskCols+` FROM tasks WHERE id = ?`), id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("task %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get task: %w", err)
	}
	return t, nil
}

// DeleteTask removes a task; its sessions and their periods go with it.
// Brief logs are kept as history.
func (s *sqlStore) DeleteTask(ctx context.Context, id int64) error {
	result, err := s.db.ExecContext(ctx, s.q("DELETE FROM tasks WHERE id = ?"), id)
	if err != nil {
		return fmt.Errorf("delete task: %w", err)
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return fmt.Errorf("task %d: %w", id, ErrNotFound)
	}
	return nil
}

func (s *sqlStore) TaskTotals(ctx context.Context, taskID int64) (*TaskTotals, error) {
	totals := &TaskTotals{TaskID: taskID}

	err := s.db.QueryRowContext(ctx, s.q(
		`SELECT COUNT(*), COALESCE(SUM(duration_minutes), 0) FROM pomodoro_sessions WHERE task_id = ?`), taskID,
	).Scan(&totals.SessionCount, &totals.PlannedMinutes)
	if err != nil {
		return nil, fmt.Errorf("task session totals: %w", err)
	}

	err = s.db.QueryRowContext(ctx, s.q(
		`SELECT COALESCE(SUM(duration_min), 0), COUNT(*), COALESCE(SUM(CASE WHEN is_interrupted THEN 1 ELSE 0 END), 0)
		FROM focus_periods WHERE task_id = ? AND end_time IS NOT NULL`), taskID,
	).Scan(&totals.FocusMinutes, &totals.ClosedPeriodCount, &totals.InterruptedCount)
	if err != nil {
		return nil, fmt.Errorf("task period totals: %w", err)
	}
	totals.FocusMinutes = clock.Round1(totals.FocusMinutes)
	return totals, nil
}

// --- Sessions ---

func (s *sqlStore) CreateSession(ctx context.Context, sess *models.PomodoroSession) error {
	if sess.ID == "" {
		sess.ID = newULID()
	}
	if sess.StartedAt.IsZero() {
		sess.StartedAt = time.Now().UTC()
	}
	sess.StartedAt = stamp(sess.StartedAt)

	_, err := s.db.ExecContext(ctx, s.q(
		`INSERT INTO pomodoro_sessions (`+sessionCols+`) VALUES (?, ?, ?, ?, ?, ?, ?)`),
		sess.ID, sess.UserID, nullInt64(sess.TaskID), sess.PlannedDurationMinutes, sess.CompletedFlag,
		s.d.timeArg(sess.StartedAt), s.nullTime(sess.CompletedAt),
	)
	if err != nil {
		return fmt.Errorf("create session: %w", err)
	}
	return nil
}

func (s *sqlStore) GetSession(ctx context.Context, id string) (*models.PomodoroSession, error) {
	sess, err := scanSession(s.db.QueryRowContext(ctx, s.q(`SELECT `+sessionCols+` FROM pomodoro_sessions WHERE id = ?`), id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("session %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	return sess, nil
}

// GetOpenSession returns the user's most recent session without a completion
// time, or ErrNotFound.
func (s *sqlStore) GetOpenSession(ctx context.Context, userID int64) (*models.PomodoroSession, error) {
	sess, err := scanSession(s.db.QueryRowContext(ctx, s.q(
		`SELECT `+sessionCols+` FROM pomodoro_sessions
		WHERE user_id = ? AND completed_at IS NULL
		ORDER BY `+s.d.ts("started_at")+` DESC LIMIT 1`), userID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("open session for user %d: %w", userID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get open session: %w", err)
	}
	return sess, nil
}

func (s *sqlStore) ListSessions(ctx context.Context, userID int64, limit int) ([]*models.PomodoroSession, error) {
	query := `SELECT ` + sessionCols + ` FROM pomodoro_sessions WHERE user_id = ? ORDER BY ` + s.d.ts("started_at") + ` DESC, id DESC`
	args := []any{userID}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}
	return querySessions(ctx, s.db, s.q(query), args...)
}

func (s *sqlStore) ListOpenSessions(ctx context.Context, filter OpenSessionFilter) ([]*models.PomodoroSession, error) {
	query := `SELECT ` + sessionCols + ` FROM pomodoro_sessions WHERE completed_at IS NULL`
	var args []any

	if filter.UserID != 0 {
		query += " AND user_id = ?"
		args = append(args, filter.UserID)
	}
	if !filter.StartedBefore.IsZero() {
		query += " AND " + s.d.ts("started_at") + " < " + s.d.ts("?")
		args = append(args, s.d.timeArg(filter.StartedBefore))
	}
	query += " ORDER BY " + s.d.ts("started_at") + ", id"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}
	return querySessions(ctx, s.db, s.q(query), args...)
}

// CloseSession ends a session if it is still open. It reports false when the
// session was already closed (or does not exist), leaving the row untouched.
func (s *sqlStore) CloseSession(ctx context.Context, id string, c SessionClose) (bool, error) {
	var planned any
	if c.PlannedMinutes != nil {
		planned = *c.PlannedMinutes
	}
	result, err := s.db.ExecContext(ctx, s.q(
		`UPDATE pomodoro_sessions SET completed_at = ?, completed = ?, duration_minutes = COALESCE(?, duration_minutes)
		WHERE id = ? AND completed_at IS NULL`),
		s.d.timeArg(stamp(c.CompletedAt)), c.CompletedFlag, planned, id,
	)
	if err != nil {
		return false, fmt.Errorf("close session: %w", err)
	}
	n, _ := result.RowsAffected()
	return n > 0, nil
}

// DailyTotals sums one user's closed period minutes per UTC date.
func (s *sqlStore) DailyTotals(ctx context.Context, userID int64, from, to time.Time) ([]DailyTotals, error) {
	day := s.d.utcDate("start_time")
	rows, err := s.db.QueryContext(ctx, s.q(
		`SELECT `+day+`, COALESCE(SUM(duration_min), 0), COUNT(*)
		FROM focus_periods
		WHERE user_id = ? AND end_time IS NOT NULL
		AND `+s.d.ts("start_time")+` >= `+s.d.ts("?")+` AND `+s.d.ts("start_time")+` < `+s.d.ts("?")+`
		GROUP BY `+day+` ORDER BY 1`),
		userID, s.d.timeArg(from), s.d.timeArg(to),
	)
	if err != nil {
		return nil, fmt.Errorf("daily totals: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []DailyTotals
	for rows.Next() {
		var dt DailyTotals
		if err := rows.Scan(&dt.Date, &dt.FocusMinutes, &dt.PeriodCount); err != nil {
			return nil, fmt.Errorf("scan daily totals: %w", err)
		}
		dt.FocusMinutes = clock.Round1(dt.FocusMinutes)
		out = append(out, dt)
	}
	return out, rows.Err()
}

// --- Focus periods ---

// CreatePeriod inserts an open period. It returns ErrOpenPeriodExists when the
// session already has one; the partial unique index enforces this even when
// callers race.
func (s *sqlStore) CreatePeriod(ctx context.Context, p *models.FocusPeriod) error {
	if p.ID == "" {
		p.ID = newULID()
	}
	if p.StartTime.IsZero() {
		p.StartTime = time.Now().UTC()
	}
	p.StartTime = stamp(p.StartTime)
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}
	p.CreatedAt = stamp(p.CreatedAt)

	var duration, raw any
	if p.DurationMinutes != nil {
		duration = *p.DurationMinutes
	}
	if p.RawDurationMinutes != nil {
		raw = *p.RawDurationMinutes
	}
	var interrupted any
	if p.IsInterrupted != nil {
		interrupted = *p.IsInterrupted
	}

	_, err := s.db.ExecContext(ctx, s.q(
		`INSERT INTO focus_periods (`+periodCols+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		p.ID, p.SessionID, p.UserID, nullInt64(p.TaskID), s.d.timeArg(p.StartTime), s.nullTime(p.EndTime),
		duration, interrupted, raw, s.d.timeArg(p.CreatedAt),
	)
	if s.d.isUniqueViolation(err) {
		return fmt.Errorf("create period for session %s: %w", p.SessionID, ErrOpenPeriodExists)
	}
	if err != nil {
		return fmt.Errorf("create period: %w", err)
	}
	return nil
}

func (s *sqlStore) GetPeriod(ctx context.Context, id string) (*models.FocusPeriod, error) {
	p, err := scanPeriod(s.db.QueryRowContext(ctx, s.q(`SELECT `+periodCols+` FROM focus_periods WHERE period_id = ?`), id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("period %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get period: %w", err)
	}
	return p, nil
}

func (s *sqlStore) GetOpenPeriod(ctx context.Context, sessionID string) (*models.FocusPeriod, error) {
	p, err := scanPeriod(s.db.QueryRowContext(ctx, s.q(
		`SELECT `+periodCols+` FROM focus_periods WHERE session_id = ? AND end_time IS NULL LIMIT 1`), sessionID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("open period for session %s: %w", sessionID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get open period: %w", err)
	}
	return p, nil
}

func (s *sqlStore) ListPeriods(ctx context.Context, sessionID string) ([]*models.FocusPeriod, error) {
	return queryPeriods(ctx, s.db, s.q(
		`SELECT `+periodCols+` FROM focus_periods WHERE session_id = ?
		ORDER BY `+s.d.ts("start_time")+`, period_id`), sessionID)
}

func (s *sqlStore) ListOpenPeriods(ctx context.Context, filter OpenPeriodFilter) ([]*models.FocusPeriod, error) {
	query := `SELECT ` + periodCols + ` FROM focus_periods WHERE end_time IS NULL`
	var args []any

	if filter.UserID != 0 {
		query += " AND user_id = ?"
		args = append(args, filter.UserID)
	}
	if !filter.StartedBefore.IsZero() {
		query += " AND " + s.d.ts("start_time") + " < " + s.d.ts("?")
		args = append(args, s.d.timeArg(filter.StartedBefore))
	}
	query += " ORDER BY " + s.d.ts("start_time") + ", period_id"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}
	return queryPeriods(ctx, s.db, s.q(query), args...)
}

// ClosePeriod writes end_time, duration_min and is_interrupted in one
// statement, guarded on end_time still being NULL. It reports false when the
// period was already closed, which makes concurrent closers idempotent.
func (s *sqlStore) ClosePeriod(ctx context.Context, id string, c PeriodClose) (bool, error) {
	result, err := s.db.ExecContext(ctx, s.q(
		`UPDATE focus_periods SET end_time = ?, duration_min = ?, is_interrupted = ?
		WHERE period_id = ? AND end_time IS NULL`),
		s.d.timeArg(stamp(c.EndTime)), c.DurationMinutes, c.IsInterrupted, id,
	)
	if err != nil {
		return false, fmt.Errorf("close period: %w", err)
	}
	n, _ := result.RowsAffected()
	return n > 0, nil
}

// ListPeriodsOutsideRange returns closed periods whose duration lies outside
// [min, max].
func (s *sqlStore) ListPeriodsOutsideRange(ctx context.Context, min, max float64) ([]*models.FocusPeriod, error) {
	return queryPeriods(ctx, s.db, s.q(
		`SELECT `+periodCols+` FROM focus_periods
		WHERE end_time IS NOT NULL AND duration_min IS NOT NULL AND (duration_min < ? OR duration_min > ?)
		ORDER BY `+s.d.ts("start_time")+`, period_id`), min, max)
}

// RepairPeriodDuration rewrites a closed period's end and duration, keeping
// the previous duration in raw_duration_min. Rows already repaired are left
// alone.
func (s *sqlStore) RepairPeriodDuration(ctx context.Context, id string, end time.Time, duration, raw float64) (bool, error) {
	result, err := s.db.ExecContext(ctx, s.q(
		`UPDATE focus_periods SET end_time = ?, duration_min = ?, raw_duration_min = ?
		WHERE period_id = ? AND end_time IS NOT NULL AND raw_duration_min IS NULL`),
		s.d.timeArg(stamp(end)), duration, raw, id,
	)
	if err != nil {
		return false, fmt.Errorf("repair period duration: %w", err)
	}
	n, _ := result.RowsAffected()
	return n > 0, nil
}

// --- Brief logs ---

// CreateBriefLog appends a change-log entry. When no session is given, the
// most recent session on the task is associated, if any.
func (s *sqlStore) CreateBriefLog(ctx context.Context, b *models.BriefLog) error {
	if !b.Type.Valid() {
		return fmt.Errorf("create brief log: invalid brief type %d", int(b.Type))
	}
	if b.ID == "" {
		b.ID = newULID()
	}
	if b.CreatedAt.IsZero() {
		b.CreatedAt = time.Now().UTC()
	}
	b.CreatedAt = stamp(b.CreatedAt)

	if b.SessionID == nil {
		var sessionID string
		err := s.db.QueryRowContext(ctx, s.q(
			`SELECT id FROM pomodoro_sessions WHERE task_id = ?
			ORDER BY `+s.d.ts("started_at")+` DESC, id DESC LIMIT 1`), b.TaskID,
		).Scan(&sessionID)
		switch {
		case err == nil:
			b.SessionID = &sessionID
		case errors.Is(err, sql.ErrNoRows):
		default:
			return fmt.Errorf("find session for brief log: %w", err)
		}
	}

	_, err := s.db.ExecContext(ctx, s.q(
		`INSERT INTO task_brieflogs (`+briefCols+`) VALUES (?, ?, ?, ?, ?, ?, ?)`),
		b.ID, nullString(b.SessionID), b.TaskID, b.UserID, int(b.Type), b.Content, s.d.timeArg(b.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("create brief log: %w", err)
	}
	return nil
}

func (s *sqlStore) ListBriefLogs(ctx context.Context, taskID int64) ([]*models.BriefLog, error) {
	return queryBriefLogs(ctx, s.db, s.q(
		`SELECT `+briefCols+` FROM task_brieflogs WHERE task_id = ?
		ORDER BY `+s.d.ts("created_at")+`, debrief_id`), taskID)
}

// --- Snapshot reads ---

// Snapshot runs fn inside a read-only transaction.
func (s *sqlStore) Snapshot(ctx context.Context, fn func(Reader) error) error {
	tx, err := s.db.BeginTx(ctx, s.d.snapshotOptions())
	if err != nil {
		return fmt.Errorf("begin snapshot: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(&sqlReader{q: tx, d: s.d}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit snapshot: %w", err)
	}
	return nil
}

type sqlReader struct {
	q queryer
	d dialect
}

func (r *sqlReader) between(col string) string {
	return r.d.ts(col) + " >= " + r.d.ts("?") + " AND " + r.d.ts(col) + " < " + r.d.ts("?")
}

// ClosedFocusRows returns the user's closed periods that started in [from, to)
// and whose parent session also started in [from, to).
func (r *sqlReader) ClosedFocusRows(ctx context.Context, userID int64, from, to time.Time) ([]FocusRow, error) {
	cols := `p.period_id, p.session_id, p.user_id, p.task_id, p.start_time, p.end_time, p.duration_min, p.is_interrupted, p.raw_duration_min, p.created_at`
	query := r.d.rebind(`SELECT ` + cols + `, s.started_at, s.duration_minutes
		FROM focus_periods p
		JOIN pomodoro_sessions s ON s.id = p.session_id
		WHERE p.user_id = ? AND p.end_time IS NOT NULL
		AND ` + r.between("p.start_time") + `
		AND ` + r.between("s.started_at") + `
		ORDER BY ` + r.d.ts("p.start_time") + `, p.period_id`)

	rows, err := r.q.QueryContext(ctx, query, userID,
		r.d.timeArg(from), r.d.timeArg(to), r.d.timeArg(from), r.d.timeArg(to))
	if err != nil {
		return nil, fmt.Errorf("focus rows: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []FocusRow
	for rows.Next() {
		var sessionStarted any
		var planned int
		p, err := scanPeriod(rows, &sessionStarted, &planned)
		if err != nil {
			return nil, fmt.Errorf("scan focus row: %w", err)
		}
		started, err := clock.Normalize(sessionStarted)
		if err != nil {
			return nil, fmt.Errorf("focus row session started_at: %w", err)
		}
		out = append(out, FocusRow{Period: p, SessionStartedAt: started, PlannedMinutes: planned})
	}
	return out, rows.Err()
}

func (r *sqlReader) SessionsStartedBetween(ctx context.Context, userID int64, from, to time.Time) ([]*models.PomodoroSession, error) {
	return querySessions(ctx, r.q, r.d.rebind(
		`SELECT `+sessionCols+` FROM pomodoro_sessions
		WHERE user_id = ? AND `+r.between("started_at")+`
		ORDER BY `+r.d.ts("started_at")+`, id`),
		userID, r.d.timeArg(from), r.d.timeArg(to))
}

func (r *sqlReader) TasksCreatedBetween(ctx context.Context, userID int64, from, to time.Time) ([]*models.Task, error) {
	return queryTasks(ctx, r.q, r.d.rebind(
		`SELECT `+taskCols+` FROM tasks
		WHERE user_id = ? AND `+r.between("created_at")+`
		ORDER BY `+r.d.ts("created_at")+`, id`),
		userID, r.d.timeArg(from), r.d.timeArg(to))
}

func (r *sqlReader) BriefLogsBetween(ctx context.Context, userID int64, from, to time.Time, types []models.BriefType) ([]*models.BriefLog, error) {
	query := `SELECT ` + briefCols + ` FROM task_brieflogs WHERE user_id = ? AND ` + r.between("created_at")
	args := []any{userID, r.d.timeArg(from), r.d.timeArg(to)}
	if len(types) > 0 {
		query += " AND brief_type IN (" + placeholders(len(types)) + ")"
		for _, t := range types {
			args = append(args, int(t))
		}
	}
	query += " ORDER BY " + r.d.ts("created_at") + ", debrief_id"
	return queryBriefLogs(ctx, r.q, r.d.rebind(query), args...)
}
