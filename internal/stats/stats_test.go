package stats

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/linphage/Arzu-Simulater-test-sub001/internal/models"
	"github.com/linphage/Arzu-Simulater-test-sub001/internal/store"
)

// Wednesday.
var now = time.Date(2025, 3, 12, 15, 0, 0, 0, time.UTC)

func newTestStore(t *testing.T) *store.SQLiteStore {
	t.Helper()
	s, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	require.NoError(t, s.Migrate(context.Background()))
	t.Cleanup(func() { s.Close() })
	return s
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Location = time.UTC
	return cfg
}

func f64(v float64) *float64 { return &v }

func closedRow(start time.Time, minutes float64, interrupted bool) store.FocusRow {
	end := start.Add(time.Duration(minutes * float64(time.Minute)))
	return store.FocusRow{Period: &models.FocusPeriod{
		StartTime:       start,
		EndTime:         &end,
		DurationMinutes: f64(minutes),
		IsInterrupted:   &interrupted,
	}}
}

// --- Windows ---

func TestNewWindow_Week(t *testing.T) {
	w, err := NewWindow(WindowWeek, now, time.UTC)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC), w.Start)
	assert.Equal(t, time.Date(2025, 3, 17, 0, 0, 0, 0, time.UTC), w.End)
	assert.Len(t, w.Days(), 7)
	assert.Equal(t, 3, w.ElapsedDays(now))
}

func TestNewWindow_WeekOnSunday(t *testing.T) {
	sunday := time.Date(2025, 3, 16, 23, 59, 59, 0, time.UTC)
	w, err := NewWindow(WindowWeek, sunday, time.UTC)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC), w.Start)
	assert.Equal(t, 7, w.ElapsedDays(sunday))
}

func TestNewWindow_Month(t *testing.T) {
	w, err := NewWindow(WindowMonth, now, time.UTC)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC), w.Start)
	assert.Equal(t, time.Date(2025, 4, 1, 0, 0, 0, 0, time.UTC), w.End)
	assert.Len(t, w.Days(), 31)
	assert.Equal(t, 12, w.ElapsedDays(now))
	assert.Equal(t, 31, w.ElapsedDays(w.End.Add(time.Hour)))
}

func TestNewWindow_Location(t *testing.T) {
	shanghai := time.FixedZone("CST", 8*3600)
	// Sunday 20:00 UTC is already Monday in Shanghai.
	sundayUTC := time.Date(2025, 3, 16, 20, 0, 0, 0, time.UTC)
	w, err := NewWindow(WindowWeek, sundayUTC, shanghai)
	require.NoError(t, err)
	assert.True(t, w.Start.Equal(time.Date(2025, 3, 16, 16, 0, 0, 0, time.UTC)))
	assert.Equal(t, 1, w.ElapsedDays(sundayUTC))
}

func TestParseWindowKind(t *testing.T) {
	k, err := ParseWindowKind("")
	require.NoError(t, err)
	assert.Equal(t, WindowWeek, k)
	k, err = ParseWindowKind("Month")
	require.NoError(t, err)
	assert.Equal(t, WindowMonth, k)
	_, err = ParseWindowKind("year")
	assert.Error(t, err)
	_, err = NewWindow("year", now, time.UTC)
	assert.Error(t, err)
}

func TestParseOffset(t *testing.T) {
	tests := []struct {
		in   string
		secs int
	}{
		{"+08:00", 8 * 3600},
		{"-0530", -(5*3600 + 30*60)},
		{"Z", 0},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			loc, err := ParseOffset(tt.in)
			require.NoError(t, err)
			_, off := time.Date(2025, 1, 1, 0, 0, 0, 0, loc).Zone()
			assert.Equal(t, tt.secs, off)
		})
	}
	_, err := ParseOffset("8")
	assert.Error(t, err)
	_, err = ParseOffset("+25:00")
	assert.Error(t, err)
}

// --- Focus report ---

func TestBuildFocus_Figures(t *testing.T) {
	w, err := NewWindow(WindowWeek, now, time.UTC)
	require.NoError(t, err)
	mon := w.Start

	sessions := []*models.PomodoroSession{
		{PlannedDurationMinutes: 25, StartedAt: mon.Add(9 * time.Hour)},
		{PlannedDurationMinutes: 25, StartedAt: mon.Add(33 * time.Hour)},
	}
	rows := []store.FocusRow{
		closedRow(mon.Add(9*time.Hour), 10, false),
		closedRow(mon.Add(9*time.Hour+12*time.Minute), 10, true),
		closedRow(mon.Add(33*time.Hour), 12.5, true),
		closedRow(mon.Add(34*time.Hour), 301, false), // outlier
	}

	rep := buildFocus(w, now, rows, sessions, 300)
	assert.Equal(t, 3, rep.ElapsedDays)
	assert.Equal(t, 32.5, rep.TotalFocusMinutes)
	assert.Equal(t, 50, rep.TotalPlannedMinutes)
	assert.Equal(t, 3, rep.PeriodCount)
	assert.Equal(t, 1, rep.ExcludedOutliers)
	assert.Equal(t, 2, rep.InterruptedCount)
	assert.Equal(t, 10.8, rep.AvgFocusTime)
	assert.Equal(t, 0.7, rep.AvgInterruptions)
	assert.Equal(t, 65, rep.FocusIndex)

	require.Len(t, rep.Daily, 3)
	assert.Equal(t, "2025-03-10", rep.Daily[0].Date)
	assert.Equal(t, 20.0, rep.Daily[0].FocusMinutes)
	assert.Equal(t, 1, rep.Daily[0].Interruptions)
	assert.Equal(t, 80, rep.Daily[0].FocusIndex)
	assert.Equal(t, 12.5, rep.Daily[1].FocusMinutes)
	assert.Equal(t, 50, rep.Daily[1].FocusIndex)
	assert.Equal(t, DayFocus{Date: "2025-03-12"}, rep.Daily[2])
}

func TestBuildFocus_FocusIndexClamped(t *testing.T) {
	w, err := NewWindow(WindowWeek, now, time.UTC)
	require.NoError(t, err)

	sessions := []*models.PomodoroSession{{PlannedDurationMinutes: 10, StartedAt: w.Start}}
	rows := []store.FocusRow{closedRow(w.Start, 250, false)}

	rep := buildFocus(w, now, rows, sessions, 300)
	assert.Equal(t, 100, rep.FocusIndex)
	assert.Equal(t, 100, rep.Daily[0].FocusIndex)
}

func TestBuildFocus_Empty(t *testing.T) {
	w, err := NewWindow(WindowMonth, now, time.UTC)
	require.NoError(t, err)

	rep := buildFocus(w, now, nil, nil, 300)
	assert.Equal(t, 0, rep.FocusIndex, "no planned minutes means index 0")
	assert.Equal(t, 0.0, rep.AvgFocusTime)
	assert.Len(t, rep.Daily, 12)
}

func TestAggregator_FocusUsesWindowedSessions(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	w, err := NewWindow(WindowWeek, now, time.UTC)
	require.NoError(t, err)

	add := func(started time.Time, minutes float64) {
		sess := &models.PomodoroSession{UserID: 1, PlannedDurationMinutes: 25, StartedAt: started}
		require.NoError(t, s.CreateSession(ctx, sess))
		p := &models.FocusPeriod{SessionID: sess.ID, UserID: 1, StartTime: started}
		require.NoError(t, s.CreatePeriod(ctx, p))
		_, err := s.ClosePeriod(ctx, p.ID, store.PeriodClose{
			EndTime:         started.Add(time.Duration(minutes * float64(time.Minute))),
			DurationMinutes: minutes,
		})
		require.NoError(t, err)
	}
	add(w.Start.Add(10*time.Hour), 20)
	add(w.Start.Add(-time.Hour), 40) // last week

	a := New(s, testConfig())
	rep, err := a.Focus(ctx, 1, WindowWeek, now)
	require.NoError(t, err)
	assert.Equal(t, 20.0, rep.TotalFocusMinutes)
	assert.Equal(t, 25, rep.TotalPlannedMinutes)
	assert.Equal(t, 80, rep.FocusIndex)

	again, err := a.Focus(ctx, 1, WindowWeek, now)
	require.NoError(t, err)
	assert.Equal(t, rep, again, "reports are reproducible")
}

// --- Habit report ---

func TestAggregator_HabitScenarioC(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	w, err := NewWindow(WindowWeek, now, time.UTC)
	require.NoError(t, err)

	a1 := &models.Task{UserID: 1, Title: "a", Category: models.TaskCategoryWork, CreatedAt: w.Start.Add(time.Hour)}
	b1 := &models.Task{UserID: 1, Title: "b", Category: models.TaskCategoryStudy, CreatedAt: w.Start.Add(2 * time.Hour)}
	require.NoError(t, s.CreateTask(ctx, a1))
	require.NoError(t, s.CreateTask(ctx, b1))
	require.NoError(t, s.CreateBriefLog(ctx, &models.BriefLog{
		TaskID: a1.ID, UserID: 1, Type: models.BriefTypeCategoryChange, CreatedAt: w.Start.Add(3 * time.Hour),
	}))

	rep, err := New(s, testConfig()).Habit(ctx, 1, WindowWeek, now)
	require.NoError(t, err)
	assert.Equal(t, 2, rep.TotalTasksCreated)
	assert.Equal(t, 1, rep.TotalProblematicEvents)
	assert.Equal(t, 50, rep.ProblematicEventRatio)
	assert.Equal(t, 1, rep.EventsByType["category_change"])

	require.Len(t, rep.Categories, 4)
	assert.Equal(t, CategoryStat{Category: models.TaskCategoryWork, Total: 1, Affected: 1, Percentage: 100}, rep.Categories[0])
	assert.Equal(t, CategoryStat{Category: models.TaskCategoryStudy, Total: 1, Affected: 0, Percentage: 0}, rep.Categories[1])
}

func TestBuildHabit_DistinctTasks(t *testing.T) {
	w, err := NewWindow(WindowWeek, now, time.UTC)
	require.NoError(t, err)

	tasks := []*models.Task{{ID: 1, Category: models.TaskCategoryWork}}
	logs := []*models.BriefLog{
		{TaskID: 1, Type: models.BriefTypePriorityChange, CreatedAt: w.Start},
		{TaskID: 1, Type: models.BriefTypeDueDateChange, CreatedAt: w.Start},
		{TaskID: 1, Type: models.BriefTypePriorityChange, CreatedAt: w.Start},
	}
	rep := buildHabit(w, tasks, logs, models.DefaultTaskCategories, time.UTC)
	assert.Equal(t, 1, rep.TotalTasksCreated)
	assert.Equal(t, 1, rep.TotalProblematicEvents)
	assert.Equal(t, 100, rep.ProblematicEventRatio)
	assert.Equal(t, 2, rep.EventsByType["priority_change"])
	assert.Equal(t, 1, rep.EventsByType["due_date_change"])
	assert.Equal(t, 0, rep.EventsByType["delete_reason"])
}

func TestBuildHabit_ExcludesUncategorizedTasks(t *testing.T) {
	w, err := NewWindow(WindowWeek, now, time.UTC)
	require.NoError(t, err)

	tasks := []*models.Task{
		{ID: 1, Category: models.TaskCategoryLife},
		{ID: 2, Category: ""},
		{ID: 3, Category: "misc"},
	}
	rep := buildHabit(w, tasks, nil, models.DefaultTaskCategories, time.UTC)
	assert.Equal(t, 1, rep.TotalTasksCreated)
	assert.Equal(t, 0, rep.ProblematicEventRatio)
	assert.Empty(t, rep.PeakHours)
}

func TestBuildHabit_ZeroDenominator(t *testing.T) {
	w, err := NewWindow(WindowWeek, now, time.UTC)
	require.NoError(t, err)

	logs := []*models.BriefLog{{TaskID: 9, Type: models.BriefTypeDeleteReason, CreatedAt: w.Start}}
	rep := buildHabit(w, nil, logs, models.DefaultTaskCategories, time.UTC)
	assert.Equal(t, 0, rep.TotalTasksCreated)
	assert.Equal(t, 1, rep.TotalProblematicEvents)
	assert.Equal(t, 0, rep.ProblematicEventRatio)
}

func TestBuildHabit_PeakHours(t *testing.T) {
	w, err := NewWindow(WindowWeek, now, time.UTC)
	require.NoError(t, err)
	zone, err := ParseOffset("+08:00")
	require.NoError(t, err)

	// UTC hour -> +08:00 hour: 0 -> 8, 1 -> 9, 2 -> 10, 14 -> 22, 16 -> 0.
	var logs []*models.BriefLog
	addAt := func(utcHour, n int) {
		for i := 0; i < n; i++ {
			logs = append(logs, &models.BriefLog{
				TaskID:    int64(len(logs) + 1),
				Type:      models.BriefTypeCategoryChange,
				CreatedAt: w.Start.Add(time.Duration(utcHour) * time.Hour),
			})
		}
	}
	addAt(0, 2)  // 08:00-10:00
	addAt(1, 1)  // 08:00-10:00
	addAt(2, 3)  // 10:00-12:00
	addAt(14, 3) // 22:00-24:00
	addAt(16, 1) // 00:00-02:00

	rep := buildHabit(w, nil, logs, models.DefaultTaskCategories, zone)
	require.Len(t, rep.PeakHours, 3)
	assert.Equal(t, HourBucket{StartHour: 8, Label: "08:00-10:00", Count: 3}, rep.PeakHours[0])
	assert.Equal(t, HourBucket{StartHour: 10, Label: "10:00-12:00", Count: 3}, rep.PeakHours[1])
	assert.Equal(t, HourBucket{StartHour: 22, Label: "22:00-24:00", Count: 3}, rep.PeakHours[2])
	assert.Equal(t, "+08:00", rep.HistogramOffset)
}

func TestNew_Defaults(t *testing.T) {
	a := New(nil, Config{})
	assert.Equal(t, 300.0, a.cfg.OutlierCeiling)
	assert.Equal(t, models.DefaultTaskCategories, a.cfg.Categories)
	assert.NotNil(t, a.cfg.HistogramZone)
}
