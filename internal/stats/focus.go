package stats

import (
	"time"

	"github.com/linphage/Arzu-Simulater-test-sub001/internal/clock"
	"github.com/linphage/Arzu-Simulater-test-sub001/internal/focus"
	"github.com/linphage/Arzu-Simulater-test-sub001/internal/models"
	"github.com/linphage/Arzu-Simulater-test-sub001/internal/store"
)

// FocusReport summarizes closed focus periods in a window.
type FocusReport struct {
	Window              WindowKind `json:"window"`
	From                time.Time  `json:"from"`
	To                  time.Time  `json:"to"`
	ElapsedDays         int        `json:"elapsedDays"`
	TotalFocusMinutes   float64    `json:"totalFocusMinutes"`
	TotalPlannedMinutes int        `json:"totalPlannedMinutes"`
	PeriodCount         int        `json:"periodCount"`
	InterruptedCount    int        `json:"interruptedCount"`
	ExcludedOutliers    int        `json:"excludedOutliers"`
	AvgFocusTime        float64    `json:"avgFocusTime"`
	AvgInterruptions    float64    `json:"avgInterruptions"`
	FocusIndex          int        `json:"focusIndex"`
	Daily               []DayFocus `json:"daily"`
}

// DayFocus holds the same figures for one calendar day.
type DayFocus struct {
	Date           string  `json:"date"`
	FocusMinutes   float64 `json:"focusTime"`
	Interruptions  int     `json:"interruptions"`
	PlannedMinutes int     `json:"plannedMinutes"`
	FocusIndex     int     `json:"focusIndex"`
}

func buildFocus(w Window, now time.Time, rows []store.FocusRow, sessions []*models.PomodoroSession, ceiling float64) *FocusReport {
	elapsed := w.ElapsedDays(now)
	rep := &FocusReport{
		Window:      w.Kind,
		From:        w.Start,
		To:          w.End,
		ElapsedDays: elapsed,
	}

	days := w.Days()[:elapsed]
	index := make(map[string]*DayFocus, len(days))
	rep.Daily = make([]DayFocus, len(days))
	for i, d := range days {
		rep.Daily[i].Date = w.dayKey(d)
		index[rep.Daily[i].Date] = &rep.Daily[i]
	}

	for _, s := range sessions {
		rep.TotalPlannedMinutes += s.PlannedDurationMinutes
		if day := index[w.dayKey(s.StartedAt)]; day != nil {
			day.PlannedMinutes += s.PlannedDurationMinutes
		}
	}

	var total float64
	for _, row := range rows {
		p := row.Period
		m := p.Minutes()
		if m > ceiling {
			rep.ExcludedOutliers++
			continue
		}
		total += m
		rep.PeriodCount++
		if p.Interrupted() {
			rep.InterruptedCount++
		}
		if day := index[w.dayKey(p.StartTime)]; day != nil {
			day.FocusMinutes += m
			if p.Interrupted() {
				day.Interruptions++
			}
		}
	}

	rep.TotalFocusMinutes = clock.Round1(total)
	rep.AvgFocusTime = clock.Round1(total / float64(elapsed))
	rep.AvgInterruptions = clock.Round1(float64(rep.InterruptedCount) / float64(elapsed))
	rep.FocusIndex = focus.FocusIndex(total, float64(rep.TotalPlannedMinutes))

	for i := range rep.Daily {
		d := &rep.Daily[i]
		d.FocusIndex = focus.FocusIndex(d.FocusMinutes, float64(d.PlannedMinutes))
		d.FocusMinutes = clock.Round1(d.FocusMinutes)
	}
	return rep
}
