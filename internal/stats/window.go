package stats

import (
	"fmt"
	"strings"
	"time"
)

// WindowKind selects the calendar span of a report.
type WindowKind string

const (
	WindowWeek  WindowKind = "week"
	WindowMonth WindowKind = "month"
)

// ParseWindowKind accepts "week" or "month" (case-insensitive). Empty means week.
func ParseWindowKind(s string) (WindowKind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "week":
		return WindowWeek, nil
	case "month":
		return WindowMonth, nil
	default:
		return "", fmt.Errorf("invalid window %q: must be week or month", s)
	}
}

// Window is the half-open span [Start, End) in one location.
type Window struct {
	Kind  WindowKind
	Start time.Time
	End   time.Time
}

// NewWindow returns the week (Monday 00:00 onwards) or calendar month
// containing now, in loc.
func NewWindow(kind WindowKind, now time.Time, loc *time.Location) (Window, error) {
	if loc == nil {
		loc = time.Local
	}
	local := now.In(loc)
	midnight := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)

	switch kind {
	case WindowWeek:
		// Monday is day 0.
		offset := (int(midnight.Weekday()) + 6) % 7
		start := midnight.AddDate(0, 0, -offset)
		return Window{Kind: kind, Start: start, End: start.AddDate(0, 0, 7)}, nil
	case WindowMonth:
		start := time.Date(local.Year(), local.Month(), 1, 0, 0, 0, 0, loc)
		return Window{Kind: kind, Start: start, End: start.AddDate(0, 1, 0)}, nil
	default:
		return Window{}, fmt.Errorf("invalid window kind %q", kind)
	}
}

// Days returns the local midnight of every day in the window.
func (w Window) Days() []time.Time {
	var days []time.Time
	for d := w.Start; d.Before(w.End); d = d.AddDate(0, 0, 1) {
		days = append(days, d)
	}
	return days
}

// ElapsedDays counts the days from the window start through the day holding
// now, inclusive. It is at least 1 and at most the window length.
func (w Window) ElapsedDays(now time.Time) int {
	days := w.Days()
	n := 0
	for _, d := range days {
		if now.Before(d) {
			break
		}
		n++
	}
	if n < 1 {
		return 1
	}
	return n
}

// dayKey is the local calendar date of t as YYYY-MM-DD.
func (w Window) dayKey(t time.Time) string {
	return t.In(w.Start.Location()).Format("2006-01-02")
}
