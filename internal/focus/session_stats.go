package focus

import (
	"context"
	"math"

	"github.com/linphage/Arzu-Simulater-test-sub001/internal/clock"
	"github.com/linphage/Arzu-Simulater-test-sub001/internal/models"
)

// SessionStats summarizes the periods of one session. Focus minutes are
// always recomputed from closed periods.
type SessionStats struct {
	SessionID            string  `json:"sessionId"`
	PeriodCount          int     `json:"periodCount"`
	ClosedCount          int     `json:"closedCount"`
	OpenCount            int     `json:"openCount"`
	InterruptedCount     int     `json:"interruptedCount"`
	TotalFocusMinutes    float64 `json:"totalFocusMinutes"`
	AveragePeriodMinutes float64 `json:"averagePeriodMinutes"`
	LongestPeriodMinutes float64 `json:"longestPeriodMinutes"`
	PlannedMinutes       int     `json:"plannedMinutes"`
	FocusIndex           int     `json:"focusIndex"`
}

// SessionPeriodStats computes SessionStats for one of the user's sessions.
func (e *Engine) SessionPeriodStats(ctx context.Context, userID int64, sessionID string) (*SessionStats, error) {
	const op = "session period stats"

	sess, err := e.getSession(ctx, op, userID, sessionID)
	if err != nil {
		return nil, err
	}
	periods, err := e.store.ListPeriods(ctx, sessionID)
	if err != nil {
		return nil, internal(op, err)
	}
	return summarize(sess, periods), nil
}

func summarize(sess *models.PomodoroSession, periods []*models.FocusPeriod) *SessionStats {
	st := &SessionStats{
		SessionID:      sess.ID,
		PeriodCount:    len(periods),
		PlannedMinutes: sess.PlannedDurationMinutes,
	}
	for _, p := range periods {
		if p.IsOpen() {
			st.OpenCount++
			continue
		}
		st.ClosedCount++
		m := p.Minutes()
		st.TotalFocusMinutes += m
		if m > st.LongestPeriodMinutes {
			st.LongestPeriodMinutes = m
		}
		if p.Interrupted() {
			st.InterruptedCount++
		}
	}
	st.TotalFocusMinutes = clock.Round1(st.TotalFocusMinutes)
	if st.ClosedCount > 0 {
		st.AveragePeriodMinutes = clock.Round1(st.TotalFocusMinutes / float64(st.ClosedCount))
	}
	st.FocusIndex = FocusIndex(st.TotalFocusMinutes, float64(st.PlannedMinutes))
	return st
}

// FocusIndex is round(100 * focus / planned) bounded to [0, 100]. It is 0
// when nothing was planned.
func FocusIndex(focusMinutes, plannedMinutes float64) int {
	if plannedMinutes <= 0 {
		return 0
	}
	idx := int(math.Round(100 * focusMinutes / plannedMinutes))
	if idx > 100 {
		return 100
	}
	if idx < 0 {
		return 0
	}
	return idx
}
