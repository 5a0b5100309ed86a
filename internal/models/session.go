package models

import "time"

// PomodoroSession is one planned focus block. A nil CompletedAt means the
// session is still open.
type PomodoroSession struct {
	ID                     string     `json:"id"`
	UserID                 int64      `json:"userId"`
	TaskID                 *int64     `json:"taskId,omitempty"`
	PlannedDurationMinutes int        `json:"plannedDurationMinutes"`
	StartedAt              time.Time  `json:"startedAt"`
	CompletedAt            *time.Time `json:"completedAt,omitempty"`
	// CompletedFlag records that the user finished the underlying task. It is
	// independent of whether the session itself is closed.
	CompletedFlag bool `json:"completed"`
}

// IsOpen reports whether the session has not been ended yet.
func (s *PomodoroSession) IsOpen() bool {
	return s.CompletedAt == nil
}
