package models

import "time"

// FocusPeriod is one contiguous interval of attention within a session.
// EndTime, DurationMinutes and IsInterrupted are written together, once, when
// the period closes.
type FocusPeriod struct {
	ID              string     `json:"periodId"`
	SessionID       string     `json:"sessionId"`
	UserID          int64      `json:"userId"`
	TaskID          *int64     `json:"taskId,omitempty"`
	StartTime       time.Time  `json:"startTime"`
	EndTime         *time.Time `json:"endTime,omitempty"`
	DurationMinutes *float64   `json:"durationMinutes,omitempty"`
	IsInterrupted   *bool      `json:"isInterrupted,omitempty"`
	// RawDurationMinutes holds the pre-repair value when a historical
	// duration was clamped.
	RawDurationMinutes *float64  `json:"rawDurationMinutes,omitempty"`
	CreatedAt          time.Time `json:"createdAt"`
}

// IsOpen reports whether the period has no end time yet.
func (p *FocusPeriod) IsOpen() bool {
	return p.EndTime == nil
}

// Minutes returns the recorded duration, or 0 for an open period.
func (p *FocusPeriod) Minutes() float64 {
	if p.DurationMinutes == nil {
		return 0
	}
	return *p.DurationMinutes
}

// Interrupted returns the interruption flag, treating an unset flag as false.
func (p *FocusPeriod) Interrupted() bool {
	return p.IsInterrupted != nil && *p.IsInterrupted
}
