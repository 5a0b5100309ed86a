package models

import (
	"fmt"
	"time"
)

// BriefType classifies a task change-log entry. Values 1-4 are the
// problematic events consumed by habit statistics; 5-8 are free-text remarks.
type BriefType int

const (
	BriefTypeDeleteReason   BriefType = 1
	BriefTypeCategoryChange BriefType = 2
	BriefTypePriorityChange BriefType = 3
	BriefTypeDueDateChange  BriefType = 4
	BriefTypeRemarkGeneral  BriefType = 5
	BriefTypeRemarkProgress BriefType = 6
	BriefTypeRemarkBlocker  BriefType = 7
	BriefTypeRemarkReview   BriefType = 8
)

// ProblematicBriefTypes lists the types counted as problematic events.
var ProblematicBriefTypes = []BriefType{
	BriefTypeDeleteReason,
	BriefTypeCategoryChange,
	BriefTypePriorityChange,
	BriefTypeDueDateChange,
}

// IsProblematic reports whether the type counts as a problematic event.
func (t BriefType) IsProblematic() bool {
	return t >= BriefTypeDeleteReason && t <= BriefTypeDueDateChange
}

// Valid reports whether t is one of the eight known types.
func (t BriefType) Valid() bool {
	return t >= BriefTypeDeleteReason && t <= BriefTypeRemarkReview
}

func (t BriefType) String() string {
	switch t {
	case BriefTypeDeleteReason:
		return "delete_reason"
	case BriefTypeCategoryChange:
		return "category_change"
	case BriefTypePriorityChange:
		return "priority_change"
	case BriefTypeDueDateChange:
		return "due_date_change"
	case BriefTypeRemarkGeneral:
		return "remark_general"
	case BriefTypeRemarkProgress:
		return "remark_progress"
	case BriefTypeRemarkBlocker:
		return "remark_blocker"
	case BriefTypeRemarkReview:
		return "remark_review"
	default:
		return fmt.Sprintf("brief_type(%d)", int(t))
	}
}

// BriefLog is a write-once change-log entry against a task.
type BriefLog struct {
	ID        string    `json:"debriefId"`
	SessionID *string   `json:"sessionId,omitempty"`
	TaskID    int64     `json:"taskId"`
	UserID    int64     `json:"userId"`
	Type      BriefType `json:"briefType"`
	Content   string    `json:"briefContent"`
	CreatedAt time.Time `json:"createdAt"`
}
