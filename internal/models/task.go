package models

import "time"

// TaskCategory is the label a task is filed under. An empty category marks a
// template or incomplete record.
type TaskCategory string

const (
	TaskCategoryWork   TaskCategory = "work"
	TaskCategoryStudy  TaskCategory = "study"
	TaskCategoryLife   TaskCategory = "life"
	TaskCategoryHealth TaskCategory = "health"
)

// DefaultTaskCategories are the recognized categories when none are configured.
var DefaultTaskCategories = []TaskCategory{
	TaskCategoryWork,
	TaskCategoryStudy,
	TaskCategoryLife,
	TaskCategoryHealth,
}

// Task is the unit of work sessions are started against. Only the fields the
// focus engine and analytics read are modelled here.
type Task struct {
	ID        int64        `json:"id"`
	UserID    int64        `json:"userId"`
	Title     string       `json:"title"`
	Category  TaskCategory `json:"category"`
	Priority  string       `json:"priority,omitempty"`
	DueDate   *time.Time   `json:"dueDate,omitempty"`
	CreatedAt time.Time    `json:"createdAt"`
}
