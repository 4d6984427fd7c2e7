package task

import (
	"time"
)

type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
)

const (
	DefaultPriority = "medium"
	DefaultStatus   = StatusPending
)

type Task struct {
	ID          int64     `json:"id" db:"id"`
	Title       string    `json:"title" db:"title"`
	Description string    `json:"description" db:"description"`
	Status      Status    `json:"status" db:"status"`
	Priority    string    `json:"priority" db:"priority"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
}

// NewTask is the input for an insert; the store assigns ID, Status and CreatedAt.
type NewTask struct {
	Title       string
	Description string
	Priority    string
}

type StatusCount struct {
	Status Status `json:"status" db:"status"`
	Count  int64  `json:"count" db:"count"`
}
