package db

import (
	"time"

	"gorm.io/gorm"
)

// Status is the lifecycle state of a ScheduledTask.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// IsTerminal reports whether no further transition can leave this status.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// CanTransition reports whether from -> to is an edge of the state machine
// pending -> running -> {completed | failed}.
func CanTransition(from, to Status) bool {
	switch from {
	case StatusPending:
		return to == StatusRunning
	case StatusRunning:
		return to == StatusCompleted || to == StatusFailed
	}
	return false
}

// RunType says what moved a ScheduledTask out of pending. It is carried for
// observability only.
type RunType string

const (
	RunTypeManual    RunType = "manual"
	RunTypeScheduled RunType = "scheduled"
)

// Failure reasons recorded on failed ScheduledTasks.
const (
	ReasonExecutionFailed = "ExecutionFailed"
	ReasonTimeout         = "Timeout"
	ReasonAbandoned       = "Abandoned"   // swept by the reconciler after a restart
	ReasonInterrupted     = "Interrupted" // engine shut down mid-run
)

// TaskFile is the single attachment of a Task.
type TaskFile struct {
	Filename    string `json:"filename" gorm:"not null"`
	ContentType string `json:"content_type" gorm:"not null"`
	Content     string `json:"content" gorm:"type:text;not null"`
}

// Task is a user's uploaded automation request.
type Task struct {
	gorm.Model
	Title          string          `json:"title" gorm:"not null"`
	Description    string          `json:"description" gorm:"type:text;not null"`
	File           TaskFile        `json:"file" gorm:"embedded;embeddedPrefix:file_"`
	OwnerID        string          `json:"owner_id" gorm:"index;not null"`
	ScheduledTasks []ScheduledTask `json:"-" gorm:"foreignKey:RecordID"`
}

// ScheduledTask is one scheduling/execution entry for a Task. Rows are kept as
// history and never deleted, so there is no DeletedAt column.
type ScheduledTask struct {
	ID            uint       `json:"id" gorm:"primaryKey"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
	RecordID      uint       `json:"record_id" gorm:"index;not null"`
	ScriptID      string     `json:"script_id" gorm:"index;not null"`
	Script        string     `json:"script" gorm:"type:text;not null"`
	ScheduledTime time.Time  `json:"scheduled_time" gorm:"index;not null"`
	Status        Status     `json:"status" gorm:"index;not null;default:pending"`
	RunType       RunType    `json:"run_type,omitempty"`
	StartedAt     *time.Time `json:"started_at,omitempty"`
	FinishedAt    *time.Time `json:"finished_at,omitempty"`
	ResultRef     string     `json:"result_ref,omitempty"`
	ResultOutput  string     `json:"result_output,omitempty" gorm:"type:text"`
	FailureReason string     `json:"failure_reason,omitempty"`
	FailureDetail string     `json:"failure_detail,omitempty" gorm:"type:text"`
}
