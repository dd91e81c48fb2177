package services

import (
	"time"

	taskDB "automation-engine-service/internal/task-manager/db"
)

const (
	DefaultExpectedRunDuration = 45 * time.Second

	// A running entry climbs linearly to plateauPercent over the expected
	// duration, then creeps toward ceilingPercent without reaching it.
	plateauPercent = 90
	ceilingPercent = 99
)

// Progress is the pollable view of a ScheduledTask.
type Progress struct {
	ID            uint           `json:"id"`
	Status        taskDB.Status  `json:"status"`
	Percent       int            `json:"percent"`
	RunType       taskDB.RunType `json:"run_type,omitempty"`
	ScheduledTime time.Time      `json:"scheduled_time"`
	StartedAt     *time.Time     `json:"started_at,omitempty"`
	FinishedAt    *time.Time     `json:"finished_at,omitempty"`
	ResultRef     string         `json:"result_ref,omitempty"`
	FailureReason string         `json:"failure_reason,omitempty"`
}

// EstimateProgress is a pure function of the entry, the clock and the expected
// run duration. For a running entry the percent never decreases as now
// advances and stays below 100.
func EstimateProgress(entry *taskDB.ScheduledTask, now time.Time, expected time.Duration) Progress {
	p := Progress{
		ID:            entry.ID,
		Status:        entry.Status,
		RunType:       entry.RunType,
		ScheduledTime: entry.ScheduledTime,
		StartedAt:     entry.StartedAt,
		FinishedAt:    entry.FinishedAt,
	}

	switch entry.Status {
	case taskDB.StatusPending:
		p.Percent = 0
	case taskDB.StatusRunning:
		p.Percent = runningPercent(entry.StartedAt, now, expected)
	case taskDB.StatusCompleted:
		p.Percent = 100
		p.ResultRef = entry.ResultRef
	case taskDB.StatusFailed:
		p.Percent = 100
		p.FailureReason = entry.FailureReason
	}
	return p
}

func runningPercent(startedAt *time.Time, now time.Time, expected time.Duration) int {
	if expected <= 0 {
		expected = DefaultExpectedRunDuration
	}
	if startedAt == nil {
		return 0
	}
	elapsed := now.Sub(*startedAt)
	if elapsed <= 0 {
		return 0
	}
	if elapsed <= expected {
		return int(float64(plateauPercent) * float64(elapsed) / float64(expected))
	}
	over := 1 - float64(expected)/float64(elapsed)
	return plateauPercent + int(float64(ceilingPercent-plateauPercent)*over)
}
