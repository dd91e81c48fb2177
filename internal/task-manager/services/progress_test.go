package services

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	taskDB "automation-engine-service/internal/task-manager/db"
)

func TestEstimateProgress_ByStatus(t *testing.T) {
	now := time.Date(2026, 10, 15, 9, 0, 0, 0, time.UTC)
	started := now.Add(-30 * time.Second)
	finished := now.Add(-time.Second)

	pending := &taskDB.ScheduledTask{ID: 1, Status: taskDB.StatusPending}
	assert.Equal(t, 0, EstimateProgress(pending, now, time.Minute).Percent)

	running := &taskDB.ScheduledTask{ID: 2, Status: taskDB.StatusRunning, StartedAt: &started}
	assert.Equal(t, 45, EstimateProgress(running, now, time.Minute).Percent)

	completed := &taskDB.ScheduledTask{ID: 3, Status: taskDB.StatusCompleted, StartedAt: &started, FinishedAt: &finished, ResultRef: "r-1"}
	p := EstimateProgress(completed, now, time.Minute)
	assert.Equal(t, 100, p.Percent)
	assert.Equal(t, "r-1", p.ResultRef)

	failed := &taskDB.ScheduledTask{ID: 4, Status: taskDB.StatusFailed, FailureReason: taskDB.ReasonTimeout}
	p = EstimateProgress(failed, now, time.Minute)
	assert.Equal(t, 100, p.Percent)
	assert.Equal(t, taskDB.StatusFailed, p.Status)
	assert.Equal(t, taskDB.ReasonTimeout, p.FailureReason)
}

func TestEstimateProgress_RunningIsMonotonicAndBelow100(t *testing.T) {
	started := time.Date(2026, 10, 15, 9, 0, 0, 0, time.UTC)
	entry := &taskDB.ScheduledTask{Status: taskDB.StatusRunning, StartedAt: &started}
	expected := 10 * time.Second

	last := -1
	for step := 0; step <= 10000; step++ {
		now := started.Add(time.Duration(step) * 100 * time.Millisecond)
		pct := EstimateProgress(entry, now, expected).Percent
		assert.GreaterOrEqual(t, pct, last)
		assert.Less(t, pct, 100)
		last = pct
	}
	assert.Equal(t, 98, last)

	assert.Equal(t, 90, EstimateProgress(entry, started.Add(expected), expected).Percent)
	assert.Equal(t, 0, EstimateProgress(entry, started.Add(-time.Second), expected).Percent)
}

func TestEstimateProgress_DefaultsExpectedDuration(t *testing.T) {
	started := time.Date(2026, 10, 15, 9, 0, 0, 0, time.UTC)
	entry := &taskDB.ScheduledTask{Status: taskDB.StatusRunning, StartedAt: &started}
	now := started.Add(DefaultExpectedRunDuration / 2)
	assert.Equal(t, 45, EstimateProgress(entry, now, 0).Percent)
}
