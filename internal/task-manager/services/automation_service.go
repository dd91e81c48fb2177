package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cloudwego/hertz/pkg/common/hlog"

	"automation-engine-service/internal/task-manager/apperr"
	taskDB "automation-engine-service/internal/task-manager/db"
	"automation-engine-service/internal/task-manager/generator"
	"automation-engine-service/internal/task-manager/store"
)

// AutomationService is the caller-facing side of the engine. Every method takes
// the caller's owner id; Tasks and ScheduledTasks of other owners are reported
// as not found.
type AutomationService struct {
	Tasks               store.TaskStore
	Entries             store.ScheduledTaskStore
	Generator           generator.Client
	Scheduler           *SchedulerService
	ExpectedRunDuration time.Duration
	Now                 func() time.Time
}

func NewAutomationService(tasks store.TaskStore, entries store.ScheduledTaskStore, gen generator.Client, scheduler *SchedulerService, expected time.Duration) *AutomationService {
	if expected <= 0 {
		expected = DefaultExpectedRunDuration
	}
	return &AutomationService{
		Tasks:               tasks,
		Entries:             entries,
		Generator:           gen,
		Scheduler:           scheduler,
		ExpectedRunDuration: expected,
		Now:                 time.Now,
	}
}

// ScheduleRequest creates a ScheduledTask. A zero ScheduledTime means now.
// When Script is empty a fresh script is generated from the task first.
type ScheduleRequest struct {
	ScriptID      string
	Script        string
	ScheduledTime time.Time
}

func (a *AutomationService) ownedTask(ctx context.Context, owner string, taskID uint) (*taskDB.Task, error) {
	task, err := a.Tasks.GetTask(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if task.OwnerID != owner {
		return nil, fmt.Errorf("task %d: %w", taskID, apperr.ErrNotFound)
	}
	return task, nil
}

func (a *AutomationService) ownedEntry(ctx context.Context, owner string, id uint) (*taskDB.ScheduledTask, error) {
	entry, err := a.Entries.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if _, err := a.ownedTask(ctx, owner, entry.RecordID); err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			return nil, fmt.Errorf("scheduled task %d: %w", id, apperr.ErrNotFound)
		}
		return nil, err
	}
	return entry, nil
}

// GenerateScript asks the generator for a script built from the task's file
// content, falling back to the task description for an empty file.
func (a *AutomationService) GenerateScript(ctx context.Context, owner string, taskID uint) (*generator.Result, error) {
	task, err := a.ownedTask(ctx, owner, taskID)
	if err != nil {
		return nil, err
	}
	description := task.File.Content
	if strings.TrimSpace(description) == "" {
		description = task.Description
	}
	res, err := a.Generator.Generate(ctx, description, task.ID)
	if err != nil {
		return nil, err
	}
	hlog.Infof("AutomationService: task %d got script %s", task.ID, res.ScriptID)
	return res, nil
}

// CreateSchedule persists a pending entry and arms its one-time job.
func (a *AutomationService) CreateSchedule(ctx context.Context, owner string, taskID uint, req ScheduleRequest) (*taskDB.ScheduledTask, error) {
	task, err := a.ownedTask(ctx, owner, taskID)
	if err != nil {
		return nil, err
	}

	scriptID, script := req.ScriptID, req.Script
	if strings.TrimSpace(script) == "" {
		res, err := a.GenerateScript(ctx, owner, taskID)
		if err != nil {
			return nil, err
		}
		scriptID, script = res.ScriptID, res.Script
	} else if strings.TrimSpace(scriptID) == "" {
		return nil, fmt.Errorf("%w: script_id is required with a script", apperr.ErrInvalidInput)
	}

	scheduledTime := req.ScheduledTime
	if scheduledTime.IsZero() {
		scheduledTime = a.Now()
	}
	entry := &taskDB.ScheduledTask{
		RecordID:      task.ID,
		ScriptID:      scriptID,
		Script:        script,
		ScheduledTime: scheduledTime,
	}
	if err := a.Entries.Create(ctx, entry); err != nil {
		return nil, err
	}
	hlog.Infof("AutomationService: scheduled task %d created for task %d at %s", entry.ID, task.ID, entry.ScheduledTime.Format(time.RFC3339))

	if err := a.Scheduler.ScheduleOneTime(entry); err != nil {
		// The periodic scan still picks the entry up.
		hlog.Warnf("AutomationService: %v", err)
	}
	return entry, nil
}

// RunTaskNow creates an entry scheduled at now and dispatches it manually.
func (a *AutomationService) RunTaskNow(ctx context.Context, owner string, taskID uint, req ScheduleRequest) (*taskDB.ScheduledTask, error) {
	req.ScheduledTime = a.Now()
	entry, err := a.CreateSchedule(ctx, owner, taskID, req)
	if err != nil {
		return nil, err
	}
	if _, err := a.Scheduler.RunNow(ctx, entry.ID); err != nil {
		return nil, err
	}
	return a.Entries.Get(ctx, entry.ID)
}

// RunScheduleNow dispatches an existing entry. started is false when the entry
// had already left pending; that is not an error.
func (a *AutomationService) RunScheduleNow(ctx context.Context, owner string, id uint) (entry *taskDB.ScheduledTask, started bool, err error) {
	if _, err := a.ownedEntry(ctx, owner, id); err != nil {
		return nil, false, err
	}
	started, err = a.Scheduler.RunNow(ctx, id)
	if err != nil {
		return nil, false, err
	}
	entry, err = a.Entries.Get(ctx, id)
	return entry, started, err
}

// Reschedule moves a pending entry to a new time.
func (a *AutomationService) Reschedule(ctx context.Context, owner string, id uint, scheduledTime time.Time) (*taskDB.ScheduledTask, error) {
	if _, err := a.ownedEntry(ctx, owner, id); err != nil {
		return nil, err
	}
	if err := a.Entries.Reschedule(ctx, id, scheduledTime); err != nil {
		return nil, err
	}
	entry, err := a.Entries.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := a.Scheduler.ScheduleOneTime(entry); err != nil {
		hlog.Warnf("AutomationService: %v", err)
	}
	return entry, nil
}

func (a *AutomationService) GetSchedule(ctx context.Context, owner string, id uint) (*taskDB.ScheduledTask, error) {
	return a.ownedEntry(ctx, owner, id)
}

func (a *AutomationService) ListSchedules(ctx context.Context, owner string, taskID uint) ([]taskDB.ScheduledTask, error) {
	if _, err := a.ownedTask(ctx, owner, taskID); err != nil {
		return nil, err
	}
	return a.Entries.ListByRecord(ctx, taskID)
}

// Progress is read-only; polling never changes the entry.
func (a *AutomationService) Progress(ctx context.Context, owner string, id uint) (Progress, error) {
	entry, err := a.ownedEntry(ctx, owner, id)
	if err != nil {
		return Progress{}, err
	}
	return EstimateProgress(entry, a.Now(), a.ExpectedRunDuration), nil
}

// ScanNow runs one scan pass on demand.
func (a *AutomationService) ScanNow(ctx context.Context) (int, error) {
	return a.Scheduler.ScanDue(ctx)
}
