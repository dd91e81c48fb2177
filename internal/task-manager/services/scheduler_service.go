package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cloudwego/hertz/pkg/common/hlog"
	"github.com/go-co-op/gocron/v2"

	"automation-engine-service/internal/task-manager/apperr"
	taskDB "automation-engine-service/internal/task-manager/db"
	"automation-engine-service/internal/task-manager/events"
	"automation-engine-service/internal/task-manager/runner"
	"automation-engine-service/internal/task-manager/store"
)

const (
	DefaultScanInterval      = 5 * time.Second
	DefaultExecutionTimeout  = 5 * time.Minute
	DefaultStaleRunningGrace = 2 * time.Minute
	DefaultReconcileInterval = time.Minute

	scanJobTag      = "scheduled_task_scan"
	reconcileJobTag = "scheduled_task_reconcile"
	oneTimeJobTag   = "scheduled_task_onetime"

	// Budget for writing the terminal status once the run has resolved.
	finalizeTimeout = 10 * time.Second
)

type SchedulerConfig struct {
	ScanInterval      time.Duration
	ExecutionTimeout  time.Duration
	StaleRunningGrace time.Duration
	ReconcileInterval time.Duration
}

func (c *SchedulerConfig) applyDefaults() {
	if c.ScanInterval <= 0 {
		c.ScanInterval = DefaultScanInterval
	}
	if c.ExecutionTimeout <= 0 {
		c.ExecutionTimeout = DefaultExecutionTimeout
	}
	if c.StaleRunningGrace <= 0 {
		c.StaleRunningGrace = DefaultStaleRunningGrace
	}
	if c.ReconcileInterval <= 0 {
		c.ReconcileInterval = DefaultReconcileInterval
	}
}

// SchedulerService drives ScheduledTasks through pending -> running ->
// completed|failed. Every pending -> running move goes through the store's
// compare-and-set, so a periodic scan, a one-time job and a manual trigger can
// race on the same entry and only one of them dispatches it.
type SchedulerService struct {
	Entries   store.ScheduledTaskStore
	Runner    runner.Client
	Events    events.Publisher
	Scheduler gocron.Scheduler
	Now       func() time.Time

	cfg        SchedulerConfig
	appContext context.Context
	appCancel  context.CancelFunc
	inFlight   sync.WaitGroup
	stopOnce   sync.Once
}

func NewSchedulerService(ctx context.Context, entries store.ScheduledTaskStore, runnerClient runner.Client, publisher events.Publisher, cfg SchedulerConfig) (*SchedulerService, error) {
	s, err := gocron.NewScheduler(gocron.WithLocation(time.UTC))
	if err != nil {
		return nil, fmt.Errorf("failed to create gocron scheduler: %w", err)
	}
	if publisher == nil {
		publisher = events.NopPublisher{}
	}
	cfg.applyDefaults()
	appCtx, cancel := context.WithCancel(ctx)
	return &SchedulerService{
		Entries:    entries,
		Runner:     runnerClient,
		Events:     publisher,
		Scheduler:  s,
		Now:        time.Now,
		cfg:        cfg,
		appContext: appCtx,
		appCancel:  cancel,
	}, nil
}

// Start registers the periodic scan and reconcile jobs and starts gocron.
func (s *SchedulerService) Start() error {
	hlog.Infof("SchedulerService: starting (scan every %s, execution timeout %s)", s.cfg.ScanInterval, s.cfg.ExecutionTimeout)

	_, err := s.Scheduler.NewJob(
		gocron.DurationJob(s.cfg.ScanInterval),
		gocron.NewTask(func() {
			if _, err := s.ScanDue(s.appContext); err != nil {
				hlog.Errorf("SchedulerService: scan failed: %v", err)
			}
		}),
		gocron.WithName("scan_due_scheduled_tasks"),
		gocron.WithTags(scanJobTag),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
		gocron.WithStartAt(gocron.WithStartImmediately()),
	)
	if err != nil {
		return fmt.Errorf("failed to register scan job: %w", err)
	}

	_, err = s.Scheduler.NewJob(
		gocron.DurationJob(s.cfg.ReconcileInterval),
		gocron.NewTask(func() {
			if _, err := s.Reconcile(s.appContext); err != nil {
				hlog.Errorf("SchedulerService: reconcile failed: %v", err)
			}
		}),
		gocron.WithName("reconcile_stale_running"),
		gocron.WithTags(reconcileJobTag),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
		gocron.WithStartAt(gocron.WithStartImmediately()),
	)
	if err != nil {
		return fmt.Errorf("failed to register reconcile job: %w", err)
	}

	s.Scheduler.Start()
	hlog.Infof("SchedulerService: started, %d jobs registered", len(s.Scheduler.Jobs()))
	return nil
}

// Stop shuts gocron down, cancels in-flight executions and waits for their
// terminal status to be written.
func (s *SchedulerService) Stop() {
	s.stopOnce.Do(func() {
		hlog.Infof("SchedulerService: stopping...")
		if err := s.Scheduler.Shutdown(); err != nil {
			hlog.Errorf("SchedulerService: error shutting down gocron scheduler: %v", err)
		}
		s.appCancel()
		s.inFlight.Wait()
		hlog.Infof("SchedulerService: stopped")
	})
}

// ScanDue claims every due entry in scheduled_time order and hands each winner
// to its own goroutine. It returns how many entries it dispatched.
func (s *SchedulerService) ScanDue(ctx context.Context) (int, error) {
	now := s.Now().UTC()
	due, err := s.Entries.ListDue(ctx, now)
	if err != nil {
		return 0, err
	}
	if len(due) == 0 {
		return 0, nil
	}
	hlog.Debugf("SchedulerService: %d due entries at %s", len(due), now.Format(time.RFC3339))

	dispatched := 0
	for i := range due {
		entry := due[i]
		won, err := s.claim(ctx, &entry, taskDB.RunTypeScheduled, now)
		if err != nil {
			hlog.Errorf("SchedulerService: failed to claim scheduled task %d: %v", entry.ID, err)
			continue
		}
		if won {
			s.dispatch(entry)
			dispatched++
		}
	}
	return dispatched, nil
}

// RunNow dispatches one entry regardless of its scheduled time. It reports
// false without error when the entry already left pending.
func (s *SchedulerService) RunNow(ctx context.Context, id uint) (bool, error) {
	entry, err := s.Entries.Get(ctx, id)
	if err != nil {
		return false, err
	}
	if entry.Status != taskDB.StatusPending {
		hlog.Debugf("SchedulerService: run-now on scheduled task %d ignored, status is %s", id, entry.Status)
		return false, nil
	}
	won, err := s.claim(ctx, entry, taskDB.RunTypeManual, time.Time{})
	if err != nil || !won {
		return false, err
	}
	s.Scheduler.RemoveByTags(oneTimeTag(id))
	s.dispatch(*entry)
	return true, nil
}

// ScheduleOneTime arms a gocron one-time job at the entry's scheduled time,
// replacing any earlier job for the same entry. Entries that are already due
// are left to the periodic scan.
func (s *SchedulerService) ScheduleOneTime(entry *taskDB.ScheduledTask) error {
	tag := oneTimeTag(entry.ID)
	s.Scheduler.RemoveByTags(tag)

	if entry.Status != taskDB.StatusPending || !entry.ScheduledTime.After(s.Now()) {
		return nil
	}

	job, err := s.Scheduler.NewJob(
		gocron.OneTimeJob(gocron.OneTimeJobStartDateTime(entry.ScheduledTime.UTC())),
		gocron.NewTask(s.fireOneTime, entry.ID),
		gocron.WithName(fmt.Sprintf("onetime_scheduled_task_%d", entry.ID)),
		gocron.WithTags(oneTimeJobTag, tag),
	)
	if err != nil {
		return fmt.Errorf("failed to schedule one-time job for scheduled task %d: %w", entry.ID, err)
	}
	if next, err := job.NextRun(); err == nil {
		hlog.Infof("SchedulerService: scheduled task %d armed for %s", entry.ID, next.Format(time.RFC3339))
	}
	return nil
}

func (s *SchedulerService) fireOneTime(id uint) {
	entry, err := s.Entries.Get(s.appContext, id)
	if err != nil {
		hlog.Warnf("SchedulerService: one-time job for scheduled task %d: %v", id, err)
		return
	}
	if entry.Status != taskDB.StatusPending {
		return
	}
	won, err := s.claim(s.appContext, entry, taskDB.RunTypeScheduled, s.Now().UTC())
	if err != nil {
		hlog.Errorf("SchedulerService: failed to claim scheduled task %d: %v", id, err)
		return
	}
	if won {
		s.dispatch(*entry)
	}
}

// Reconcile fails running entries that started longer ago than the execution
// timeout plus the grace period. Those are left over from a previous process.
func (s *SchedulerService) Reconcile(ctx context.Context) (int, error) {
	cutoff := s.Now().UTC().Add(-(s.cfg.ExecutionTimeout + s.cfg.StaleRunningGrace))
	stale, err := s.Entries.ListRunningStartedBefore(ctx, cutoff)
	if err != nil {
		return 0, err
	}

	swept := 0
	for i := range stale {
		entry := stale[i]
		detail := "no result recorded"
		if entry.StartedAt != nil {
			detail = fmt.Sprintf("no result recorded since %s", entry.StartedAt.UTC().Format(time.RFC3339))
		}
		if s.finish(ctx, &entry, taskDB.StatusFailed, failureFields(taskDB.ReasonAbandoned, detail, s.Now())) {
			swept++
		}
	}
	if swept > 0 {
		hlog.Warnf("SchedulerService: marked %d abandoned running entries as failed", swept)
	}
	return swept, nil
}

// claim performs the exclusive pending -> running transition. A lost race is
// reported as (false, nil).
func (s *SchedulerService) claim(ctx context.Context, entry *taskDB.ScheduledTask, runType taskDB.RunType, dueBy time.Time) (bool, error) {
	startedAt := s.Now().UTC()
	err := s.Entries.CompareAndSetStatus(ctx, store.Transition{
		ID:    entry.ID,
		From:  taskDB.StatusPending,
		To:    taskDB.StatusRunning,
		DueBy: dueBy,
		Fields: map[string]interface{}{
			"started_at": startedAt,
			"run_type":   runType,
		},
	})
	if errors.Is(err, apperr.ErrTransitionConflict) {
		hlog.Debugf("SchedulerService: scheduled task %d already claimed, skipping", entry.ID)
		return false, nil
	}
	if err != nil {
		return false, err
	}
	entry.Status = taskDB.StatusRunning
	entry.RunType = runType
	entry.StartedAt = &startedAt
	return true, nil
}

func (s *SchedulerService) dispatch(entry taskDB.ScheduledTask) {
	s.inFlight.Add(1)
	go func() {
		defer s.inFlight.Done()
		s.execute(entry)
	}()
}

type runOutcome struct {
	result *runner.Result
	err    error
}

func (s *SchedulerService) execute(entry taskDB.ScheduledTask) {
	s.publish(entry, taskDB.StatusPending, taskDB.StatusRunning, "")
	hlog.Infof("SchedulerService: executing scheduled task %d (record %d, script %s, %s)", entry.ID, entry.RecordID, entry.ScriptID, entry.RunType)

	ctx, cancel := context.WithTimeout(s.appContext, s.cfg.ExecutionTimeout)
	defer cancel()

	done := make(chan runOutcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- runOutcome{err: &runner.ExecutionError{Reason: fmt.Sprintf("runner panicked: %v", r)}}
			}
		}()
		res, err := s.Runner.Execute(ctx, runner.Request{
			Script:   entry.Script,
			ScriptID: entry.ScriptID,
			RecordID: entry.RecordID,
			RunType:  string(entry.RunType),
		})
		done <- runOutcome{result: res, err: err}
	}()

	var outcome runOutcome
	select {
	case outcome = <-done:
	case <-ctx.Done():
		outcome = runOutcome{err: ctx.Err()}
	}

	// The remote run may still be going; its late result is not reconciled.
	finishCtx, finishCancel := context.WithTimeout(context.Background(), finalizeTimeout)
	defer finishCancel()

	if outcome.err == nil {
		fields := map[string]interface{}{"finished_at": s.Now().UTC()}
		if outcome.result != nil {
			fields["result_ref"] = outcome.result.ResultRef
			fields["result_output"] = outcome.result.Output
		}
		if s.finish(finishCtx, &entry, taskDB.StatusCompleted, fields) {
			hlog.Infof("SchedulerService: scheduled task %d completed", entry.ID)
		}
		return
	}

	reason, detail := s.classify(ctx, outcome.err)
	if s.finish(finishCtx, &entry, taskDB.StatusFailed, failureFields(reason, detail, s.Now())) {
		hlog.Warnf("SchedulerService: scheduled task %d failed (%s): %s", entry.ID, reason, detail)
	}
}

// classify maps a failed run to its failure reason. runCtx is the execution
// context; once its deadline has passed the run counts as timed out whatever
// error the runner client produced.
func (s *SchedulerService) classify(runCtx context.Context, err error) (reason, detail string) {
	switch {
	case s.appContext.Err() != nil:
		return taskDB.ReasonInterrupted, "engine shut down before the run finished"
	case errors.Is(runCtx.Err(), context.DeadlineExceeded),
		errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, apperr.ErrTimeout):
		return taskDB.ReasonTimeout, fmt.Sprintf("no result within %s", s.cfg.ExecutionTimeout)
	}
	if ee, ok := runner.IsExecutionError(err); ok {
		if ee.PartialOutput != "" {
			return taskDB.ReasonExecutionFailed, ee.Reason + "\n--- partial output ---\n" + ee.PartialOutput
		}
		return taskDB.ReasonExecutionFailed, ee.Reason
	}
	return taskDB.ReasonExecutionFailed, err.Error()
}

// finish moves a running entry to a terminal status and publishes the change.
func (s *SchedulerService) finish(ctx context.Context, entry *taskDB.ScheduledTask, to taskDB.Status, fields map[string]interface{}) bool {
	err := s.Entries.CompareAndSetStatus(ctx, store.Transition{
		ID:     entry.ID,
		From:   taskDB.StatusRunning,
		To:     to,
		Fields: fields,
	})
	if errors.Is(err, apperr.ErrTransitionConflict) {
		hlog.Debugf("SchedulerService: scheduled task %d already resolved", entry.ID)
		return false
	}
	if err != nil {
		hlog.Errorf("SchedulerService: failed to record %s for scheduled task %d: %v", to, entry.ID, err)
		return false
	}
	reason, _ := fields["failure_reason"].(string)
	s.publish(*entry, taskDB.StatusRunning, to, reason)
	return true
}

func (s *SchedulerService) publish(entry taskDB.ScheduledTask, from, to taskDB.Status, reason string) {
	s.Events.Publish(context.Background(), events.StatusChange{
		ScheduledTaskID: entry.ID,
		RecordID:        entry.RecordID,
		ScriptID:        entry.ScriptID,
		From:            from,
		To:              to,
		RunType:         entry.RunType,
		Reason:          reason,
		At:              s.Now().UTC(),
	})
}

func failureFields(reason, detail string, at time.Time) map[string]interface{} {
	return map[string]interface{}{
		"finished_at":    at.UTC(),
		"failure_reason": reason,
		"failure_detail": detail,
	}
}

func oneTimeTag(id uint) string {
	return fmt.Sprintf("scheduled_task_id:%d", id)
}
