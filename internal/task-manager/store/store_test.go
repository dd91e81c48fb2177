package store

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"automation-engine-service/internal/task-manager/apperr"
	taskDB "automation-engine-service/internal/task-manager/db"
	pkgdb "automation-engine-service/pkg/db"
)

func setupStoreDB(t *testing.T) *gorm.DB {
	t.Helper()
	gdb, err := pkgdb.NewGormDB(pkgdb.Config{
		Type:     "sqlite",
		DSN:      filepath.Join(t.TempDir(), "store_test.db"),
		LogLevel: logger.Silent,
	})
	require.NoError(t, err)
	require.NoError(t, pkgdb.AutoMigrate(gdb, &taskDB.Task{}, &taskDB.ScheduledTask{}))
	t.Cleanup(func() {
		if sqlDB, err := gdb.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return gdb
}

func seedTask(t *testing.T, tasks *GormTaskStore, owner string) *taskDB.Task {
	t.Helper()
	task := &taskDB.Task{
		Title:       "Download report",
		Description: "Open the dashboard and export the weekly report",
		OwnerID:     owner,
		File:        taskDB.TaskFile{Filename: "notes.txt", ContentType: "text/plain", Content: "weekly"},
	}
	require.NoError(t, tasks.CreateTask(context.Background(), task))
	return task
}

func seedEntry(t *testing.T, entries *GormScheduledTaskStore, recordID uint, at time.Time) *taskDB.ScheduledTask {
	t.Helper()
	entry := &taskDB.ScheduledTask{RecordID: recordID, ScriptID: "s-1", Script: "run()", ScheduledTime: at}
	require.NoError(t, entries.Create(context.Background(), entry))
	return entry
}

func TestTaskStore_CreateGetList(t *testing.T) {
	gdb := setupStoreDB(t)
	tasks := NewGormTaskStore(gdb)
	ctx := context.Background()

	a := seedTask(t, tasks, "alice")
	seedTask(t, tasks, "bob")

	got, err := tasks.GetTask(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, "alice", got.OwnerID)
	assert.Equal(t, "notes.txt", got.File.Filename)

	_, err = tasks.GetTask(ctx, 9999)
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	list, err := tasks.ListTasksByOwner(ctx, "alice")
	require.NoError(t, err)
	assert.Len(t, list, 1)

	err = tasks.CreateTask(ctx, &taskDB.Task{Title: "x", Description: "y", OwnerID: "alice"})
	assert.ErrorIs(t, err, apperr.ErrInvalidInput)
}

func TestScheduledTaskStore_CreateForcesPending(t *testing.T) {
	gdb := setupStoreDB(t)
	tasks := NewGormTaskStore(gdb)
	entries := NewGormScheduledTaskStore(gdb)
	task := seedTask(t, tasks, "alice")

	entry := &taskDB.ScheduledTask{
		RecordID:      task.ID,
		ScriptID:      "s-1",
		Script:        "run()",
		ScheduledTime: time.Now().Add(time.Hour),
		Status:        taskDB.StatusCompleted,
	}
	require.NoError(t, entries.Create(context.Background(), entry))

	got, err := entries.Get(context.Background(), entry.ID)
	require.NoError(t, err)
	assert.Equal(t, taskDB.StatusPending, got.Status)

	err = entries.Create(context.Background(), &taskDB.ScheduledTask{RecordID: task.ID, ScheduledTime: time.Now()})
	assert.ErrorIs(t, err, apperr.ErrInvalidInput)
}

func TestScheduledTaskStore_ListDueOrdering(t *testing.T) {
	gdb := setupStoreDB(t)
	task := seedTask(t, NewGormTaskStore(gdb), "alice")
	entries := NewGormScheduledTaskStore(gdb)

	now := time.Now().UTC()
	late := seedEntry(t, entries, task.ID, now.Add(-1*time.Minute))
	early := seedEntry(t, entries, task.ID, now.Add(-10*time.Minute))
	tie := seedEntry(t, entries, task.ID, now.Add(-1*time.Minute))
	seedEntry(t, entries, task.ID, now.Add(time.Hour))

	due, err := entries.ListDue(context.Background(), now)
	require.NoError(t, err)
	require.Len(t, due, 3)
	assert.Equal(t, []uint{early.ID, late.ID, tie.ID}, []uint{due[0].ID, due[1].ID, due[2].ID})
}

func TestScheduledTaskStore_CompareAndSetStatus(t *testing.T) {
	gdb := setupStoreDB(t)
	task := seedTask(t, NewGormTaskStore(gdb), "alice")
	entries := NewGormScheduledTaskStore(gdb)
	ctx := context.Background()
	entry := seedEntry(t, entries, task.ID, time.Now().Add(-time.Minute))

	started := time.Now()
	err := entries.CompareAndSetStatus(ctx, Transition{
		ID: entry.ID, From: taskDB.StatusPending, To: taskDB.StatusRunning,
		Fields: map[string]interface{}{"started_at": started, "run_type": taskDB.RunTypeManual},
	})
	require.NoError(t, err)

	err = entries.CompareAndSetStatus(ctx, Transition{ID: entry.ID, From: taskDB.StatusPending, To: taskDB.StatusRunning})
	assert.ErrorIs(t, err, apperr.ErrTransitionConflict)

	err = entries.CompareAndSetStatus(ctx, Transition{
		ID: entry.ID, From: taskDB.StatusRunning, To: taskDB.StatusCompleted,
		Fields: map[string]interface{}{"finished_at": time.Now(), "result_ref": "ref-1"},
	})
	require.NoError(t, err)

	got, err := entries.Get(ctx, entry.ID)
	require.NoError(t, err)
	assert.Equal(t, taskDB.StatusCompleted, got.Status)
	assert.Equal(t, taskDB.RunTypeManual, got.RunType)
	assert.Equal(t, "ref-1", got.ResultRef)
	require.NotNil(t, got.StartedAt)
	assert.WithinDuration(t, started, *got.StartedAt, time.Second)

	err = entries.CompareAndSetStatus(ctx, Transition{ID: entry.ID, From: taskDB.StatusCompleted, To: taskDB.StatusFailed})
	assert.Error(t, err)

	err = entries.CompareAndSetStatus(ctx, Transition{ID: 4242, From: taskDB.StatusPending, To: taskDB.StatusRunning})
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	err = entries.CompareAndSetStatus(ctx, Transition{
		ID: entry.ID, From: taskDB.StatusRunning, To: taskDB.StatusFailed,
		Fields: map[string]interface{}{"status": "pending"},
	})
	assert.Error(t, err)
}

func TestScheduledTaskStore_CompareAndSetRespectsDueBy(t *testing.T) {
	gdb := setupStoreDB(t)
	task := seedTask(t, NewGormTaskStore(gdb), "alice")
	entries := NewGormScheduledTaskStore(gdb)
	now := time.Now().UTC()
	entry := seedEntry(t, entries, task.ID, now.Add(time.Hour))

	err := entries.CompareAndSetStatus(context.Background(), Transition{
		ID: entry.ID, From: taskDB.StatusPending, To: taskDB.StatusRunning, DueBy: now,
	})
	assert.ErrorIs(t, err, apperr.ErrTransitionConflict)

	got, err := entries.Get(context.Background(), entry.ID)
	require.NoError(t, err)
	assert.Equal(t, taskDB.StatusPending, got.Status)
}

func TestScheduledTaskStore_ConcurrentClaimsHaveOneWinner(t *testing.T) {
	gdb := setupStoreDB(t)
	task := seedTask(t, NewGormTaskStore(gdb), "alice")
	entries := NewGormScheduledTaskStore(gdb)
	entry := seedEntry(t, entries, task.ID, time.Now().Add(-time.Minute))

	const claimers = 8
	var wg sync.WaitGroup
	results := make(chan error, claimers)
	for i := 0; i < claimers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results <- entries.CompareAndSetStatus(context.Background(), Transition{
				ID: entry.ID, From: taskDB.StatusPending, To: taskDB.StatusRunning,
			})
		}()
	}
	wg.Wait()
	close(results)

	wins := 0
	for err := range results {
		if err == nil {
			wins++
		} else {
			assert.ErrorIs(t, err, apperr.ErrTransitionConflict)
		}
	}
	assert.Equal(t, 1, wins)
}

func TestScheduledTaskStore_Reschedule(t *testing.T) {
	gdb := setupStoreDB(t)
	task := seedTask(t, NewGormTaskStore(gdb), "alice")
	entries := NewGormScheduledTaskStore(gdb)
	ctx := context.Background()
	entry := seedEntry(t, entries, task.ID, time.Now().Add(time.Hour))

	newTime := time.Now().Add(2 * time.Hour).UTC()
	require.NoError(t, entries.Reschedule(ctx, entry.ID, newTime))
	got, err := entries.Get(ctx, entry.ID)
	require.NoError(t, err)
	assert.WithinDuration(t, newTime, got.ScheduledTime, time.Second)

	require.NoError(t, entries.CompareAndSetStatus(ctx, Transition{ID: entry.ID, From: taskDB.StatusPending, To: taskDB.StatusRunning}))
	err = entries.Reschedule(ctx, entry.ID, newTime.Add(time.Hour))
	assert.ErrorIs(t, err, apperr.ErrInvalidStateForEdit)

	err = entries.Reschedule(ctx, 777, newTime)
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	err = entries.Reschedule(ctx, entry.ID, time.Time{})
	assert.ErrorIs(t, err, apperr.ErrInvalidInput)
}

func TestScheduledTaskStore_ListRunningStartedBefore(t *testing.T) {
	gdb := setupStoreDB(t)
	task := seedTask(t, NewGormTaskStore(gdb), "alice")
	entries := NewGormScheduledTaskStore(gdb)
	ctx := context.Background()

	old := seedEntry(t, entries, task.ID, time.Now().Add(-time.Hour))
	fresh := seedEntry(t, entries, task.ID, time.Now().Add(-time.Minute))
	require.NoError(t, entries.CompareAndSetStatus(ctx, Transition{
		ID: old.ID, From: taskDB.StatusPending, To: taskDB.StatusRunning,
		Fields: map[string]interface{}{"started_at": time.Now().Add(-time.Hour)},
	}))
	require.NoError(t, entries.CompareAndSetStatus(ctx, Transition{
		ID: fresh.ID, From: taskDB.StatusPending, To: taskDB.StatusRunning,
		Fields: map[string]interface{}{"started_at": time.Now()},
	}))

	stale, err := entries.ListRunningStartedBefore(ctx, time.Now().Add(-30*time.Minute))
	require.NoError(t, err)
	require.Len(t, stale, 1)
	assert.Equal(t, old.ID, stale[0].ID)

	history, err := entries.ListByRecord(ctx, task.ID)
	require.NoError(t, err)
	assert.Len(t, history, 2)
}
