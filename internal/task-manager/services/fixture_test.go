package services

import (
	"context"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm/logger"

	taskDB "automation-engine-service/internal/task-manager/db"
	"automation-engine-service/internal/task-manager/events"
	"automation-engine-service/internal/task-manager/generator"
	"automation-engine-service/internal/task-manager/runner"
	"automation-engine-service/internal/task-manager/store"
	pkgdb "automation-engine-service/pkg/db"
)

type MockGenerator struct {
	mock.Mock
}

func (m *MockGenerator) Generate(ctx context.Context, description string, recordID uint) (*generator.Result, error) {
	args := m.Called(ctx, description, recordID)
	res, _ := args.Get(0).(*generator.Result)
	return res, args.Error(1)
}

type runFunc func(ctx context.Context, req runner.Request) (*runner.Result, error)

// fakeRunner counts calls and delegates to fn.
type fakeRunner struct {
	mu    sync.Mutex
	calls []runner.Request
	fn    runFunc
}

func (f *fakeRunner) Execute(ctx context.Context, req runner.Request) (*runner.Result, error) {
	f.mu.Lock()
	f.calls = append(f.calls, req)
	fn := f.fn
	f.mu.Unlock()
	if fn == nil {
		return &runner.Result{ResultRef: "ref-" + req.ScriptID, Output: "ok"}, nil
	}
	return fn(ctx, req)
}

func (f *fakeRunner) Calls() []runner.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]runner.Request(nil), f.calls...)
}

// claimRecorder remembers the order in which entries won pending -> running.
type claimRecorder struct {
	store.ScheduledTaskStore
	mu     sync.Mutex
	claims []uint
}

func (r *claimRecorder) CompareAndSetStatus(ctx context.Context, t store.Transition) error {
	err := r.ScheduledTaskStore.CompareAndSetStatus(ctx, t)
	if err == nil && t.To == taskDB.StatusRunning {
		r.mu.Lock()
		r.claims = append(r.claims, t.ID)
		r.mu.Unlock()
	}
	return err
}

func (r *claimRecorder) Claims() []uint {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]uint(nil), r.claims...)
}

type recordingPublisher struct {
	mu      sync.Mutex
	changes []events.StatusChange
}

func (p *recordingPublisher) Publish(_ context.Context, change events.StatusChange) {
	p.mu.Lock()
	p.changes = append(p.changes, change)
	p.mu.Unlock()
}

func (p *recordingPublisher) Changes() []events.StatusChange {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]events.StatusChange(nil), p.changes...)
}

type engineFixture struct {
	tasks     *store.GormTaskStore
	entries   *claimRecorder
	runner    *fakeRunner
	generator *MockGenerator
	events    *recordingPublisher
	scheduler *SchedulerService
	svc       *AutomationService
}

func newFixture(t *testing.T, cfg SchedulerConfig, fn runFunc) *engineFixture {
	t.Helper()
	gdb, err := pkgdb.NewGormDB(pkgdb.Config{
		Type:     "sqlite",
		DSN:      filepath.Join(t.TempDir(), "engine_test.db"),
		LogLevel: logger.Silent,
	})
	require.NoError(t, err)
	require.NoError(t, pkgdb.AutoMigrate(gdb, &taskDB.Task{}, &taskDB.ScheduledTask{}))

	f := &engineFixture{
		tasks:     store.NewGormTaskStore(gdb),
		entries:   &claimRecorder{ScheduledTaskStore: store.NewGormScheduledTaskStore(gdb)},
		runner:    &fakeRunner{fn: fn},
		generator: new(MockGenerator),
		events:    &recordingPublisher{},
	}
	f.scheduler, err = NewSchedulerService(context.Background(), f.entries, f.runner, f.events, cfg)
	require.NoError(t, err)
	f.svc = NewAutomationService(f.tasks, f.entries, f.generator, f.scheduler, 0)

	t.Cleanup(func() {
		f.scheduler.Stop()
		if sqlDB, err := gdb.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return f
}

func (f *engineFixture) createTask(t *testing.T, owner, description string) *taskDB.Task {
	t.Helper()
	task := &taskDB.Task{
		Title:       "Automation",
		Description: description,
		OwnerID:     owner,
		File:        taskDB.TaskFile{Filename: "task.txt", ContentType: "text/plain", Content: description},
	}
	require.NoError(t, f.tasks.CreateTask(context.Background(), task))
	return task
}

// wait blocks until every dispatched execution has written its final status.
func (f *engineFixture) wait() {
	f.scheduler.inFlight.Wait()
}
