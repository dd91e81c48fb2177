package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"

	"automation-engine-service/internal/task-manager/apperr"
	taskDB "automation-engine-service/internal/task-manager/db"
)

// Transition is a conditional status update: it applies only while the row
// still has status From (and, when DueBy is set, scheduled_time <= DueBy).
type Transition struct {
	ID     uint
	From   taskDB.Status
	To     taskDB.Status
	Fields map[string]interface{}
	DueBy  time.Time
}

// ScheduledTaskStore persists ScheduledTasks. CompareAndSetStatus is the only
// way to change status.
type ScheduledTaskStore interface {
	Create(ctx context.Context, entry *taskDB.ScheduledTask) error
	Get(ctx context.Context, id uint) (*taskDB.ScheduledTask, error)
	ListDue(ctx context.Context, now time.Time) ([]taskDB.ScheduledTask, error)
	ListByRecord(ctx context.Context, recordID uint) ([]taskDB.ScheduledTask, error)
	ListRunningStartedBefore(ctx context.Context, cutoff time.Time) ([]taskDB.ScheduledTask, error)
	CompareAndSetStatus(ctx context.Context, t Transition) error
	Reschedule(ctx context.Context, id uint, scheduledTime time.Time) error
}

// Columns a transition may set besides status.
var transitionColumns = map[string]bool{
	"run_type":       true,
	"started_at":     true,
	"finished_at":    true,
	"result_ref":     true,
	"result_output":  true,
	"failure_reason": true,
	"failure_detail": true,
}

type GormScheduledTaskStore struct {
	DB *gorm.DB
}

func NewGormScheduledTaskStore(db *gorm.DB) *GormScheduledTaskStore {
	return &GormScheduledTaskStore{DB: db}
}

// Create inserts a new pending entry. Status is forced to pending.
func (s *GormScheduledTaskStore) Create(ctx context.Context, entry *taskDB.ScheduledTask) error {
	if entry.RecordID == 0 {
		return fmt.Errorf("%w: record id is required", apperr.ErrInvalidInput)
	}
	if strings.TrimSpace(entry.ScriptID) == "" || strings.TrimSpace(entry.Script) == "" {
		return fmt.Errorf("%w: script id and script are required", apperr.ErrInvalidInput)
	}
	if entry.ScheduledTime.IsZero() {
		return fmt.Errorf("%w: scheduled time is required", apperr.ErrInvalidInput)
	}
	entry.ID = 0
	entry.Status = taskDB.StatusPending
	entry.ScheduledTime = entry.ScheduledTime.UTC()
	if err := s.DB.WithContext(ctx).Create(entry).Error; err != nil {
		return fmt.Errorf("failed to create scheduled task for record %d: %w", entry.RecordID, err)
	}
	return nil
}

func (s *GormScheduledTaskStore) Get(ctx context.Context, id uint) (*taskDB.ScheduledTask, error) {
	var entry taskDB.ScheduledTask
	if err := s.DB.WithContext(ctx).First(&entry, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("scheduled task %d: %w", id, apperr.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to fetch scheduled task %d: %w", id, err)
	}
	return &entry, nil
}

// ListDue returns pending entries with scheduled_time <= now, earliest first.
func (s *GormScheduledTaskStore) ListDue(ctx context.Context, now time.Time) ([]taskDB.ScheduledTask, error) {
	var due []taskDB.ScheduledTask
	err := s.DB.WithContext(ctx).
		Where("status = ? AND scheduled_time <= ?", taskDB.StatusPending, now.UTC()).
		Order("scheduled_time asc").
		Order("id asc").
		Find(&due).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list due scheduled tasks: %w", err)
	}
	return due, nil
}

func (s *GormScheduledTaskStore) ListByRecord(ctx context.Context, recordID uint) ([]taskDB.ScheduledTask, error) {
	var entries []taskDB.ScheduledTask
	err := s.DB.WithContext(ctx).
		Where("record_id = ?", recordID).
		Order("id desc").
		Find(&entries).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list scheduled tasks for record %d: %w", recordID, err)
	}
	return entries, nil
}

func (s *GormScheduledTaskStore) ListRunningStartedBefore(ctx context.Context, cutoff time.Time) ([]taskDB.ScheduledTask, error) {
	var stale []taskDB.ScheduledTask
	err := s.DB.WithContext(ctx).
		Where("status = ? AND started_at < ?", taskDB.StatusRunning, cutoff.UTC()).
		Order("started_at asc").
		Find(&stale).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list running scheduled tasks: %w", err)
	}
	return stale, nil
}

// CompareAndSetStatus moves an entry from t.From to t.To in a single
// conditional UPDATE. When no row matches it returns ErrNotFound if the entry
// does not exist and ErrTransitionConflict otherwise.
func (s *GormScheduledTaskStore) CompareAndSetStatus(ctx context.Context, t Transition) error {
	if !taskDB.CanTransition(t.From, t.To) {
		return fmt.Errorf("illegal transition %s -> %s for scheduled task %d", t.From, t.To, t.ID)
	}

	updates := map[string]interface{}{"status": t.To}
	for col, val := range t.Fields {
		if !transitionColumns[col] {
			return fmt.Errorf("column %q cannot be set by a status transition", col)
		}
		if ts, ok := val.(time.Time); ok {
			val = ts.UTC()
		}
		updates[col] = val
	}

	query := s.DB.WithContext(ctx).
		Model(&taskDB.ScheduledTask{}).
		Where("id = ? AND status = ?", t.ID, t.From)
	if !t.DueBy.IsZero() {
		query = query.Where("scheduled_time <= ?", t.DueBy.UTC())
	}
	result := query.Updates(updates)
	if result.Error != nil {
		return fmt.Errorf("failed to move scheduled task %d to %s: %w", t.ID, t.To, result.Error)
	}
	if result.RowsAffected == 1 {
		return nil
	}
	return s.missOrConflict(ctx, t.ID)
}

// Reschedule changes scheduled_time of a pending entry.
func (s *GormScheduledTaskStore) Reschedule(ctx context.Context, id uint, scheduledTime time.Time) error {
	if scheduledTime.IsZero() {
		return fmt.Errorf("%w: scheduled time is required", apperr.ErrInvalidInput)
	}
	result := s.DB.WithContext(ctx).
		Model(&taskDB.ScheduledTask{}).
		Where("id = ? AND status = ?", id, taskDB.StatusPending).
		Update("scheduled_time", scheduledTime.UTC())
	if result.Error != nil {
		return fmt.Errorf("failed to reschedule scheduled task %d: %w", id, result.Error)
	}
	if result.RowsAffected == 1 {
		return nil
	}
	if err := s.missOrConflict(ctx, id); errors.Is(err, apperr.ErrTransitionConflict) {
		return fmt.Errorf("scheduled task %d: %w", id, apperr.ErrInvalidStateForEdit)
	} else {
		return err
	}
}

func (s *GormScheduledTaskStore) missOrConflict(ctx context.Context, id uint) error {
	var count int64
	if err := s.DB.WithContext(ctx).Model(&taskDB.ScheduledTask{}).Where("id = ?", id).Count(&count).Error; err != nil {
		return fmt.Errorf("failed to check scheduled task %d: %w", id, err)
	}
	if count == 0 {
		return fmt.Errorf("scheduled task %d: %w", id, apperr.ErrNotFound)
	}
	return fmt.Errorf("scheduled task %d: %w", id, apperr.ErrTransitionConflict)
}
