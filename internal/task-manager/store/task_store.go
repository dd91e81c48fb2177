// Package store is the task manager's persistence layer: the Task Store the
// engine reads from and the Scheduled Task Store whose status transitions are
// compare-and-set updates.
package store

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"gorm.io/gorm"

	"automation-engine-service/internal/task-manager/apperr"
	taskDB "automation-engine-service/internal/task-manager/db"
)

// TaskStore is the engine's read-only view of Tasks.
type TaskStore interface {
	GetTask(ctx context.Context, id uint) (*taskDB.Task, error)
}

// GormTaskStore implements TaskStore plus the CRUD the HTTP layer needs.
type GormTaskStore struct {
	DB *gorm.DB
}

func NewGormTaskStore(db *gorm.DB) *GormTaskStore {
	return &GormTaskStore{DB: db}
}

func (s *GormTaskStore) GetTask(ctx context.Context, id uint) (*taskDB.Task, error) {
	var task taskDB.Task
	if err := s.DB.WithContext(ctx).First(&task, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("task %d: %w", id, apperr.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to fetch task %d: %w", id, err)
	}
	return &task, nil
}

// CreateTask validates and inserts a task. Every task needs an owner and
// exactly one non-empty file.
func (s *GormTaskStore) CreateTask(ctx context.Context, task *taskDB.Task) error {
	switch {
	case strings.TrimSpace(task.OwnerID) == "":
		return fmt.Errorf("%w: owner is required", apperr.ErrInvalidInput)
	case strings.TrimSpace(task.Title) == "":
		return fmt.Errorf("%w: title is required", apperr.ErrInvalidInput)
	case strings.TrimSpace(task.Description) == "":
		return fmt.Errorf("%w: description is required", apperr.ErrInvalidInput)
	case task.File.Filename == "" || task.File.ContentType == "" || task.File.Content == "":
		return fmt.Errorf("%w: a file with name, content type and content is required", apperr.ErrInvalidInput)
	}
	if err := s.DB.WithContext(ctx).Create(task).Error; err != nil {
		return fmt.Errorf("failed to create task: %w", err)
	}
	return nil
}

// ListTasksByOwner returns the owner's tasks, newest first.
func (s *GormTaskStore) ListTasksByOwner(ctx context.Context, ownerID string) ([]taskDB.Task, error) {
	var tasks []taskDB.Task
	err := s.DB.WithContext(ctx).
		Where("owner_id = ?", ownerID).
		Order("created_at desc").
		Find(&tasks).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list tasks for owner %s: %w", ownerID, err)
	}
	return tasks, nil
}
