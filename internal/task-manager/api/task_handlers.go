package api

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/common/hlog"
	"github.com/cloudwego/hertz/pkg/common/utils"

	"automation-engine-service/internal/task-manager/apperr"
	taskDB "automation-engine-service/internal/task-manager/db"
	"automation-engine-service/internal/task-manager/services"
	"automation-engine-service/internal/task-manager/store"
)

const maxUploadBytes = 5 << 20

// TaskRepository is what the HTTP layer needs from the Task Store.
type TaskRepository interface {
	store.TaskStore
	CreateTask(ctx context.Context, task *taskDB.Task) error
	ListTasksByOwner(ctx context.Context, ownerID string) ([]taskDB.Task, error)
}

type TaskHandler struct {
	Tasks      TaskRepository
	Automation *services.AutomationService
}

func NewTaskHandler(tasks TaskRepository, automation *services.AutomationService) *TaskHandler {
	return &TaskHandler{Tasks: tasks, Automation: automation}
}

type FileRequest struct {
	Filename    string `json:"filename"`
	ContentType string `json:"content_type"`
	Content     string `json:"content"`
}

type CreateTaskRequest struct {
	Title       string      `json:"title"`
	Description string      `json:"description"`
	File        FileRequest `json:"file"`
}

type ScheduleTaskRequest struct {
	ScriptID      string     `json:"script_id"`
	Script        string     `json:"script"`
	ScheduledTime *time.Time `json:"scheduled_time"`
}

func (r ScheduleTaskRequest) toService() services.ScheduleRequest {
	req := services.ScheduleRequest{ScriptID: r.ScriptID, Script: r.Script}
	if r.ScheduledTime != nil {
		req.ScheduledTime = *r.ScheduledTime
	}
	return req
}

// CreateTask accepts either a JSON body or a multipart form with a "file" part.
func (h *TaskHandler) CreateTask(ctx context.Context, c *app.RequestContext) {
	var req CreateTaskRequest
	if strings.HasPrefix(string(c.ContentType()), "multipart/form-data") {
		if err := bindMultipartTask(c, &req); err != nil {
			writeError(c, err)
			return
		}
	} else if err := c.BindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, utils.H{"error": "Invalid request payload: " + err.Error()})
		return
	}

	task := taskDB.Task{
		Title:       req.Title,
		Description: req.Description,
		OwnerID:     ownerOf(c),
		File: taskDB.TaskFile{
			Filename:    req.File.Filename,
			ContentType: req.File.ContentType,
			Content:     req.File.Content,
		},
	}
	if err := h.Tasks.CreateTask(ctx, &task); err != nil {
		writeError(c, err)
		return
	}
	hlog.Infof("API: task %d created for owner %s", task.ID, task.OwnerID)
	c.JSON(http.StatusCreated, task)
}

func bindMultipartTask(c *app.RequestContext, req *CreateTaskRequest) error {
	req.Title = string(c.FormValue("title"))
	req.Description = string(c.FormValue("description"))

	fh, err := c.FormFile("file")
	if err != nil {
		return fmt.Errorf("%w: file is required", apperr.ErrInvalidInput)
	}
	if fh.Size > maxUploadBytes {
		return fmt.Errorf("%w: file exceeds %d bytes", apperr.ErrInvalidInput, maxUploadBytes)
	}
	f, err := fh.Open()
	if err != nil {
		return fmt.Errorf("failed to open uploaded file: %w", err)
	}
	defer f.Close()
	content, err := io.ReadAll(io.LimitReader(f, maxUploadBytes))
	if err != nil {
		return fmt.Errorf("failed to read uploaded file: %w", err)
	}

	req.File = FileRequest{
		Filename:    fh.Filename,
		ContentType: fh.Header.Get("Content-Type"),
		Content:     string(content),
	}
	if req.File.ContentType == "" {
		req.File.ContentType = http.DetectContentType(content)
	}
	return nil
}

func (h *TaskHandler) GetTasks(ctx context.Context, c *app.RequestContext) {
	tasks, err := h.Tasks.ListTasksByOwner(ctx, ownerOf(c))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, tasks)
}

func (h *TaskHandler) GetTaskByID(ctx context.Context, c *app.RequestContext) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	task, err := h.Tasks.GetTask(ctx, id)
	if err == nil && task.OwnerID != ownerOf(c) {
		err = fmt.Errorf("task %d: %w", id, apperr.ErrNotFound)
	}
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, task)
}

func (h *TaskHandler) GenerateScript(ctx context.Context, c *app.RequestContext) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	res, err := h.Automation.GenerateScript(ctx, ownerOf(c), id)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *TaskHandler) CreateSchedule(ctx context.Context, c *app.RequestContext) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	var req ScheduleTaskRequest
	if err := c.BindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, utils.H{"error": "Invalid request payload: " + err.Error()})
		return
	}
	entry, err := h.Automation.CreateSchedule(ctx, ownerOf(c), id, req.toService())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, entry)
}

// RunTask creates an entry at now and dispatches it immediately.
func (h *TaskHandler) RunTask(ctx context.Context, c *app.RequestContext) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	var req ScheduleTaskRequest
	if len(c.Request.Body()) > 0 {
		if err := c.BindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, utils.H{"error": "Invalid request payload: " + err.Error()})
			return
		}
	}
	entry, err := h.Automation.RunTaskNow(ctx, ownerOf(c), id, req.toService())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, entry)
}

func (h *TaskHandler) ListSchedules(ctx context.Context, c *app.RequestContext) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	entries, err := h.Automation.ListSchedules(ctx, ownerOf(c), id)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, entries)
}
