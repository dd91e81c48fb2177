package api

import (
	"context"
	"net/http"
	"time"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/common/utils"

	"automation-engine-service/internal/task-manager/services"
)

type ScheduleHandler struct {
	Automation *services.AutomationService
}

func NewScheduleHandler(automation *services.AutomationService) *ScheduleHandler {
	return &ScheduleHandler{Automation: automation}
}

type RescheduleRequest struct {
	ScheduledTime *time.Time `json:"scheduled_time"`
}

func (h *ScheduleHandler) GetSchedule(ctx context.Context, c *app.RequestContext) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	entry, err := h.Automation.GetSchedule(ctx, ownerOf(c), id)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, entry)
}

func (h *ScheduleHandler) Reschedule(ctx context.Context, c *app.RequestContext) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	var req RescheduleRequest
	if err := c.BindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, utils.H{"error": "Invalid request payload: " + err.Error()})
		return
	}
	if req.ScheduledTime == nil {
		c.JSON(http.StatusBadRequest, utils.H{"error": "scheduled_time is required"})
		return
	}
	entry, err := h.Automation.Reschedule(ctx, ownerOf(c), id, *req.ScheduledTime)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, entry)
}

// RunSchedule answers 202 when this call dispatched the entry and 200 when it
// had already been claimed.
func (h *ScheduleHandler) RunSchedule(ctx context.Context, c *app.RequestContext) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	entry, started, err := h.Automation.RunScheduleNow(ctx, ownerOf(c), id)
	if err != nil {
		writeError(c, err)
		return
	}
	status := http.StatusOK
	if started {
		status = http.StatusAccepted
	}
	c.JSON(status, utils.H{"started": started, "scheduled_task": entry})
}

func (h *ScheduleHandler) GetProgress(ctx context.Context, c *app.RequestContext) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	p, err := h.Automation.Progress(ctx, ownerOf(c), id)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

func (h *ScheduleHandler) Scan(ctx context.Context, c *app.RequestContext) {
	n, err := h.Automation.ScanNow(ctx)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, utils.H{"dispatched": n})
}
