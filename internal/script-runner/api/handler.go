// Package api exposes the script-runner's /execute endpoint.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/common/hlog"
	"github.com/cloudwego/hertz/pkg/common/utils"
	"github.com/cloudwego/hertz/pkg/route"
	"github.com/google/uuid"

	"automation-engine-service/internal/script-runner/executors"
	"automation-engine-service/internal/task-manager/runner"
)

type ExecuteHandler struct {
	Registry        *executors.Registry
	DefaultExecutor string
}

func NewExecuteHandler(registry *executors.Registry, defaultExecutor string) *ExecuteHandler {
	if defaultExecutor == "" {
		defaultExecutor = executors.ExecutorTypeNode
	}
	return &ExecuteHandler{Registry: registry, DefaultExecutor: defaultExecutor}
}

func Register(r *route.Engine, h *ExecuteHandler) {
	r.POST("/execute", h.Execute)
	r.GET("/healthz", func(ctx context.Context, c *app.RequestContext) {
		c.JSON(http.StatusOK, utils.H{"status": "ok", "executors": h.Registry.Types()})
	})
}

// Execute runs one script synchronously. Execution failures are reported
// in-band with status FAILED; only malformed requests get a 4xx.
func (h *ExecuteHandler) Execute(ctx context.Context, c *app.RequestContext) {
	var req runner.Request
	if err := c.BindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, utils.H{"error": "Invalid request body: " + err.Error()})
		return
	}
	if req.Script == "" || req.ScriptID == "" {
		c.JSON(http.StatusBadRequest, utils.H{"error": "script and script_id are required"})
		return
	}

	executorType := req.Executor
	if executorType == "" {
		executorType = h.DefaultExecutor
	}
	executor, err := h.Registry.Get(executorType)
	if err != nil {
		c.JSON(http.StatusOK, runner.Response{Status: runner.StatusFailed, Error: err.Error()})
		return
	}

	output, err := executor.Execute(ctx, executors.Job{
		ScriptID: req.ScriptID,
		RecordID: req.RecordID,
		RunType:  req.RunType,
		Script:   req.Script,
	})
	if err != nil {
		resp := runner.Response{Status: runner.StatusFailed, Error: err.Error()}
		var runErr *executors.RunError
		if errors.As(err, &runErr) {
			resp.Output = runErr.Output
		}
		hlog.Warnf("ScriptRunner: script %s (record %d) failed: %v", req.ScriptID, req.RecordID, err)
		c.JSON(http.StatusOK, resp)
		return
	}

	resultRef := fmt.Sprintf("run-%s", uuid.NewString())
	hlog.Infof("ScriptRunner: script %s (record %d, %s) completed as %s", req.ScriptID, req.RecordID, req.RunType, resultRef)
	c.JSON(http.StatusOK, runner.Response{Status: runner.StatusCompleted, ResultRef: resultRef, Output: output})
}
