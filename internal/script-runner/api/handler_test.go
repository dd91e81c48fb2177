package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/cloudwego/hertz/pkg/app/server"
	"github.com/cloudwego/hertz/pkg/common/hlog"
	"github.com/cloudwego/hertz/pkg/common/ut"
	"github.com/cloudwego/hertz/pkg/route"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"automation-engine-service/internal/script-runner/executors"
	"automation-engine-service/internal/task-manager/runner"
)

type failingExecutor struct{}

func (failingExecutor) Execute(_ context.Context, job executors.Job) (string, error) {
	return "", &executors.RunError{Output: "opened page", Err: assert.AnError}
}

func setupRouter(t *testing.T) *route.Engine {
	t.Helper()
	hlog.SetLevel(hlog.LevelFatal)
	registry := executors.NewRegistry()
	registry.Register(executors.ExecutorTypeEcho, &executors.EchoExecutor{})
	registry.Register("broken", failingExecutor{})

	h := server.Default(server.WithHostPorts("127.0.0.1:0"), server.WithExitWaitTime(time.Duration(0)))
	Register(h.Engine, NewExecuteHandler(registry, executors.ExecutorTypeEcho))
	return h.Engine
}

func post(t *testing.T, r *route.Engine, body interface{}) (int, runner.Response) {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	w := ut.PerformRequest(r, http.MethodPost, "/execute", &ut.Body{Body: bytes.NewReader(raw), Len: len(raw)},
		ut.Header{Key: "Content-Type", Value: "application/json"})
	resp := w.Result()
	var out runner.Response
	if resp.StatusCode() == http.StatusOK {
		require.NoError(t, json.Unmarshal(resp.Body(), &out))
	}
	return resp.StatusCode(), out
}

func TestExecute_Completed(t *testing.T) {
	r := setupRouter(t)
	code, out := post(t, r, runner.Request{Script: "console.log(1)", ScriptID: "s-1", RecordID: 7, RunType: "scheduled"})
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, runner.StatusCompleted, out.Status)
	assert.Regexp(t, `^run-[0-9a-f-]{36}$`, out.ResultRef)
	assert.Contains(t, out.Output, "s-1")
}

func TestExecute_FailedCarriesPartialOutput(t *testing.T) {
	r := setupRouter(t)
	code, out := post(t, r, runner.Request{Script: "x", ScriptID: "s-2", Executor: "broken"})
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, runner.StatusFailed, out.Status)
	assert.Equal(t, "opened page", out.Output)
	assert.NotEmpty(t, out.Error)
	assert.Empty(t, out.ResultRef)
}

func TestExecute_UnknownExecutor(t *testing.T) {
	r := setupRouter(t)
	code, out := post(t, r, runner.Request{Script: "x", ScriptID: "s-3", Executor: "ruby"})
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, runner.StatusFailed, out.Status)
	assert.Contains(t, out.Error, "ruby")
}

func TestExecute_MissingScript(t *testing.T) {
	r := setupRouter(t)
	code, _ := post(t, r, map[string]string{"script_id": "s-4"})
	assert.Equal(t, http.StatusBadRequest, code)
}
