// Package runner is the client side of the script-runner service: it sends a
// script for execution and turns the reply into a Result or an ExecutionError.
package runner

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cloudwego/hertz/pkg/app/client"
	errs "github.com/cloudwego/hertz/pkg/common/errors"
	"github.com/cloudwego/hertz/pkg/common/hlog"
	"github.com/cloudwego/hertz/pkg/protocol"
	"github.com/cloudwego/hertz/pkg/protocol/consts"
	"github.com/santhosh-tekuri/jsonschema/v5"

	"automation-engine-service/internal/task-manager/apperr"
	"automation-engine-service/pkg/validation"
)

const (
	DefaultRunnerURL = "http://127.0.0.1:8890"
	executePath      = "/execute"

	StatusCompleted = "COMPLETED"
	StatusFailed    = "FAILED"
)

// Request is what the engine sends for one execution.
type Request struct {
	Script   string `json:"script"`
	ScriptID string `json:"script_id"`
	RecordID uint   `json:"record_id"`
	RunType  string `json:"run_type"`
	Executor string `json:"executor,omitempty"`
}

// Response is the runner's wire reply.
type Response struct {
	Status    string `json:"status"`
	ResultRef string `json:"result_ref,omitempty"`
	Output    string `json:"output,omitempty"`
	Error     string `json:"error,omitempty"`
}

// Result is a successful execution.
type Result struct {
	ResultRef string
	Output    string
}

// ExecutionError is a failed execution as reported (or implied) by the runner.
type ExecutionError struct {
	Reason        string
	PartialOutput string
}

func (e *ExecutionError) Error() string {
	if e.PartialOutput == "" {
		return fmt.Sprintf("execution failed: %s", e.Reason)
	}
	return fmt.Sprintf("execution failed: %s (partial output: %s)", e.Reason, e.PartialOutput)
}

func (e *ExecutionError) Unwrap() error { return apperr.ErrExecutionFailed }

// Client executes scripts.
type Client interface {
	Execute(ctx context.Context, req Request) (*Result, error)
}

const responseSchema = `{
	"type": "object",
	"properties": {
		"status": {"type": "string", "enum": ["COMPLETED", "FAILED"]},
		"result_ref": {"type": "string"},
		"output": {"type": "string"},
		"error": {"type": "string"}
	},
	"required": ["status"],
	"if": {"properties": {"status": {"const": "COMPLETED"}}},
	"then": {"required": ["result_ref"]}
}`

// HTTPClient talks to the script-runner service over HTTP.
type HTTPClient struct {
	BaseURL string
	http    *client.Client
	schema  *jsonschema.Schema
}

func NewHTTPClient(baseURL string) (*HTTPClient, error) {
	if baseURL == "" {
		baseURL = DefaultRunnerURL
	}
	c, err := client.NewClient(client.WithDialTimeout(5 * time.Second))
	if err != nil {
		return nil, fmt.Errorf("failed to create runner http client: %w", err)
	}
	sch, err := validation.CompileSchema("runner_response.json", responseSchema)
	if err != nil {
		return nil, err
	}
	return &HTTPClient{BaseURL: strings.TrimRight(baseURL, "/"), http: c, schema: sch}, nil
}

// Execute sends the script and blocks until the runner answers or ctx expires.
// Transport problems, non-2xx replies and malformed bodies all surface as
// *ExecutionError.
func (c *HTTPClient) Execute(ctx context.Context, r Request) (*Result, error) {
	body, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal runner request: %w", err)
	}

	req := protocol.AcquireRequest()
	resp := protocol.AcquireResponse()
	defer protocol.ReleaseRequest(req)
	defer protocol.ReleaseResponse(resp)

	req.SetMethod(consts.MethodPost)
	req.SetRequestURI(c.BaseURL + executePath)
	req.Header.SetContentTypeBytes([]byte("application/json"))
	req.SetBody(body)

	deadline, hasDeadline := ctx.Deadline()
	if hasDeadline {
		err = c.http.DoDeadline(ctx, req, resp, deadline)
	} else {
		err = c.http.Do(ctx, req, resp)
	}
	if err != nil {
		// hertz reports its own deadline before ctx is marked done
		if ctx.Err() != nil || errors.Is(err, errs.ErrTimeout) || (hasDeadline && !time.Now().Before(deadline)) {
			return nil, fmt.Errorf("runner call for script %s: %v: %w", r.ScriptID, err, apperr.ErrTimeout)
		}
		return nil, &ExecutionError{Reason: fmt.Sprintf("runner unreachable: %v", err)}
	}

	raw := resp.Body()
	if resp.StatusCode() >= 500 && len(raw) == 0 {
		return nil, &ExecutionError{Reason: fmt.Sprintf("runner returned HTTP %d", resp.StatusCode())}
	}
	if _, err := validation.Validate(c.schema, raw); err != nil {
		hlog.Warnf("RunnerClient: malformed response for script %s (HTTP %d): %v", r.ScriptID, resp.StatusCode(), err)
		return nil, &ExecutionError{Reason: fmt.Sprintf("malformed runner response: %v", err)}
	}

	var out Response
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, &ExecutionError{Reason: fmt.Sprintf("malformed runner response: %v", err)}
	}
	if out.Status == StatusFailed {
		reason := out.Error
		if reason == "" {
			reason = "runner reported failure"
		}
		return nil, &ExecutionError{Reason: reason, PartialOutput: out.Output}
	}
	return &Result{ResultRef: out.ResultRef, Output: out.Output}, nil
}

// IsExecutionError unwraps err into an *ExecutionError when it is one.
func IsExecutionError(err error) (*ExecutionError, bool) {
	var ee *ExecutionError
	if errors.As(err, &ee) {
		return ee, true
	}
	return nil, false
}
