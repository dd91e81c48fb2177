package executors

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/cloudwego/hertz/pkg/common/hlog"
)

const (
	DefaultScriptTimeout = 5 * time.Minute
	// bounds how long Wait blocks on pipes held open by orphaned children
	processWaitDelay = 2 * time.Second
)

// ProcessExecutor writes the script to a temp file and runs it with an
// interpreter, killing the process once Timeout elapses.
type ProcessExecutor struct {
	Interpreter string
	Args        []string
	Extension   string
	Timeout     time.Duration
}

func (pe *ProcessExecutor) Execute(ctx context.Context, job Job) (string, error) {
	if job.Script == "" {
		return "", fmt.Errorf("script for %s is empty", job.ScriptID)
	}
	timeout := pe.Timeout
	if timeout <= 0 {
		timeout = DefaultScriptTimeout
	}

	tempDir, err := os.MkdirTemp("", "script_runner_")
	if err != nil {
		return "", fmt.Errorf("failed to create temp directory: %w", err)
	}
	defer os.RemoveAll(tempDir)

	scriptPath := filepath.Join(tempDir, "script"+pe.Extension)
	if err := os.WriteFile(scriptPath, []byte(job.Script), 0o600); err != nil {
		return "", fmt.Errorf("failed to write script to temp file: %w", err)
	}

	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	args := append(append([]string{}, pe.Args...), scriptPath)
	cmd := exec.CommandContext(runCtx, pe.Interpreter, args...)
	cmd.Dir = tempDir
	cmd.WaitDelay = processWaitDelay
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	hlog.Infof("ProcessExecutor: running script %s (record %d) with %s", job.ScriptID, job.RecordID, pe.Interpreter)
	err = cmd.Run()

	if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
		hlog.Warnf("ProcessExecutor: script %s timed out after %s", job.ScriptID, timeout)
		return "", &RunError{Output: stdout.String(), Err: fmt.Errorf("script timed out after %s. Stderr: %s", timeout, stderr.String())}
	}
	if err != nil {
		hlog.Warnf("ProcessExecutor: script %s failed: %v", job.ScriptID, err)
		return "", &RunError{Output: stdout.String(), Err: fmt.Errorf("script execution failed: %w. Stderr: %s", err, stderr.String())}
	}
	if stderr.Len() > 0 {
		hlog.Debugf("ProcessExecutor: script %s stderr:\n%s", job.ScriptID, stderr.String())
	}
	return stdout.String(), nil
}

var _ Executor = (*ProcessExecutor)(nil)
