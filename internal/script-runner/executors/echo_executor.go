package executors

import (
	"context"
	"fmt"
	"time"

	"github.com/cloudwego/hertz/pkg/common/hlog"
)

// EchoExecutor does not run anything; it reports the script back. Delay
// simulates a slow run and honours ctx.
type EchoExecutor struct {
	Delay time.Duration
}

func (e *EchoExecutor) Execute(ctx context.Context, job Job) (string, error) {
	hlog.Infof("EchoExecutor: dry run of script %s (record %d, %s)", job.ScriptID, job.RecordID, job.RunType)
	if e.Delay > 0 {
		select {
		case <-time.After(e.Delay):
		case <-ctx.Done():
			return "", &RunError{Err: fmt.Errorf("dry run interrupted: %w", ctx.Err())}
		}
	}
	return fmt.Sprintf("EchoExecutor processed %d bytes of script %s", len(job.Script), job.ScriptID), nil
}
