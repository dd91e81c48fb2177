// Package executors runs automation scripts for the script-runner service.
package executors

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/cloudwego/hertz/pkg/common/hlog"
)

// Job is one script to run.
type Job struct {
	ScriptID string
	RecordID uint
	RunType  string
	Script   string
}

const (
	ExecutorTypeNode   = "node"
	ExecutorTypePython = "python"
	ExecutorTypeEcho   = "echo"
)

// Executor runs a job and returns its stdout. A failed run returns a
// *RunError carrying whatever output was produced before the failure.
type Executor interface {
	Execute(ctx context.Context, job Job) (output string, err error)
}

// RunError is a failed run with its partial output.
type RunError struct {
	Output string
	Err    error
}

func (e *RunError) Error() string { return e.Err.Error() }

func (e *RunError) Unwrap() error { return e.Err }

type Registry struct {
	mu        sync.RWMutex
	executors map[string]Executor
}

func NewRegistry() *Registry {
	return &Registry{executors: make(map[string]Executor)}
}

// NewDefaultRegistry registers node (Puppeteer scripts), python (Selenium
// scripts) and echo (dry runs), each bounded by timeout.
func NewDefaultRegistry(timeout time.Duration) *Registry {
	r := NewRegistry()
	r.Register(ExecutorTypeNode, &ProcessExecutor{Interpreter: "node", Extension: ".js", Timeout: timeout})
	r.Register(ExecutorTypePython, &ProcessExecutor{Interpreter: "python3", Extension: ".py", Timeout: timeout})
	r.Register(ExecutorTypeEcho, &EchoExecutor{})
	hlog.Infof("Executor registry initialized with %v", r.Types())
	return r
}

func (r *Registry) Register(executorType string, executor Executor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.executors[executorType] = executor
}

func (r *Registry) Get(executorType string) (Executor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	executor, exists := r.executors[executorType]
	if !exists {
		return nil, fmt.Errorf("no executor registered for type: %s", executorType)
	}
	return executor, nil
}

func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	types := make([]string, 0, len(r.executors))
	for t := range r.executors {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}
