package cmd

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordedCall struct {
	Method string
	Path   string
	Header http.Header
	Body   map[string]interface{}
}

type fakeServer struct {
	*httptest.Server
	mu    sync.Mutex
	calls []recordedCall
}

func newFakeServer(t *testing.T, handler func(w http.ResponseWriter, r *http.Request, n int)) *fakeServer {
	t.Helper()
	fs := &fakeServer{}
	fs.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		call := recordedCall{Method: r.Method, Path: r.URL.Path, Header: r.Header.Clone()}
		if len(raw) > 0 {
			_ = json.Unmarshal(raw, &call.Body)
		}
		fs.mu.Lock()
		fs.calls = append(fs.calls, call)
		n := len(fs.calls)
		fs.mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		handler(w, r, n)
	}))
	t.Cleanup(fs.Close)
	return fs
}

func (fs *fakeServer) Calls() []recordedCall {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return append([]recordedCall(nil), fs.calls...)
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := NewRootCommand()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

const entryJSON = `{"id":3,"record_id":1,"script_id":"s-1","status":"%s","scheduled_time":"2026-01-01T10:00:00Z"}`

func TestGenerate(t *testing.T) {
	fs := newFakeServer(t, func(w http.ResponseWriter, r *http.Request, _ int) {
		fmt.Fprint(w, `{"script_id":"gen-1","script":"console.log('hi')"}`)
	})

	out, err := execute(t, "generate", "--server", fs.URL, "--user", "alice", "--task", "1")
	require.NoError(t, err)
	assert.Contains(t, out, "script_id: gen-1")

	calls := fs.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, http.MethodPost, calls[0].Method)
	assert.Equal(t, "/tasks/1/script", calls[0].Path)
	assert.Equal(t, "alice", calls[0].Header.Get("X-User-ID"))
}

func TestSchedule_SendsTimeAndToken(t *testing.T) {
	fs := newFakeServer(t, func(w http.ResponseWriter, r *http.Request, _ int) {
		w.WriteHeader(http.StatusCreated)
		fmt.Fprintf(w, entryJSON, "pending")
	})

	out, err := execute(t, "schedule", "--server", fs.URL, "--token", "tok", "--task", "1", "--at", "2026-01-01T10:00:00Z")
	require.NoError(t, err)
	assert.Contains(t, out, "schedule 3")
	assert.Contains(t, out, "status=pending")

	calls := fs.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, "/tasks/1/schedules", calls[0].Path)
	assert.Equal(t, "Bearer tok", calls[0].Header.Get("Authorization"))
	assert.Equal(t, "2026-01-01T10:00:00Z", calls[0].Body["scheduled_time"])
}

func TestRun_ScheduleAlreadyFinished(t *testing.T) {
	fs := newFakeServer(t, func(w http.ResponseWriter, r *http.Request, _ int) {
		fmt.Fprintf(w, `{"started":false,"scheduled_task":`+entryJSON+`}`, "completed")
	})

	out, err := execute(t, "run", "--server", fs.URL, "--user", "alice", "--schedule", "3")
	require.NoError(t, err)
	assert.Contains(t, out, "nothing dispatched")
	assert.Equal(t, "/schedules/3/run", fs.Calls()[0].Path)
}

func TestRun_RequiresTaskOrSchedule(t *testing.T) {
	_, err := execute(t, "run", "--user", "alice")
	assert.Error(t, err)
}

func TestReschedule_ServerConflict(t *testing.T) {
	fs := newFakeServer(t, func(w http.ResponseWriter, r *http.Request, _ int) {
		w.WriteHeader(http.StatusConflict)
		fmt.Fprint(w, `{"error":"scheduled task is not editable"}`)
	})

	_, err := execute(t, "reschedule", "--server", fs.URL, "--user", "alice", "--schedule", "3", "--at", "+1h")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "409")
	assert.Contains(t, err.Error(), "not editable")
	assert.Equal(t, http.MethodPut, fs.Calls()[0].Method)
}

func TestProgress_WatchPollsUntilTerminal(t *testing.T) {
	fs := newFakeServer(t, func(w http.ResponseWriter, r *http.Request, n int) {
		switch {
		case n < 3:
			fmt.Fprintf(w, `{"id":3,"status":"running","percent":%d,"scheduled_time":"2026-01-01T10:00:00Z"}`, n*30)
		default:
			fmt.Fprint(w, `{"id":3,"status":"completed","percent":100,"result_ref":"run-1","scheduled_time":"2026-01-01T10:00:00Z"}`)
		}
	})

	out, err := execute(t, "progress", "--server", fs.URL, "--user", "alice", "--schedule", "3", "--watch", "--interval", "10ms")
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 3)
	assert.Contains(t, lines[0], "30%")
	assert.Contains(t, lines[2], "100%")
	assert.Contains(t, lines[2], "result=run-1")
}

func TestProgress_FailedRunReturnsError(t *testing.T) {
	fs := newFakeServer(t, func(w http.ResponseWriter, r *http.Request, _ int) {
		fmt.Fprint(w, `{"id":3,"status":"failed","percent":100,"failure_reason":"Timeout","scheduled_time":"2026-01-01T10:00:00Z"}`)
	})

	out, err := execute(t, "progress", "--server", fs.URL, "--user", "alice", "--schedule", "3")
	assert.Error(t, err)
	assert.Contains(t, out, "reason=Timeout")
}

func TestParseAt(t *testing.T) {
	now := time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)

	got, err := parseAt("+90m", now)
	require.NoError(t, err)
	assert.Equal(t, now.Add(90*time.Minute), got)

	got, err = parseAt("2026-02-01T08:00:00+02:00", now)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 2, 1, 6, 0, 0, 0, time.UTC), got)

	_, err = parseAt("tomorrow", now)
	assert.Error(t, err)
}

func TestNewClient_RequiresIdentity(t *testing.T) {
	_, err := execute(t, "generate", "--task", "1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--token or --user")
}

func TestProgress_RejectsNonPositiveInterval(t *testing.T) {
	fs := newFakeServer(t, func(w http.ResponseWriter, r *http.Request, _ int) {
		fmt.Fprint(w, `{"id":3,"status":"running","percent":10,"scheduled_time":"2026-01-01T10:00:00Z"}`)
	})

	for _, interval := range []string{"0s", "-1s"} {
		_, err := execute(t, "progress", "--server", fs.URL, "--user", "alice", "--schedule", "3", "--watch", "--interval="+interval)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "--interval must be positive")
	}
	assert.Empty(t, fs.Calls())
}
