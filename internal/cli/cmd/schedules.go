package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"automation-engine-service/internal/task-manager/api"
	taskDB "automation-engine-service/internal/task-manager/db"
	"automation-engine-service/internal/task-manager/services"
)

func NewRunCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a task now, or run an existing pending schedule early",
		RunE:  runRun,
	}
	cmd.Flags().Uint("task", 0, "create an entry for this task and run it immediately")
	cmd.Flags().Uint("schedule", 0, "run this pending schedule now")
	addScriptFlags(cmd)
	cmd.MarkFlagsOneRequired("task", "schedule")
	cmd.MarkFlagsMutuallyExclusive("task", "schedule")
	return cmd
}

func runRun(cmd *cobra.Command, _ []string) error {
	c, err := newClient(cmd)
	if err != nil {
		return err
	}
	taskID, _ := cmd.Flags().GetUint("task")
	scheduleID, _ := cmd.Flags().GetUint("schedule")

	if taskID != 0 {
		req, err := scheduleRequest(cmd)
		if err != nil {
			return err
		}
		var entry taskDB.ScheduledTask
		if _, err := c.Post(cmd.Context(), fmt.Sprintf("/tasks/%d/run", taskID), req, &entry); err != nil {
			return err
		}
		printEntry(cmd, &entry)
		return nil
	}

	var out struct {
		Started       bool                 `json:"started"`
		ScheduledTask taskDB.ScheduledTask `json:"scheduled_task"`
	}
	code, err := c.Post(cmd.Context(), fmt.Sprintf("/schedules/%d/run", scheduleID), nil, &out)
	if err != nil {
		return err
	}
	printEntry(cmd, &out.ScheduledTask)
	if code != http.StatusAccepted || !out.Started {
		fmt.Fprintln(cmd.OutOrStdout(), "already started or finished, nothing dispatched")
	}
	return nil
}

func NewRescheduleCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reschedule",
		Short: "Move a pending schedule to a new time",
		RunE:  runReschedule,
	}
	cmd.Flags().Uint("schedule", 0, "schedule ID (required)")
	cmd.Flags().String("at", "", "new run time, RFC3339 or +duration (required)")
	_ = cmd.MarkFlagRequired("schedule")
	_ = cmd.MarkFlagRequired("at")
	return cmd
}

func runReschedule(cmd *cobra.Command, _ []string) error {
	c, err := newClient(cmd)
	if err != nil {
		return err
	}
	scheduleID, _ := cmd.Flags().GetUint("schedule")
	at, _ := cmd.Flags().GetString("at")
	t, err := parseAt(at, time.Now())
	if err != nil {
		return err
	}

	var entry taskDB.ScheduledTask
	if _, err := c.Put(cmd.Context(), fmt.Sprintf("/schedules/%d", scheduleID), api.RescheduleRequest{ScheduledTime: &t}, &entry); err != nil {
		return err
	}
	printEntry(cmd, &entry)
	return nil
}

func NewProgressCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "progress",
		Short: "Show the estimated progress of a schedule",
		RunE:  runProgress,
	}
	cmd.Flags().Uint("schedule", 0, "schedule ID (required)")
	cmd.Flags().Bool("watch", false, "poll until the run finishes")
	cmd.Flags().Duration("interval", ProgressPollInterval, "poll interval for --watch")
	_ = cmd.MarkFlagRequired("schedule")
	return cmd
}

func runProgress(cmd *cobra.Command, _ []string) error {
	c, err := newClient(cmd)
	if err != nil {
		return err
	}
	scheduleID, _ := cmd.Flags().GetUint("schedule")
	watch, _ := cmd.Flags().GetBool("watch")
	interval, _ := cmd.Flags().GetDuration("interval")
	if interval <= 0 {
		return fmt.Errorf("--interval must be positive, got %s", interval)
	}
	path := fmt.Sprintf("/schedules/%d/progress", scheduleID)

	fetch := func(ctx context.Context) (*services.Progress, error) {
		var p services.Progress
		if _, err := c.Get(ctx, path, &p); err != nil {
			return nil, err
		}
		return &p, nil
	}
	return watchProgress(cmd, fetch, watch, interval)
}

// watchProgress prints one line per poll and returns once the run is
// terminal, or after the first poll when watch is false.
func watchProgress(cmd *cobra.Command, fetch func(context.Context) (*services.Progress, error), watch bool, interval time.Duration) error {
	if interval <= 0 {
		interval = ProgressPollInterval
	}
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		p, err := fetch(ctx)
		if err != nil {
			return err
		}
		line := fmt.Sprintf("schedule %d  %-9s %3d%%", p.ID, p.Status, p.Percent)
		if p.ResultRef != "" {
			line += "  result=" + p.ResultRef
		}
		if p.FailureReason != "" {
			line += "  reason=" + p.FailureReason
		}
		fmt.Fprintln(cmd.OutOrStdout(), line)

		if !watch || p.Status.IsTerminal() {
			if p.Status == taskDB.StatusFailed {
				return errors.New("run failed")
			}
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
