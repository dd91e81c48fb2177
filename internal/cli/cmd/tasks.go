package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"automation-engine-service/internal/task-manager/api"
	taskDB "automation-engine-service/internal/task-manager/db"
	"automation-engine-service/internal/task-manager/generator"
)

func NewGenerateCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Generate an automation script for a task",
		RunE:  runGenerate,
	}
	cmd.Flags().Uint("task", 0, "task ID (required)")
	_ = cmd.MarkFlagRequired("task")
	return cmd
}

func runGenerate(cmd *cobra.Command, _ []string) error {
	c, err := newClient(cmd)
	if err != nil {
		return err
	}
	taskID, _ := cmd.Flags().GetUint("task")

	var res generator.Result
	if _, err := c.Post(cmd.Context(), fmt.Sprintf("/tasks/%d/script", taskID), nil, &res); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "script_id: %s\n%s\n", res.ScriptID, res.Script)
	return nil
}

func NewScheduleCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "schedule",
		Short: "Schedule a task's script for a future run",
		RunE:  runSchedule,
	}
	cmd.Flags().Uint("task", 0, "task ID (required)")
	cmd.Flags().String("at", "", "run time, RFC3339 or +duration (default now)")
	addScriptFlags(cmd)
	_ = cmd.MarkFlagRequired("task")
	return cmd
}

func runSchedule(cmd *cobra.Command, _ []string) error {
	c, err := newClient(cmd)
	if err != nil {
		return err
	}
	taskID, _ := cmd.Flags().GetUint("task")
	req, err := scheduleRequest(cmd)
	if err != nil {
		return err
	}

	var entry taskDB.ScheduledTask
	if _, err := c.Post(cmd.Context(), fmt.Sprintf("/tasks/%d/schedules", taskID), req, &entry); err != nil {
		return err
	}
	printEntry(cmd, &entry)
	return nil
}

func addScriptFlags(cmd *cobra.Command) {
	cmd.Flags().String("script-file", "", "use this script instead of generating one")
	cmd.Flags().String("script-id", "", "identifier for --script-file")
}

func scheduleRequest(cmd *cobra.Command) (*api.ScheduleTaskRequest, error) {
	req := &api.ScheduleTaskRequest{}
	if at, _ := cmd.Flags().GetString("at"); at != "" {
		t, err := parseAt(at, time.Now())
		if err != nil {
			return nil, err
		}
		req.ScheduledTime = &t
	}
	if path, _ := cmd.Flags().GetString("script-file"); path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read script: %w", err)
		}
		req.Script = string(raw)
		req.ScriptID, _ = cmd.Flags().GetString("script-id")
	}
	return req, nil
}

func printEntry(cmd *cobra.Command, e *taskDB.ScheduledTask) {
	fmt.Fprintf(cmd.OutOrStdout(), "schedule %d  task=%d  script=%s  status=%s  at=%s\n",
		e.ID, e.RecordID, e.ScriptID, e.Status, e.ScheduledTime.Format(time.RFC3339))
}
