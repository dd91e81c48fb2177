// Package cmd holds the automationctl commands.
package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"automation-engine-service/internal/cli/client"
)

const ProgressPollInterval = 500 * time.Millisecond

// NewRootCommand builds automationctl with all subcommands registered.
func NewRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "automationctl",
		Short:         "Drive the automation engine: generate, schedule and run task scripts",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().String("server", envOr("AUTOMATION_SERVER", client.DefaultServerURL), "task manager base URL")
	root.PersistentFlags().String("token", os.Getenv("AUTOMATION_TOKEN"), "bearer JWT")
	root.PersistentFlags().String("user", os.Getenv("AUTOMATION_USER"), "caller id sent as X-User-ID when no token is given")

	RegisterCommands(root)
	return root
}

// RegisterCommands adds all available commands to the root command
func RegisterCommands(root *cobra.Command) {
	root.AddCommand(NewGenerateCommand())
	root.AddCommand(NewScheduleCommand())
	root.AddCommand(NewRunCommand())
	root.AddCommand(NewRescheduleCommand())
	root.AddCommand(NewProgressCommand())
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func newClient(cmd *cobra.Command) (*client.Client, error) {
	server, _ := cmd.Flags().GetString("server")
	token, _ := cmd.Flags().GetString("token")
	user, _ := cmd.Flags().GetString("user")
	if token == "" && user == "" {
		return nil, fmt.Errorf("either --token or --user is required")
	}
	return client.New(server, token, user)
}

// parseAt accepts RFC3339 or a relative offset such as "+10m".
func parseAt(value string, now time.Time) (time.Time, error) {
	if len(value) > 1 && value[0] == '+' {
		d, err := time.ParseDuration(value[1:])
		if err != nil {
			return time.Time{}, fmt.Errorf("invalid offset %q: %w", value, err)
		}
		return now.Add(d).UTC(), nil
	}
	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid time %q, expected RFC3339 or +duration: %w", value, err)
	}
	return t.UTC(), nil
}
