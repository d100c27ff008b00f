package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/teranos/easyjob/am"
	"github.com/teranos/easyjob/cmd/easyjob/commands"
	"github.com/teranos/easyjob/logger"
)

var rootCmd = &cobra.Command{
	Use:   "easyjob",
	Short: "easyjob - self-hosted cron job scheduler",
	Long: `easyjob - self-hosted cron job scheduler.

Job definitions live in SQLite; implementations are registered in code or
bound through registry manifests. The scheduler fires enabled jobs on their
cron schedule and the engine records every run in the history.

Available commands:
  serve   - Run the scheduler, the engine and the HTTP API
  run     - Run one job now, in this process
  jobs    - List, enable and disable job definitions
  history - Show run history
  am      - Manage easyjob configuration ("I am")
  db      - Manage the easyjob database

Examples:
  easyjob serve                # Start everything
  easyjob run 100001 --wait    # Run the echo demo job and wait for it
  easyjob jobs ls              # List job definitions
  easyjob history ls --job 1   # Show the runs of job 1`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// Configuration output stays clean of log lines
		if cmd.Name() == "show" || cmd.Name() == "version" {
			return nil
		}
		cfg, err := am.Load()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		verbosity, _ := cmd.Flags().GetCount("verbose")
		level := logger.ResolveLevel(verbosity, cfg.Log.Level)
		if err := logger.Initialize(cfg.Log.JSON, level); err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		logger.Debugw("Logger initialized", "level", level.String(), "json", cfg.Log.JSON)
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		logger.Cleanup()
	},
}

func init() {
	rootCmd.PersistentFlags().CountP("verbose", "v", "Increase output verbosity (repeat for more detail: -v, -vv, -vvv)")

	rootCmd.AddCommand(commands.ServeCmd)
	rootCmd.AddCommand(commands.RunCmd)
	rootCmd.AddCommand(commands.JobsCmd)
	rootCmd.AddCommand(commands.HistoryCmd)
	rootCmd.AddCommand(commands.AmCmd)
	rootCmd.AddCommand(commands.DbCmd)
	rootCmd.AddCommand(commands.VersionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
