package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "scheduler",
	Short: "Time-driven reminder jobs for exercisemate",
	Long: `Runs the scheduled notification jobs against the shared store.

"run" ticks forever and fires each job when it is due. The single-job
commands run one pass and exit, for use from cron. "reminder-agent" keeps
reminders on local timers without push delivery.`,
	SilenceUsage: true,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(dailyReminderCmd)
	rootCmd.AddCommand(weeklyGoalReminderCmd)
	rootCmd.AddCommand(cleanupTokensCmd)
	rootCmd.AddCommand(reminderAgentCmd)
}
