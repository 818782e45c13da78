package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/YUJAEYUN/exercisemate/internal/app"
	"github.com/YUJAEYUN/exercisemate/internal/config"
	"github.com/YUJAEYUN/exercisemate/internal/jobs"
)

var atFlag string

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Tick every JOB_TICK_INTERVAL and run the jobs that are due",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withRunner(cmd, func(ctx context.Context, cfg config.Config, runner *jobs.Runner) error {
			log.Printf("scheduler started (tick=%s, penalty hour=%d)", cfg.JobTickInterval, cfg.PenaltyWarningHour)
			err := jobs.NewScheduler(runner, cfg.JobTickInterval).Run(ctx)
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		})
	},
}

var dailyReminderCmd = &cobra.Command{
	Use:   "daily-reminder",
	Short: "Remind users whose reminder time is now and who have not logged today",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withRunner(cmd, func(ctx context.Context, _ config.Config, runner *jobs.Runner) error {
			now, err := jobTime()
			if err != nil {
				return err
			}
			return report(runner.DailyReminder(ctx, now))
		})
	},
}

var weeklyGoalReminderCmd = &cobra.Command{
	Use:   "weekly-goal-reminder",
	Short: "Warn group members who are still below this week's goal",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withRunner(cmd, func(ctx context.Context, _ config.Config, runner *jobs.Runner) error {
			now, err := jobTime()
			if err != nil {
				return err
			}
			return report(runner.WeeklyGoalReminder(ctx, now))
		})
	},
}

var cleanupTokensCmd = &cobra.Command{
	Use:   "cleanup-tokens",
	Short: "Delete push tokens unused for longer than TOKEN_MAX_AGE",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withRunner(cmd, func(ctx context.Context, _ config.Config, runner *jobs.Runner) error {
			return report(runner.CleanupTokens(ctx))
		})
	},
}

func init() {
	for _, c := range []*cobra.Command{dailyReminderCmd, weeklyGoalReminderCmd} {
		c.Flags().StringVar(&atFlag, "at", "", "evaluate the job at this RFC3339 time instead of now")
	}
}

func jobTime() (time.Time, error) {
	if atFlag == "" {
		return time.Now(), nil
	}
	t, err := time.Parse(time.RFC3339, atFlag)
	if err != nil {
		return time.Time{}, fmt.Errorf("--at: %w", err)
	}
	return t, nil
}

func report(r jobs.Report, err error) error {
	log.Print(r)
	return err
}

// withRunner loads configuration, builds the services and runs fn until it
// returns or a termination signal arrives.
func withRunner(cmd *cobra.Command, fn func(context.Context, config.Config, *jobs.Runner) error) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	a, err := app.New(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	runner := jobs.NewRunner(a.Service, a.Notifier, jobs.Config{
		ReminderWindow:     cfg.DailyReminderWindow,
		PenaltyWarningHour: cfg.PenaltyWarningHour,
		TokenMaxAge:        cfg.TokenMaxAge,
	}, log.New(os.Stderr, "[jobs] ", log.LstdFlags|log.Lmsgprefix))
	return fn(ctx, cfg, runner)
}
