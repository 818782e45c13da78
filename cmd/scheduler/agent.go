package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/YUJAEYUN/exercisemate/internal/app"
	"github.com/YUJAEYUN/exercisemate/internal/config"
	"github.com/YUJAEYUN/exercisemate/internal/domain"
	"github.com/YUJAEYUN/exercisemate/internal/localnotify"
)

var (
	agentUser      string
	agentTime      string
	agentDays      string
	agentRemaining int
)

var reminderAgentCmd = &cobra.Command{
	Use:   "reminder-agent",
	Short: "Keep the next reminder on a local timer and show it without push delivery",
	Long: `Arms the daily reminder for the next enabled weekday and re-arms it after
each firing. Settings come from --user when given, otherwise from --time and
--days. Pending ids are kept in LOCAL_SCHEDULE_FILE; on restart only the daily
reminder is rebuilt.`,
	RunE: runReminderAgent,
}

func init() {
	reminderAgentCmd.Flags().StringVar(&agentUser, "user", "", "load notification settings for this user id")
	reminderAgentCmd.Flags().StringVar(&agentTime, "time", "20:00", "reminder time of day (HH:MM)")
	reminderAgentCmd.Flags().StringVar(&agentDays, "days", "1,2,3,4,5", "reminder weekdays, 0=Sunday")
	reminderAgentCmd.Flags().IntVar(&agentRemaining, "penalty-remaining", 0, "also arm the Sunday penalty warning with this many workouts left")
}

// parseDays parses a comma separated weekday list.
func parseDays(value string) ([]int, error) {
	var days []int
	for _, part := range strings.Split(value, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		d, err := strconv.Atoi(part)
		if err != nil || d < 0 || d > 6 {
			return nil, fmt.Errorf("invalid weekday %q", part)
		}
		days = append(days, d)
	}
	return days, nil
}

func agentSettings(ctx context.Context, cfg config.Config) (domain.NotificationSettings, error) {
	if agentUser != "" {
		a, err := app.New(ctx, cfg)
		if err != nil {
			return domain.NotificationSettings{}, err
		}
		defer a.Close()
		user, err := a.Service.GetUser(ctx, agentUser)
		if err != nil {
			return domain.NotificationSettings{}, err
		}
		return user.Notifications, nil
	}

	days, err := parseDays(agentDays)
	if err != nil {
		return domain.NotificationSettings{}, err
	}
	settings := domain.NotificationSettings{Enabled: true, ReminderTime: agentTime, ReminderDays: days}
	return settings, settings.Validate()
}

// rearmDisplay shows notifications and re-arms the daily reminder after it fires.
type rearmDisplay struct {
	localnotify.LogDisplay
	settings  domain.NotificationSettings
	scheduler *localnotify.Scheduler
}

func (d *rearmDisplay) Show(ctx context.Context, n localnotify.Notification) error {
	err := d.LogDisplay.Show(ctx, n)
	if n.ID == localnotify.DailyReminderID {
		if at, ok := d.scheduler.ScheduleNextReminder(d.settings); ok {
			log.Printf("next reminder at %s", at.Format("Mon 2006-01-02 15:04"))
		}
	}
	return err
}

func runReminderAgent(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	loc, err := cfg.Location()
	if err != nil {
		return err
	}
	ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	settings, err := agentSettings(ctx, cfg)
	if err != nil {
		return err
	}
	if !settings.Enabled {
		return fmt.Errorf("notifications are disabled for this user")
	}

	logger := log.New(os.Stderr, "[localnotify] ", log.LstdFlags|log.Lmsgprefix)
	display := &rearmDisplay{LogDisplay: localnotify.LogDisplay{Logger: log.New(os.Stdout, "", log.LstdFlags)}, settings: settings}
	scheduler := localnotify.NewScheduler(display,
		localnotify.WithLogger(logger),
		localnotify.WithClock(func() time.Time { return time.Now().In(loc) }),
		localnotify.WithPendingStore(localnotify.NewFileStore(cfg.LocalScheduleFile)),
	)
	display.scheduler = scheduler

	dropped, err := scheduler.Restore(settings)
	if err != nil {
		logger.Printf("restore pending notifications: %v", err)
	}
	if len(dropped) > 0 {
		logger.Printf("could not rebuild %v after restart", dropped)
	}

	at, ok := scheduler.ScheduleNextReminder(settings)
	if !ok {
		return fmt.Errorf("no reminder day configured")
	}
	log.Printf("next reminder at %s", at.Format("Mon 2006-01-02 15:04"))
	if agentRemaining > 0 {
		log.Printf("penalty warning at %s", scheduler.SchedulePenaltyWarning(agentRemaining).Format("Mon 2006-01-02 15:04"))
	}

	<-ctx.Done()
	log.Printf("agent stopping with %d pending", len(scheduler.Pending()))
	return nil
}
