package localnotify

import (
	"context"
	"log"
)

// LogDisplay prints notifications to a logger.
type LogDisplay struct {
	Logger *log.Logger
}

// Show implements Display.
func (d LogDisplay) Show(_ context.Context, n Notification) error {
	logger := d.Logger
	if logger == nil {
		logger = log.Default()
	}
	logger.Printf("🔔 [%s] %s: %s", n.Kind, n.Title, n.Body)
	return nil
}
