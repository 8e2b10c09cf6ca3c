package notifier

import (
	"context"
	"log"

	"github.com/spanlight/spanlight/internal/models"
)

// LogSender writes notifications to the process log. Useful for
// development and as a dead-simple always-available channel.
type LogSender struct{}

// NewLogSender creates a log sender.
func NewLogSender() *LogSender {
	return &LogSender{}
}

// Type returns the log channel type.
func (s *LogSender) Type() models.ChannelType {
	return models.ChannelTypeLog
}

// Send logs the notification.
func (s *LogSender) Send(_ context.Context, _ models.ChannelConfig, alert *models.Alert, trigger *models.AlertTrigger) error {
	log.Printf("notifier: ALERT %s [%s] %s in project %s: %s=%.2f threshold=%.2f",
		trigger.State, alert.Severity, alert.Name, alert.ProjectID,
		alert.Type, trigger.Value, trigger.Threshold)
	return nil
}
