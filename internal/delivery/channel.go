// Package delivery defines outbound notification channels for alert
// occurrences. The delivery service consults the ledger before calling a
// channel, so implementations only need to send.
package delivery

import (
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/parcelwatch/parcelwatch/internal/database"
)

// Notification is one alert occurrence to announce on a channel
type Notification struct {
	AlertKey    string
	County      string
	ParcelID    string
	Severity    int
	FirstSeenAt time.Time
	LastSeenAt  time.Time
	Details     map[string]interface{}
}

// Channel sends notifications on one outbound medium
type Channel interface {
	// Key returns the channel key recorded in the delivery ledger
	Key() string

	// Send delivers one notification. Errors are recorded in the ledger
	// and retried on the next scheduler tick, never propagated as a stage
	// failure.
	Send(n Notification) error
}

// FormatNotification builds the human-readable message for a notification
func FormatNotification(n Notification) string {
	var sb strings.Builder

	sb.WriteString(fmt.Sprintf("%s *%s*\n", database.GetSeverityEmoji(n.Severity), formatAlertKey(n.AlertKey)))
	sb.WriteString(fmt.Sprintf("Parcel `%s` (%s county)\n", n.ParcelID, n.County))
	sb.WriteString(fmt.Sprintf("First seen %s, last seen %s",
		n.FirstSeenAt.Format("2006-01-02"), n.LastSeenAt.Format("2006-01-02")))

	if count, ok := n.Details["evidence_count"]; ok {
		sb.WriteString(fmt.Sprintf("\nEvidence: %v trigger event(s)", count))
	}
	return sb.String()
}

func formatAlertKey(key string) string {
	return strings.ToUpper(strings.ReplaceAll(key, "_", " "))
}

// LogChannel writes notifications to the process log. Used in development and
// as the default channel when Slack is not configured.
type LogChannel struct{}

// NewLogChannel creates a new LogChannel
func NewLogChannel() *LogChannel {
	return &LogChannel{}
}

// Key returns the channel key
func (c *LogChannel) Key() string {
	return "log"
}

// Send logs the notification
func (c *LogChannel) Send(n Notification) error {
	log.Printf("ALERT %s parcel=%s county=%s severity=%d last_seen=%s",
		n.AlertKey, n.ParcelID, n.County, n.Severity, n.LastSeenAt.Format(time.RFC3339))
	return nil
}
