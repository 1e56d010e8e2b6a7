package alerts

import (
	"time"

	"github.com/meanishn/platform/internal/ports"
)

// Task type constants
const (
	TaskNotification = "notify:deliver"
	TaskOpsAlert     = "email:ops_alert"
)

// Queue names
const (
	QueueOffers  = "offers"
	QueueUpdates = "updates"
	QueueAlerts  = "alerts"
)

// Common envelope for email-like notifications
type EmailEnvelope struct {
	To      string `json:"to"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

// NotificationPayload carries one marketplace notification through the queue.
type NotificationPayload struct {
	Notification ports.Notification `json:"notification"`
	EnqueuedAt   time.Time          `json:"enqueued_at"`
}

// OpsAlertPayload is an email to the operations inbox.
type OpsAlertPayload struct {
	RequestID string        `json:"request_id"`
	Severity  string        `json:"severity"`
	Message   string        `json:"message"`
	Envelope  EmailEnvelope `json:"envelope"`
	SentAt    time.Time     `json:"sent_at"`
}
