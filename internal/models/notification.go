package models

import (
	"time"

	"github.com/google/uuid"
)

// Notification is an operator-facing event the engine enqueues instead of
// acting on directly, e.g. a bot getting auto-paused for a lapsed
// subscription. Delivery (email, in-app) is out of scope here; this
// struct is the narrow hand-off point.
type Notification struct {
	ID        uuid.UUID              `json:"id"`
	Timestamp time.Time              `json:"timestamp"`
	Type      NotificationType       `json:"type"`
	Severity  Severity               `json:"severity"`
	BotID     *int                   `json:"botId,omitempty"`
	Pair      *Pair                  `json:"pair,omitempty"`
	Message   string                 `json:"message"`
	Meta      map[string]interface{} `json:"meta,omitempty"`
}

// NotificationType enumerates the event kinds the engine can raise.
type NotificationType string

const (
	NotificationBotAutoPaused  NotificationType = "bot_auto_paused"
	NotificationTradeClosed    NotificationType = "trade_closed"
	NotificationEmergencyStop  NotificationType = "emergency_stop"
	NotificationFanOutRejected NotificationType = "fan_out_rejected"
)

// Severity is the notification's importance for any downstream consumer.
type Severity string

const (
	SeverityInfo  Severity = "info"
	SeverityWarn  Severity = "warn"
	SeverityError Severity = "error"
)

// NewNotification stamps a fresh UUID and the current time.
func NewNotification(typ NotificationType, sev Severity, message string) Notification {
	return Notification{
		ID:        uuid.New(),
		Timestamp: time.Now().UTC(),
		Type:      typ,
		Severity:  sev,
		Message:   message,
	}
}
