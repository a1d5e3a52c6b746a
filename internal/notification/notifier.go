// Package notification delivers operator alerts for trading events:
// kill-switch trips, forced exits, and risk warnings.
package notification

import (
	"context"
	"log"
)

// AlertLevel represents the severity of an alert.
type AlertLevel string

const (
	AlertInfo     AlertLevel = "INFO"
	AlertWarning  AlertLevel = "WARNING"
	AlertCritical AlertLevel = "CRITICAL"
)

// Event classifies what happened, so downstream consumers can route or
// filter without parsing the message text.
type Event string

const (
	EventKillSwitch Event = "KILL_SWITCH"
	EventForceClose Event = "FORCE_CLOSE"
	EventSystem     Event = "SYSTEM"
)

// Alert is a trading event bound for an operator channel. Symbol, PnLRupees,
// ClosedCount and Reason are optional structured context; Message is the
// human-readable rendering.
type Alert struct {
	Level       AlertLevel `json:"level"`
	Event       Event      `json:"event"`
	Title       string     `json:"title"`
	Message     string     `json:"message"`
	Symbol      string     `json:"symbol,omitempty"`
	PnLRupees   float64    `json:"pnl_rupees,omitempty"`
	ClosedCount int        `json:"closed_count,omitempty"`
	Reason      string     `json:"reason,omitempty"`
}

// Notifier is the interface for all notification backends.
type Notifier interface {
	// Send delivers an alert. Returns error if delivery fails.
	Send(ctx context.Context, alert Alert) error
}

// LogNotifier writes alerts to the process log (useful for development).
type LogNotifier struct{}

// NewLogNotifier creates a log-based notifier.
func NewLogNotifier() *LogNotifier {
	return &LogNotifier{}
}

func (n *LogNotifier) Send(ctx context.Context, alert Alert) error {
	if alert.Reason != "" {
		log.Printf("[notify] [%s] %s %s: %s (reason=%s)",
			alert.Level, alert.Event, alert.Title, alert.Message, alert.Reason)
		return nil
	}
	log.Printf("[notify] [%s] %s %s: %s", alert.Level, alert.Event, alert.Title, alert.Message)
	return nil
}
