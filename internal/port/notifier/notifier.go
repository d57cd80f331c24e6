// Package notifier defines the notification port (interface) used to reach
// humans about decisions. The engine does not know or care which channel a
// notification travels through.
package notifier

import (
	"context"
	"errors"
)

// ErrNotConfigured is returned when a notifier is not properly configured.
var ErrNotConfigured = errors.New("notifier: not configured")

// Priority classifies how urgently a notification must reach a human.
type Priority int

const (
	PriorityAsync    Priority = iota // daily digests, reports
	PriorityStandard                 // routine decision outcomes
	PriorityUrgent                   // pending approvals, limit violations
)

// Notification is the payload sent through a Notifier.
type Notification struct {
	Title    string   `json:"title"`
	Message  string   `json:"message"`
	Level    string   `json:"level"` // "info", "success", "warning", "error"
	Event    string   `json:"event"` // e.g. "approval.pending", "decision.resolved"
	Priority Priority `json:"priority"`
}

// Notifier is the port interface for delivering notifications.
type Notifier interface {
	// Name returns the unique channel identifier (e.g. "telegram", "discord").
	Name() string

	// Send delivers a notification.
	Send(ctx context.Context, n Notification) error
}
