// Package service contains application services.
package service

import (
	"context"
	"log/slog"

	"github.com/arbiterhq/arbiter/internal/port/notifier"
)

// NotifyService dispatches notifications to the registered channels,
// routed by priority. Delivery is best effort: a failing channel is
// logged and skipped, never propagated to the decision path.
type NotifyService struct {
	channels []notifier.Notifier
	routes   map[notifier.Priority][]string
}

// NewNotifyService creates a NotifyService with the given channels and an
// optional priority routing table (priority -> channel names). A priority
// with no route fans out to every channel.
func NewNotifyService(channels []notifier.Notifier, routes map[notifier.Priority][]string) *NotifyService {
	return &NotifyService{
		channels: channels,
		routes:   routes,
	}
}

// Notify sends a notification to every channel routed for its priority.
func (s *NotifyService) Notify(ctx context.Context, n notifier.Notification) {
	for _, ch := range s.channels {
		if !s.routed(n.Priority, ch.Name()) {
			continue
		}
		if err := ch.Send(ctx, n); err != nil {
			slog.Warn("notification send failed",
				"channel", ch.Name(),
				"event", n.Event,
				"error", err,
			)
			continue
		}
		slog.Debug("notification sent", "channel", ch.Name(), "event", n.Event)
	}
}

// ChannelCount returns the number of registered channels.
func (s *NotifyService) ChannelCount() int {
	return len(s.channels)
}

func (s *NotifyService) routed(p notifier.Priority, name string) bool {
	names, ok := s.routes[p]
	if !ok || len(names) == 0 {
		return true
	}
	for _, n := range names {
		if n == name {
			return true
		}
	}
	return false
}
