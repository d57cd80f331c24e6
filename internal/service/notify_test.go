package service

import (
	"context"
	"errors"
	"testing"

	"github.com/arbiterhq/arbiter/internal/port/notifier"
)

type fakeChannel struct {
	name string
	sent []notifier.Notification
	err  error
}

func (f *fakeChannel) Name() string { return f.name }

func (f *fakeChannel) Send(_ context.Context, n notifier.Notification) error {
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, n)
	return nil
}

func TestNotifyFansOutWithoutRoute(t *testing.T) {
	a := &fakeChannel{name: "telegram"}
	b := &fakeChannel{name: "email"}
	svc := NewNotifyService([]notifier.Notifier{a, b}, nil)

	svc.Notify(context.Background(), notifier.Notification{
		Title:    "Decision Resolved",
		Priority: notifier.PriorityStandard,
	})

	if len(a.sent) != 1 || len(b.sent) != 1 {
		t.Fatalf("expected both channels to receive, got %d and %d", len(a.sent), len(b.sent))
	}
}

func TestNotifyRoutesByPriority(t *testing.T) {
	chat := &fakeChannel{name: "telegram"}
	mail := &fakeChannel{name: "email"}
	svc := NewNotifyService([]notifier.Notifier{chat, mail}, map[notifier.Priority][]string{
		notifier.PriorityUrgent: {"telegram"},
	})

	svc.Notify(context.Background(), notifier.Notification{
		Title:    "Approval Pending",
		Priority: notifier.PriorityUrgent,
	})

	if len(chat.sent) != 1 {
		t.Fatalf("expected telegram to receive urgent notification, got %d", len(chat.sent))
	}
	if len(mail.sent) != 0 {
		t.Fatalf("expected email to be skipped for urgent priority, got %d", len(mail.sent))
	}

	// Unrouted priorities still reach every channel.
	svc.Notify(context.Background(), notifier.Notification{
		Title:    "Daily Digest",
		Priority: notifier.PriorityAsync,
	})
	if len(mail.sent) != 1 {
		t.Fatalf("expected email to receive async notification, got %d", len(mail.sent))
	}
}

func TestNotifyFailingChannelDoesNotBlockOthers(t *testing.T) {
	bad := &fakeChannel{name: "discord", err: errors.New("webhook down")}
	good := &fakeChannel{name: "telegram"}
	svc := NewNotifyService([]notifier.Notifier{bad, good}, nil)

	svc.Notify(context.Background(), notifier.Notification{Title: "Limit Violation"})

	if len(good.sent) != 1 {
		t.Fatalf("expected healthy channel to receive despite failure, got %d", len(good.sent))
	}
}
