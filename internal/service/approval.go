package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/arbiterhq/arbiter/internal/adapter/ws"
	"github.com/arbiterhq/arbiter/internal/domain"
	"github.com/arbiterhq/arbiter/internal/domain/approval"
	"github.com/arbiterhq/arbiter/internal/domain/decision"
	"github.com/arbiterhq/arbiter/internal/port/messagequeue"
	"github.com/arbiterhq/arbiter/internal/port/notifier"
)

// ApprovalService coordinates human approvals. Await registers a waiter,
// notifies humans through every configured channel, and blocks until the
// first response or the timeout. Submit delivers a response; the first
// writer wins, later responses are logged and ignored.
type ApprovalService struct {
	timeout       time.Duration
	reminderAfter time.Duration
	notify        *NotifyService
	queue         messagequeue.Queue
	hub           *ws.Hub
	now           func() time.Time

	mu      sync.Mutex
	pending map[string]*pendingWaiter
}

type pendingWaiter struct {
	waiter approval.Waiter
	// Buffer of one: the first Submit lands, every later one hits the
	// default branch and is reported as a duplicate.
	responses chan approval.Response
}

// NewApprovalService creates the human approval coordinator.
func NewApprovalService(timeout, reminderAfter time.Duration, notify *NotifyService, queue messagequeue.Queue, hub *ws.Hub) *ApprovalService {
	return &ApprovalService{
		timeout:       timeout,
		reminderAfter: reminderAfter,
		notify:        notify,
		queue:         queue,
		hub:           hub,
		now:           time.Now,
		pending:       make(map[string]*pendingWaiter),
	}
}

// Await blocks until a human answers the request or the approval window
// expires. A timeout yields StatusTimedOut, which the engine treats as a
// rejection. Cancelling ctx withdraws the request: the waiter is removed
// without a terminal verdict and ctx.Err() is returned.
func (s *ApprovalService) Await(ctx context.Context, req decision.Request) (approval.Waiter, error) {
	now := s.now().UTC()
	expiresAt := now.Add(s.timeout)
	if req.Deadline != nil && req.Deadline.Before(expiresAt) {
		expiresAt = req.Deadline.UTC()
	}

	w := approval.Waiter{
		RequestID: req.ID,
		Status:    approval.StatusPending,
		CreatedAt: now,
		ExpiresAt: expiresAt,
	}
	p := &pendingWaiter{
		waiter:    w,
		responses: make(chan approval.Response, 1),
	}

	s.mu.Lock()
	if _, exists := s.pending[req.ID]; exists {
		s.mu.Unlock()
		return approval.Waiter{}, fmt.Errorf("%w: approval already pending for request %s", domain.ErrConflict, req.ID)
	}
	s.pending[req.ID] = p
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.pending, req.ID)
		s.mu.Unlock()
	}()

	s.announcePending(ctx, req, w)

	expire := time.NewTimer(expiresAt.Sub(now))
	defer expire.Stop()

	var remind <-chan time.Time
	if s.reminderAfter > 0 && s.reminderAfter < expiresAt.Sub(now) {
		reminder := time.NewTimer(s.reminderAfter)
		defer reminder.Stop()
		remind = reminder.C
	}

	for {
		select {
		case resp := <-p.responses:
			respondedAt := s.now().UTC()
			w.Status = approval.StatusRejected
			if resp.Approved {
				w.Status = approval.StatusApproved
			}
			w.ResponderID = resp.ResponderID
			w.Comment = resp.Comment
			w.RespondedAt = &respondedAt
			s.announceResolved(ctx, w)
			return w, nil

		case <-remind:
			remind = nil
			s.remindPending(ctx, req, w)

		case <-expire.C:
			w.Status = approval.StatusTimedOut
			slog.Warn("approval timed out",
				"request_id", req.ID,
				"waited", s.now().UTC().Sub(w.CreatedAt).Round(time.Second),
			)
			s.announceResolved(ctx, w)
			return w, nil

		case <-ctx.Done():
			slog.Info("approval wait withdrawn", "request_id", req.ID)
			return approval.Waiter{}, ctx.Err()
		}
	}
}

// Submit delivers a human response to a pending waiter. Returns false when
// no waiter is pending for the request, which covers both unknown request
// IDs and responses arriving after the waiter reached a terminal state.
func (s *ApprovalService) Submit(resp approval.Response) bool {
	s.mu.Lock()
	p, ok := s.pending[resp.RequestID]
	s.mu.Unlock()

	if !ok {
		slog.Info("late or unknown approval response ignored",
			"request_id", resp.RequestID,
			"responder", resp.ResponderID,
		)
		return false
	}

	select {
	case p.responses <- resp:
		return true
	default:
		slog.Info("duplicate approval response ignored",
			"request_id", resp.RequestID,
			"responder", resp.ResponderID,
		)
		return false
	}
}

// Pending returns the currently pending waiters, oldest first.
func (s *ApprovalService) Pending() []approval.Waiter {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]approval.Waiter, 0, len(s.pending))
	for _, p := range s.pending {
		out = append(out, p.waiter)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// PendingCount returns the number of waiters currently pending.
func (s *ApprovalService) PendingCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

func (s *ApprovalService) announcePending(ctx context.Context, req decision.Request, w approval.Waiter) {
	slog.Info("approval pending",
		"request_id", req.ID,
		"action_type", req.ActionType,
		"amount_usd", req.AmountUSD(),
		"expires_at", w.ExpiresAt,
	)

	if s.notify != nil {
		s.notify.Notify(ctx, notifier.Notification{
			Title: "Approval required",
			Message: fmt.Sprintf("Request %s (%s, $%.2f) needs a human decision before %s.",
				req.ID, req.ActionType, req.AmountUSD(), w.ExpiresAt.Format(time.RFC3339)),
			Level:    "warning",
			Event:    "approval.pending",
			Priority: notifier.PriorityUrgent,
		})
	}
	s.publish(ctx, messagequeue.SubjectApprovalPending, messagequeue.ApprovalPendingPayload{
		RequestID: req.ID,
		AmountUSD: req.AmountUSD(),
		Payload:   req.Payload,
		ExpiresAt: w.ExpiresAt.Format(time.RFC3339),
	})
	if s.hub != nil {
		s.hub.BroadcastEvent(ctx, ws.EventApprovalPending, ws.ApprovalPendingEvent{
			RequestID: req.ID,
			AmountUSD: req.AmountUSD(),
			Payload:   req.Payload,
			ExpiresAt: w.ExpiresAt.Format(time.RFC3339),
		})
	}
}

func (s *ApprovalService) remindPending(ctx context.Context, req decision.Request, w approval.Waiter) {
	slog.Info("approval reminder", "request_id", req.ID, "expires_at", w.ExpiresAt)

	if s.notify != nil {
		s.notify.Notify(ctx, notifier.Notification{
			Title: "Approval still pending",
			Message: fmt.Sprintf("Request %s is still waiting for a decision; it auto-rejects at %s.",
				req.ID, w.ExpiresAt.Format(time.RFC3339)),
			Level:    "warning",
			Event:    "approval.reminder",
			Priority: notifier.PriorityUrgent,
		})
	}
	if s.hub != nil {
		s.hub.BroadcastEvent(ctx, ws.EventApprovalReminder, ws.ApprovalPendingEvent{
			RequestID: req.ID,
			AmountUSD: req.AmountUSD(),
			Payload:   req.Payload,
			ExpiresAt: w.ExpiresAt.Format(time.RFC3339),
		})
	}
}

func (s *ApprovalService) announceResolved(ctx context.Context, w approval.Waiter) {
	s.publish(ctx, messagequeue.SubjectApprovalResolved, messagequeue.ApprovalResolvedPayload{
		RequestID:   w.RequestID,
		Status:      string(w.Status),
		ResponderID: w.ResponderID,
	})
	if s.hub != nil {
		s.hub.BroadcastEvent(ctx, ws.EventApprovalResolved, ws.ApprovalResolvedEvent{
			RequestID:   w.RequestID,
			Status:      string(w.Status),
			ResponderID: w.ResponderID,
		})
	}
}

func (s *ApprovalService) publish(ctx context.Context, subject string, payload any) {
	if s.queue == nil {
		return
	}
	data, err := json.Marshal(payload)
	if err != nil {
		slog.Error("marshal queue payload", "subject", subject, "error", err)
		return
	}
	if err := s.queue.Publish(ctx, subject, data); err != nil {
		slog.Warn("queue publish failed", "subject", subject, "error", err)
	}
}
