package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/arbiterhq/arbiter/internal/adapter/ws"
	"github.com/arbiterhq/arbiter/internal/domain/approval"
	"github.com/arbiterhq/arbiter/internal/domain/audit"
	"github.com/arbiterhq/arbiter/internal/domain/council"
	"github.com/arbiterhq/arbiter/internal/domain/decision"
	"github.com/arbiterhq/arbiter/internal/logger"
	"github.com/arbiterhq/arbiter/internal/port/messagequeue"
	"github.com/arbiterhq/arbiter/internal/port/notifier"
)

const tracerName = "arbiter"

// Engine is the decision engine: it classifies each request into a tier,
// runs the tier's authorization path, applies the policy gate to approved
// verdicts, and releases the verdict only after its audit entry is durably
// written. Exactly one verdict per request.
type Engine struct {
	thresholds decision.Thresholds
	council    *CouncilService
	approvals  *ApprovalService
	gate       *Gate
	audit      *AuditService
	notify     *NotifyService
	queue      messagequeue.Queue
	hub        *ws.Hub

	// escalateNoConsensus sends a council deadlock to the human tier
	// instead of rejecting it outright.
	escalateNoConsensus bool

	now   func() time.Time
	newID func() string

	mu       sync.Mutex
	byTier   map[decision.Tier]int
	approved int
	rejected int
}

// NewEngine wires the decision engine. queue and hub may be nil; events are
// then skipped.
func NewEngine(
	thresholds decision.Thresholds,
	councilSvc *CouncilService,
	approvals *ApprovalService,
	gate *Gate,
	auditSvc *AuditService,
	notify *NotifyService,
	queue messagequeue.Queue,
	hub *ws.Hub,
	escalateNoConsensus bool,
) *Engine {
	return &Engine{
		thresholds:          thresholds,
		council:             councilSvc,
		approvals:           approvals,
		gate:                gate,
		audit:               auditSvc,
		notify:              notify,
		queue:               queue,
		hub:                 hub,
		escalateNoConsensus: escalateNoConsensus,
		now:                 time.Now,
		newID:               uuid.NewString,
		byTier:              make(map[decision.Tier]int),
	}
}

// Decide runs one request through the full authorization flow and returns
// its verdict. The verdict is released only after the audit entry is
// durably written; on audit failure there is no verdict and any gate
// reservation is rolled back.
func (e *Engine) Decide(ctx context.Context, req decision.Request) (decision.Verdict, error) {
	if req.ID == "" {
		req.ID = e.newID()
	}
	if req.RequestedAt.IsZero() {
		req.RequestedAt = e.now().UTC()
	}

	if err := decision.ValidateRequest(req, e.thresholds); err != nil {
		return decision.Verdict{}, err
	}

	tier := decision.Classify(req, e.thresholds)
	ctx = logger.WithRequestID(ctx, req.ID)
	ctx, span := otel.Tracer(tracerName).Start(ctx, "engine.decide",
		trace.WithAttributes(
			attribute.String("request.id", req.ID),
			attribute.String("request.action_type", string(req.ActionType)),
			attribute.String("request.tier", string(tier)),
			attribute.Float64("request.amount_usd", req.AmountUSD()),
		))
	defer span.End()

	slog.Info("decision requested",
		"request_id", req.ID,
		"action_type", req.ActionType,
		"amount_usd", req.AmountUSD(),
		"tier", tier,
	)
	e.publishRequested(ctx, req, tier)

	entry := audit.Entry{
		ID:        e.newID(),
		RequestID: req.ID,
		Tier:      tier,
		Request:   req,
	}

	approved, reason, err := e.authorize(ctx, req, tier, &entry)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return decision.Verdict{}, err
	}

	// The gate runs only on tier-approved verdicts: a rejected request
	// spends nothing, so it consumes no budget.
	reserved := false
	if approved && (req.Amount != nil || req.ActionType == decision.ActionSpend) {
		_, gateSpan := otel.Tracer(tracerName).Start(ctx, "gate.check")
		check := e.gate.Check(req)
		gateSpan.SetAttributes(
			attribute.Bool("gate.passed", check.Passed),
			attribute.String("gate.violated", string(check.Violated)),
		)
		gateSpan.End()
		entry.PolicyCheck = &check
		reserved = check.Passed
		if !check.Passed {
			approved = false
			reason = check.Reason
			slog.Warn("policy gate rejected approved request",
				"request_id", req.ID,
				"constraint", check.Violated,
				"reason", check.Reason,
			)
		}
	}

	verdict := decision.Verdict{
		RequestID:    req.ID,
		Approved:     approved,
		Tier:         tier,
		Reason:       reason,
		AuditEntryID: entry.ID,
		DecidedAt:    e.now().UTC(),
	}
	entry.Verdict = verdict

	if err := e.audit.Record(ctx, &entry); err != nil {
		if reserved {
			e.gate.Release(req)
		}
		span.SetStatus(codes.Error, err.Error())
		return decision.Verdict{}, fmt.Errorf("record audit entry: %w", err)
	}

	e.count(tier, approved)
	span.SetAttributes(attribute.Bool("verdict.approved", approved))
	slog.Info("decision resolved",
		"request_id", req.ID,
		"tier", tier,
		"approved", approved,
		"reason", reason,
		"audit_entry_id", entry.ID,
	)

	e.publishResolved(ctx, verdict)
	e.notifyResolved(ctx, req, verdict, entry.PolicyCheck != nil && !entry.PolicyCheck.Passed)
	return verdict, nil
}

// authorize runs the tier-specific path and records consensus and approval
// evidence on the entry as it goes.
func (e *Engine) authorize(ctx context.Context, req decision.Request, tier decision.Tier, entry *audit.Entry) (bool, string, error) {
	switch tier {
	case decision.TierAutonomous:
		return true, "amount below autonomous threshold", nil

	case decision.TierCouncil:
		res := e.council.Deliberate(ctx, req)
		entry.Consensus = &res
		e.publishDeliberated(ctx, res)
		if res.Approved {
			return true, res.Reason, nil
		}
		if res.Reason == council.ReasonNoConsensus && e.escalateNoConsensus {
			slog.Info("no consensus, escalating to human approval", "request_id", req.ID)
			return e.awaitHuman(ctx, req, entry)
		}
		return false, res.Reason, nil

	case decision.TierHuman:
		return e.awaitHuman(ctx, req, entry)

	case decision.TierSelfModification:
		// Self-modification needs both an approving council and an
		// approving human; either gate failing is final.
		res := e.council.Deliberate(ctx, req)
		entry.Consensus = &res
		e.publishDeliberated(ctx, res)
		if !res.Approved {
			return false, "council: " + res.Reason, nil
		}
		return e.awaitHuman(ctx, req, entry)
	}

	return false, fmt.Sprintf("unknown tier %q", tier), nil
}

func (e *Engine) awaitHuman(ctx context.Context, req decision.Request, entry *audit.Entry) (bool, string, error) {
	w, err := e.approvals.Await(ctx, req)
	if err != nil {
		return false, "", fmt.Errorf("await approval: %w", err)
	}
	entry.Approval = &w

	switch w.Status {
	case approval.StatusApproved:
		return true, "approved by " + w.ResponderID, nil
	case approval.StatusRejected:
		return false, "rejected by " + w.ResponderID, nil
	default:
		return false, "approval timed out", nil
	}
}

// Stats is an operational snapshot for the health endpoint.
type Stats struct {
	Decided          int            `json:"decided"`
	Approved         int            `json:"approved"`
	Rejected         int            `json:"rejected"`
	ByTier           map[string]int `json:"by_tier"`
	PendingApprovals int            `json:"pending_approvals"`
}

// Stats returns decision counters since process start.
func (e *Engine) Stats() Stats {
	e.mu.Lock()
	defer e.mu.Unlock()

	byTier := make(map[string]int, len(e.byTier))
	for tier, n := range e.byTier {
		byTier[string(tier)] = n
	}
	return Stats{
		Decided:          e.approved + e.rejected,
		Approved:         e.approved,
		Rejected:         e.rejected,
		ByTier:           byTier,
		PendingApprovals: e.approvals.PendingCount(),
	}
}

func (e *Engine) count(tier decision.Tier, approved bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.byTier[tier]++
	if approved {
		e.approved++
	} else {
		e.rejected++
	}
}

func (e *Engine) publishRequested(ctx context.Context, req decision.Request, tier decision.Tier) {
	e.publish(ctx, messagequeue.SubjectDecisionRequested, messagequeue.DecisionRequestedPayload{
		RequestID:  req.ID,
		ActionType: string(req.ActionType),
		AmountUSD:  req.AmountUSD(),
		Tier:       string(tier),
	})
	if e.hub != nil {
		e.hub.BroadcastEvent(ctx, ws.EventDecisionRequested, ws.DecisionRequestedEvent{
			RequestID:  req.ID,
			ActionType: string(req.ActionType),
			AmountUSD:  req.AmountUSD(),
			Tier:       string(tier),
		})
	}
}

func (e *Engine) publishDeliberated(ctx context.Context, res council.Result) {
	e.publish(ctx, messagequeue.SubjectDecisionDeliberated, messagequeue.DecisionDeliberatedPayload{
		RequestID:     res.RequestID,
		Outcome:       string(res.Outcome),
		Reason:        res.Reason,
		WeightedScore: res.WeightedScore,
		Opinions:      len(res.Opinions),
	})
	if e.hub != nil {
		e.hub.BroadcastEvent(ctx, ws.EventCouncilDeliberated, ws.CouncilDeliberatedEvent{
			RequestID:     res.RequestID,
			Outcome:       string(res.Outcome),
			Reason:        res.Reason,
			WeightedScore: res.WeightedScore,
			Opinions:      len(res.Opinions),
		})
	}
}

func (e *Engine) publishResolved(ctx context.Context, v decision.Verdict) {
	e.publish(ctx, messagequeue.SubjectDecisionResolved, messagequeue.DecisionResolvedPayload{
		RequestID:    v.RequestID,
		Tier:         string(v.Tier),
		Approved:     v.Approved,
		Reason:       v.Reason,
		AuditEntryID: v.AuditEntryID,
	})
	if e.hub != nil {
		e.hub.BroadcastEvent(ctx, ws.EventDecisionResolved, ws.DecisionResolvedEvent{
			RequestID:    v.RequestID,
			Tier:         string(v.Tier),
			Approved:     v.Approved,
			Reason:       v.Reason,
			AuditEntryID: v.AuditEntryID,
		})
	}
}

func (e *Engine) notifyResolved(ctx context.Context, req decision.Request, v decision.Verdict, policyViolation bool) {
	if e.notify == nil {
		return
	}

	n := notifier.Notification{
		Title: fmt.Sprintf("Decision %s: %s", v.RequestID, outcomeWord(v.Approved)),
		Message: fmt.Sprintf("%s request for $%.2f was %s at tier %s: %s",
			req.ActionType, req.AmountUSD(), outcomeWord(v.Approved), v.Tier, v.Reason),
		Level:    "info",
		Event:    "decision.resolved",
		Priority: notifier.PriorityStandard,
	}
	if policyViolation {
		n.Level = "warning"
		n.Event = "policy.violation"
		n.Priority = notifier.PriorityUrgent
	} else if v.Approved {
		n.Level = "success"
	}
	e.notify.Notify(ctx, n)
}

func (e *Engine) publish(ctx context.Context, subject string, payload any) {
	if e.queue == nil {
		return
	}
	data, err := json.Marshal(payload)
	if err != nil {
		slog.Error("marshal queue payload", "subject", subject, "error", err)
		return
	}
	if err := e.queue.Publish(ctx, subject, data); err != nil {
		slog.Warn("queue publish failed", "subject", subject, "error", err)
	}
}

func outcomeWord(approved bool) string {
	if approved {
		return "approved"
	}
	return "rejected"
}
