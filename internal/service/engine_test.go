package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/arbiterhq/arbiter/internal/domain"
	"github.com/arbiterhq/arbiter/internal/domain/approval"
	"github.com/arbiterhq/arbiter/internal/domain/council"
	"github.com/arbiterhq/arbiter/internal/domain/decision"
	"github.com/arbiterhq/arbiter/internal/domain/policy"
)

// testEngine builds an engine over in-memory fakes. Council sources approve
// unanimously unless overridden.
func testEngine(store *memStore, sources []*fakeSource) *Engine {
	if sources == nil {
		sources = []*fakeSource{
			{id: "a", vote: council.VoteApprove, confidence: 0.9},
			{id: "b", vote: council.VoteApprove, confidence: 0.9},
			{id: "chairman", vote: council.VoteApprove, confidence: 0.9, weight: 1.5},
		}
	}
	rules := council.Rules{Threshold: 0.66, MinQuorum: len(sources), ChairmanID: "chairman"}
	councilSvc := NewCouncilService(asSources(sources), rules, time.Second, 5*time.Second)
	approvals := NewApprovalService(100*time.Millisecond, 0, nil, nil, nil)
	gate := NewGate(testLimits(), store)
	auditSvc := NewAuditService(store)

	return NewEngine(testThresholds(), councilSvc, approvals, gate, auditSvc, nil, nil, nil, true)
}

func TestDecideAutonomousTier(t *testing.T) {
	store := &memStore{}
	e := testEngine(store, nil)

	v, err := e.Decide(context.Background(), spendRequest("req-1", 50))
	if err != nil {
		t.Fatalf("decide failed: %v", err)
	}
	if !v.Approved || v.Tier != decision.TierAutonomous {
		t.Fatalf("expected autonomous approval, got %+v", v)
	}

	entry := store.last()
	if entry.Consensus != nil || entry.Approval != nil {
		t.Fatal("autonomous entry must carry neither consensus nor approval evidence")
	}
	if entry.Verdict.AuditEntryID != entry.ID {
		t.Fatal("verdict must reference its audit entry")
	}
}

func TestDecideCouncilTierApproves(t *testing.T) {
	store := &memStore{}
	e := testEngine(store, nil)

	v, err := e.Decide(context.Background(), spendRequest("req-1", 500))
	if err != nil {
		t.Fatalf("decide failed: %v", err)
	}
	if !v.Approved || v.Tier != decision.TierCouncil {
		t.Fatalf("expected council approval, got %+v", v)
	}

	entry := store.last()
	if entry.Consensus == nil {
		t.Fatal("council entry must carry the consensus result")
	}
	if len(entry.Consensus.Opinions) != 3 {
		t.Fatalf("expected 3 recorded opinions, got %d", len(entry.Consensus.Opinions))
	}
}

func TestDecideCouncilMajorityRejectIsFinal(t *testing.T) {
	store := &memStore{}
	sources := []*fakeSource{
		{id: "a", vote: council.VoteReject, confidence: 0.9},
		{id: "b", vote: council.VoteReject, confidence: 0.9},
		{id: "chairman", vote: council.VoteApprove, confidence: 0.5, weight: 1.5},
	}
	e := testEngine(store, sources)

	v, err := e.Decide(context.Background(), spendRequest("req-1", 500))
	if err != nil {
		t.Fatalf("decide failed: %v", err)
	}
	if v.Approved {
		t.Fatal("majority rejection must not be escalated")
	}
	if store.last().Approval != nil {
		t.Fatal("hard rejection must not reach the human tier")
	}
}

func TestDecideNoConsensusEscalatesToHuman(t *testing.T) {
	// 2 approve vs 1 reject at low confidence: score misses the threshold
	// but approvals lead, so the engine escalates. The approval waiter then
	// times out (100ms window, nobody answers) and the request rejects.
	store := &memStore{}
	sources := []*fakeSource{
		{id: "a", vote: council.VoteApprove, confidence: 0.4},
		{id: "b", vote: council.VoteApprove, confidence: 0.4},
		{id: "chairman", vote: council.VoteReject, confidence: 0.9, weight: 1.5},
	}
	e := testEngine(store, sources)

	v, err := e.Decide(context.Background(), spendRequest("req-1", 500))
	if err != nil {
		t.Fatalf("decide failed: %v", err)
	}
	if v.Approved {
		t.Fatal("expected rejection after escalation timeout")
	}

	entry := store.last()
	if entry.Consensus == nil || entry.Approval == nil {
		t.Fatal("escalated entry must carry both consensus and approval evidence")
	}
	if entry.Approval.Status != approval.StatusTimedOut {
		t.Fatalf("expected timed_out approval, got %s", entry.Approval.Status)
	}
}

func TestDecideHumanTierApproved(t *testing.T) {
	store := &memStore{}
	e := testEngine(store, nil)

	req := decision.Request{
		ID:         "req-1",
		ActionType: decision.ActionGeneric,
		Payload:    "rotate signing keys",
	}

	verdicts := make(chan decision.Verdict, 1)
	go func() {
		v, err := e.Decide(context.Background(), req)
		if err != nil {
			t.Errorf("decide failed: %v", err)
		}
		verdicts <- v
	}()

	waitForPending(t, e.approvals, 1)
	e.approvals.Submit(approval.Response{RequestID: "req-1", Approved: true, ResponderID: "alice"})

	v := <-verdicts
	if !v.Approved {
		t.Fatalf("expected human approval, got %+v", v)
	}
	if v.Tier != decision.TierHuman {
		t.Fatalf("expected human tier from the generic default, got %s", v.Tier)
	}
	if v.Reason != "approved by alice" {
		t.Fatalf("unexpected reason %q", v.Reason)
	}
}

func TestDecideHumanTimeoutRejects(t *testing.T) {
	store := &memStore{}
	e := testEngine(store, nil)

	v, err := e.Decide(context.Background(), spendRequest("req-1", 3000))
	if err != nil {
		t.Fatalf("decide failed: %v", err)
	}
	if v.Approved {
		t.Fatal("unanswered approval must reject")
	}
	if v.Reason != "approval timed out" {
		t.Fatalf("unexpected reason %q", v.Reason)
	}
}

func TestDecidePolicyGateOverridesTierApproval(t *testing.T) {
	// Council approves 900 but the whitelist rejects the destination.
	store := &memStore{}
	e := testEngine(store, nil)

	req := spendRequest("req-1", 500)
	req.Destination = "unknown-vendor"

	v, err := e.Decide(context.Background(), req)
	if err != nil {
		t.Fatalf("decide failed: %v", err)
	}
	if v.Approved {
		t.Fatal("policy violation must override tier approval")
	}

	entry := store.last()
	if entry.PolicyCheck == nil || entry.PolicyCheck.Passed {
		t.Fatal("entry must record the failed policy check")
	}
	if entry.PolicyCheck.Violated != policy.ConstraintWhitelist {
		t.Fatalf("expected whitelist violation, got %s", entry.PolicyCheck.Violated)
	}
	if entry.Consensus == nil || !entry.Consensus.Approved {
		t.Fatal("entry must keep the council approval that the gate overrode")
	}
}

func TestDecideRejectedVerdictIsAudited(t *testing.T) {
	store := &memStore{}
	sources := []*fakeSource{
		{id: "a", vote: council.VoteReject, confidence: 0.9},
		{id: "b", vote: council.VoteReject, confidence: 0.9},
		{id: "chairman", vote: council.VoteReject, confidence: 0.9, weight: 1.5},
	}
	e := testEngine(store, sources)

	v, err := e.Decide(context.Background(), spendRequest("req-1", 500))
	if err != nil {
		t.Fatalf("decide failed: %v", err)
	}
	if v.Approved {
		t.Fatal("expected rejection")
	}
	if store.count() != 1 {
		t.Fatalf("rejected verdicts must be audited, got %d entries", store.count())
	}
}

func TestDecideNoVerdictWithoutAudit(t *testing.T) {
	store := &memStore{failAppend: true}
	e := testEngine(store, nil)

	_, err := e.Decide(context.Background(), spendRequest("req-1", 50))
	if err == nil {
		t.Fatal("audit failure must abort the verdict")
	}

	// The aborted request's gate reservation was rolled back: the full
	// daily budget is still available once the store recovers.
	store.mu.Lock()
	store.failAppend = false
	store.mu.Unlock()

	for i := 0; i < 5; i++ {
		v, err := e.Decide(context.Background(), spendRequest("req-n", 1000))
		if err != nil {
			t.Fatalf("decide %d failed: %v", i, err)
		}
		if !v.Approved {
			t.Fatalf("decide %d rejected: %s", i, v.Reason)
		}
	}
}

func TestDecideValidationErrorProducesNoAudit(t *testing.T) {
	store := &memStore{}
	e := testEngine(store, nil)

	req := decision.Request{ID: "req-1", ActionType: "teleport"}
	if _, err := e.Decide(context.Background(), req); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if store.count() != 0 {
		t.Fatal("malformed requests must not reach the audit log")
	}
}

func TestDecideSelfModificationNeedsCouncilAndHuman(t *testing.T) {
	store := &memStore{}
	e := testEngine(store, nil)

	req := decision.Request{
		ID:         "req-1",
		ActionType: decision.ActionSelfModification,
		Payload:    "swap pricing model",
	}

	verdicts := make(chan decision.Verdict, 1)
	go func() {
		v, err := e.Decide(context.Background(), req)
		if err != nil {
			t.Errorf("decide failed: %v", err)
		}
		verdicts <- v
	}()

	waitForPending(t, e.approvals, 1)
	e.approvals.Submit(approval.Response{RequestID: "req-1", Approved: true, ResponderID: "alice"})

	v := <-verdicts
	if !v.Approved || v.Tier != decision.TierSelfModification {
		t.Fatalf("expected self-modification approval, got %+v", v)
	}

	entry := store.last()
	if entry.Consensus == nil || entry.Approval == nil {
		t.Fatal("self-modification entry must carry both consensus and approval evidence")
	}
}

func TestDecideSelfModificationCouncilRejectIsFinal(t *testing.T) {
	store := &memStore{}
	sources := []*fakeSource{
		{id: "a", vote: council.VoteReject, confidence: 0.9},
		{id: "b", vote: council.VoteReject, confidence: 0.9},
		{id: "chairman", vote: council.VoteReject, confidence: 0.9, weight: 1.5},
	}
	e := testEngine(store, sources)

	req := decision.Request{
		ID:         "req-1",
		ActionType: decision.ActionSelfModification,
		Payload:    "disable audit log",
	}
	v, err := e.Decide(context.Background(), req)
	if err != nil {
		t.Fatalf("decide failed: %v", err)
	}
	if v.Approved {
		t.Fatal("council rejection must be final for self-modification")
	}
	if store.last().Approval != nil {
		t.Fatal("rejected self-modification must not reach the human tier")
	}
}

func TestDecideAssignsIDAndTimestamp(t *testing.T) {
	store := &memStore{}
	e := testEngine(store, nil)

	req := spendRequest("", 50)
	v, err := e.Decide(context.Background(), req)
	if err != nil {
		t.Fatalf("decide failed: %v", err)
	}
	if v.RequestID == "" {
		t.Fatal("engine must assign a request id")
	}
	if store.last().Request.RequestedAt.IsZero() {
		t.Fatal("engine must stamp the request time")
	}
}

func TestStatsCountDecisions(t *testing.T) {
	store := &memStore{}
	e := testEngine(store, nil)

	if _, err := e.Decide(context.Background(), spendRequest("req-1", 50)); err != nil {
		t.Fatal(err)
	}
	if _, err := e.Decide(context.Background(), spendRequest("req-2", 500)); err != nil {
		t.Fatal(err)
	}

	stats := e.Stats()
	if stats.Decided != 2 || stats.Approved != 2 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
	if stats.ByTier["autonomous"] != 1 || stats.ByTier["council"] != 1 {
		t.Fatalf("unexpected tier counters: %+v", stats.ByTier)
	}
}
