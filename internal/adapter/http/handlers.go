package http

import (
	"net/http"
	"strconv"
	"time"

	"github.com/arbiterhq/arbiter/internal/domain/approval"
	"github.com/arbiterhq/arbiter/internal/domain/audit"
	"github.com/arbiterhq/arbiter/internal/domain/decision"
	"github.com/arbiterhq/arbiter/internal/service"
)

const maxRequestBodySize = 1 << 20 // 1 MB

// Handlers carries the services the REST API exposes.
type Handlers struct {
	engine    *service.Engine
	approvals *service.ApprovalService
	audit     *service.AuditService
	version   string
}

// NewHandlers creates the handler set for the API.
func NewHandlers(engine *service.Engine, approvals *service.ApprovalService, auditSvc *service.AuditService, version string) *Handlers {
	return &Handlers{
		engine:    engine,
		approvals: approvals,
		audit:     auditSvc,
		version:   version,
	}
}

// --- Decisions ---

type submitDecisionRequest struct {
	ActionType      string   `json:"action_type"`
	AmountUSD       *float64 `json:"amount_usd,omitempty"`
	Destination     string   `json:"destination,omitempty"`
	Payload         string   `json:"payload"`
	DeadlineSeconds int      `json:"deadline_seconds,omitempty"`
}

// SubmitDecision runs a request through the engine and returns the verdict.
// The call blocks for the full authorization path, including a human
// approval wait; callers that cannot hold a connection that long should set
// deadline_seconds.
func (h *Handlers) SubmitDecision(w http.ResponseWriter, r *http.Request) {
	body, ok := readJSON[submitDecisionRequest](w, r, maxRequestBodySize)
	if !ok {
		return
	}

	req := decision.Request{
		ActionType:  decision.ActionType(body.ActionType),
		Amount:      body.AmountUSD,
		Destination: body.Destination,
		Payload:     body.Payload,
	}
	if body.DeadlineSeconds > 0 {
		deadline := time.Now().UTC().Add(time.Duration(body.DeadlineSeconds) * time.Second)
		req.Deadline = &deadline
	}

	verdict, err := h.engine.Decide(r.Context(), req)
	if err != nil {
		writeDomainError(w, err, "decision failed")
		return
	}
	writeJSON(w, http.StatusOK, verdict)
}

// GetDecision returns the audit entry for a request: the verdict plus the
// evidence it was derived from.
func (h *Handlers) GetDecision(w http.ResponseWriter, r *http.Request) {
	id := urlParam(r, "id")

	entry, err := h.audit.ByRequestID(r.Context(), id)
	if err != nil {
		writeDomainError(w, err, "decision not found")
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

// --- Approvals ---

// ListPendingApprovals returns the waiters currently awaiting a human.
func (h *Handlers) ListPendingApprovals(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.approvals.Pending())
}

type respondApprovalRequest struct {
	Approved    bool   `json:"approved"`
	ResponderID string `json:"responder_id"`
	Comment     string `json:"comment,omitempty"`
}

// RespondApproval delivers a human response to a pending waiter. Late and
// duplicate responses get 409; the first response per waiter gets 202.
func (h *Handlers) RespondApproval(w http.ResponseWriter, r *http.Request) {
	id := urlParam(r, "id")

	body, ok := readJSON[respondApprovalRequest](w, r, maxRequestBodySize)
	if !ok {
		return
	}
	if body.ResponderID == "" {
		writeError(w, http.StatusBadRequest, "responder_id is required")
		return
	}

	accepted := h.approvals.Submit(approval.Response{
		RequestID:   id,
		Approved:    body.Approved,
		ResponderID: body.ResponderID,
		Comment:     body.Comment,
	})
	if !accepted {
		writeError(w, http.StatusConflict, "no pending approval for this request")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

// --- Audit ---

// ListAuditEntries returns audit entries filtered by query parameters:
// request_id, tier, from, to (RFC 3339), and limit.
func (h *Handlers) ListAuditEntries(w http.ResponseWriter, r *http.Request) {
	q := audit.Query{
		RequestID: r.URL.Query().Get("request_id"),
		Tier:      decision.Tier(r.URL.Query().Get("tier")),
	}

	if v := r.URL.Query().Get("from"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid from timestamp")
			return
		}
		q.From = t
	}
	if v := r.URL.Query().Get("to"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid to timestamp")
			return
		}
		q.To = t
	}
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		q.Limit = n
	}

	entries, err := h.audit.List(r.Context(), q)
	if err != nil {
		writeDomainError(w, err, "audit entries not found")
		return
	}
	if entries == nil {
		entries = []audit.Entry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

// VerifyAuditChain recomputes the hash chain over the whole log.
func (h *Handlers) VerifyAuditChain(w http.ResponseWriter, r *http.Request) {
	n, err := h.audit.VerifyChain(r.Context())
	if err != nil {
		writeJSON(w, http.StatusConflict, map[string]any{
			"intact":   false,
			"verified": n,
			"error":    err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"intact":   true,
		"verified": n,
	})
}

// --- Health ---

// Health reports liveness plus decision counters.
func (h *Handlers) Health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"version": h.version,
		"stats":   h.engine.Stats(),
	})
}
