package openrouter

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/arbiterhq/arbiter/internal/domain/council"
	"github.com/arbiterhq/arbiter/internal/domain/decision"
)

const opinionMaxTokens = 500

const systemPromptTemplate = `You are a board member reviewing a decision for an autonomous business system.

Your role is: %s

Analyze the decision and provide your independent assessment. Consider
risk factors, financial implications, compliance concerns, and strategic
alignment.

You MUST respond with valid JSON in this exact format:
{
    "vote": "approve" or "reject" or "abstain",
    "confidence": 0.0 to 1.0,
    "rationale": "Your reasoning (2-3 sentences)"
}

Do not include any text outside the JSON object.`

// Member is one council opinion source backed by an OpenRouter model.
// It validates and coerces raw model output into a council.Opinion; an
// unparseable response is a source failure, never a malformed opinion.
type Member struct {
	client *Client
	id     string
	model  string
	role   string
	weight float64
	now    func() time.Time
}

// NewMember creates an opinion source for a configured council member.
func NewMember(client *Client, id, model, role string, weight float64) *Member {
	if weight <= 0 {
		weight = 1
	}
	return &Member{
		client: client,
		id:     id,
		model:  model,
		role:   role,
		weight: weight,
		now:    time.Now,
	}
}

// ID returns the stable source identifier.
func (m *Member) ID() string { return m.id }

// Opine queries the model and coerces its response into an Opinion.
func (m *Member) Opine(ctx context.Context, req decision.Request) (council.Opinion, error) {
	user := fmt.Sprintf("Decision question: should the following action be approved?\n\nAction: %s\nAmount: %s\n\nProvide your assessment as JSON.",
		req.Payload, formatAmount(req.Amount))

	content, err := m.client.Complete(ctx, m.model, fmt.Sprintf(systemPromptTemplate, m.role), user, opinionMaxTokens)
	if err != nil {
		return council.Opinion{}, fmt.Errorf("source %s: %w", m.id, err)
	}

	raw, err := parseRawOpinion(content)
	if err != nil {
		return council.Opinion{}, fmt.Errorf("source %s: %w", m.id, err)
	}

	return council.Opinion{
		SourceID:   m.id,
		Vote:       raw.vote,
		Confidence: raw.confidence,
		Weight:     m.weight,
		Rationale:  raw.rationale,
		ReceivedAt: m.now(),
	}, nil
}

type rawOpinion struct {
	vote       council.Vote
	confidence float64
	rationale  string
}

// parseRawOpinion extracts and validates the strict {vote, confidence,
// rationale} contract from free-form model output. Models occasionally wrap
// the JSON in prose or code fences, so the outermost object is located
// before decoding.
func parseRawOpinion(content string) (rawOpinion, error) {
	var payload struct {
		Vote       string   `json:"vote"`
		Confidence *float64 `json:"confidence"`
		Rationale  string   `json:"rationale"`
	}

	obj, ok := extractJSONObject(content)
	if !ok {
		return rawOpinion{}, fmt.Errorf("no JSON object in response %q", truncate(content, 120))
	}
	if err := json.Unmarshal([]byte(obj), &payload); err != nil {
		return rawOpinion{}, fmt.Errorf("decode opinion: %w", err)
	}

	vote := council.Vote(strings.ToLower(strings.TrimSpace(payload.Vote)))
	if !vote.Valid() {
		return rawOpinion{}, fmt.Errorf("invalid vote %q", payload.Vote)
	}
	if payload.Confidence == nil {
		return rawOpinion{}, fmt.Errorf("missing confidence")
	}
	if *payload.Confidence < 0 || *payload.Confidence > 1 {
		return rawOpinion{}, fmt.Errorf("confidence %v out of range", *payload.Confidence)
	}

	return rawOpinion{
		vote:       vote,
		confidence: *payload.Confidence,
		rationale:  payload.Rationale,
	}, nil
}

// extractJSONObject returns the first balanced top-level JSON object in s.
func extractJSONObject(s string) (string, bool) {
	start := strings.IndexByte(s, '{')
	if start < 0 {
		return "", false
	}
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return s[start : i+1], true
			}
		}
	}
	return "", false
}

func formatAmount(amount *float64) string {
	if amount == nil {
		return "n/a"
	}
	return fmt.Sprintf("$%.2f", *amount)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
