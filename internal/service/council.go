package service

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/arbiterhq/arbiter/internal/domain/council"
	"github.com/arbiterhq/arbiter/internal/domain/decision"
	"github.com/arbiterhq/arbiter/internal/port/opinion"
)

// CouncilService runs one deliberation: it fans a request out to every
// opinion source concurrently, collects whatever arrives before the
// deliberation deadline, and aggregates the collected opinions into a
// consensus result. A slow or failed source contributes nothing; it never
// blocks finalization.
type CouncilService struct {
	sources             []opinion.Source
	rules               council.Rules
	sourceTimeout       time.Duration
	deliberationTimeout time.Duration
	now                 func() time.Time
}

// NewCouncilService creates a deliberation service over the given sources.
// rules.Sources is derived from the source list.
func NewCouncilService(sources []opinion.Source, rules council.Rules, sourceTimeout, deliberationTimeout time.Duration) *CouncilService {
	rules.Sources = len(sources)
	return &CouncilService{
		sources:             sources,
		rules:               rules,
		sourceTimeout:       sourceTimeout,
		deliberationTimeout: deliberationTimeout,
		now:                 time.Now,
	}
}

// Deliberate collects opinions and finalizes a consensus result. It returns
// when all sources have answered or the deliberation deadline elapses,
// whichever comes first; stragglers are cancelled and aggregation proceeds
// with what arrived.
func (s *CouncilService) Deliberate(ctx context.Context, req decision.Request) council.Result {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "council.deliberate",
		trace.WithAttributes(attribute.String("request.id", req.ID)))
	defer span.End()

	deadline := s.deliberationTimeout
	if req.Deadline != nil {
		if remaining := req.Deadline.Sub(s.now()); remaining < deadline {
			deadline = remaining
		}
	}
	ctx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	// Buffered to the source count so collectors never block after the
	// deadline fires and the drain below stops reading.
	opinions := make(chan council.Opinion, len(s.sources))

	g, gctx := errgroup.WithContext(ctx)
	for _, src := range s.sources {
		g.Go(func() error {
			sctx, scancel := context.WithTimeout(gctx, s.sourceTimeout)
			defer scancel()

			op, err := src.Opine(sctx, req)
			if err != nil {
				slog.Warn("opinion source failed",
					"request_id", req.ID,
					"source", src.ID(),
					"error", err,
				)
				return nil
			}
			opinions <- op
			return nil
		})
	}

	done := make(chan struct{})
	go func() {
		_ = g.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		slog.Warn("deliberation deadline elapsed",
			"request_id", req.ID,
			"sources", len(s.sources),
		)
	}

	// Drain whatever landed before the deadline; arrival order is preserved.
	collected := make([]council.Opinion, 0, len(s.sources))
	for {
		select {
		case op := <-opinions:
			collected = append(collected, op)
			continue
		default:
		}
		break
	}

	result := council.Aggregate(req.ID, collected, s.rules, s.now().UTC())
	span.SetAttributes(
		attribute.Int("council.opinions", len(collected)),
		attribute.Float64("council.weighted_score", result.WeightedScore),
		attribute.String("council.outcome", string(result.Outcome)),
	)
	slog.Info("deliberation finalized",
		"request_id", req.ID,
		"opinions", len(collected),
		"weighted_score", result.WeightedScore,
		"outcome", result.Outcome,
		"reason", result.Reason,
	)
	return result
}

// Rules returns the consensus rules in effect, for reporting.
func (s *CouncilService) Rules() council.Rules {
	return s.rules
}
