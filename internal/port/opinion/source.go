// Package opinion defines the port for external opinion sources queried
// during council deliberation.
package opinion

import (
	"context"

	"github.com/arbiterhq/arbiter/internal/domain/council"
	"github.com/arbiterhq/arbiter/internal/domain/decision"
)

// Source produces one independent opinion on a request. Implementations
// must respect the context deadline and never block past it; a timeout or
// error yields no opinion for that source, never an implicit vote. Retry
// policy, if any, belongs to the adapter behind this interface.
type Source interface {
	// ID returns the stable source identifier recorded on opinions.
	ID() string

	// Opine assesses the request and returns a validated opinion.
	Opine(ctx context.Context, req decision.Request) (council.Opinion, error)
}
