package source

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"convolens/internal/types"
)

// ErrExhausted is reported when every configured source failed. Use
// errors.Is against it; the concrete *ExhaustedError carries the last error
// from each attempted source.
var ErrExhausted = errors.New("all conversation sources exhausted")

// Attempt records the outcome of trying one source.
type Attempt struct {
	Source string
	Err    error
}

// ExhaustedError aggregates per-source failures for diagnostics.
type ExhaustedError struct {
	Attempts []Attempt
}

func (e *ExhaustedError) Error() string {
	parts := make([]string, 0, len(e.Attempts))
	for _, a := range e.Attempts {
		parts = append(parts, fmt.Sprintf("%s: %v", a.Source, a.Err))
	}
	return "all conversation sources exhausted: " + strings.Join(parts, "; ")
}

func (e *ExhaustedError) Is(target error) bool { return target == ErrExhausted }

// Selector tries sources in preference order, falling back on unavailability
// or timeout. Each source gets at most one retry after a short fixed backoff;
// retries never compound across layers, so total latency stays bounded by
// sources x (timeout + one retry).
type Selector struct {
	sources []Source
	backoff time.Duration
}

// NewSelector creates a selector over the given sources in preference order.
func NewSelector(backoff time.Duration, sources ...Source) *Selector {
	if backoff <= 0 {
		backoff = 250 * time.Millisecond
	}
	return &Selector{sources: sources, backoff: backoff}
}

// Select fetches a corpus from the first source that answers. An empty corpus
// is a final answer, not a reason to fall back. The returned corpus records
// which source produced it and whether fallback occurred.
func (s *Selector) Select(ctx context.Context, filter types.Filter) (*types.Corpus, error) {
	if len(s.sources) == 0 {
		return nil, &ExhaustedError{}
	}

	var attempts []Attempt
	for i, src := range s.sources {
		corpus, err := s.trySource(ctx, src, filter)
		if err == nil {
			corpus.FellBack = i > 0
			return corpus, nil
		}

		if !errors.Is(err, ErrUnavailable) && !errors.Is(err, ErrTimeout) {
			// Unexpected failure classes are not fallback material.
			return nil, err
		}
		attempts = append(attempts, Attempt{Source: src.Name(), Err: err})
	}

	return nil, &ExhaustedError{Attempts: attempts}
}

// trySource fetches once and, on a recoverable failure, once more after the
// backoff. The retry budget is per-source.
func (s *Selector) trySource(ctx context.Context, src Source, filter types.Filter) (*types.Corpus, error) {
	corpus, err := src.Fetch(ctx, filter)
	if err == nil {
		return corpus, nil
	}
	if !errors.Is(err, ErrUnavailable) && !errors.Is(err, ErrTimeout) {
		return nil, err
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(s.backoff):
	}

	return src.Fetch(ctx, filter)
}
