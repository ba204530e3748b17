package source

import (
	"context"
	"errors"

	"convolens/internal/types"
)

// Backend names recorded in Corpus provenance.
const (
	NameRest   = "rest"
	NameStream = "stream"
)

var (
	// ErrUnavailable marks connection or auth failures. The selector falls
	// back to the next source on it.
	ErrUnavailable = errors.New("conversation source unavailable")
	// ErrTimeout marks a fetch that exceeded its bounded wait.
	ErrTimeout = errors.New("conversation source timed out")
)

// Source fetches conversations matching a filter from one backend. Zero
// matches is a valid outcome (empty corpus, nil error), and implementations
// never return a partially populated corpus alongside an error.
type Source interface {
	Name() string
	Fetch(ctx context.Context, filter types.Filter) (*types.Corpus, error)
}
