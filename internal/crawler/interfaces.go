package crawler

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Fetcher fetches a URL and returns the body plus metadata.
type Fetcher interface {
	Fetch(ctx context.Context, request FetchRequest) (FetchResponse, error)
}

// ContentExtractor turns a poem page body into ordered, normalized text units.
// An empty result is a miss, not an error.
type ContentExtractor interface {
	Extract(body []byte) ([]string, error)
}

// PoemStore persists one poem and returns a URI describing where it went.
type PoemStore interface {
	SavePoem(ctx context.Context, poem Poem) (string, error)
}

// ProgressLog is the append-only record of saved poems.
type ProgressLog interface {
	ReadLast() (title string, ok bool, err error)
	Append(title string) error
}

// Pauser blocks between fetches.
type Pauser interface {
	Pause(d time.Duration)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces run IDs.
type IDGenerator interface {
	NewRunID() (uuid.UUID, error)
}
