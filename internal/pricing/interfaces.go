package pricing

import (
	"context"
	"io"
	"time"
)

// SourceSettings is the adapter configuration the normalizer depends on.
type SourceSettings struct {
	Name     string
	Currency string
	Locale   string
}

// SourceAdapter fetches raw listings for a search query from one site.
// The per-call timeout is carried by ctx.
type SourceAdapter interface {
	Settings() SourceSettings
	Fetch(ctx context.Context, query string) ([]RawListing, error)
}

// JobStore persists job metadata.
type JobStore interface {
	CreateJob(ctx context.Context, job Job) error
	MarkRunning(ctx context.Context, jobID string) error
	FinishJob(ctx context.Context, jobID string, status JobStatus, result *MatchResult,
		diags []SourceDiagnostic, errText string) error
	GetJob(ctx context.Context, jobID string) (Job, error)
	Wait(ctx context.Context, jobID string) (Job, error)
}

// ResultCache stores the best match per product with a freshness TTL.
type ResultCache interface {
	Get(ctx context.Context, productID string) (MatchResult, bool)
	Put(ctx context.Context, productID string, result MatchResult, ttl time.Duration) bool
}

// BlobStore writes raw artifacts and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data io.Reader) (string, error)
}

// Publisher pushes completion events to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Queue provides enqueue/dequeue semantics for match jobs.
type Queue interface {
	Enqueue(ctx context.Context, item QueueItem) error
	Dequeue(ctx context.Context) (QueueItem, error)
}

// Hasher computes digests for listing identity and artifact names.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces job IDs (UUIDs).
type IDGenerator interface {
	NewID() (string, error)
}
