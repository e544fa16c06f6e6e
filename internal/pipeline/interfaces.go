package pipeline

import (
	"context"
	"time"
)

// Frontier is the prioritized, deduplicated queue of crawl work. Mutating
// operations are atomic: two callers never claim the same task.
type Frontier interface {
	// Push admits a task. Pushing an already-known normalized URL is a
	// no-op returning false. Policy violations (depth, domain, per-domain
	// cap) record the task as skipped and also return false.
	Push(ctx context.Context, task CrawlTask) (bool, error)

	// Pop claims up to n of the highest-priority pending tasks and moves
	// them to in_progress. It returns fewer than n when the queue is
	// exhausted and never blocks waiting for new work.
	Pop(ctx context.Context, n int) ([]CrawlTask, error)

	// Complete transitions an in_progress task to done, or on failure
	// re-enqueues it with backoff until retries are exhausted.
	Complete(ctx context.Context, url string, outcome Outcome) error

	// Skip moves a task to terminal skipped with no retry.
	Skip(ctx context.Context, url string, reason string) error

	// Stats reports task counts by status.
	Stats(ctx context.Context) (FrontierStats, error)
}

// FetchRequest carries everything a Fetcher needs for one page.
type FetchRequest struct {
	URL       string
	Timeout   time.Duration
	UserAgent string
}

// Fetcher retrieves a page. Implementations wrap external renderers; errors
// carry the transient/permanent taxonomy via FetchError.
type Fetcher interface {
	Fetch(ctx context.Context, req FetchRequest) (RawPage, error)
}

// Embedder turns text into a vector. Returns ErrUnavailable when the
// collaborator cannot serve, which nulls the cosine signal.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float64, error)
}

// Judge asks an LLM collaborator to rate a record against the profile.
type Judge interface {
	Judge(ctx context.Context, record ValidatedRecord, profile BusinessProfile) (Judgment, error)
}

// RecordSink persists scored records, keyed by the record ID. Re-processing
// the same URL must update, not duplicate.
type RecordSink interface {
	Upsert(ctx context.Context, record ValidatedRecord, score ScoreResult) error

	// DeadLetter stashes a record that could not be upserted so it can be
	// replayed later. Records are never silently lost.
	DeadLetter(ctx context.Context, record ValidatedRecord, score ScoreResult, cause string) error
}

// BlobStore archives raw page snapshots and returns a URI.
type BlobStore interface {
	Put(ctx context.Context, path string, contentType string, data []byte) (string, error)
}

// Publisher announces accepted high-priority records.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Clock returns the current time (injectable for tests).
type Clock interface {
	Now() time.Time
}

// SystemClock is the wall-clock implementation of Clock.
type SystemClock struct{}

// Now returns the current UTC time.
func (SystemClock) Now() time.Time { return time.Now().UTC() }
