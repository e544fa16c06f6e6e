package headless

import (
	"context"

	"github.com/rfpscout/rfpscout/internal/pipeline"
)

// Noop implements Fetcher but always fails, for builds where headless
// browsing is disabled. The failure is transient so a later run with
// headless enabled can pick the task back up.
type Noop struct{}

// NewNoop creates a new Noop fetcher.
func NewNoop() *Noop {
	return &Noop{}
}

// Fetch returns an error since this is a stub implementation.
func (Noop) Fetch(_ context.Context, _ pipeline.FetchRequest) (pipeline.RawPage, error) {
	return pipeline.RawPage{}, pipeline.NewTransientFetchError(0, pipeline.ErrUnavailable)
}
