package api

import (
	"context"

	memsink "github.com/rfpscout/rfpscout/internal/sink/memory"
	pgsink "github.com/rfpscout/rfpscout/internal/sink/postgres"
)

// MemoryLister adapts the in-memory sink to the RecordLister interface.
type MemoryLister struct {
	Sink *memsink.Sink
}

// ListRecords returns persisted records in first-seen order.
func (l MemoryLister) ListRecords(ctx context.Context, highPriorityOnly bool, limit int) ([]RecordEntry, error) {
	entries, err := l.Sink.List(ctx, highPriorityOnly)
	if err != nil {
		return nil, err
	}
	if limit > 0 && len(entries) > limit {
		entries = entries[:limit]
	}
	out := make([]RecordEntry, 0, len(entries))
	for _, e := range entries {
		out = append(out, RecordEntry{Record: e.Record, Score: e.Score})
	}
	return out, nil
}

// PostgresLister adapts the Postgres sink to the RecordLister interface.
type PostgresLister struct {
	Sink *pgsink.Sink
}

// ListRecords returns persisted records ordered by overall score.
func (l PostgresLister) ListRecords(ctx context.Context, highPriorityOnly bool, limit int) ([]RecordEntry, error) {
	records, scores, err := l.Sink.List(ctx, highPriorityOnly, limit)
	if err != nil {
		return nil, err
	}
	out := make([]RecordEntry, 0, len(records))
	for i := range records {
		out = append(out, RecordEntry{Record: records[i], Score: scores[i]})
	}
	return out, nil
}
