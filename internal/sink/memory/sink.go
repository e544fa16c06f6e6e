// Package memory provides an in-memory RecordSink for tests and single-run
// crawls that do not need durable persistence.
package memory

import (
	"context"
	"sync"

	"github.com/rfpscout/rfpscout/internal/pipeline"
)

// Entry pairs a persisted record with its score.
type Entry struct {
	Record pipeline.ValidatedRecord
	Score  pipeline.ScoreResult
}

// DeadLetter holds a record that failed to persist, with the failure cause.
type DeadLetter struct {
	Record pipeline.ValidatedRecord
	Score  pipeline.ScoreResult
	Cause  string
}

// Sink stores records keyed by ID. Safe for concurrent use.
type Sink struct {
	mu      sync.RWMutex
	records map[string]Entry
	order   []string
	dead    []DeadLetter
}

// New creates an empty Sink.
func New() *Sink {
	return &Sink{records: make(map[string]Entry)}
}

// Upsert inserts or replaces the entry for the record's ID. First-seen order
// is preserved so listings are stable across re-runs.
func (s *Sink) Upsert(_ context.Context, record pipeline.ValidatedRecord, score pipeline.ScoreResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.records[record.ID]; !exists {
		s.order = append(s.order, record.ID)
	}
	s.records[record.ID] = Entry{Record: record, Score: score}
	return nil
}

// DeadLetter stashes a record that could not be upserted.
func (s *Sink) DeadLetter(_ context.Context, record pipeline.ValidatedRecord, score pipeline.ScoreResult, cause string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dead = append(s.dead, DeadLetter{Record: record, Score: score, Cause: cause})
	return nil
}

// List returns all entries in first-seen order. highPriorityOnly filters to
// records flagged above the acceptance threshold.
func (s *Sink) List(_ context.Context, highPriorityOnly bool) ([]Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Entry, 0, len(s.order))
	for _, id := range s.order {
		e := s.records[id]
		if highPriorityOnly && !e.Score.HighPriority {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

// Get returns the entry for an ID.
func (s *Sink) Get(_ context.Context, id string) (Entry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.records[id]
	return e, ok
}

// DeadLetters returns a snapshot of the dead-letter queue.
func (s *Sink) DeadLetters() []DeadLetter {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]DeadLetter(nil), s.dead...)
}

// Len reports how many distinct records are stored.
func (s *Sink) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}
