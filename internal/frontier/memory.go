package frontier

import (
	"container/heap"
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/rfpscout/rfpscout/internal/pipeline"
)

// Memory is an in-memory Frontier guarded by a mutex. Terminal tasks are kept
// for dedup and audit; only pending tasks live on the heap.
type Memory struct {
	mu         sync.Mutex
	cfg        Config
	clock      pipeline.Clock
	logger     *zap.Logger
	tasks      map[string]*pipeline.CrawlTask
	pending    entryHeap
	inProgress map[string]time.Time
	perDomain  map[string]int
	seq        uint64
}

// NewMemory constructs an in-memory frontier.
func NewMemory(cfg Config, clock pipeline.Clock, logger *zap.Logger) *Memory {
	if clock == nil {
		clock = pipeline.SystemClock{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Memory{
		cfg:        cfg.withDefaults(),
		clock:      clock,
		logger:     logger,
		tasks:      make(map[string]*pipeline.CrawlTask),
		inProgress: make(map[string]time.Time),
		perDomain:  make(map[string]int),
	}
}

// Push admits a task, deduping on the normalized URL. Policy violations are
// recorded as terminal skipped tasks so later pushes of the same URL stay
// no-ops.
func (m *Memory) Push(_ context.Context, task pipeline.CrawlTask) (bool, error) {
	normalized, err := pipeline.NormalizeURL(task.URL)
	if err != nil {
		return false, fmt.Errorf("normalize url: %w", err)
	}
	task.URL = normalized
	if task.Domain == "" {
		task.Domain = pipeline.Domain(normalized)
	}
	task.Priority = clampPriority(task.Priority)

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, known := m.tasks[task.URL]; known {
		return false, nil
	}

	now := m.clock.Now()
	if task.DiscoveredAt.IsZero() {
		task.DiscoveredAt = now
	}

	if reason := m.admissionViolation(task); reason != "" {
		task.Status = pipeline.TaskStatusSkipped
		task.SkipReason = reason
		m.tasks[task.URL] = &task
		m.logger.Debug("task skipped at admission",
			zap.String("url", task.URL),
			zap.String("reason", reason),
		)
		return false, nil
	}

	task.Status = pipeline.TaskStatusPending
	m.tasks[task.URL] = &task
	m.perDomain[task.Domain]++
	m.pushEntry(&task)
	return true, nil
}

func (m *Memory) admissionViolation(task pipeline.CrawlTask) string {
	if task.Depth > m.cfg.MaxDepth {
		return ReasonDepthExceeded
	}
	if !m.cfg.domainAllowed(task.Domain) {
		return ReasonDomainDenied
	}
	if m.cfg.PerDomainLimit > 0 && m.perDomain[task.Domain] >= m.cfg.PerDomainLimit {
		return ReasonDomainBudget
	}
	return ""
}

// Pop claims up to n ready pending tasks, highest priority first. Stalled
// in_progress claims past the visibility timeout are reclaimed first and go
// through the normal retry path.
func (m *Memory) Pop(_ context.Context, n int) ([]pipeline.CrawlTask, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.clock.Now()
	m.reclaimStalled(now)

	var (
		claimed []pipeline.CrawlTask
		delayed []*entry
	)
	for len(claimed) < n && m.pending.Len() > 0 {
		e := heap.Pop(&m.pending).(*entry)
		task, ok := m.tasks[e.url]
		if !ok || task.Status != pipeline.TaskStatusPending {
			continue // stale entry
		}
		if task.NotBefore.After(now) {
			delayed = append(delayed, e)
			continue
		}
		task.Status = pipeline.TaskStatusInProgress
		task.ClaimedAt = now
		m.inProgress[task.URL] = now
		claimed = append(claimed, *task)
	}
	for _, e := range delayed {
		heap.Push(&m.pending, e)
	}
	return claimed, nil
}

// Complete resolves a claimed task. A failed outcome re-enqueues with backoff
// until retries are exhausted. Completing a task the reclaimer already
// resolved is a no-op.
func (m *Memory) Complete(_ context.Context, url string, outcome pipeline.Outcome) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	task, ok := m.tasks[url]
	if !ok {
		return fmt.Errorf("complete %q: %w", url, pipeline.ErrUnknownTask)
	}
	if task.Status != pipeline.TaskStatusInProgress {
		return nil
	}
	delete(m.inProgress, url)

	switch outcome {
	case pipeline.OutcomeDone:
		task.Status = pipeline.TaskStatusDone
	case pipeline.OutcomeFailed:
		m.failLocked(task)
	default:
		return fmt.Errorf("complete %q: unknown outcome %q", url, outcome)
	}
	return nil
}

// Skip moves a task to terminal skipped. No retry.
func (m *Memory) Skip(_ context.Context, url string, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	task, ok := m.tasks[url]
	if !ok {
		return fmt.Errorf("skip %q: %w", url, pipeline.ErrUnknownTask)
	}
	delete(m.inProgress, url)
	task.Status = pipeline.TaskStatusSkipped
	task.SkipReason = reason
	return nil
}

// Stats counts tasks by status.
func (m *Memory) Stats(_ context.Context) (pipeline.FrontierStats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var stats pipeline.FrontierStats
	for _, task := range m.tasks {
		switch task.Status {
		case pipeline.TaskStatusPending:
			stats.Pending++
		case pipeline.TaskStatusInProgress:
			stats.InProgress++
		case pipeline.TaskStatusDone:
			stats.Done++
		case pipeline.TaskStatusFailed:
			stats.Failed++
		case pipeline.TaskStatusSkipped:
			stats.Skipped++
		}
	}
	return stats, nil
}

// Get returns a snapshot of a task, primarily for tests and the status API.
func (m *Memory) Get(url string) (pipeline.CrawlTask, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	task, ok := m.tasks[url]
	if !ok {
		return pipeline.CrawlTask{}, false
	}
	return *task, true
}

// failLocked applies the retry policy to an in_progress task. Caller holds
// the mutex.
func (m *Memory) failLocked(task *pipeline.CrawlTask) {
	if task.RetryCount < m.cfg.MaxRetries {
		task.RetryCount++
		task.Status = pipeline.TaskStatusPending
		task.NotBefore = m.clock.Now().Add(m.cfg.backoff(task.RetryCount))
		m.pushEntry(task)
		return
	}
	task.Status = pipeline.TaskStatusFailed
}

func (m *Memory) reclaimStalled(now time.Time) {
	for url, claimedAt := range m.inProgress {
		if now.Sub(claimedAt) < m.cfg.VisibilityTimeout {
			continue
		}
		task, ok := m.tasks[url]
		if !ok || task.Status != pipeline.TaskStatusInProgress {
			delete(m.inProgress, url)
			continue
		}
		delete(m.inProgress, url)
		m.logger.Warn("reclaiming stalled task",
			zap.String("url", url),
			zap.Time("claimed_at", claimedAt),
		)
		m.failLocked(task)
	}
}

func (m *Memory) pushEntry(task *pipeline.CrawlTask) {
	m.seq++
	heap.Push(&m.pending, &entry{
		url:      task.URL,
		priority: task.Priority,
		depth:    task.Depth,
		seq:      m.seq,
	})
}

// entry is a heap node referencing a pending task by URL. Ordering:
// higher priority first, then lower depth, then FIFO by admission sequence.
type entry struct {
	url      string
	priority int
	depth    int
	seq      uint64
}

type entryHeap []*entry

func (h entryHeap) Len() int { return len(h) }

func (h entryHeap) Less(i, j int) bool {
	if h[i].priority != h[j].priority {
		return h[i].priority > h[j].priority
	}
	if h[i].depth != h[j].depth {
		return h[i].depth < h[j].depth
	}
	return h[i].seq < h[j].seq
}

func (h entryHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *entryHeap) Push(x any) { *h = append(*h, x.(*entry)) }

func (h *entryHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return e
}
