package frontier

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/rfpscout/rfpscout/internal/pipeline"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 4, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func task(url string, priority, depth int) pipeline.CrawlTask {
	return pipeline.CrawlTask{URL: url, Priority: priority, Depth: depth}
}

func TestMemory_PushDedupsNormalizedURLs(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := NewMemory(Config{}, newFakeClock(), nil)

	added, err := f.Push(ctx, task("https://agency.gov/tenders/", 5, 0))
	require.NoError(t, err)
	require.True(t, added)

	// Same page under a different surface form.
	added, err = f.Push(ctx, task("HTTPS://AGENCY.GOV/tenders?utm_source=mail", 9, 0))
	require.NoError(t, err)
	require.False(t, added)

	stats, err := f.Stats(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, stats.Pending)
	require.Equal(t, 1, stats.Total())
}

func TestMemory_PopOrdersByPriorityDepthFIFO(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := NewMemory(Config{MaxDepth: 5}, newFakeClock(), nil)

	for _, tk := range []pipeline.CrawlTask{
		task("https://a.gov/low", 2, 0),
		task("https://a.gov/high-deep", 9, 2),
		task("https://a.gov/high-shallow", 9, 1),
		task("https://a.gov/high-first", 9, 1),
	} {
		_, err := f.Push(ctx, tk)
		require.NoError(t, err)
	}
	// high-shallow was pushed before high-first at the same priority/depth.
	claimed, err := f.Pop(ctx, 10)
	require.NoError(t, err)
	require.Len(t, claimed, 4)
	require.Equal(t, "https://a.gov/high-shallow", claimed[0].URL)
	require.Equal(t, "https://a.gov/high-first", claimed[1].URL)
	require.Equal(t, "https://a.gov/high-deep", claimed[2].URL)
	require.Equal(t, "https://a.gov/low", claimed[3].URL)
	for _, c := range claimed {
		require.Equal(t, pipeline.TaskStatusInProgress, c.Status)
	}
}

func TestMemory_PopNeverReturnsClaimedTask(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := NewMemory(Config{}, newFakeClock(), nil)
	_, err := f.Push(ctx, task("https://a.gov/one", 5, 0))
	require.NoError(t, err)

	first, err := f.Pop(ctx, 1)
	require.NoError(t, err)
	require.Len(t, first, 1)

	second, err := f.Pop(ctx, 1)
	require.NoError(t, err)
	require.Empty(t, second)
}

func TestMemory_PopReturnsFewerWhenExhausted(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := NewMemory(Config{}, newFakeClock(), nil)
	_, err := f.Push(ctx, task("https://a.gov/one", 5, 0))
	require.NoError(t, err)

	claimed, err := f.Pop(ctx, 8)
	require.NoError(t, err)
	require.Len(t, claimed, 1)
}

func TestMemory_FailedRetriesWithBackoffThenTerminal(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	clock := newFakeClock()
	f := NewMemory(Config{
		MaxRetries:  2,
		BackoffBase: time.Second,
		BackoffMax:  time.Minute,
	}, clock, nil)

	url := "https://a.gov/flaky"
	_, err := f.Push(ctx, task(url, 5, 0))
	require.NoError(t, err)

	for attempt := 1; attempt <= 2; attempt++ {
		claimed, err := f.Pop(ctx, 1)
		require.NoError(t, err)
		require.Len(t, claimed, 1, "attempt %d", attempt)

		require.NoError(t, f.Complete(ctx, url, pipeline.OutcomeFailed))

		// Not ready until the backoff delay has elapsed.
		claimed, err = f.Pop(ctx, 1)
		require.NoError(t, err)
		require.Empty(t, claimed)

		clock.Advance(time.Minute)
	}

	// Third claim exhausts retries.
	claimed, err := f.Pop(ctx, 1)
	require.NoError(t, err)
	require.Len(t, claimed, 1)
	require.Equal(t, 2, claimed[0].RetryCount)
	require.NoError(t, f.Complete(ctx, url, pipeline.OutcomeFailed))

	got, ok := f.Get(url)
	require.True(t, ok)
	require.Equal(t, pipeline.TaskStatusFailed, got.Status)
	require.Equal(t, 2, got.RetryCount, "retry_count never exceeds max_retries")

	stats, err := f.Stats(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, stats.Failed)
}

func TestMemory_BackoffGrowsWithRetryCount(t *testing.T) {
	t.Parallel()

	cfg := Config{BackoffBase: time.Second, BackoffMax: 10 * time.Second}.withDefaults()
	require.Equal(t, time.Second, cfg.backoff(1))
	require.Equal(t, 2*time.Second, cfg.backoff(2))
	require.Equal(t, 4*time.Second, cfg.backoff(3))
	require.Equal(t, 10*time.Second, cfg.backoff(30))
}

func TestMemory_SkipIsTerminal(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := NewMemory(Config{}, newFakeClock(), nil)
	url := "https://a.gov/gone"
	_, err := f.Push(ctx, task(url, 5, 0))
	require.NoError(t, err)

	claimed, err := f.Pop(ctx, 1)
	require.NoError(t, err)
	require.Len(t, claimed, 1)

	require.NoError(t, f.Skip(ctx, url, "permanent fetch error"))

	got, ok := f.Get(url)
	require.True(t, ok)
	require.Equal(t, pipeline.TaskStatusSkipped, got.Status)
	require.Equal(t, 0, got.RetryCount, "no retry recorded for skipped tasks")

	claimed, err = f.Pop(ctx, 1)
	require.NoError(t, err)
	require.Empty(t, claimed)
}

func TestMemory_AdmissionPolicySkips(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := NewMemory(Config{
		MaxDepth:       1,
		AllowedDomains: []string{"a.gov"},
		PerDomainLimit: 2,
	}, newFakeClock(), nil)

	added, err := f.Push(ctx, task("https://a.gov/too-deep", 5, 2))
	require.NoError(t, err)
	require.False(t, added)

	added, err = f.Push(ctx, task("https://evil.example.com/x", 5, 0))
	require.NoError(t, err)
	require.False(t, added)

	// Subdomains of an allowed domain are allowed.
	added, err = f.Push(ctx, task("https://tenders.a.gov/1", 5, 0))
	require.NoError(t, err)
	require.True(t, added)

	added, err = f.Push(ctx, task("https://tenders.a.gov/2", 5, 0))
	require.NoError(t, err)
	require.True(t, added)

	// Third task for the same domain exceeds the per-domain budget.
	added, err = f.Push(ctx, task("https://tenders.a.gov/3", 5, 0))
	require.NoError(t, err)
	require.False(t, added)

	stats, err := f.Stats(ctx)
	require.NoError(t, err)
	require.Equal(t, 3, stats.Skipped)
	require.Equal(t, 2, stats.Pending)

	got, ok := f.Get("https://a.gov/too-deep")
	require.True(t, ok)
	require.Equal(t, ReasonDepthExceeded, got.SkipReason)
}

func TestMemory_StalledClaimReclaimedAfterVisibilityTimeout(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	clock := newFakeClock()
	f := NewMemory(Config{
		MaxRetries:        1,
		VisibilityTimeout: time.Minute,
		BackoffBase:       time.Millisecond,
	}, clock, nil)

	url := "https://a.gov/stalls"
	_, err := f.Push(ctx, task(url, 5, 0))
	require.NoError(t, err)

	claimed, err := f.Pop(ctx, 1)
	require.NoError(t, err)
	require.Len(t, claimed, 1)

	// Claim holder crashes; before the timeout nothing is returned.
	clock.Advance(30 * time.Second)
	claimed, err = f.Pop(ctx, 1)
	require.NoError(t, err)
	require.Empty(t, claimed)

	// After the timeout the task is reclaimable and counts as a retry.
	clock.Advance(2 * time.Minute)
	claimed, err = f.Pop(ctx, 1)
	require.NoError(t, err)
	require.Len(t, claimed, 1)
	require.Equal(t, 1, claimed[0].RetryCount)
}

func TestMemory_CompleteAfterReclaimIsNoop(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	clock := newFakeClock()
	f := NewMemory(Config{
		MaxRetries:        0,
		VisibilityTimeout: time.Minute,
	}, clock, nil)

	url := "https://a.gov/slow"
	_, err := f.Push(ctx, task(url, 5, 0))
	require.NoError(t, err)
	_, err = f.Pop(ctx, 1)
	require.NoError(t, err)

	clock.Advance(2 * time.Minute)
	_, err = f.Pop(ctx, 1) // triggers reclaim; retries exhausted -> failed
	require.NoError(t, err)

	require.NoError(t, f.Complete(ctx, url, pipeline.OutcomeDone))
	got, _ := f.Get(url)
	require.Equal(t, pipeline.TaskStatusFailed, got.Status)
}

func TestMemory_CompleteUnknownURL(t *testing.T) {
	t.Parallel()

	f := NewMemory(Config{}, newFakeClock(), nil)
	err := f.Complete(context.Background(), "https://a.gov/never-pushed", pipeline.OutcomeDone)
	require.ErrorIs(t, err, pipeline.ErrUnknownTask)
}

func TestMemory_ConcurrentClaimsNeverOverlap(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := NewMemory(Config{PerDomainLimit: 0}, newFakeClock(), nil)
	const total = 200
	for i := 0; i < total; i++ {
		_, err := f.Push(ctx, pipeline.CrawlTask{
			URL:      "https://a.gov/item/" + string(rune('a'+i%26)) + "/" + time.Duration(i).String(),
			Priority: 1 + i%10,
		})
		require.NoError(t, err)
	}

	var (
		mu   sync.Mutex
		seen = make(map[string]int)
		wg   sync.WaitGroup
	)
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				claimed, err := f.Pop(ctx, 7)
				require.NoError(t, err)
				if len(claimed) == 0 {
					return
				}
				mu.Lock()
				for _, c := range claimed {
					seen[c.URL]++
				}
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	require.Len(t, seen, total)
	for url, count := range seen {
		require.Equal(t, 1, count, "url %s claimed more than once", url)
	}
}
