// Package orchestrator drives the crawl: it seeds the frontier, claims work
// in batches, and fans tasks out to a bounded worker pool.
package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/rfpscout/rfpscout/internal/pipeline"
)

// Config bounds a crawl run. A run ends when the frontier drains, MaxSteps
// batches have been claimed, or MaxDuration elapses, whichever comes first.
type Config struct {
	Workers      int
	BatchSize    int
	MaxSteps     int
	MaxDuration  time.Duration
	SeedPriority int

	// PollInterval is how long to wait before re-polling when every
	// pending task is still backing off.
	PollInterval time.Duration
}

func (c Config) withDefaults() Config {
	if c.Workers <= 0 {
		c.Workers = 4
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 8
	}
	if c.SeedPriority <= 0 {
		c.SeedPriority = 10
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 100 * time.Millisecond
	}
	return c
}

// Processor handles one claimed task end to end, settling it with the
// frontier before returning.
type Processor interface {
	Process(ctx context.Context, task pipeline.CrawlTask)
}

// RunStats summarizes one crawl run.
type RunStats struct {
	Steps        int                    `json:"steps"`
	TasksClaimed int                    `json:"tasks_claimed"`
	Elapsed      time.Duration          `json:"elapsed"`
	Frontier     pipeline.FrontierStats `json:"frontier"`
}

// Orchestrator owns the crawl loop. Workers do not poll; the orchestrator
// pops batches and hands tasks out, so an empty frontier ends the run
// instead of busy-waiting.
type Orchestrator struct {
	frontier  pipeline.Frontier
	processor Processor
	clock     pipeline.Clock
	cfg       Config
	logger    *zap.Logger
}

// New constructs an Orchestrator.
func New(fr pipeline.Frontier, processor Processor, clock pipeline.Clock, cfg Config, logger *zap.Logger) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	if clock == nil {
		clock = pipeline.SystemClock{}
	}
	return &Orchestrator{
		frontier:  fr,
		processor: processor,
		clock:     clock,
		cfg:       cfg.withDefaults(),
		logger:    logger,
	}
}

// Seed pushes start URLs at depth zero. It returns how many were newly
// admitted; previously-seen URLs are deduplicated by the frontier and do
// not count.
func (o *Orchestrator) Seed(ctx context.Context, urls []string) (int, error) {
	admitted := 0
	for _, raw := range urls {
		task := pipeline.CrawlTask{
			URL:          raw,
			Domain:       pipeline.Domain(raw),
			Priority:     o.cfg.SeedPriority,
			Depth:        0,
			DiscoveredAt: o.clock.Now(),
		}
		ok, err := o.frontier.Push(ctx, task)
		if err != nil {
			return admitted, fmt.Errorf("seed %s: %w", raw, err)
		}
		if ok {
			admitted++
		}
	}
	o.logger.Info("frontier seeded", zap.Int("urls", len(urls)), zap.Int("admitted", admitted))
	return admitted, nil
}

// Run executes the crawl loop until a stop condition fires. It always
// returns stats, even on context cancellation. The duration budget gates
// claiming only: once it is spent no new batch is popped, but tasks already
// in flight run to completion on the caller's context.
func (o *Orchestrator) Run(ctx context.Context) (RunStats, error) {
	start := time.Now()
	var deadline time.Time
	if o.cfg.MaxDuration > 0 {
		deadline = start.Add(o.cfg.MaxDuration)
	}

	var stats RunStats
	for o.cfg.MaxSteps <= 0 || stats.Steps < o.cfg.MaxSteps {
		if ctx.Err() != nil {
			break
		}
		if !deadline.IsZero() && !time.Now().Before(deadline) {
			o.logger.Info("duration budget spent", zap.Int("steps", stats.Steps))
			break
		}

		tasks, err := o.frontier.Pop(ctx, o.cfg.BatchSize)
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			return o.finish(ctx, stats, start), fmt.Errorf("frontier pop: %w", err)
		}
		if len(tasks) == 0 {
			if o.awaitBackoff(ctx) {
				continue
			}
			o.logger.Info("frontier drained", zap.Int("steps", stats.Steps))
			break
		}

		stats.Steps++
		stats.TasksClaimed += len(tasks)
		o.runBatch(ctx, tasks)
	}

	return o.finish(ctx, stats, start), nil
}

// awaitBackoff reports whether claimable work may still appear: pending
// tasks can be invisible while their retry backoff runs down. It sleeps one
// poll interval before the caller re-polls.
func (o *Orchestrator) awaitBackoff(ctx context.Context) bool {
	fs, err := o.frontier.Stats(ctx)
	if err != nil || fs.Pending == 0 {
		return false
	}
	select {
	case <-ctx.Done():
		return false
	case <-time.After(o.cfg.PollInterval):
		return true
	}
}

// runBatch processes one claimed batch with at most cfg.Workers tasks in
// flight, waiting for all of them before the next claim.
func (o *Orchestrator) runBatch(ctx context.Context, tasks []pipeline.CrawlTask) {
	sem := make(chan struct{}, o.cfg.Workers)
	var wg sync.WaitGroup
	for _, task := range tasks {
		sem <- struct{}{}
		wg.Add(1)
		go func(t pipeline.CrawlTask) {
			defer wg.Done()
			defer func() { <-sem }()
			o.processor.Process(ctx, t)
		}(task)
	}
	wg.Wait()
}

func (o *Orchestrator) finish(ctx context.Context, stats RunStats, start time.Time) RunStats {
	stats.Elapsed = time.Since(start)

	// Stats are best effort when the run context is already dead.
	statsCtx := ctx
	if statsCtx.Err() != nil {
		var cancel context.CancelFunc
		statsCtx, cancel = context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
	}
	fs, err := o.frontier.Stats(statsCtx)
	if err != nil {
		o.logger.Warn("frontier stats failed", zap.Error(err))
	} else {
		stats.Frontier = fs
	}

	o.logger.Info("run finished",
		zap.Int("steps", stats.Steps),
		zap.Int("tasks_claimed", stats.TasksClaimed),
		zap.Duration("elapsed", stats.Elapsed),
		zap.Int("done", stats.Frontier.Done),
		zap.Int("failed", stats.Frontier.Failed),
		zap.Int("skipped", stats.Frontier.Skipped),
	)
	return stats
}
