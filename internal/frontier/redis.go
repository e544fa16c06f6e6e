package frontier

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/rfpscout/rfpscout/internal/pipeline"
)

// Redis is a Frontier backed by Redis, for runs that must survive process
// restarts. Layout per namespace:
//
//	<ns>:seen     set    url dedup gate
//	<ns>:tasks    hash   url -> task JSON (never deleted)
//	<ns>:pending  zset   url scored for claim order
//	<ns>:delayed  zset   url scored by NotBefore unix time
//	<ns>:claimed  zset   url scored by visibility deadline unix time
//	<ns>:domains  hash   domain -> admitted count
//	<ns>:seq      int    FIFO sequence within a priority tier
//
// Claims ride on ZPOPMIN, so two workers never take the same URL. Every
// task-state write lands in the same MULTI/EXEC as its zset entry: the tasks
// hash can never hold a pending or in_progress record that no zset tracks.
type Redis struct {
	client *redis.Client
	cfg    Config
	clock  pipeline.Clock
	logger *zap.Logger
	ns     string
}

// NewRedis connects to redisURL (redis://host:port/db) and verifies the
// connection. The namespace isolates independent runs sharing one server.
func NewRedis(ctx context.Context, redisURL, namespace string, cfg Config, clock pipeline.Clock, logger *zap.Logger) (*Redis, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	if clock == nil {
		clock = pipeline.SystemClock{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if namespace == "" {
		namespace = "rfpscout"
	}
	return &Redis{
		client: client,
		cfg:    cfg.withDefaults(),
		clock:  clock,
		logger: logger,
		ns:     namespace,
	}, nil
}

// Close releases the Redis connection.
func (r *Redis) Close() error {
	return r.client.Close()
}

func (r *Redis) seenKey() string    { return r.ns + ":seen" }
func (r *Redis) tasksKey() string   { return r.ns + ":tasks" }
func (r *Redis) pendingKey() string { return r.ns + ":pending" }
func (r *Redis) delayedKey() string { return r.ns + ":delayed" }
func (r *Redis) claimedKey() string { return r.ns + ":claimed" }
func (r *Redis) domainsKey() string { return r.ns + ":domains" }
func (r *Redis) seqKey() string     { return r.ns + ":seq" }

// Push admits a task. SADD on the seen set is the dedup gate; the task record
// and its pending zset entry are written in one transaction, so an admitted
// task is claimable the moment it exists.
func (r *Redis) Push(ctx context.Context, task pipeline.CrawlTask) (bool, error) {
	normalized, err := pipeline.NormalizeURL(task.URL)
	if err != nil {
		return false, fmt.Errorf("normalize url: %w", err)
	}
	task.URL = normalized
	if task.Domain == "" {
		task.Domain = pipeline.Domain(normalized)
	}
	task.Priority = clampPriority(task.Priority)
	if task.DiscoveredAt.IsZero() {
		task.DiscoveredAt = r.clock.Now()
	}
	task.Status = pipeline.TaskStatusPending

	created, err := r.client.SAdd(ctx, r.seenKey(), task.URL).Result()
	if err != nil {
		return false, fmt.Errorf("redis sadd seen: %w", err)
	}
	if created == 0 {
		return false, nil
	}

	if reason := r.admissionViolation(ctx, task); reason != "" {
		task.Status = pipeline.TaskStatusSkipped
		task.SkipReason = reason
		if err := r.storeTask(ctx, task); err != nil {
			return false, err
		}
		return false, nil
	}

	seq, err := r.client.Incr(ctx, r.seqKey()).Result()
	if err != nil {
		return false, fmt.Errorf("redis incr seq: %w", err)
	}
	payload, err := json.Marshal(task)
	if err != nil {
		return false, fmt.Errorf("marshal task: %w", err)
	}
	pipe := r.client.TxPipeline()
	pipe.HSet(ctx, r.tasksKey(), task.URL, payload)
	pipe.ZAdd(ctx, r.pendingKey(), redis.Z{
		Score:  claimScore(task.Priority, task.Depth, seq),
		Member: task.URL,
	})
	if _, err := pipe.Exec(ctx); err != nil {
		return false, fmt.Errorf("redis push task: %w", err)
	}
	return true, nil
}

func (r *Redis) admissionViolation(ctx context.Context, task pipeline.CrawlTask) string {
	if task.Depth > r.cfg.MaxDepth {
		return ReasonDepthExceeded
	}
	if !r.cfg.domainAllowed(task.Domain) {
		return ReasonDomainDenied
	}
	if r.cfg.PerDomainLimit > 0 {
		count, err := r.client.HIncrBy(ctx, r.domainsKey(), task.Domain, 1).Result()
		if err != nil {
			r.logger.Warn("domain budget check failed", zap.Error(err))
			return ""
		}
		if count > int64(r.cfg.PerDomainLimit) {
			return ReasonDomainBudget
		}
	}
	return ""
}

// Pop promotes due retries and reclaims expired claims, then claims up to n
// pending tasks via ZPOPMIN.
func (r *Redis) Pop(ctx context.Context, n int) ([]pipeline.CrawlTask, error) {
	now := r.clock.Now()
	if err := r.promoteDue(ctx, now); err != nil {
		return nil, err
	}
	if err := r.reclaimExpired(ctx, now); err != nil {
		return nil, err
	}

	members, err := r.client.ZPopMin(ctx, r.pendingKey(), int64(n)).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("redis zpopmin: %w", err)
	}

	claimed := make([]pipeline.CrawlTask, 0, len(members))
	deadline := float64(now.Add(r.cfg.VisibilityTimeout).Unix())
	for _, member := range members {
		url, _ := member.Member.(string)
		task, err := r.loadTask(ctx, url)
		if err != nil {
			r.logger.Warn("dropping unreadable pending member", zap.String("url", url), zap.Error(err))
			continue
		}
		if task.Status != pipeline.TaskStatusPending {
			continue
		}
		task.Status = pipeline.TaskStatusInProgress
		task.ClaimedAt = now
		payload, err := json.Marshal(task)
		if err != nil {
			return nil, fmt.Errorf("marshal task: %w", err)
		}
		pipe := r.client.TxPipeline()
		pipe.HSet(ctx, r.tasksKey(), url, payload)
		pipe.ZAdd(ctx, r.claimedKey(), redis.Z{Score: deadline, Member: url})
		if _, err := pipe.Exec(ctx); err != nil {
			return nil, fmt.Errorf("redis claim task: %w", err)
		}
		claimed = append(claimed, task)
	}
	return claimed, nil
}

// Complete resolves a claimed task, applying the retry policy on failure.
func (r *Redis) Complete(ctx context.Context, url string, outcome pipeline.Outcome) error {
	task, err := r.loadTask(ctx, url)
	if err != nil {
		return err
	}
	if task.Status != pipeline.TaskStatusInProgress {
		return nil
	}

	switch outcome {
	case pipeline.OutcomeDone:
		task.Status = pipeline.TaskStatusDone
		return r.settle(ctx, task)
	case pipeline.OutcomeFailed:
		return r.fail(ctx, task)
	default:
		return fmt.Errorf("complete %q: unknown outcome %q", url, outcome)
	}
}

// Skip moves a task to terminal skipped.
func (r *Redis) Skip(ctx context.Context, url string, reason string) error {
	task, err := r.loadTask(ctx, url)
	if err != nil {
		return err
	}
	task.Status = pipeline.TaskStatusSkipped
	task.SkipReason = reason
	return r.settle(ctx, task)
}

// settle writes a task's new state and drops its claim in one transaction.
func (r *Redis) settle(ctx context.Context, task pipeline.CrawlTask) error {
	payload, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("marshal task: %w", err)
	}
	pipe := r.client.TxPipeline()
	pipe.ZRem(ctx, r.claimedKey(), task.URL)
	pipe.HSet(ctx, r.tasksKey(), task.URL, payload)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis settle task: %w", err)
	}
	return nil
}

// Stats counts tasks by status. O(n) over the namespace; intended for
// end-of-run summaries, not hot paths.
func (r *Redis) Stats(ctx context.Context) (pipeline.FrontierStats, error) {
	all, err := r.client.HGetAll(ctx, r.tasksKey()).Result()
	if err != nil {
		return pipeline.FrontierStats{}, fmt.Errorf("redis hgetall: %w", err)
	}
	var stats pipeline.FrontierStats
	for _, raw := range all {
		var task pipeline.CrawlTask
		if err := json.Unmarshal([]byte(raw), &task); err != nil {
			continue
		}
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

func (r *Redis) fail(ctx context.Context, task pipeline.CrawlTask) error {
	if task.RetryCount >= r.cfg.MaxRetries {
		task.Status = pipeline.TaskStatusFailed
		return r.settle(ctx, task)
	}

	task.RetryCount++
	task.Status = pipeline.TaskStatusPending
	task.NotBefore = r.clock.Now().Add(r.cfg.backoff(task.RetryCount))
	payload, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("marshal task: %w", err)
	}
	pipe := r.client.TxPipeline()
	pipe.ZRem(ctx, r.claimedKey(), task.URL)
	pipe.HSet(ctx, r.tasksKey(), task.URL, payload)
	pipe.ZAdd(ctx, r.delayedKey(), redis.Z{
		Score:  float64(task.NotBefore.Unix()),
		Member: task.URL,
	})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis fail task: %w", err)
	}
	return nil
}

// promoteDue moves retry-delayed tasks whose backoff has elapsed back onto
// the pending queue.
func (r *Redis) promoteDue(ctx context.Context, now time.Time) error {
	due, err := r.client.ZRangeByScore(ctx, r.delayedKey(), &redis.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatInt(now.Unix(), 10),
	}).Result()
	if err != nil {
		return fmt.Errorf("redis zrangebyscore delayed: %w", err)
	}
	for _, url := range due {
		task, err := r.loadTask(ctx, url)
		if err != nil {
			r.client.ZRem(ctx, r.delayedKey(), url)
			continue
		}
		seq, err := r.client.Incr(ctx, r.seqKey()).Result()
		if err != nil {
			return fmt.Errorf("redis incr seq: %w", err)
		}
		score := claimScore(task.Priority, task.Depth, seq)
		pipe := r.client.TxPipeline()
		pipe.ZRem(ctx, r.delayedKey(), url)
		pipe.ZAdd(ctx, r.pendingKey(), redis.Z{Score: score, Member: url})
		if _, err := pipe.Exec(ctx); err != nil {
			return fmt.Errorf("redis promote due: %w", err)
		}
	}
	return nil
}

// reclaimExpired fails claims whose visibility deadline passed, so a crashed
// worker's tasks re-enter the retry path.
func (r *Redis) reclaimExpired(ctx context.Context, now time.Time) error {
	expired, err := r.client.ZRangeByScore(ctx, r.claimedKey(), &redis.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatInt(now.Unix(), 10),
	}).Result()
	if err != nil {
		return fmt.Errorf("redis zrangebyscore claimed: %w", err)
	}
	for _, url := range expired {
		task, err := r.loadTask(ctx, url)
		if err != nil || task.Status != pipeline.TaskStatusInProgress {
			r.client.ZRem(ctx, r.claimedKey(), url)
			continue
		}
		r.logger.Warn("reclaiming stalled task", zap.String("url", url))
		// fail drops the claim entry in the same transaction.
		if err := r.fail(ctx, task); err != nil {
			return err
		}
	}
	return nil
}

func (r *Redis) loadTask(ctx context.Context, url string) (pipeline.CrawlTask, error) {
	raw, err := r.client.HGet(ctx, r.tasksKey(), url).Result()
	if errors.Is(err, redis.Nil) {
		return pipeline.CrawlTask{}, fmt.Errorf("load %q: %w", url, pipeline.ErrUnknownTask)
	}
	if err != nil {
		return pipeline.CrawlTask{}, fmt.Errorf("redis hget: %w", err)
	}
	var task pipeline.CrawlTask
	if err := json.Unmarshal([]byte(raw), &task); err != nil {
		return pipeline.CrawlTask{}, fmt.Errorf("unmarshal task %q: %w", url, err)
	}
	return task, nil
}

func (r *Redis) storeTask(ctx context.Context, task pipeline.CrawlTask) error {
	payload, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("marshal task: %w", err)
	}
	if err := r.client.HSet(ctx, r.tasksKey(), task.URL, payload).Err(); err != nil {
		return fmt.Errorf("redis hset: %w", err)
	}
	return nil
}

// claimScore packs (priority, depth, sequence) into one ascending sort key:
// higher priority sorts first, then shallower depth, then FIFO. Sequence
// stays well under 1e10, so the packed value is exact in a float64.
func claimScore(priority, depth int, seq int64) float64 {
	return float64(10-clampPriority(priority))*1e14 + float64(depth)*1e10 + float64(seq)
}
