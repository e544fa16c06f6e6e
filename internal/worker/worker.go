// Package worker executes the per-task crawl pipeline: fetch, extract,
// validate, score, persist.
package worker

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/rfpscout/rfpscout/internal/extract"
	"github.com/rfpscout/rfpscout/internal/frontier"
	sha "github.com/rfpscout/rfpscout/internal/hash/sha256"
	"github.com/rfpscout/rfpscout/internal/metrics"
	"github.com/rfpscout/rfpscout/internal/pipeline"
	"github.com/rfpscout/rfpscout/internal/validate"
)

// Config controls Worker behavior.
type Config struct {
	FetchTimeout time.Duration
	UserAgent    string
	BlobPrefix   string
	Topic        string
}

// Validator checks an extracted candidate and promotes it to a record.
type Validator interface {
	Validate(c pipeline.Candidate) (pipeline.ValidatedRecord, error)
}

// Scorer rates a validated record against the business profile.
type Scorer interface {
	Score(ctx context.Context, rec pipeline.ValidatedRecord) pipeline.ScoreResult
}

// Detector decides whether a fetched page needs headless re-rendering.
type Detector interface {
	ShouldPromote(page pipeline.RawPage) bool
}

// RateLimiter throttles outbound requests per domain.
type RateLimiter interface {
	Wait(ctx context.Context, rawURL string) error
}

// Worker processes claimed frontier tasks one at a time. It owns no
// goroutines; the orchestrator decides the concurrency.
type Worker struct {
	frontier  pipeline.Frontier
	fetcher   pipeline.Fetcher
	headless  pipeline.Fetcher
	detector  Detector
	limiter   RateLimiter
	rules     extract.Ruleset
	validator Validator
	scorer    Scorer
	sink      pipeline.RecordSink
	blob      pipeline.BlobStore
	publisher pipeline.Publisher
	hasher    *sha.Hasher
	clock     pipeline.Clock
	cfg       Config
	logger    *zap.Logger
}

// New constructs a Worker. The headless fetcher, detector, blob store, and
// publisher are optional; pass nil to disable the corresponding stage.
func New(
	fr pipeline.Frontier,
	fetcher pipeline.Fetcher,
	headless pipeline.Fetcher,
	det Detector,
	limiter RateLimiter,
	rules extract.Ruleset,
	validator Validator,
	scorer Scorer,
	sink pipeline.RecordSink,
	blob pipeline.BlobStore,
	publisher pipeline.Publisher,
	clock pipeline.Clock,
	cfg Config,
	logger *zap.Logger,
) *Worker {
	if logger == nil {
		logger = zap.NewNop()
	}
	if clock == nil {
		clock = pipeline.SystemClock{}
	}
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = 15 * time.Second
	}
	return &Worker{
		frontier:  fr,
		fetcher:   fetcher,
		headless:  headless,
		detector:  det,
		limiter:   limiter,
		rules:     rules,
		validator: validator,
		scorer:    scorer,
		sink:      sink,
		blob:      blob,
		publisher: publisher,
		hasher:    sha.New(),
		clock:     clock,
		cfg:       cfg,
		logger:    logger,
	}
}

// Process runs one claimed task through the full pipeline and settles it
// with the frontier. It never returns an error: every failure mode maps to
// a frontier transition (retry, skip) or a dead-letter entry.
func (w *Worker) Process(ctx context.Context, task pipeline.CrawlTask) {
	metrics.IncActiveWorkers()
	defer metrics.DecActiveWorkers()

	log := w.logger.With(zap.String("url", task.URL), zap.Int("depth", task.Depth))

	if w.limiter != nil {
		if err := w.limiter.Wait(ctx, task.URL); err != nil {
			log.Warn("rate limit wait aborted", zap.Error(err))
			w.settle(ctx, task.URL, pipeline.OutcomeFailed, log)
			return
		}
	}

	page, err := w.fetch(ctx, task, log)
	if err != nil {
		if pipeline.IsPermanentFetch(err) {
			log.Info("permanent fetch failure, skipping", zap.Error(err))
			if serr := w.frontier.Skip(ctx, task.URL, frontier.ReasonFetchPermanent); serr != nil {
				log.Error("frontier skip failed", zap.Error(serr))
			}
			metrics.ObserveTask("skipped")
			return
		}
		log.Warn("transient fetch failure", zap.Error(err))
		w.settle(ctx, task.URL, pipeline.OutcomeFailed, log)
		return
	}

	candidates, links := extract.Extract(page, w.rules)
	metrics.ObserveCandidates(len(candidates))
	log.Debug("page extracted",
		zap.Int("candidates", len(candidates)),
		zap.Int("links", len(links)),
	)

	w.archive(ctx, task, page, log)
	w.pushLinks(ctx, task, links, log)

	for _, candidate := range candidates {
		w.handleCandidate(ctx, candidate, log)
	}

	w.settle(ctx, task.URL, pipeline.OutcomeDone, log)
}

// fetch retrieves the page, promoting to the headless renderer when the
// probe result looks like a client-rendered shell.
func (w *Worker) fetch(ctx context.Context, task pipeline.CrawlTask, log *zap.Logger) (pipeline.RawPage, error) {
	req := pipeline.FetchRequest{
		URL:       task.URL,
		Timeout:   w.cfg.FetchTimeout,
		UserAgent: w.cfg.UserAgent,
	}

	start := time.Now()
	page, err := w.fetcher.Fetch(ctx, req)
	if err != nil {
		var fe *pipeline.FetchError
		if errors.As(err, &fe) {
			metrics.ObserveFetch(task.URL, fe.StatusCode, time.Since(start))
		}
		return pipeline.RawPage{}, err
	}
	metrics.ObserveFetch(task.URL, page.StatusCode, time.Since(start))

	if w.detector == nil || w.headless == nil || !w.detector.ShouldPromote(page) {
		return page, nil
	}

	rendered, err := w.headless.Fetch(ctx, req)
	if err != nil {
		// The probe body is still usable; rendering is best effort.
		log.Warn("headless promotion failed", zap.Error(err))
		return page, nil
	}
	log.Debug("headless promotion applied")
	return rendered, nil
}

// archive snapshots the raw page body. Failures are logged and swallowed:
// losing a snapshot never fails the task.
func (w *Worker) archive(ctx context.Context, task pipeline.CrawlTask, page pipeline.RawPage, log *zap.Logger) {
	if w.blob == nil || len(page.Body) == 0 {
		return
	}
	hash, err := w.hasher.Hash(page.Body)
	if err != nil {
		log.Warn("hash page body failed", zap.Error(err))
		return
	}
	uri, err := w.blob.Put(ctx, w.blobPath(task.Domain, hash), page.ContentType, page.Body)
	if err != nil {
		log.Warn("archive snapshot failed", zap.Error(err))
		return
	}
	if uri != "" {
		log.Debug("snapshot archived", zap.String("blob_uri", uri))
	}
}

func (w *Worker) blobPath(domain, hash string) string {
	if domain == "" {
		domain = "unknown"
	}
	prefix := strings.Trim(w.cfg.BlobPrefix, "/")
	if prefix == "" {
		return fmt.Sprintf("%s/%s.html", domain, hash)
	}
	return fmt.Sprintf("%s/%s/%s.html", prefix, domain, hash)
}

// pushLinks re-seeds the frontier with discovered links one level deeper.
// Dedup and admission policy live in the frontier; rejections here are
// expected and not errors.
func (w *Worker) pushLinks(ctx context.Context, task pipeline.CrawlTask, links []pipeline.Link, log *zap.Logger) {
	for _, link := range links {
		child := pipeline.CrawlTask{
			URL:          link.URL,
			Domain:       pipeline.Domain(link.URL),
			Priority:     link.Priority,
			Depth:        task.Depth + 1,
			ParentURL:    task.URL,
			DiscoveredAt: w.clock.Now(),
		}
		if _, err := w.frontier.Push(ctx, child); err != nil {
			log.Warn("frontier push failed", zap.String("link", link.URL), zap.Error(err))
		}
	}
}

func (w *Worker) handleCandidate(ctx context.Context, candidate pipeline.Candidate, log *zap.Logger) {
	record, err := w.validator.Validate(candidate)
	if err != nil {
		var rej *validate.RejectionError
		if errors.As(err, &rej) {
			metrics.ObserveRejection(rej.Reason)
			log.Debug("candidate rejected", zap.String("reason", rej.Reason))
			return
		}
		log.Error("validation failed", zap.Error(err))
		return
	}

	score := w.scorer.Score(ctx, record)
	metrics.ObserveScoreSignal("cosine", score.Cosine != nil)
	metrics.ObserveScoreSignal("llm", score.LLM != nil)

	if err := w.persist(ctx, record, score); err != nil {
		log.Error("record lost to dead letter", zap.String("record_id", record.ID), zap.Error(err))
		return
	}
	metrics.ObserveRecordPersisted(score.HighPriority)
	log.Info("record persisted",
		zap.String("record_id", record.ID),
		zap.Bool("high_priority", score.HighPriority),
	)

	if score.HighPriority {
		w.announce(ctx, record, score, log)
	}
}

// persist upserts with one immediate retry; a second failure routes the
// record to the dead letter store so it is never silently lost.
func (w *Worker) persist(ctx context.Context, record pipeline.ValidatedRecord, score pipeline.ScoreResult) error {
	err := w.sink.Upsert(ctx, record, score)
	if err == nil {
		return nil
	}
	if retryErr := w.sink.Upsert(ctx, record, score); retryErr == nil {
		return nil
	}
	metrics.ObserveDeadLetter()
	if dlErr := w.sink.DeadLetter(ctx, record, score, err.Error()); dlErr != nil {
		return fmt.Errorf("dead letter after upsert failure: %w", dlErr)
	}
	return fmt.Errorf("upsert failed, dead lettered: %w", err)
}

func (w *Worker) announce(ctx context.Context, record pipeline.ValidatedRecord, score pipeline.ScoreResult, log *zap.Logger) {
	if w.publisher == nil || w.cfg.Topic == "" {
		return
	}
	payload := map[string]any{
		"record_id":  record.ID,
		"title":      record.Title,
		"source_url": record.SourceURL,
		"overall":    score.Overall,
		"timestamp":  w.clock.Now().Format(time.RFC3339),
	}
	if _, err := w.publisher.Publish(ctx, w.cfg.Topic, payload); err != nil {
		log.Warn("publish high-priority record failed", zap.Error(err))
	}
}

func (w *Worker) settle(ctx context.Context, url string, outcome pipeline.Outcome, log *zap.Logger) {
	if err := w.frontier.Complete(ctx, url, outcome); err != nil {
		log.Error("frontier complete failed", zap.Error(err))
		return
	}
	metrics.ObserveTask(string(outcome))
}
