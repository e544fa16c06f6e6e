// Package app initializes and holds long-lived application services, acting
// as the composition root for both the crawl and serve commands.
package app

import (
	"context"
	"fmt"

	"cloud.google.com/go/pubsub"
	gcstorage "cloud.google.com/go/storage"
	"go.uber.org/zap"

	"github.com/rfpscout/rfpscout/internal/api"
	"github.com/rfpscout/rfpscout/internal/blob"
	"github.com/rfpscout/rfpscout/internal/collab/ollama"
	"github.com/rfpscout/rfpscout/internal/config"
	"github.com/rfpscout/rfpscout/internal/events"
	"github.com/rfpscout/rfpscout/internal/extract"
	collyfetcher "github.com/rfpscout/rfpscout/internal/fetcher/colly"
	"github.com/rfpscout/rfpscout/internal/fetcher/headless"
	"github.com/rfpscout/rfpscout/internal/frontier"
	"github.com/rfpscout/rfpscout/internal/headless/detector"
	"github.com/rfpscout/rfpscout/internal/logging"
	"github.com/rfpscout/rfpscout/internal/metrics"
	"github.com/rfpscout/rfpscout/internal/orchestrator"
	"github.com/rfpscout/rfpscout/internal/pipeline"
	"github.com/rfpscout/rfpscout/internal/policy/ratelimit"
	"github.com/rfpscout/rfpscout/internal/profile"
	"github.com/rfpscout/rfpscout/internal/score"
	memsink "github.com/rfpscout/rfpscout/internal/sink/memory"
	pgsink "github.com/rfpscout/rfpscout/internal/sink/postgres"
	"github.com/rfpscout/rfpscout/internal/validate"
	"github.com/rfpscout/rfpscout/internal/worker"
)

// App holds the shared, long-lived services for the application. It is
// initialized once at startup and torn down by Close.
type App struct {
	Config       config.Config
	Logger       *zap.Logger
	Frontier     pipeline.Frontier
	Profile      pipeline.BusinessProfile
	Worker       *worker.Worker
	Orchestrator *orchestrator.Orchestrator
	Records      api.RecordLister

	closers []func()
}

// New builds the full service graph from configuration. It fails fast: any
// provider that cannot be initialized aborts startup.
func New(ctx context.Context, cfg config.Config) (*App, error) {
	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}
	metrics.Init()

	a := &App{Config: cfg, Logger: logger}
	a.onClose(func() { _ = logger.Sync() })

	clock := pipeline.SystemClock{}

	if err := a.buildFrontier(ctx, cfg, clock, logger); err != nil {
		a.Close()
		return nil, err
	}

	bp, err := loadProfile(cfg, logger)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.Profile = bp

	scorer := a.buildScorer(bp, cfg, logger)
	sink, err := a.buildSink(ctx, cfg)
	if err != nil {
		a.Close()
		return nil, err
	}
	blobStore, err := a.buildBlobStore(ctx, cfg, logger)
	if err != nil {
		a.Close()
		return nil, err
	}
	publisher, err := a.buildPublisher(ctx, cfg, logger)
	if err != nil {
		a.Close()
		return nil, err
	}
	headlessFetcher, det, err := a.buildHeadless(cfg)
	if err != nil {
		a.Close()
		return nil, err
	}

	probe := collyfetcher.New(collyfetcher.Config{
		UserAgent:     cfg.Crawler.UserAgent,
		RespectRobots: cfg.Crawler.RespectRobots,
		Timeout:       cfg.Crawler.FetchTimeout,
	})
	limiter := ratelimit.New(cfg.RateLimit)

	a.Worker = worker.New(
		a.Frontier,
		probe,
		headlessFetcher,
		det,
		limiter,
		extract.NewRuleset(bp.Keywords),
		validate.New(clock),
		scorer,
		sink,
		blobStore,
		publisher,
		clock,
		worker.Config{
			FetchTimeout: cfg.Crawler.FetchTimeout,
			UserAgent:    cfg.Crawler.UserAgent,
			Topic:        cfg.PubSub.Topic,
		},
		logger,
	)

	a.Orchestrator = orchestrator.New(a.Frontier, a.Worker, clock, orchestrator.Config{
		Workers:      cfg.Crawler.Workers,
		BatchSize:    cfg.Crawler.BatchSize,
		MaxSteps:     cfg.Crawler.MaxSteps,
		MaxDuration:  cfg.Crawler.MaxDuration,
		SeedPriority: cfg.Crawler.SeedPriority,
	}, logger)

	logger.Info("application services initialized",
		zap.String("frontier", cfg.Frontier.Backend),
		zap.Bool("headless", cfg.Headless.Enabled),
		zap.Bool("ollama", cfg.Ollama.Enabled),
		zap.Bool("postgres", cfg.DB.Enabled),
		zap.String("blob", cfg.Blob.Backend),
	)
	return a, nil
}

func (a *App) buildFrontier(ctx context.Context, cfg config.Config, clock pipeline.Clock, logger *zap.Logger) error {
	switch cfg.Frontier.Backend {
	case "redis":
		fr, err := frontier.NewRedis(ctx, cfg.Redis.URL, cfg.Redis.Namespace, cfg.Frontier.Policy(), clock, logger)
		if err != nil {
			return fmt.Errorf("init redis frontier: %w", err)
		}
		a.Frontier = fr
		a.onClose(func() {
			if cerr := fr.Close(); cerr != nil {
				logger.Warn("close redis frontier", zap.Error(cerr))
			}
		})
	default:
		a.Frontier = frontier.NewMemory(cfg.Frontier.Policy(), clock, logger)
	}
	return nil
}

func loadProfile(cfg config.Config, logger *zap.Logger) (pipeline.BusinessProfile, error) {
	if cfg.Profile.Path == "" {
		logger.Warn("no business profile configured; records will be unscored")
		return pipeline.BusinessProfile{AcceptanceThreshold: profile.DefaultAcceptanceThreshold}, nil
	}
	bp, err := profile.Load(cfg.Profile.Path)
	if err != nil {
		return pipeline.BusinessProfile{}, fmt.Errorf("load profile: %w", err)
	}
	logger.Info("business profile loaded",
		zap.String("name", bp.Name),
		zap.Int("keywords", len(bp.Keywords)),
		zap.Float64("acceptance_threshold", bp.AcceptanceThreshold),
	)
	return bp, nil
}

func (a *App) buildScorer(bp pipeline.BusinessProfile, cfg config.Config, logger *zap.Logger) *score.Scorer {
	var embedder pipeline.Embedder
	var judge pipeline.Judge
	if cfg.Ollama.Enabled {
		client := ollama.New(cfg.Ollama.Config, logger)
		embedder = client
		judge = client
	}
	return score.New(bp, cfg.Scoring.Weights, embedder, judge, logger)
}

func (a *App) buildSink(ctx context.Context, cfg config.Config) (pipeline.RecordSink, error) {
	if cfg.DB.Enabled {
		sink, err := pgsink.New(ctx, cfg.DB.Config)
		if err != nil {
			return nil, fmt.Errorf("init postgres sink: %w", err)
		}
		a.onClose(sink.Close)
		a.Records = api.PostgresLister{Sink: sink}
		return sink, nil
	}
	sink := memsink.New()
	a.Records = api.MemoryLister{Sink: sink}
	return sink, nil
}

func (a *App) buildBlobStore(ctx context.Context, cfg config.Config, logger *zap.Logger) (pipeline.BlobStore, error) {
	switch cfg.Blob.Backend {
	case "", "none":
		return nil, nil
	case "local":
		store, err := blob.NewLocal(blob.LocalConfig{BaseDir: cfg.Blob.BaseDir})
		if err != nil {
			return nil, fmt.Errorf("init local blob store: %w", err)
		}
		return store, nil
	case "gcs":
		client, err := gcstorage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("init gcs client: %w", err)
		}
		a.onClose(func() {
			if cerr := client.Close(); cerr != nil {
				logger.Warn("close gcs client", zap.Error(cerr))
			}
		})
		store, err := blob.NewGCS(client, blob.GCSConfig{Bucket: cfg.Blob.Bucket, Prefix: cfg.Blob.Prefix})
		if err != nil {
			return nil, fmt.Errorf("init gcs blob store: %w", err)
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unknown blob backend %q", cfg.Blob.Backend)
	}
}

func (a *App) buildPublisher(ctx context.Context, cfg config.Config, logger *zap.Logger) (pipeline.Publisher, error) {
	if !cfg.PubSub.Enabled {
		return nil, nil
	}
	client, err := pubsub.NewClient(ctx, cfg.PubSub.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("init pubsub client: %w", err)
	}
	pub, err := events.NewPubSub(client)
	if err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("init publisher: %w", err)
	}
	a.onClose(func() {
		pub.Stop()
		if cerr := client.Close(); cerr != nil {
			logger.Warn("close pubsub client", zap.Error(cerr))
		}
	})
	return pub, nil
}

func (a *App) buildHeadless(cfg config.Config) (pipeline.Fetcher, worker.Detector, error) {
	if !cfg.Headless.Enabled {
		return nil, nil, nil
	}
	fetcher, err := headless.NewChromedp(headless.Config{
		MaxParallel:       cfg.Headless.MaxParallel,
		UserAgent:         cfg.Crawler.UserAgent,
		NavigationTimeout: cfg.Headless.NavTimeout,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("init headless fetcher: %w", err)
	}
	a.onClose(fetcher.Close)
	return fetcher, detector.NewHeuristic(0), nil
}

func (a *App) onClose(fn func()) {
	a.closers = append(a.closers, fn)
}

// Close tears down services in reverse initialization order.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
