// Package app builds the long-lived services behind a crawl run and tears
// them down afterwards.
package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"cloud.google.com/go/storage"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/JakeFAU/poem-crawler/internal/api"
	"github.com/JakeFAU/poem-crawler/internal/config"
	"github.com/JakeFAU/poem-crawler/internal/crawler"
	"github.com/JakeFAU/poem-crawler/internal/extract"
	collyfetcher "github.com/JakeFAU/poem-crawler/internal/fetcher/colly"
	"github.com/JakeFAU/poem-crawler/internal/id/uuid"
	"github.com/JakeFAU/poem-crawler/internal/policy/ratelimit"
	"github.com/JakeFAU/poem-crawler/internal/progress"
	progresssinks "github.com/JakeFAU/poem-crawler/internal/progress/sinks"
	"github.com/JakeFAU/poem-crawler/internal/progresslog"
	memorypublisher "github.com/JakeFAU/poem-crawler/internal/publisher/memory"
	gcppublisher "github.com/JakeFAU/poem-crawler/internal/publisher/pubsub"
	poemstorage "github.com/JakeFAU/poem-crawler/internal/storage"
	gcsstorage "github.com/JakeFAU/poem-crawler/internal/storage/gcs"
	localstorage "github.com/JakeFAU/poem-crawler/internal/storage/local"
	memorystorage "github.com/JakeFAU/poem-crawler/internal/storage/memory"
	pgstore "github.com/JakeFAU/poem-crawler/internal/storage/postgres"
	"github.com/JakeFAU/poem-crawler/internal/telemetry"
)

const closeTimeout = 10 * time.Second

// App contains the dependencies of one crawl run.
type App struct {
	cfg      config.Config
	logger   *zap.Logger
	registry *prometheus.Registry

	progressLog *progresslog.File
	driver      *crawler.Driver
	progressHub *progress.Hub
	status      *progresssinks.StatusSink
	opsServer   *api.Server

	output    string
	memBlobs  *memorystorage.BlobStore
	memPub    *memorypublisher.Publisher
	publisher progresssinks.Publisher
	gcsClient *storage.Client
	catalog   *pgstore.CatalogStore

	tracerShutdown func(context.Context) error

	closeOnce sync.Once
	closeErr  error
}

// Build creates the application's dependencies from cfg. Everything opened
// before a failure is closed again.
func Build(ctx context.Context, cfg config.Config, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &App{
		cfg:      cfg,
		logger:   logger,
		registry: prometheus.NewRegistry(),
	}
	if err := a.build(ctx); err != nil {
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), closeTimeout)
		defer cancel()
		if closeErr := a.Close(shutdownCtx); closeErr != nil {
			logger.Warn("cleanup after failed build", zap.Error(closeErr))
		}
		return nil, err
	}
	return a, nil
}

func (a *App) build(ctx context.Context) error {
	tp, err := telemetry.InitTracerProvider(ctx, telemetry.ServiceName)
	if err != nil {
		return fmt.Errorf("tracer init failed: %w", err)
	}
	a.tracerShutdown = tp.Shutdown

	a.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	blobs, err := a.setupStorage(ctx)
	if err != nil {
		return err
	}
	poems, err := poemstorage.NewPoemStore(blobs, a.cfg.Output.Prefix)
	if err != nil {
		return fmt.Errorf("poem store init failed: %w", err)
	}

	a.progressLog, err = progresslog.Open(a.cfg.ProgressLog.Path)
	if err != nil {
		return fmt.Errorf("open progress log: %w", err)
	}

	if err = a.setupCatalog(ctx); err != nil {
		return err
	}
	a.publisher, err = a.setupPublisher(ctx)
	if err != nil {
		return err
	}
	if err = a.setupProgress(a.publisher); err != nil {
		return err
	}

	if a.cfg.Metrics.ListenAddr != "" {
		a.opsServer = api.NewServer(api.Options{
			Status:     a.status,
			Gatherer:   a.registry,
			Registerer: a.registry,
			Logger:     a.logger.Named("api"),
		})
	}

	fetcherCfg := collyfetcher.Config{
		UserAgent:     a.cfg.Crawler.UserAgent,
		RespectRobots: a.cfg.Crawler.RespectRobots,
		Timeout:       a.cfg.Crawler.RequestTimeout,
	}
	if a.cfg.Crawler.MaxRPS > 0 {
		limiter, lerr := ratelimit.New(ratelimit.Config{RPS: a.cfg.Crawler.MaxRPS, Registerer: a.registry})
		if lerr != nil {
			return fmt.Errorf("rate limiter init failed: %w", lerr)
		}
		fetcherCfg.Limiter = limiter
		a.logger.Info("per-host rate limit enabled", zap.Float64("max_rps", a.cfg.Crawler.MaxRPS))
	}
	fetcher := collyfetcher.New(fetcherCfg)
	a.logger.Info("using colly fetcher",
		zap.String("user_agent", a.cfg.Crawler.UserAgent),
		zap.Bool("respect_robots", a.cfg.Crawler.RespectRobots),
	)

	a.driver, err = crawler.NewDriver(a.cfg.Crawl(), crawler.Deps{
		Fetcher: fetcher,
		Extractor: extract.Default(
			a.cfg.Selectors.ContentPrimary,
			a.cfg.Selectors.ContentFallback,
			extract.WithLogger(a.logger.Named("extract")),
		),
		Store:  poems,
		Log:    a.progressLog,
		Events: a.progressHub,
		IDs:    uuid.New(),
		Logger: a.logger,
	})
	if err != nil {
		return fmt.Errorf("crawler init failed: %w", err)
	}
	return nil
}

func (a *App) setupStorage(ctx context.Context) (poemstorage.BlobStore, error) {
	switch a.cfg.Output.Backend {
	case config.BackendGCS:
		a.logger.Info("using GCS storage backend", zap.String("bucket", a.cfg.Output.GCSBucket))
		client, err := storage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("gcs client init failed: %w", err)
		}
		a.gcsClient = client
		blobs, err := gcsstorage.New(client, gcsstorage.Config{Bucket: a.cfg.Output.GCSBucket})
		if err != nil {
			return nil, fmt.Errorf("gcs blob store init failed: %w", err)
		}
		a.output = strings.TrimSuffix(gcsstorage.ObjectURI(a.cfg.Output.GCSBucket, strings.Trim(a.cfg.Output.Prefix, "/")), "/")
		return blobs, nil
	case config.BackendMemory:
		a.logger.Info("using in-memory storage backend; poems are discarded at exit")
		a.memBlobs = memorystorage.NewBlobStore()
		a.output = "memory"
		return a.memBlobs, nil
	default:
		a.logger.Info("using local storage backend", zap.String("dir", a.cfg.Output.Dir))
		blobs, err := localstorage.New(localstorage.Config{BaseDir: a.cfg.Output.Dir})
		if err != nil {
			return nil, fmt.Errorf("local blob store init failed: %w", err)
		}
		a.output = blobs.BaseDir()
		return blobs, nil
	}
}

func (a *App) setupCatalog(ctx context.Context) error {
	if a.cfg.DB.DSN == "" {
		a.logger.Debug("no DSN specified, skipping poem catalog")
		return nil
	}
	var err error
	a.catalog, err = pgstore.NewCatalogStore(ctx, pgstore.Config{
		DSN:        a.cfg.DB.DSN,
		PoemsTable: a.cfg.DB.Table,
		RunsTable:  a.cfg.DB.RunsTable,
	})
	if err != nil {
		return fmt.Errorf("catalog store init failed: %w", err)
	}
	if err = a.catalog.EnsureSchema(ctx); err != nil {
		return fmt.Errorf("catalog schema init failed: %w", err)
	}
	a.logger.Info("poem catalog initialized", zap.String("table", a.cfg.DB.Table))
	return nil
}

func (a *App) setupPublisher(ctx context.Context) (progresssinks.Publisher, error) {
	if a.cfg.PubSub.Topic == "" {
		a.logger.Debug("no Pub/Sub topic configured, using in-memory publisher")
		a.memPub = memorypublisher.New()
		return a.memPub, nil
	}
	pub, err := gcppublisher.Connect(ctx, a.cfg.PubSub.ProjectID, a.cfg.PubSub.Topic)
	if err != nil {
		return nil, fmt.Errorf("pubsub publisher init failed: %w", err)
	}
	a.logger.Info("Pub/Sub publisher initialized",
		zap.String("project", a.cfg.PubSub.ProjectID),
		zap.String("topic", a.cfg.PubSub.Topic),
	)
	return pub, nil
}

func (a *App) setupProgress(publisher progresssinks.Publisher) error {
	promSink, err := progresssinks.NewPrometheusSink(a.registry)
	if err != nil {
		return fmt.Errorf("prometheus sink init failed: %w", err)
	}
	a.status = progresssinks.NewStatusSink()
	sinkList := []progress.Sink{
		progresssinks.NewLogSink(a.logger.Named("progress_log")),
		promSink,
		a.status,
		progresssinks.NewPublishSink(publisher, a.logger.Named("progress_publish")),
	}
	if a.catalog != nil {
		sinkList = append(sinkList, progresssinks.NewStoreSink(a.catalog, a.logger.Named("progress_store")))
	}
	a.progressHub = progress.NewHub(progress.Config{Logger: a.logger.Named("progress_hub")}, sinkList...)
	a.logger.Debug("progress hub initialized", zap.Int("sinks", len(sinkList)))
	return nil
}

// Run performs one crawl. When an ops listen address is configured the ops
// server runs for the duration of the crawl.
func (a *App) Run(ctx context.Context) (crawler.Result, error) {
	var (
		opsDone   chan error
		opsCancel context.CancelFunc = func() {}
	)
	if a.opsServer != nil {
		var opsCtx context.Context
		opsCtx, opsCancel = context.WithCancel(ctx)
		opsDone = make(chan error, 1)
		go func() { opsDone <- a.opsServer.Serve(opsCtx, a.cfg.Metrics.ListenAddr) }()
	}

	result, err := a.driver.Run(ctx)

	opsCancel()
	if opsDone != nil {
		if opsErr := <-opsDone; opsErr != nil {
			a.logger.Warn("ops server stopped with error", zap.Error(opsErr))
		}
	}
	if a.cfg.Metrics.Textfile != "" {
		if werr := prometheus.WriteToTextfile(a.cfg.Metrics.Textfile, a.registry); werr != nil {
			a.logger.Warn("write metrics textfile failed", zap.Error(werr))
		}
	}
	if a.memPub != nil {
		counts := a.memPub.Counts()
		a.logger.Debug("notifications kept in memory",
			zap.Int("poems_saved", counts[string(progress.StagePoemSaved)]),
			zap.Int("total", len(a.memPub.Messages())),
		)
	}
	return result, err
}

// OutputLocation describes where poems are written.
func (a *App) OutputLocation() string {
	return a.output
}

// LogPath returns the progress log location.
func (a *App) LogPath() string {
	if a.progressLog != nil {
		return a.progressLog.Path()
	}
	return a.cfg.ProgressLog.Path
}

// Close gracefully shuts down every service. It is safe to call more than once.
func (a *App) Close(ctx context.Context) error {
	a.closeOnce.Do(func() {
		var errs []error
		switch {
		case a.progressHub != nil:
			if err := a.progressHub.Close(ctx); err != nil {
				errs = append(errs, fmt.Errorf("close progress hub: %w", err))
			}
		case a.publisher != nil:
			if err := a.publisher.Close(); err != nil {
				errs = append(errs, fmt.Errorf("close publisher: %w", err))
			}
		}
		if a.catalog != nil {
			a.catalog.Close()
		}
		if a.gcsClient != nil {
			if err := a.gcsClient.Close(); err != nil {
				errs = append(errs, fmt.Errorf("close gcs client: %w", err))
			}
		}
		if a.progressLog != nil {
			if err := a.progressLog.Close(); err != nil {
				errs = append(errs, fmt.Errorf("close progress log: %w", err))
			}
		}
		if a.tracerShutdown != nil {
			if err := a.tracerShutdown(ctx); err != nil {
				errs = append(errs, fmt.Errorf("shutdown tracer: %w", err))
			}
		}
		a.closeErr = errors.Join(errs...)
		a.logger.Debug("shutdown complete")
	})
	return a.closeErr
}
