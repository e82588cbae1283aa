// Package server builds the application's dependency graph and runs the HTTP service.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"cloud.google.com/go/storage"
	"go.uber.org/zap"

	"github.com/JakeFAU/lead-scraper/internal/api"
	"github.com/JakeFAU/lead-scraper/internal/archive"
	"github.com/JakeFAU/lead-scraper/internal/clock/system"
	"github.com/JakeFAU/lead-scraper/internal/config"
	"github.com/JakeFAU/lead-scraper/internal/enrichment"
	"github.com/JakeFAU/lead-scraper/internal/events"
	eventsinks "github.com/JakeFAU/lead-scraper/internal/events/sinks"
	"github.com/JakeFAU/lead-scraper/internal/id/uuid"
	"github.com/JakeFAU/lead-scraper/internal/policy/ratelimit"
	gcppublisher "github.com/JakeFAU/lead-scraper/internal/publisher/pubsub"
	collyresolver "github.com/JakeFAU/lead-scraper/internal/resolver/colly"
	"github.com/JakeFAU/lead-scraper/internal/scheduler"
	"github.com/JakeFAU/lead-scraper/internal/scraper"
	"github.com/JakeFAU/lead-scraper/internal/source/fixture"
	"github.com/JakeFAU/lead-scraper/internal/source/maps"
	filestore "github.com/JakeFAU/lead-scraper/internal/storage/file"
	gcsstorage "github.com/JakeFAU/lead-scraper/internal/storage/gcs"
	localstorage "github.com/JakeFAU/lead-scraper/internal/storage/local"
	memorystorage "github.com/JakeFAU/lead-scraper/internal/storage/memory"
	pgstore "github.com/JakeFAU/lead-scraper/internal/storage/postgres"
)

// App contains the application's dependencies.
type App struct {
	cfg       config.Config
	logger    *zap.Logger
	store     scraper.JobStore
	scheduler *scheduler.Scheduler
	apiServer *api.Server
	hub       *events.Hub

	pgStore      *pgstore.JobStore
	mapsSource   *maps.Source
	publisher    *gcppublisher.Publisher
	gcsClient    *storage.Client
	blobs        scraper.BlobStore
	readyChecker func(context.Context) error
}

// Build creates the application's dependencies. On error every resource
// created so far is released.
func Build(ctx context.Context, cfg config.Config, logger *zap.Logger) (_ *App, err error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	app := &App{cfg: cfg, logger: logger}
	defer func() {
		if err != nil {
			if app.hub != nil {
				_ = app.hub.Close(context.Background())
			}
			app.release()
		}
	}()

	logger.Info("building application dependencies",
		zap.Int("port", cfg.Server.Port),
		zap.String("store", cfg.Store.Backend),
		zap.String("source", cfg.Source.Backend),
		zap.String("archive", cfg.Archive.Backend),
	)

	if err = app.setupStore(ctx); err != nil {
		return nil, err
	}
	source, err := app.setupSource()
	if err != nil {
		return nil, err
	}
	resolver := app.setupResolver()
	pool := enrichment.New(enrichment.Config{
		Workers:        cfg.Enrichment.Workers,
		QueueDepth:     cfg.Enrichment.QueueDepth,
		ResolveTimeout: cfg.Enrichment.ResolveTimeout,
	}, app.store, resolver, logger.Named("enrichment"))

	archiver, err := app.setupArchive(ctx)
	if err != nil {
		return nil, err
	}
	emitter, err := app.setupEvents(ctx)
	if err != nil {
		return nil, err
	}

	deps := scheduler.Dependencies{
		Store:    app.store,
		Source:   source,
		Enricher: pool,
		Events:   emitter,
		Clock:    system.New(),
		IDs:      uuid.New(),
		Logger:   logger.Named("scheduler"),
	}
	if archiver != nil {
		deps.Archiver = archiver
	}
	app.scheduler, err = scheduler.New(scheduler.Config{
		MaxConcurrentJobs: cfg.Scheduler.MaxConcurrentJobs,
		PollInterval:      cfg.Scheduler.PollInterval,
	}, deps)
	if err != nil {
		return nil, fmt.Errorf("scheduler init failed: %w", err)
	}

	opts := api.Options{
		RequestTimeout: cfg.Server.RequestTimeout,
		AllowedOrigins: cfg.Server.CORSOrigins,
		Ready:          app.readyChecker,
	}
	if cfg.Auth.Enabled {
		opts.APIKey = cfg.Auth.APIKey
	}
	if cfg.Admission.RPS > 0 {
		opts.SubmitLimiter = ratelimit.New(ratelimit.Config{RPS: cfg.Admission.RPS, Burst: cfg.Admission.Burst})
		logger.Info("submission limiter enabled",
			zap.Float64("rps", cfg.Admission.RPS),
			zap.Int("burst", cfg.Admission.Burst),
		)
	}
	app.apiServer = api.NewServer(app.scheduler, opts, logger.Named("api"))
	return app, nil
}

// BuildStore opens only the configured job store, for read-only commands.
// The returned func releases it.
func BuildStore(ctx context.Context, cfg config.Config, logger *zap.Logger) (scraper.JobStore, func(), error) {
	app := &App{cfg: cfg, logger: logger}
	if app.logger == nil {
		app.logger = zap.NewNop()
	}
	if err := app.setupStore(ctx); err != nil {
		return nil, nil, err
	}
	return app.store, app.release, nil
}

// Scheduler exposes the job scheduler for in-process callers such as the CLI.
func (a *App) Scheduler() *scheduler.Scheduler {
	return a.scheduler
}

// Handler returns the HTTP handler.
func (a *App) Handler() http.Handler {
	return a.apiServer.Handler()
}

// Run serves HTTP and blocks until ctx is canceled or a termination signal
// arrives, then shuts down gracefully.
func (a *App) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:           a.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		a.logger.Info("http server started", zap.Int("port", a.cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
			stop()
		}
	}()

	<-ctx.Done()
	a.logger.Info("shutdown initiated")

	timeout := a.cfg.Server.ShutdownTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("server shutdown error", zap.Error(err))
	}
	closeErr := a.Close(shutdownCtx)

	select {
	case err := <-serveErr:
		return fmt.Errorf("http server: %w", err)
	default:
		return closeErr
	}
}

// Close stops the scheduler, flushes events and releases infrastructure.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	if a.scheduler != nil {
		if err := a.scheduler.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("close scheduler: %w", err))
		}
	}
	if a.hub != nil {
		if err := a.hub.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("close event hub: %w", err))
		}
	}
	a.release()
	if err := a.logger.Sync(); err != nil {
		a.logger.Debug("logger sync failed", zap.Error(err))
	}
	a.logger.Info("shutdown complete")
	return errors.Join(errs...)
}

func (a *App) release() {
	if a.publisher != nil {
		if err := a.publisher.Close(); err != nil {
			a.logger.Warn("pubsub publisher close failed", zap.Error(err))
		}
		a.publisher = nil
	}
	if a.mapsSource != nil {
		a.mapsSource.Close()
		a.mapsSource = nil
	}
	if a.gcsClient != nil {
		if err := a.gcsClient.Close(); err != nil {
			a.logger.Warn("gcs client close failed", zap.Error(err))
		}
		a.gcsClient = nil
	}
	if a.pgStore != nil {
		a.pgStore.Close()
		a.pgStore = nil
	}
}

func (a *App) setupStore(ctx context.Context) error {
	switch a.cfg.Store.Backend {
	case config.StorePostgres:
		store, err := pgstore.New(ctx, pgstore.Config{
			DSN:             a.cfg.Database.DSN,
			Table:           a.cfg.Database.Table,
			MaxConns:        a.cfg.Database.MaxConns,
			MinConns:        a.cfg.Database.MinConns,
			MaxConnLifetime: a.cfg.Database.MaxConnLifetime,
		}, a.logger.Named("postgres"))
		if err != nil {
			return fmt.Errorf("postgres job store init failed: %w", err)
		}
		a.pgStore = store
		if a.cfg.Database.EnsureSchema {
			if err := store.EnsureSchema(ctx); err != nil {
				return err
			}
		}
		a.store = store
		a.readyChecker = store.Ping
		a.logger.Info("using postgres job store", zap.String("table", a.cfg.Database.Table))
	case config.StoreMemory:
		a.store = memorystorage.NewJobStore()
		a.logger.Warn("using in-memory job store; jobs are lost on restart")
	default:
		store, err := filestore.New(filestore.Config{Dir: a.cfg.Store.Dir}, a.logger.Named("file_store"))
		if err != nil {
			return fmt.Errorf("file job store init failed: %w", err)
		}
		a.store = store
		a.logger.Info("using file job store", zap.String("dir", a.cfg.Store.Dir))
	}
	return nil
}

func (a *App) setupSource() (scraper.ListingSource, error) {
	sc := a.cfg.Source
	if sc.Backend == config.SourceFixture {
		src, err := fixture.New(sc.FixturePath)
		if err != nil {
			return nil, fmt.Errorf("fixture source init failed: %w", err)
		}
		a.logger.Info("using fixture listing source", zap.String("path", sc.FixturePath))
		return src, nil
	}
	src, err := maps.New(maps.Config{
		Headless:          sc.Headless,
		UserAgent:         sc.UserAgent,
		SearchBaseURL:     sc.SearchBaseURL,
		MaxTabs:           sc.MaxTabs,
		NavigationTimeout: sc.NavigationTimeout,
		DetailTimeout:     sc.DetailTimeout,
		ScrollIterations:  sc.ScrollIterations,
		ScrollDelay:       sc.ScrollDelay,
		MaxResults:        sc.MaxResults,
	}, a.logger.Named("maps"))
	if err != nil {
		return nil, fmt.Errorf("maps source init failed: %w", err)
	}
	a.mapsSource = src
	a.logger.Info("using headless maps listing source",
		zap.Bool("headless", sc.Headless),
		zap.Int("max_tabs", sc.MaxTabs),
	)
	return src, nil
}

func (a *App) setupResolver() *collyresolver.Resolver {
	rc := a.cfg.Resolver
	var opts []collyresolver.Option
	if rc.HostRPS > 0 {
		opts = append(opts, collyresolver.WithHostLimiter(ratelimit.New(ratelimit.Config{
			RPS:   rc.HostRPS,
			Burst: rc.HostBurst,
		})))
	}
	if rc.VerifyMX {
		opts = append(opts, collyresolver.WithMXVerifier(collyresolver.NewDNSVerifier(rc.DNSServers, rc.DNSTimeout)))
	}
	a.logger.Info("using colly email resolver",
		zap.Int("max_pages", rc.MaxPages),
		zap.Bool("respect_robots", rc.RespectRobots),
		zap.Bool("verify_mx", rc.VerifyMX),
	)
	return collyresolver.New(collyresolver.Config{
		UserAgent:     rc.UserAgent,
		MaxPages:      rc.MaxPages,
		PageTimeout:   rc.PageTimeout,
		RespectRobots: rc.RespectRobots,
		BlockedHosts:  rc.BlockedHosts,
	}, a.logger.Named("resolver"), opts...)
}

func (a *App) setupArchive(ctx context.Context) (*archive.Archiver, error) {
	ac := a.cfg.Archive
	switch ac.Backend {
	case config.ArchiveGCS:
		client, err := storage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("gcs client init failed: %w", err)
		}
		a.gcsClient = client
		blobs, err := gcsstorage.New(client, gcsstorage.Config{Bucket: ac.GCSBucket})
		if err != nil {
			return nil, fmt.Errorf("gcs blob store init failed: %w", err)
		}
		a.blobs = blobs
		a.logger.Info("archiving jobs to GCS", zap.String("bucket", ac.GCSBucket))
	case config.ArchiveLocal:
		blobs, err := localstorage.New(localstorage.Config{BaseDir: ac.LocalDir})
		if err != nil {
			return nil, fmt.Errorf("local blob store init failed: %w", err)
		}
		a.blobs = blobs
		a.logger.Info("archiving jobs locally", zap.String("dir", ac.LocalDir))
	case config.ArchiveMemory:
		a.blobs = memorystorage.NewBlobStore()
		a.logger.Info("archiving jobs in memory")
	default:
		a.logger.Info("job archive disabled")
		return nil, nil
	}
	archiver, err := archive.New(a.blobs, ac.Prefix)
	if err != nil {
		return nil, fmt.Errorf("archive init failed: %w", err)
	}
	return archiver, nil
}

func (a *App) setupEvents(ctx context.Context) (events.Emitter, error) {
	ec := a.cfg.Events
	if !ec.Enabled {
		a.logger.Info("lifecycle events disabled")
		return events.Discard{}, nil
	}
	var sinkList []events.Sink
	if ec.LogEnabled {
		sinkList = append(sinkList, eventsinks.NewLogSink(a.logger.Named("events_log")))
	}
	if a.cfg.PubSub.ProjectID != "" {
		publisher, err := gcppublisher.New(ctx, a.cfg.PubSub.ProjectID)
		if err != nil {
			return nil, fmt.Errorf("pubsub publisher init failed: %w", err)
		}
		a.publisher = publisher
		sink, err := eventsinks.NewPublisherSink(publisher, a.cfg.PubSub.Topic, a.logger.Named("events_pubsub"))
		if err != nil {
			return nil, fmt.Errorf("pubsub sink init failed: %w", err)
		}
		sinkList = append(sinkList, sink)
		a.logger.Info("publishing lifecycle events",
			zap.String("project", a.cfg.PubSub.ProjectID),
			zap.String("topic", a.cfg.PubSub.Topic),
		)
	}
	if len(sinkList) == 0 {
		a.logger.Warn("lifecycle events enabled but no sinks configured")
		return events.Discard{}, nil
	}
	a.hub = events.NewHub(events.Config{
		BufferSize:     ec.BufferSize,
		MaxBatchEvents: ec.MaxBatchEvents,
		MaxBatchWait:   ec.MaxBatchWait,
		SinkTimeout:    ec.SinkTimeout,
		Logger:         a.logger.Named("events_hub"),
	}, sinkList...)
	return a.hub, nil
}
