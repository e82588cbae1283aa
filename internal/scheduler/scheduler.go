// Package scheduler owns the job lifecycle. Submissions are persisted as
// pending and then driven through fetch and enrichment on a detached goroutine,
// with every status change written back through the JobStore.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/lead-scraper/internal/events"
	"github.com/JakeFAU/lead-scraper/internal/metrics"
	"github.com/JakeFAU/lead-scraper/internal/scraper"
)

// DefaultRadius is applied when a submission omits the radius.
const DefaultRadius = 5.0

const (
	shutdownMessage     = "scheduler shutting down"
	interruptedMessage  = "enrichment interrupted: " + shutdownMessage
	defaultPollInterval = 250 * time.Millisecond
	finalizeTimeout     = 10 * time.Second
)

// ErrClosed is returned by Submit after Close has been called.
var ErrClosed = errors.New("scheduler closed")

// Enricher attaches emails to the listings of a persisted job.
type Enricher interface {
	Enrich(ctx context.Context, job scraper.Job) (scraper.Job, scraper.EnrichmentStats, error)
}

// Archiver exports terminal jobs.
type Archiver interface {
	Archive(ctx context.Context, job scraper.Job) (string, error)
}

// Config tunes admission and polling.
type Config struct {
	// MaxConcurrentJobs bounds running pipelines. Zero means unlimited.
	MaxConcurrentJobs int
	// PollInterval is used by Wait.
	PollInterval time.Duration
}

// Dependencies groups the collaborators of a Scheduler. Archiver and Events are optional.
type Dependencies struct {
	Store    scraper.JobStore
	Source   scraper.ListingSource
	Enricher Enricher
	Archiver Archiver
	Events   events.Emitter
	Clock    scraper.Clock
	IDs      scraper.IDGenerator
	Logger   *zap.Logger
}

// SubmitRequest is the raw user input for a new job. A nil Radius selects DefaultRadius.
type SubmitRequest struct {
	Location string
	Radius   *float64
	Type     string
}

// Scheduler creates jobs and runs their pipelines.
type Scheduler struct {
	cfg      Config
	store    scraper.JobStore
	source   scraper.ListingSource
	enricher Enricher
	archiver Archiver
	events   events.Emitter
	clock    scraper.Clock
	ids      scraper.IDGenerator
	logger   *zap.Logger

	sem    chan struct{}
	base   context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	mu     sync.Mutex
	closed atomic.Bool
}

// New validates deps and returns a Scheduler ready to accept submissions.
func New(cfg Config, deps Dependencies) (*Scheduler, error) {
	switch {
	case deps.Store == nil:
		return nil, errors.New("job store is required")
	case deps.Source == nil:
		return nil, errors.New("listing source is required")
	case deps.Enricher == nil:
		return nil, errors.New("enricher is required")
	case deps.Clock == nil:
		return nil, errors.New("clock is required")
	case deps.IDs == nil:
		return nil, errors.New("id generator is required")
	}
	if cfg.MaxConcurrentJobs < 0 {
		return nil, fmt.Errorf("max concurrent jobs must be >= 0, got %d", cfg.MaxConcurrentJobs)
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaultPollInterval
	}
	if deps.Events == nil {
		deps.Events = events.Discard{}
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	base, cancel := context.WithCancel(context.Background())
	s := &Scheduler{
		cfg:      cfg,
		store:    deps.Store,
		source:   deps.Source,
		enricher: deps.Enricher,
		archiver: deps.Archiver,
		events:   deps.Events,
		clock:    deps.Clock,
		ids:      deps.IDs,
		logger:   deps.Logger,
		base:     base,
		cancel:   cancel,
	}
	if cfg.MaxConcurrentJobs > 0 {
		s.sem = make(chan struct{}, cfg.MaxConcurrentJobs)
	}
	return s, nil
}

// Submit validates req, persists a pending job and starts its pipeline. It
// returns the pending record without waiting for any scraping.
func (s *Scheduler) Submit(ctx context.Context, req SubmitRequest) (scraper.Job, error) {
	location, radius, filter, err := normalize(req)
	if err != nil {
		return scraper.Job{}, err
	}
	id, err := s.ids.NewID()
	if err != nil {
		return scraper.Job{}, fmt.Errorf("allocate job id: %w", err)
	}
	job := scraper.Job{
		ID:        id,
		Location:  location,
		Radius:    radius,
		Type:      filter,
		Status:    scraper.JobStatusPending,
		CreatedAt: s.clock.Now(),
		Results:   []scraper.Listing{},
	}

	// wg.Add happens under mu so Close never waits on a group that can still grow.
	s.mu.Lock()
	if s.closed.Load() {
		s.mu.Unlock()
		return scraper.Job{}, ErrClosed
	}
	s.wg.Add(1)
	s.mu.Unlock()

	if err := s.store.Create(ctx, job); err != nil {
		s.wg.Done()
		return scraper.Job{}, fmt.Errorf("persist job: %w", err)
	}
	metrics.ObserveJob(string(scraper.JobStatusPending))
	s.emit(events.Event{JobID: id, Stage: events.StageJobSubmitted, Location: location})
	s.logger.Info("job submitted",
		zap.String("job_id", id),
		zap.String("location", location),
		zap.Float64("radius", radius),
		zap.String("type", string(filter)),
	)

	go s.run(job)
	return job.Clone(), nil
}

// Get returns the current record for id.
func (s *Scheduler) Get(ctx context.Context, id string) (scraper.Job, error) {
	job, err := s.store.Get(ctx, id)
	if err != nil {
		return scraper.Job{}, err
	}
	return job, nil
}

// List returns every job ordered by creation time.
func (s *Scheduler) List(ctx context.Context) ([]scraper.Job, error) {
	jobs, err := s.store.List(ctx)
	if err != nil {
		return nil, err
	}
	return jobs, nil
}

// Wait polls the store until job id is terminal or ctx ends.
func (s *Scheduler) Wait(ctx context.Context, id string) (scraper.Job, error) {
	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()
	for {
		job, err := s.store.Get(ctx, id)
		if err != nil {
			return scraper.Job{}, err
		}
		if job.Status.Terminal() {
			return job, nil
		}
		select {
		case <-ctx.Done():
			return job, fmt.Errorf("wait for job %s: %w", id, ctx.Err())
		case <-ticker.C:
		}
	}
}

// Close stops accepting submissions, cancels running pipelines and waits for
// them to record their final status.
func (s *Scheduler) Close(ctx context.Context) error {
	s.mu.Lock()
	already := s.closed.Swap(true)
	s.mu.Unlock()
	if !already {
		s.cancel()
	}
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("scheduler close wait: %w", ctx.Err())
	}
}

func (s *Scheduler) run(job scraper.Job) {
	defer s.wg.Done()
	ctx := s.base
	logger := s.logger.With(zap.String("job_id", job.ID))
	defer func() {
		if rec := recover(); rec != nil {
			logger.Error("job pipeline panicked", zap.Any("panic", rec))
			s.fail(job.ID, fmt.Sprintf("internal error: %v", rec), logger)
		}
	}()

	if s.sem != nil {
		select {
		case s.sem <- struct{}{}:
			defer func() { <-s.sem }()
		case <-ctx.Done():
			s.fail(job.ID, shutdownMessage, logger)
			return
		}
	}

	metrics.IncActiveJobs()
	defer metrics.DecActiveJobs()
	start := time.Now()

	if _, err := s.store.Update(ctx, job.ID, func(j *scraper.Job) error {
		return j.Transition(scraper.JobStatusRunning, s.clock.Now())
	}); err != nil {
		logger.Error("mark job running failed", zap.Error(err))
		s.fail(job.ID, failureText(ctx, err), logger)
		return
	}
	metrics.ObserveJob(string(scraper.JobStatusRunning))
	s.emit(events.Event{JobID: job.ID, Stage: events.StageJobRunning, Location: job.Location})

	listings, err := s.fetch(ctx, job, logger)
	if err != nil {
		logger.Warn("listing fetch failed", zap.Error(err))
		s.fail(job.ID, failureText(ctx, err), logger)
		return
	}

	persisted, err := s.store.Update(ctx, job.ID, func(j *scraper.Job) error {
		j.Results = listings
		return nil
	})
	if err != nil {
		logger.Error("persist listings failed", zap.Error(err))
		s.fail(job.ID, failureText(ctx, err), logger)
		return
	}

	// Listings are already persisted, so enrichment problems never fail the job.
	var note string
	_, stats, err := s.enricher.Enrich(ctx, persisted)
	if err != nil {
		if ctx.Err() != nil {
			note = interruptedMessage
			logger.Warn("enrichment interrupted", zap.Error(err))
		} else {
			logger.Warn("enrichment finished with errors", zap.Error(err))
		}
	}
	s.emit(events.Event{JobID: job.ID, Stage: events.StageEnrichDone, Enrichment: &stats})

	fctx, cancel := finalizeContext()
	defer cancel()
	final, err := s.store.Update(fctx, job.ID, func(j *scraper.Job) error {
		if err := j.Transition(scraper.JobStatusCompleted, s.clock.Now()); err != nil {
			return err
		}
		st := stats
		j.Enrichment = &st
		if note != "" {
			j.Error = note
		}
		return nil
	})
	if err != nil {
		logger.Error("mark job completed failed", zap.Error(err))
		return
	}
	metrics.ObserveJob(string(scraper.JobStatusCompleted))
	s.emit(events.Event{
		JobID:      job.ID,
		Stage:      events.StageJobCompleted,
		Listings:   len(final.Results),
		Enrichment: &stats,
		Dur:        time.Since(start),
	})
	logger.Info("job completed",
		zap.Int("listings", len(final.Results)),
		zap.Int("urls", stats.URLs),
		zap.Int("resolved", stats.Resolved),
		zap.Int("failed", stats.Failed),
		zap.Duration("duration", time.Since(start)),
	)
	s.archive(final, logger)
}

// fetch queries the source once per category and concatenates in category order.
func (s *Scheduler) fetch(ctx context.Context, job scraper.Job, logger *zap.Logger) ([]scraper.Listing, error) {
	all := []scraper.Listing{}
	for _, category := range job.Type.Categories() {
		batch, err := s.source.Fetch(ctx, scraper.Query{
			Location: job.Location,
			Radius:   job.Radius,
			Category: category,
		})
		if err != nil {
			return nil, &scraper.FetchError{Category: category, Err: err}
		}
		for _, l := range batch {
			l = l.Clone()
			if l.Type == "" {
				l.Type = category
			}
			l.Emails = []string{}
			all = append(all, l)
		}
		metrics.ObserveListings(string(category), len(batch))
		s.emit(events.Event{JobID: job.ID, Stage: events.StageFetchDone, Category: category, Listings: len(all)})
		logger.Debug("category fetched", zap.String("category", string(category)), zap.Int("listings", len(batch)))
	}
	return all, nil
}

// fail records a terminal failure.
func (s *Scheduler) fail(id, message string, logger *zap.Logger) {
	ctx, cancel := finalizeContext()
	defer cancel()
	final, err := s.store.Update(ctx, id, func(j *scraper.Job) error {
		if err := j.Transition(scraper.JobStatusFailed, s.clock.Now()); err != nil {
			return err
		}
		j.Error = message
		return nil
	})
	if err != nil {
		logger.Error("record job failure failed", zap.String("reason", message), zap.Error(err))
		return
	}
	metrics.ObserveJob(string(scraper.JobStatusFailed))
	s.emit(events.Event{JobID: id, Stage: events.StageJobFailed, Note: message})
	logger.Warn("job failed", zap.String("reason", message))
	s.archive(final, logger)
}

func (s *Scheduler) archive(job scraper.Job, logger *zap.Logger) {
	if s.archiver == nil {
		return
	}
	ctx, cancel := finalizeContext()
	defer cancel()
	uri, err := s.archiver.Archive(ctx, job)
	if err != nil {
		logger.Warn("archive job failed", zap.Error(err))
		return
	}
	logger.Debug("job archived", zap.String("uri", uri))
}

func (s *Scheduler) emit(evt events.Event) {
	if evt.TS.IsZero() {
		evt.TS = s.clock.Now()
	}
	s.events.Emit(evt)
}

// finalizeContext is detached from the scheduler base so terminal writes
// still land during shutdown.
func finalizeContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), finalizeTimeout)
}

func failureText(ctx context.Context, err error) string {
	if ctx.Err() != nil {
		return shutdownMessage
	}
	return err.Error()
}

func normalize(req SubmitRequest) (string, float64, scraper.CategoryFilter, error) {
	location := strings.TrimSpace(req.Location)
	if location == "" {
		return "", 0, "", fmt.Errorf("%w: location is required", scraper.ErrValidation)
	}
	radius := DefaultRadius
	if req.Radius != nil {
		radius = *req.Radius
	}
	if math.IsNaN(radius) || math.IsInf(radius, 0) || radius <= 0 {
		return "", 0, "", fmt.Errorf("%w: radius must be a positive number", scraper.ErrValidation)
	}
	filter, err := scraper.ParseCategoryFilter(req.Type)
	if err != nil {
		return "", 0, "", err
	}
	return location, radius, filter, nil
}
