// Package enrichment attaches website emails to the listings of a job using a
// bounded pool of resolver workers and a single merging writer.
package enrichment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/lead-scraper/internal/metrics"
	queueMemory "github.com/JakeFAU/lead-scraper/internal/queue/memory"
	"github.com/JakeFAU/lead-scraper/internal/scraper"
)

const (
	defaultWorkers        = 20
	defaultQueueDepth     = 5000
	defaultResolveTimeout = 60 * time.Second
)

// Config controls pool sizing.
type Config struct {
	Workers        int
	QueueDepth     int
	ResolveTimeout time.Duration
}

// Pool resolves emails for the distinct websites of a job. Each website is
// resolved once; the result is fanned out to every listing sharing it.
type Pool struct {
	cfg      Config
	store    scraper.JobStore
	resolver scraper.EmailResolver
	logger   *zap.Logger
}

type resolution struct {
	url    string
	emails []string
	err    error
}

// New builds a Pool. Zero config values fall back to 20 workers, a queue of
// 5000 and a 60s per-website timeout.
func New(cfg Config, store scraper.JobStore, resolver scraper.EmailResolver, logger *zap.Logger) *Pool {
	if cfg.Workers <= 0 {
		cfg.Workers = defaultWorkers
	}
	if cfg.QueueDepth <= 0 {
		cfg.QueueDepth = defaultQueueDepth
	}
	if cfg.ResolveTimeout <= 0 {
		cfg.ResolveTimeout = defaultResolveTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pool{
		cfg:      cfg,
		store:    store,
		resolver: resolver,
		logger:   logger,
	}
}

// Enrich resolves every distinct website in job.Results and merges the emails
// into the persisted document, writing after each merge. It returns once all
// websites have been resolved and merged, or ctx ends. Resolver failures are
// isolated to their website and counted in the returned stats.
func (p *Pool) Enrich(ctx context.Context, job scraper.Job) (scraper.Job, scraper.EnrichmentStats, error) {
	merged := job.Clone()
	urls := scraper.DistinctWebsites(merged.Results)
	stats := scraper.EnrichmentStats{URLs: len(urls)}
	if len(urls) == 0 {
		return merged, stats, nil
	}

	start := time.Now()
	defer func() {
		metrics.ObserveEnrichment(time.Since(start))
	}()

	logger := p.logger.With(zap.String("job_id", job.ID))
	depth := p.cfg.QueueDepth
	if len(urls) < depth {
		depth = len(urls)
	}
	queue := queueMemory.NewQueue[string](depth)
	results := make(chan resolution)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer queue.Close()
		for _, u := range urls {
			if err := queue.Enqueue(gctx, u); err != nil {
				return fmt.Errorf("dispatch website: %w", err)
			}
		}
		return nil
	})
	workers := p.cfg.Workers
	if workers > len(urls) {
		workers = len(urls)
	}
	for i := 0; i < workers; i++ {
		g.Go(func() error {
			return p.work(gctx, queue, results)
		})
	}

	waitErr := make(chan error, 1)
	go func() {
		waitErr <- g.Wait()
		close(results)
	}()

	resolved := make(map[string][]string)
	persistFailed := false
	for res := range results {
		if res.err != nil {
			stats.Failed++
			metrics.ObserveEmailResolution(metrics.OutcomeFailed)
			logger.Warn("email resolution failed", zap.String("url", res.url), zap.Error(res.err))
			continue
		}
		stats.Resolved++
		emails := scraper.NormalizeEmails(res.emails)
		if len(emails) == 0 {
			metrics.ObserveEmailResolution(metrics.OutcomeEmpty)
			continue
		}
		metrics.ObserveEmailResolution(metrics.OutcomeFound)
		resolved[res.url] = emails
		touched := scraper.ApplyEmails(merged.Results, res.url, emails)
		if err := p.persist(ctx, job.ID, map[string][]string{res.url: emails}); err != nil {
			persistFailed = true
			logger.Error("persist merged emails failed", zap.String("url", res.url), zap.Error(err))
			continue
		}
		logger.Debug("merged emails",
			zap.String("url", res.url),
			zap.Int("emails", len(emails)),
			zap.Int("listings", touched),
		)
	}
	err := <-waitErr

	if persistFailed {
		if perr := p.persist(ctx, job.ID, resolved); perr != nil {
			logger.Error("final persist of merged emails failed", zap.Error(perr))
			err = errors.Join(err, fmt.Errorf("persist merged emails: %w", perr))
		}
	}

	logger.Info("enrichment finished",
		zap.Int("urls", stats.URLs),
		zap.Int("resolved", stats.Resolved),
		zap.Int("failed", stats.Failed),
		zap.Duration("duration", time.Since(start)),
	)
	return merged, stats, err
}

func (p *Pool) work(ctx context.Context, queue *queueMemory.Queue[string], out chan<- resolution) error {
	for {
		u, err := queue.Dequeue(ctx)
		if err != nil {
			if errors.Is(err, queueMemory.ErrClosed) {
				return nil
			}
			return err
		}
		emails, rerr := p.resolve(ctx, u)
		select {
		case out <- resolution{url: u, emails: emails, err: rerr}:
		case <-ctx.Done():
			return fmt.Errorf("deliver resolution: %w", ctx.Err())
		}
	}
}

func (p *Pool) resolve(ctx context.Context, websiteURL string) (emails []string, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			emails = nil
			err = &scraper.ResolveError{URL: websiteURL, Err: fmt.Errorf("panic: %v", rec)}
		}
	}()
	rctx, cancel := context.WithTimeout(ctx, p.cfg.ResolveTimeout)
	defer cancel()
	emails, err = p.resolver.Resolve(rctx, websiteURL)
	if err != nil {
		return nil, &scraper.ResolveError{URL: websiteURL, Err: err}
	}
	return emails, nil
}

// persist applies the given url -> emails pairs to the latest stored document.
func (p *Pool) persist(ctx context.Context, jobID string, pairs map[string][]string) error {
	_, err := p.store.Update(ctx, jobID, func(j *scraper.Job) error {
		for u, emails := range pairs {
			scraper.ApplyEmails(j.Results, u, emails)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("update job %s: %w", jobID, err)
	}
	return nil
}
