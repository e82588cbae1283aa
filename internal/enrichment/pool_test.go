package enrichment

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/lead-scraper/internal/scraper"
	"github.com/JakeFAU/lead-scraper/internal/storage/memory"
)

type fakeResolver struct {
	mu       sync.Mutex
	emails   map[string][]string
	errs     map[string]error
	panics   map[string]bool
	calls    map[string]int
	delay    time.Duration
	inflight atomic.Int32
	maxSeen  atomic.Int32
}

func newFakeResolver() *fakeResolver {
	return &fakeResolver{
		emails: map[string][]string{},
		errs:   map[string]error{},
		panics: map[string]bool{},
		calls:  map[string]int{},
	}
}

func (f *fakeResolver) Resolve(ctx context.Context, url string) ([]string, error) {
	n := f.inflight.Add(1)
	defer f.inflight.Add(-1)
	for {
		seen := f.maxSeen.Load()
		if n <= seen || f.maxSeen.CompareAndSwap(seen, n) {
			break
		}
	}
	f.mu.Lock()
	f.calls[url]++
	emails := f.emails[url]
	err := f.errs[url]
	shouldPanic := f.panics[url]
	f.mu.Unlock()

	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if shouldPanic {
		panic("resolver exploded")
	}
	return emails, err
}

func (f *fakeResolver) Calls(url string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[url]
}

type countingStore struct {
	scraper.JobStore
	updates   atomic.Int32
	failFirst int32
}

func (s *countingStore) Update(ctx context.Context, id string, mutate func(*scraper.Job) error) (scraper.Job, error) {
	n := s.updates.Add(1)
	if n <= s.failFirst {
		return scraper.Job{}, errors.New("disk full")
	}
	return s.JobStore.Update(ctx, id, mutate)
}

func strPtr(s string) *string { return &s }

func seedJob(t *testing.T, store scraper.JobStore, listings ...scraper.Listing) scraper.Job {
	t.Helper()
	job := scraper.Job{
		ID:        "job-1",
		Location:  "Springfield",
		Radius:    5,
		Type:      scraper.FilterBoth,
		Status:    scraper.JobStatusRunning,
		CreatedAt: time.Unix(1700000000, 0).UTC(),
		Results:   listings,
	}
	require.NoError(t, store.Create(context.Background(), job))
	return job
}

func TestEnrichSharedWebsiteResolvedOnce(t *testing.T) {
	t.Parallel()

	store := memory.NewJobStore()
	resolver := newFakeResolver()
	resolver.emails["http://x.test"] = []string{"B@x.test", "a@x.test"}
	job := seedJob(t, store,
		scraper.Listing{Name: "A", Website: strPtr("http://x.test")},
		scraper.Listing{Name: "B", Website: strPtr("http://x.test")},
		scraper.Listing{Name: "C", Website: strPtr("http://x.test")},
		scraper.Listing{Name: "D"},
	)

	pool := New(Config{Workers: 4}, store, resolver, zap.NewNop())
	merged, stats, err := pool.Enrich(context.Background(), job)
	require.NoError(t, err)

	assert.Equal(t, 1, resolver.Calls("http://x.test"))
	assert.Equal(t, scraper.EnrichmentStats{URLs: 1, Resolved: 1}, stats)
	for _, l := range merged.Results[:3] {
		assert.Equal(t, []string{"a@x.test", "b@x.test"}, l.Emails)
	}
	assert.Empty(t, merged.Results[3].Emails)

	persisted, err := store.Get(context.Background(), job.ID)
	require.NoError(t, err)
	for _, l := range persisted.Results[:3] {
		assert.Equal(t, []string{"a@x.test", "b@x.test"}, l.Emails)
	}
	assert.Equal(t, scraper.JobStatusRunning, persisted.Status)
}

func TestEnrichIsolatesFailures(t *testing.T) {
	t.Parallel()

	store := memory.NewJobStore()
	resolver := newFakeResolver()
	resolver.errs["http://a.test"] = errors.New("connection refused")
	resolver.panics["http://p.test"] = true
	resolver.emails["http://b.test"] = []string{"info@b.test"}
	job := seedJob(t, store,
		scraper.Listing{Name: "A", Website: strPtr("http://a.test")},
		scraper.Listing{Name: "P", Website: strPtr("http://p.test")},
		scraper.Listing{Name: "B", Website: strPtr("http://b.test")},
	)

	pool := New(Config{Workers: 2}, store, resolver, zap.NewNop())
	merged, stats, err := pool.Enrich(context.Background(), job)
	require.NoError(t, err)

	assert.Equal(t, scraper.EnrichmentStats{URLs: 3, Resolved: 1, Failed: 2}, stats)
	assert.Empty(t, merged.Results[0].Emails)
	assert.Empty(t, merged.Results[1].Emails)
	assert.Equal(t, []string{"info@b.test"}, merged.Results[2].Emails)

	persisted, err := store.Get(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"info@b.test"}, persisted.Results[2].Emails)
	assert.Empty(t, persisted.Results[0].Emails)
}

func TestEnrichEmptyInputSkipsStore(t *testing.T) {
	t.Parallel()

	store := &countingStore{JobStore: memory.NewJobStore()}
	job := seedJob(t, store, scraper.Listing{Name: "No site"})

	pool := New(Config{}, store, newFakeResolver(), nil)
	merged, stats, err := pool.Enrich(context.Background(), job)
	require.NoError(t, err)
	assert.Equal(t, scraper.EnrichmentStats{}, stats)
	assert.Len(t, merged.Results, 1)
	assert.Zero(t, store.updates.Load())
}

func TestEnrichBoundsConcurrency(t *testing.T) {
	t.Parallel()

	store := memory.NewJobStore()
	resolver := newFakeResolver()
	resolver.delay = 20 * time.Millisecond
	var listings []scraper.Listing
	for i := 0; i < 12; i++ {
		u := fmt.Sprintf("http://site%d.test", i)
		resolver.emails[u] = []string{fmt.Sprintf("hello@site%d.test", i)}
		listings = append(listings, scraper.Listing{Name: u, Website: strPtr(u)})
	}
	job := seedJob(t, store, listings...)

	pool := New(Config{Workers: 3, QueueDepth: 2}, store, resolver, zap.NewNop())
	merged, stats, err := pool.Enrich(context.Background(), job)
	require.NoError(t, err)

	assert.LessOrEqual(t, resolver.maxSeen.Load(), int32(3))
	assert.Equal(t, 12, stats.Resolved)
	for i, l := range merged.Results {
		assert.Equal(t, []string{fmt.Sprintf("hello@site%d.test", i)}, l.Emails)
	}
}

func TestEnrichRetriesPersistAtEnd(t *testing.T) {
	t.Parallel()

	store := &countingStore{JobStore: memory.NewJobStore(), failFirst: 1}
	resolver := newFakeResolver()
	resolver.emails["http://x.test"] = []string{"a@x.test"}
	job := seedJob(t, store, scraper.Listing{Name: "A", Website: strPtr("http://x.test")})

	pool := New(Config{Workers: 1}, store, resolver, zap.NewNop())
	_, _, err := pool.Enrich(context.Background(), job)
	require.NoError(t, err)
	assert.Equal(t, int32(2), store.updates.Load())

	persisted, err := store.Get(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"a@x.test"}, persisted.Results[0].Emails)
}

func TestEnrichPerURLTimeout(t *testing.T) {
	t.Parallel()

	store := memory.NewJobStore()
	resolver := newFakeResolver()
	resolver.delay = time.Second
	job := seedJob(t, store, scraper.Listing{Name: "Slow", Website: strPtr("http://slow.test")})

	pool := New(Config{Workers: 1, ResolveTimeout: 20 * time.Millisecond}, store, resolver, zap.NewNop())
	_, stats, err := pool.Enrich(context.Background(), job)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Failed)
}

func TestEnrichHonorsCancellation(t *testing.T) {
	t.Parallel()

	store := memory.NewJobStore()
	resolver := newFakeResolver()
	resolver.delay = time.Second
	job := seedJob(t, store,
		scraper.Listing{Name: "A", Website: strPtr("http://a.test")},
		scraper.Listing{Name: "B", Website: strPtr("http://b.test")},
	)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	pool := New(Config{Workers: 1}, store, resolver, zap.NewNop())

	done := make(chan error, 1)
	go func() {
		_, _, err := pool.Enrich(ctx, job)
		done <- err
	}()
	select {
	case err := <-done:
		require.ErrorIs(t, err, context.DeadlineExceeded)
	case <-time.After(2 * time.Second):
		t.Fatal("Enrich did not return after cancellation")
	}
}
