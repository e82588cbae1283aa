package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/JakeFAU/lead-scraper/internal/scraper"
)

// JobStore provides an in-memory implementation for development/testing.
type JobStore struct {
	mu   sync.RWMutex
	jobs map[string]scraper.Job
}

// NewJobStore constructs a JobStore.
func NewJobStore() *JobStore {
	return &JobStore{
		jobs: make(map[string]scraper.Job),
	}
}

// Create stores a new job.
func (s *JobStore) Create(_ context.Context, job scraper.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.jobs[job.ID]; exists {
		return fmt.Errorf("create job %s: %w", job.ID, scraper.ErrDuplicateID)
	}
	s.jobs[job.ID] = job.Clone()
	return nil
}

// Get fetches a job by ID.
func (s *JobStore) Get(_ context.Context, id string) (scraper.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[id]
	if !ok {
		return scraper.Job{}, fmt.Errorf("get job %s: %w", id, scraper.ErrNotFound)
	}
	return job.Clone(), nil
}

// Update applies mutate to a copy of the stored job and saves it if mutate succeeds.
func (s *JobStore) Update(_ context.Context, id string, mutate func(*scraper.Job) error) (scraper.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.jobs[id]
	if !ok {
		return scraper.Job{}, fmt.Errorf("update job %s: %w", id, scraper.ErrNotFound)
	}
	working := current.Clone()
	if err := mutate(&working); err != nil {
		return scraper.Job{}, err
	}
	working.ID = id
	s.jobs[id] = working.Clone()
	return working, nil
}

// List returns every job ordered by creation time.
func (s *JobStore) List(_ context.Context) ([]scraper.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]scraper.Job, 0, len(s.jobs))
	for _, job := range s.jobs {
		out = append(out, job.Clone())
	}
	scraper.SortJobs(out)
	return out, nil
}
