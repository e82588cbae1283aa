// Package file implements a JobStore that keeps one JSON document per job on
// the local filesystem.
package file

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/JakeFAU/lead-scraper/internal/scraper"
)

const docSuffix = ".json"

var validJobID = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_-]*$`)

// Config captures the directory that holds job documents.
type Config struct {
	Dir string
}

// JobStore persists each job as <dir>/<id>.json. Writes go to a temp file in
// the same directory and are renamed into place, so readers only ever observe
// a complete document. Every read goes to disk.
type JobStore struct {
	dir    string
	logger *zap.Logger

	locksMu sync.Mutex
	locks   map[string]*idLock
}

// idLock is dropped from the map once no caller holds or waits on it.
type idLock struct {
	mu   sync.Mutex
	refs int
}

// New creates the directory if needed and returns a store rooted there.
func New(cfg Config, logger *zap.Logger) (*JobStore, error) {
	if strings.TrimSpace(cfg.Dir) == "" {
		return nil, fmt.Errorf("jobs directory is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := os.MkdirAll(cfg.Dir, 0o750); err != nil {
		return nil, fmt.Errorf("create jobs directory: %w", err)
	}
	info, err := os.Stat(cfg.Dir)
	if err != nil {
		return nil, fmt.Errorf("stat jobs directory: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("jobs path %q is not a directory", cfg.Dir)
	}
	return &JobStore{
		dir:    cfg.Dir,
		logger: logger,
		locks:  make(map[string]*idLock),
	}, nil
}

// Dir returns the directory holding job documents.
func (s *JobStore) Dir() string {
	return s.dir
}

// Create writes a brand-new job document.
func (s *JobStore) Create(_ context.Context, job scraper.Job) error {
	path, err := s.pathFor(job.ID)
	if err != nil {
		return err
	}
	unlock := s.lock(job.ID)
	defer unlock()

	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("create job %s: %w", job.ID, scraper.ErrDuplicateID)
	} else if !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("stat job %s: %w", job.ID, err)
	}
	if err := s.write(path, job); err != nil {
		return fmt.Errorf("create job %s: %w", job.ID, err)
	}
	return nil
}

// Get re-reads the job document from disk.
func (s *JobStore) Get(_ context.Context, id string) (scraper.Job, error) {
	path, err := s.pathFor(id)
	if err != nil {
		return scraper.Job{}, fmt.Errorf("get job %s: %w", id, scraper.ErrNotFound)
	}
	return s.read(path, id)
}

// Update performs a read-modify-write of the job document under the job's lock.
func (s *JobStore) Update(_ context.Context, id string, mutate func(*scraper.Job) error) (scraper.Job, error) {
	path, err := s.pathFor(id)
	if err != nil {
		return scraper.Job{}, fmt.Errorf("update job %s: %w", id, scraper.ErrNotFound)
	}
	unlock := s.lock(id)
	defer unlock()

	job, err := s.read(path, id)
	if err != nil {
		return scraper.Job{}, err
	}
	if err := mutate(&job); err != nil {
		return scraper.Job{}, err
	}
	job.ID = id
	if err := s.write(path, job); err != nil {
		return scraper.Job{}, fmt.Errorf("update job %s: %w", id, err)
	}
	return job, nil
}

// List reloads every job document in the directory. Corrupt documents are
// skipped with a warning.
func (s *JobStore) List(_ context.Context) ([]scraper.Job, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("read jobs directory: %w", err)
	}
	jobs := make([]scraper.Job, 0, len(entries))
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, docSuffix) || strings.HasPrefix(name, ".") {
			continue
		}
		id := strings.TrimSuffix(name, docSuffix)
		job, err := s.read(filepath.Join(s.dir, name), id)
		if err != nil {
			if errors.Is(err, scraper.ErrNotFound) {
				continue
			}
			s.logger.Warn("skipping unreadable job document", zap.String("job_id", id), zap.Error(err))
			continue
		}
		jobs = append(jobs, job)
	}
	scraper.SortJobs(jobs)
	return jobs, nil
}

func (s *JobStore) read(path, id string) (scraper.Job, error) {
	// #nosec G304 -- path is built from a validated id inside the store directory.
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return scraper.Job{}, fmt.Errorf("get job %s: %w", id, scraper.ErrNotFound)
		}
		return scraper.Job{}, fmt.Errorf("read job %s: %w", id, err)
	}
	var job scraper.Job
	if err := json.Unmarshal(data, &job); err != nil {
		return scraper.Job{}, fmt.Errorf("decode job %s: %w: %v", id, scraper.ErrCorruptRecord, err)
	}
	if job.Results == nil {
		job.Results = []scraper.Listing{}
	}
	return job, nil
}

func (s *JobStore) write(path string, job scraper.Job) error {
	if job.Results == nil {
		job.Results = []scraper.Listing{}
	}
	data, err := json.MarshalIndent(job, "", "  ")
	if err != nil {
		return fmt.Errorf("encode job: %w", err)
	}
	tmp, err := os.CreateTemp(s.dir, ".job-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	cleanup := func() {
		if rmErr := os.Remove(tmpName); rmErr != nil && !errors.Is(rmErr, fs.ErrNotExist) {
			s.logger.Warn("failed to remove temp job file", zap.String("path", tmpName), zap.Error(rmErr))
		}
	}
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		cleanup()
		return fmt.Errorf("rename temp file: %w", err)
	}
	return nil
}

func (s *JobStore) pathFor(id string) (string, error) {
	if !validJobID.MatchString(id) {
		return "", fmt.Errorf("invalid job id %q", id)
	}
	return filepath.Join(s.dir, id+docSuffix), nil
}

func (s *JobStore) lock(id string) func() {
	s.locksMu.Lock()
	l, ok := s.locks[id]
	if !ok {
		l = &idLock{}
		s.locks[id] = l
	}
	l.refs++
	s.locksMu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		s.locksMu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(s.locks, id)
		}
		s.locksMu.Unlock()
	}
}
