package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/lead-scraper/internal/config"
	"github.com/JakeFAU/lead-scraper/internal/scraper"
	"github.com/JakeFAU/lead-scraper/internal/server"
	"github.com/JakeFAU/lead-scraper/internal/storage/file"
)

const listingsFixture = `{
  "hotels": [{"name": "Grand Hotel", "address": "1 Main St"}],
  "restaurants": [{"name": "Moe's", "address": "2 Walnut St"}]
}`

func fixtureConfig(t *testing.T) config.Config {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "listings.json")
	require.NoError(t, os.WriteFile(path, []byte(listingsFixture), 0o600))
	return config.Config{
		Server:     config.ServerConfig{Port: 5000, RequestTimeout: 5 * time.Second, ShutdownTimeout: 2 * time.Second},
		Store:      config.StoreConfig{Backend: config.StoreFile, Dir: filepath.Join(dir, "jobs")},
		Source:     config.SourceConfig{Backend: config.SourceFixture, FixturePath: path},
		Resolver:   config.ResolverConfig{MaxPages: 1, PageTimeout: time.Second},
		Enrichment: config.EnrichmentConfig{Workers: 2},
		Scheduler:  config.SchedulerConfig{PollInterval: 5 * time.Millisecond},
		Archive:    config.ArchiveConfig{Backend: config.ArchiveNone},
	}
}

// useConfig swaps the runtime loader for the duration of a test.
func useConfig(t *testing.T, cfg config.Config) {
	t.Helper()
	prev := loadRuntime
	loadRuntime = func(string) (*runtime, error) {
		return &runtime{cfg: cfg, logger: zap.NewNop()}, nil
	}
	t.Cleanup(func() { loadRuntime = prev })
}

func run(t *testing.T, args ...string) (int, string, string) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	code := execute(context.Background(), args, &stdout, &stderr)
	return code, stdout.String(), stderr.String()
}

func TestScrapeInProcess(t *testing.T) {
	cfg := fixtureConfig(t)
	useConfig(t, cfg)

	code, out, errOut := run(t, "scrape", "--location", "Springfield", "--type", "hotels", "--radius", "2.5")
	require.Equal(t, 0, code, errOut)

	var job scraper.Job
	require.NoError(t, json.Unmarshal([]byte(out), &job))
	assert.Equal(t, scraper.JobStatusCompleted, job.Status)
	assert.Equal(t, scraper.FilterHotels, job.Type)
	assert.InDelta(t, 2.5, job.Radius, 1e-9)
	require.Len(t, job.Results, 1)
	assert.Equal(t, "Grand Hotel", job.Results[0].Name)

	_, err := os.Stat(filepath.Join(cfg.Store.Dir, job.ID+".json"))
	assert.NoError(t, err)
}

func TestScrapeRejectsNoWaitWithoutServer(t *testing.T) {
	useConfig(t, fixtureConfig(t))

	code, _, errOut := run(t, "scrape", "--location", "Springfield", "--wait=false")
	assert.Equal(t, 1, code)
	assert.Contains(t, errOut, "--wait=false requires --server")
}

func TestScrapeRequiresLocationFlag(t *testing.T) {
	useConfig(t, fixtureConfig(t))

	code, _, errOut := run(t, "scrape")
	assert.Equal(t, 1, code)
	assert.Contains(t, errOut, "location")
}

func TestScrapeInvalidTypeFails(t *testing.T) {
	useConfig(t, fixtureConfig(t))

	code, _, errOut := run(t, "scrape", "--location", "Springfield", "--type", "bars")
	assert.Equal(t, 1, code)
	assert.Contains(t, errOut, "submit job")
}

func startAPI(t *testing.T, cfg config.Config) *httptest.Server {
	t.Helper()
	app, err := server.Build(context.Background(), cfg, zap.NewNop())
	require.NoError(t, err)
	srv := httptest.NewServer(app.Handler())
	t.Cleanup(func() {
		srv.Close()
		_ = app.Close(context.Background())
	})
	return srv
}

func TestScrapeAgainstServer(t *testing.T) {
	cfg := fixtureConfig(t)
	cfg.Auth = config.AuthConfig{Enabled: true, APIKey: "secret"}
	useConfig(t, cfg)
	srv := startAPI(t, cfg)

	code, out, errOut := run(t, "scrape", "--server", srv.URL, "--location", "Springfield")
	require.Equal(t, 0, code, errOut)

	var job scraper.Job
	require.NoError(t, json.Unmarshal([]byte(out), &job))
	assert.Equal(t, scraper.JobStatusCompleted, job.Status)
	assert.Len(t, job.Results, 2)

	code, out, errOut = run(t, "jobs", "get", job.ID, "--server", srv.URL, "--api-key", "secret")
	require.Equal(t, 0, code, errOut)
	assert.Contains(t, out, job.ID)
}

func TestScrapeAgainstServerWithoutKeyFails(t *testing.T) {
	cfg := fixtureConfig(t)
	cfg.Auth = config.AuthConfig{Enabled: true, APIKey: "secret"}
	srv := startAPI(t, cfg)
	useConfig(t, fixtureConfig(t))

	code, _, errOut := run(t, "scrape", "--server", srv.URL, "--location", "Springfield", "--wait=false")
	assert.Equal(t, 1, code)
	assert.Contains(t, errOut, "status 403")
}

func TestJobsListAndGetFromStore(t *testing.T) {
	cfg := fixtureConfig(t)
	useConfig(t, cfg)

	store, err := file.New(file.Config{Dir: cfg.Store.Dir}, zap.NewNop())
	require.NoError(t, err)
	created := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, store.Create(context.Background(), scraper.Job{
		ID:        "job-123",
		Location:  "Springfield",
		Radius:    5,
		Type:      scraper.FilterBoth,
		Status:    scraper.JobStatusCompleted,
		CreatedAt: created,
		Results: []scraper.Listing{
			{Name: "Moe's", Emails: []string{"moe@moes.test"}},
		},
	}))

	code, out, errOut := run(t, "jobs", "list")
	require.Equal(t, 0, code, errOut)
	assert.Contains(t, out, "job-123")
	assert.Contains(t, out, "Springfield")
	assert.Contains(t, out, "2024-05-01T12:00:00Z")

	code, out, errOut = run(t, "jobs", "list", "--json")
	require.Equal(t, 0, code, errOut)
	var jobs []scraper.Job
	require.NoError(t, json.Unmarshal([]byte(out), &jobs))
	require.Len(t, jobs, 1)

	code, out, errOut = run(t, "jobs", "get", "job-123")
	require.Equal(t, 0, code, errOut)
	var job scraper.Job
	require.NoError(t, json.Unmarshal([]byte(out), &job))
	assert.Equal(t, []string{"moe@moes.test"}, job.Results[0].Emails)

	code, _, errOut = run(t, "jobs", "get", "missing")
	assert.Equal(t, 1, code)
	assert.Contains(t, errOut, "job not found")
}

func TestConfigLoadFailureIsReported(t *testing.T) {
	code, _, errOut := run(t, "--config", filepath.Join(t.TempDir(), "nope.yaml"), "jobs", "list")
	assert.Equal(t, 1, code)
	assert.Contains(t, errOut, "load config")
}
