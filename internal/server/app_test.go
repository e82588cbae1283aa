package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/JakeFAU/lead-scraper/internal/config"
	"github.com/JakeFAU/lead-scraper/internal/scraper"
	memorystorage "github.com/JakeFAU/lead-scraper/internal/storage/memory"
)

const fixtureJSON = `{
  "hotels": [{"name": "Grand Hotel", "address": "1 Main St", "rating": 4.5, "reviews": 120}],
  "restaurants": [
    {"name": "Moe's", "address": "2 Walnut St"},
    {"name": "Krusty Burger", "address": "3 Elm St", "website": "https://www.facebook.com/krusty"}
  ]
}`

func testConfig(t *testing.T) config.Config {
	t.Helper()
	path := filepath.Join(t.TempDir(), "listings.json")
	require.NoError(t, os.WriteFile(path, []byte(fixtureJSON), 0o600))
	return config.Config{
		Server:     config.ServerConfig{Port: 5000, RequestTimeout: 5 * time.Second},
		Store:      config.StoreConfig{Backend: config.StoreMemory},
		Source:     config.SourceConfig{Backend: config.SourceFixture, FixturePath: path},
		Resolver:   config.ResolverConfig{MaxPages: 2, PageTimeout: time.Second},
		Enrichment: config.EnrichmentConfig{Workers: 2},
		Scheduler:  config.SchedulerConfig{PollInterval: 5 * time.Millisecond},
		Archive:    config.ArchiveConfig{Backend: config.ArchiveMemory, Prefix: "jobs"},
		Events: config.EventsConfig{
			Enabled:      true,
			LogEnabled:   true,
			BufferSize:   64,
			MaxBatchWait: 10 * time.Millisecond,
		},
	}
}

func TestBuildRunsJobEndToEnd(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zap.InfoLevel)
	app, err := Build(context.Background(), testConfig(t), zap.New(core))
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	app.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/scrape",
		bytes.NewBufferString(`{"location":"Springfield"}`)))
	require.Equal(t, http.StatusCreated, rec.Code)
	var created scraper.Job
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	assert.Equal(t, scraper.JobStatusPending, created.Status)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	done, err := app.Scheduler().Wait(ctx, created.ID)
	require.NoError(t, err)
	require.Equal(t, scraper.JobStatusCompleted, done.Status)
	require.Len(t, done.Results, 3)
	for _, l := range done.Results {
		assert.NotNil(t, l.Emails)
		assert.Empty(t, l.Emails)
	}

	require.NoError(t, app.Close(context.Background()))

	blobs, ok := app.blobs.(*memorystorage.BlobStore)
	require.True(t, ok)
	_, contentType, found := blobs.Object("jobs/" + created.ID + ".json")
	require.True(t, found)
	assert.Equal(t, "application/json", contentType)

	stages := map[string]bool{}
	for _, entry := range logs.FilterMessage("job event").All() {
		stages[entry.ContextMap()["stage"].(string)] = true
	}
	assert.True(t, stages["JOB_SUBMITTED"])
	assert.True(t, stages["JOB_COMPLETED"])
}

func TestBuildStoreFileBackend(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	cfg.Store = config.StoreConfig{Backend: config.StoreFile, Dir: filepath.Join(t.TempDir(), "jobs")}

	store, release, err := BuildStore(context.Background(), cfg, nil)
	require.NoError(t, err)
	defer release()

	jobs, err := store.List(context.Background())
	require.NoError(t, err)
	assert.Empty(t, jobs)
}

func TestBuildFailsForMissingFixture(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	cfg.Source.FixturePath = ""
	_, err := Build(context.Background(), cfg, nil)
	require.Error(t, err)
}
