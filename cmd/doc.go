// Package cmd implements the lead-scraper command line.
//
// Architecture overview:
//   - HTTP API: internal/api.Server exposes health, metrics and the job endpoints (POST /api/scrape,
//     GET /api/jobs, GET /api/jobs/{job_id}). Submissions are validated by the scheduler and stored as pending
//     jobs before the response is written.
//   - Scheduler: every accepted job gets its own detached goroutine that moves it from pending to running and
//     then to completed or failed. An optional semaphore (scheduler.max_concurrent_jobs) bounds how many run at once.
//   - Listing source: the chromedp source drives a headless browser through the maps search for each category
//     ("both" runs hotels then restaurants). A JSON fixture source replaces it for offline runs and tests.
//   - Enrichment: a fixed pool of workers (enrichment.workers, 20 by default) visits each distinct website with a
//     colly collector, parses pages with goquery and extracts contact emails. A single merger goroutine applies
//     results to the job and persists it after every merge so readers see progress.
//   - Persistence & fanout: jobs live in the file store (one JSON document per job), memory, or Postgres. Finished
//     jobs can be archived to local disk or GCS, and lifecycle events are batched to zap and optionally Pub/Sub.
//   - Configuration & plumbing: Viper reads a config file, .env and SCRAPER_* env vars; zap provides structured
//     logging; Prometheus metrics are exported via the metrics middleware and /metrics.
//
// Commands:
//   - serve: run the API and scheduler until SIGINT/SIGTERM.
//   - scrape: submit a job in-process and wait for it, or submit to a running API with --server.
//   - jobs list / jobs get <id>: read the configured store (or --server) and print a table or JSON.
//
// Quick checklist:
//   - Configure env vars: PORT or SCRAPER_SERVER_PORT, SCRAPER_STORE_BACKEND, SCRAPER_DATABASE_DSN,
//     SCRAPER_ENRICHMENT_WORKERS, SCRAPER_AUTH_ENABLED with SCRAPER_AUTH_API_KEY, SCRAPER_PUBSUB_PROJECT_ID.
//   - Run locally: go run . serve --config config.yaml (or rely solely on env overrides).
package cmd
