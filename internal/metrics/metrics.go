// Package metrics exposes Prometheus collectors for the scraping service.
package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Email resolution outcomes.
const (
	OutcomeFound  = "found"
	OutcomeEmpty  = "empty"
	OutcomeFailed = "failed"
)

var (
	jobsTotal                  *prometheus.CounterVec
	jobsActive                 prometheus.Gauge
	listingsTotal              *prometheus.CounterVec
	emailResolutionsTotal      *prometheus.CounterVec
	enrichmentDurationSeconds  prometheus.Histogram
	submissionsRejectedTotal   *prometheus.CounterVec
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init registers the collectors with the default registry.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		jobsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scraper_jobs_total",
				Help: "Jobs that reached a terminal state, labeled by status.",
			},
			[]string{"status"},
		)

		jobsActive = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "scraper_jobs_active",
				Help: "Number of job pipelines currently running.",
			},
		)

		listingsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scraper_listings_total",
				Help: "Listings returned by the listing source, labeled by category.",
			},
			[]string{"category"},
		)

		emailResolutionsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scraper_email_resolutions_total",
				Help: "Website email resolutions, labeled by outcome.",
			},
			[]string{"outcome"},
		)

		enrichmentDurationSeconds = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "scraper_enrichment_duration_seconds",
				Help:    "Wall time of the email enrichment stage per job.",
				Buckets: []float64{0.5, 1, 5, 15, 30, 60, 120, 300, 600},
			},
		)

		submissionsRejectedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scraper_submissions_rejected_total",
				Help: "Job submissions rejected before a job was created, labeled by reason.",
			},
			[]string{"reason"},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Histogram of HTTP request latencies, labeled by method and route.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"method", "route"},
		)
	})
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	Init()
	return promhttp.Handler()
}

// ObserveJob increments the job counter for a terminal status.
func ObserveJob(status string) {
	Init()
	jobsTotal.WithLabelValues(status).Inc()
}

// IncActiveJobs increments the running pipelines gauge.
func IncActiveJobs() {
	Init()
	jobsActive.Inc()
}

// DecActiveJobs decrements the running pipelines gauge.
func DecActiveJobs() {
	Init()
	jobsActive.Dec()
}

// ObserveListings adds n listings for category.
func ObserveListings(category string, n int) {
	if n <= 0 {
		return
	}
	Init()
	listingsTotal.WithLabelValues(category).Add(float64(n))
}

// ObserveEmailResolution counts one website resolution outcome.
func ObserveEmailResolution(outcome string) {
	Init()
	emailResolutionsTotal.WithLabelValues(outcome).Inc()
}

// ObserveEnrichment records how long the email stage took for one job.
func ObserveEnrichment(d time.Duration) {
	Init()
	enrichmentDurationSeconds.Observe(d.Seconds())
}

// ObserveRejectedSubmission counts a submission refused for reason.
func ObserveRejectedSubmission(reason string) {
	Init()
	submissionsRejectedTotal.WithLabelValues(reason).Inc()
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
