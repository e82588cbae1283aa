package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestInitIdempotent(t *testing.T) {
	Init()
	Init()

	if jobsTotal == nil || jobsActive == nil || listingsTotal == nil ||
		emailResolutionsTotal == nil || httpRequestsTotal == nil {
		t.Fatal("Init() did not initialize metrics collectors")
	}
}

func TestObserveJobAndListings(t *testing.T) {
	before := testutil.ToFloat64(jobsTotalFor("completed"))
	ObserveJob("completed")
	if got := testutil.ToFloat64(jobsTotalFor("completed")); got != before+1 {
		t.Errorf("expected completed jobs to increase by 1, got %f -> %f", before, got)
	}

	beforeListings := testutil.ToFloat64(listingsTotal.WithLabelValues("hotels"))
	ObserveListings("hotels", 3)
	ObserveListings("hotels", 0)
	if got := testutil.ToFloat64(listingsTotal.WithLabelValues("hotels")); got != beforeListings+3 {
		t.Errorf("expected hotels listings to increase by 3, got %f -> %f", beforeListings, got)
	}
}

func TestActiveJobsGauge(t *testing.T) {
	Init()
	before := testutil.ToFloat64(jobsActive)
	IncActiveJobs()
	IncActiveJobs()
	DecActiveJobs()
	if got := testutil.ToFloat64(jobsActive); got != before+1 {
		t.Errorf("expected gauge %f, got %f", before+1, got)
	}
	DecActiveJobs()
}

func TestObserveEmailResolutionAndEnrichment(t *testing.T) {
	Init()
	before := testutil.ToFloat64(emailResolutionsTotal.WithLabelValues(OutcomeFailed))
	ObserveEmailResolution(OutcomeFailed)
	if got := testutil.ToFloat64(emailResolutionsTotal.WithLabelValues(OutcomeFailed)); got != before+1 {
		t.Errorf("expected failed resolutions to increase, got %f -> %f", before, got)
	}
	ObserveEnrichment(1500 * time.Millisecond)
	if n := testutil.CollectAndCount(enrichmentDurationSeconds); n != 1 {
		t.Errorf("expected one enrichment histogram, got %d", n)
	}
	ObserveRejectedSubmission("rate_limited")
	if got := testutil.ToFloat64(submissionsRejectedTotal.WithLabelValues("rate_limited")); got < 1 {
		t.Errorf("expected rejected submissions to be counted, got %f", got)
	}
}

func jobsTotalFor(status string) prometheus.Counter {
	Init()
	return jobsTotal.WithLabelValues(status)
}
