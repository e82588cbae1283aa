// Package events carries job lifecycle notifications from the scheduler to
// pluggable sinks without ever blocking the pipeline.
package events

import (
	"errors"
	"fmt"
	"time"

	"github.com/JakeFAU/lead-scraper/internal/scraper"
)

// Stage names a lifecycle milestone.
type Stage string

// Supported stages.
const (
	StageJobSubmitted Stage = "JOB_SUBMITTED"
	StageJobRunning   Stage = "JOB_RUNNING"
	StageFetchDone    Stage = "FETCH_DONE"
	StageEnrichDone   Stage = "ENRICH_DONE"
	StageJobCompleted Stage = "JOB_COMPLETED"
	StageJobFailed    Stage = "JOB_FAILED"
)

// Event is one milestone of a job.
type Event struct {
	JobID    string    `json:"jobId"`
	TS       time.Time `json:"ts"`
	Stage    Stage     `json:"stage"`
	Location string    `json:"location,omitempty"`
	// Category scopes FETCH_DONE events.
	Category scraper.Category `json:"category,omitempty"`
	// Listings is the number of listings fetched so far.
	Listings   int                      `json:"listings,omitempty"`
	Enrichment *scraper.EnrichmentStats `json:"enrichment,omitempty"`
	Dur        time.Duration            `json:"durationNs,omitempty"`
	// Note carries low-volume context such as failure text.
	Note string `json:"note,omitempty"`
}

// Validate performs coarse validation on events before they are queued.
func (e Event) Validate() error {
	if e.JobID == "" {
		return errors.New("job id is required")
	}
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	switch e.Stage {
	case StageJobSubmitted, StageJobRunning, StageEnrichDone, StageJobCompleted:
	case StageFetchDone:
		if e.Category == "" {
			return errors.New("fetch done requires category")
		}
	case StageJobFailed:
		if e.Note == "" {
			return errors.New("job failed requires note")
		}
	default:
		return fmt.Errorf("unknown stage %q", e.Stage)
	}
	if e.Dur < 0 {
		return errors.New("duration must be >= 0")
	}
	return nil
}
