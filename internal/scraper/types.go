package scraper

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// JobStatus enumerates lifecycle states for a job.
type JobStatus string

// Supported job statuses.
const (
	JobStatusPending   JobStatus = "pending"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
)

// Terminal reports whether no further transitions are allowed from s.
func (s JobStatus) Terminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// CanTransition reports whether moving from s to next is a legal lifecycle step.
func (s JobStatus) CanTransition(next JobStatus) bool {
	switch s {
	case JobStatusPending:
		return next == JobStatusRunning || next == JobStatusFailed
	case JobStatusRunning:
		return next == JobStatusCompleted || next == JobStatusFailed
	default:
		return false
	}
}

// Category is a kind of business a ListingSource can search for.
type Category string

// Supported listing categories.
const (
	CategoryHotels      Category = "hotels"
	CategoryRestaurants Category = "restaurants"
)

// CategoryFilter selects which categories a job searches.
type CategoryFilter string

// Supported category filters.
const (
	FilterHotels      CategoryFilter = "hotels"
	FilterRestaurants CategoryFilter = "restaurants"
	FilterBoth        CategoryFilter = "both"
)

// Generic aliases accepted for the two categories.
const (
	aliasCategoryA CategoryFilter = "category_a"
	aliasCategoryB CategoryFilter = "category_b"
)

// ParseCategoryFilter normalizes raw into a CategoryFilter. Empty input maps to
// FilterBoth; category_a and category_b are aliases for hotels and restaurants.
func ParseCategoryFilter(raw string) (CategoryFilter, error) {
	switch CategoryFilter(strings.ToLower(strings.TrimSpace(raw))) {
	case "", FilterBoth:
		return FilterBoth, nil
	case FilterHotels, aliasCategoryA:
		return FilterHotels, nil
	case FilterRestaurants, aliasCategoryB:
		return FilterRestaurants, nil
	default:
		return "", fmt.Errorf("%w: unknown type %q", ErrValidation, raw)
	}
}

// Categories expands the filter into the ordered list of categories to fetch.
func (f CategoryFilter) Categories() []Category {
	switch f {
	case FilterHotels:
		return []Category{CategoryHotels}
	case FilterRestaurants:
		return []Category{CategoryRestaurants}
	default:
		return []Category{CategoryHotels, CategoryRestaurants}
	}
}

// Listing is one discovered business record.
type Listing struct {
	Name    string   `json:"name"`
	Address string   `json:"address"`
	Rating  *float64 `json:"rating"`
	Reviews *int     `json:"reviews"`
	Type    Category `json:"type"`
	Phone   *string  `json:"phone"`
	Website *string  `json:"website"`
	Emails  []string `json:"emails"`
}

// WebsiteURL returns the trimmed website or "" when absent.
func (l Listing) WebsiteURL() string {
	if l.Website == nil {
		return ""
	}
	return strings.TrimSpace(*l.Website)
}

// Clone returns a deep copy of the listing.
func (l Listing) Clone() Listing {
	cp := l
	if l.Rating != nil {
		v := *l.Rating
		cp.Rating = &v
	}
	if l.Reviews != nil {
		v := *l.Reviews
		cp.Reviews = &v
	}
	if l.Phone != nil {
		v := *l.Phone
		cp.Phone = &v
	}
	if l.Website != nil {
		v := *l.Website
		cp.Website = &v
	}
	cp.Emails = append([]string{}, l.Emails...)
	return cp
}

// EnrichmentStats summarizes the email stage of a job.
type EnrichmentStats struct {
	URLs     int `json:"urls"`
	Resolved int `json:"resolved"`
	Failed   int `json:"failed"`
}

// Job is the persisted record for one scrape-and-enrich request.
type Job struct {
	ID          string           `json:"id"`
	Location    string           `json:"location"`
	Radius      float64          `json:"radius"`
	Type        CategoryFilter   `json:"type"`
	Status      JobStatus        `json:"status"`
	CreatedAt   time.Time        `json:"createdAt"`
	StartedAt   *time.Time       `json:"startedAt,omitempty"`
	CompletedAt *time.Time       `json:"completedAt,omitempty"`
	Error       string           `json:"error,omitempty"`
	Enrichment  *EnrichmentStats `json:"enrichment,omitempty"`
	Results     []Listing        `json:"results"`
}

// Clone returns a deep copy so callers never share slices or pointers with a store.
func (j Job) Clone() Job {
	cp := j
	if j.StartedAt != nil {
		v := *j.StartedAt
		cp.StartedAt = &v
	}
	if j.CompletedAt != nil {
		v := *j.CompletedAt
		cp.CompletedAt = &v
	}
	if j.Enrichment != nil {
		v := *j.Enrichment
		cp.Enrichment = &v
	}
	cp.Results = make([]Listing, len(j.Results))
	for i, l := range j.Results {
		cp.Results[i] = l.Clone()
	}
	return cp
}

// Transition moves the job to next, stamping lifecycle timestamps.
func (j *Job) Transition(next JobStatus, at time.Time) error {
	if !j.Status.CanTransition(next) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, j.Status, next)
	}
	j.Status = next
	switch next {
	case JobStatusRunning:
		if j.StartedAt == nil {
			ts := at
			j.StartedAt = &ts
		}
	case JobStatusCompleted:
		ts := at
		j.CompletedAt = &ts
	case JobStatusFailed:
		j.CompletedAt = nil
		j.Results = []Listing{}
	}
	return nil
}

// Query is the input handed to a ListingSource for one category.
type Query struct {
	Location string
	Radius   float64
	Category Category
}

// SortJobs orders jobs by creation time, breaking ties by id.
func SortJobs(jobs []Job) {
	sort.SliceStable(jobs, func(a, b int) bool {
		if jobs[a].CreatedAt.Equal(jobs[b].CreatedAt) {
			return jobs[a].ID < jobs[b].ID
		}
		return jobs[a].CreatedAt.Before(jobs[b].CreatedAt)
	})
}
