package scraper

import (
	"context"
	"io"
	"time"
)

// JobStore persists job records. Implementations serialize writes per job id.
type JobStore interface {
	Create(ctx context.Context, job Job) error
	Get(ctx context.Context, id string) (Job, error)
	// Update applies mutate to the latest persisted record and writes the result atomically.
	// A mutate error aborts the write and is returned unchanged.
	Update(ctx context.Context, id string, mutate func(*Job) error) (Job, error)
	List(ctx context.Context) ([]Job, error)
}

// ListingSource produces listings for a location and category.
type ListingSource interface {
	Fetch(ctx context.Context, query Query) ([]Listing, error)
}

// EmailResolver discovers email addresses published on a website.
type EmailResolver interface {
	Resolve(ctx context.Context, websiteURL string) ([]string, error)
}

// BlobStore persists artifacts and returns their URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, r io.Reader) (string, error)
}

// Publisher emits payloads to a topic and returns the message id.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Clock abstracts time for deterministic tests.
type Clock interface {
	Now() time.Time
}

// IDGenerator creates unique job identifiers.
type IDGenerator interface {
	NewID() (string, error)
}
