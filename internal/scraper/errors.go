package scraper

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation marks a rejected submission.
	ErrValidation = errors.New("validation failed")
	// ErrNotFound is returned when a job identifier is unknown.
	ErrNotFound = errors.New("job not found")
	// ErrDuplicateID is returned when creating a job whose identifier already exists.
	ErrDuplicateID = errors.New("job already exists")
	// ErrInvalidTransition is returned for illegal status moves.
	ErrInvalidTransition = errors.New("invalid status transition")
	// ErrCorruptRecord is returned when a persisted job cannot be decoded.
	ErrCorruptRecord = errors.New("corrupt job record")
)

// FetchError wraps a ListingSource failure for one category.
type FetchError struct {
	Category Category
	Err      error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch %s listings: %v", e.Category, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// ResolveError wraps an EmailResolver failure for one website.
type ResolveError struct {
	URL string
	Err error
}

func (e *ResolveError) Error() string {
	return fmt.Sprintf("resolve emails for %s: %v", e.URL, e.Err)
}

func (e *ResolveError) Unwrap() error {
	return e.Err
}
