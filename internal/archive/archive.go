// Package archive exports terminal job documents to a blob store.
package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"strings"

	"github.com/JakeFAU/lead-scraper/internal/hash/sha256"
	"github.com/JakeFAU/lead-scraper/internal/scraper"
)

const (
	contentTypeJSON = "application/json"
	contentTypeText = "text/plain; charset=utf-8"
)

// Archiver writes <prefix>/<id>.json for each archived job, followed by a
// <prefix>/<id>.json.sha256 checksum file.
type Archiver struct {
	blobs  scraper.BlobStore
	prefix string
}

// New returns an Archiver backed by blobs. An empty prefix writes to the store root.
func New(blobs scraper.BlobStore, prefix string) (*Archiver, error) {
	if blobs == nil {
		return nil, errors.New("blob store is required")
	}
	return &Archiver{blobs: blobs, prefix: strings.Trim(prefix, "/")}, nil
}

// ObjectPath returns the blob path used for jobID.
func (a *Archiver) ObjectPath(jobID string) string {
	name := jobID + ".json"
	if a.prefix == "" {
		return name
	}
	return path.Join(a.prefix, name)
}

// ChecksumPath is the sidecar holding the digest of objectPath.
func ChecksumPath(objectPath string) string {
	return objectPath + ".sha256"
}

// Archive stores job and returns the resulting URI. Only terminal jobs are archived.
func (a *Archiver) Archive(ctx context.Context, job scraper.Job) (string, error) {
	if !job.Status.Terminal() {
		return "", fmt.Errorf("archive job %s: status %s is not terminal", job.ID, job.Status)
	}
	if job.Results == nil {
		job.Results = []scraper.Listing{}
	}
	data, err := json.MarshalIndent(job, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode job %s: %w", job.ID, err)
	}
	objectPath := a.ObjectPath(job.ID)
	uri, err := a.blobs.PutObject(ctx, objectPath, contentTypeJSON, bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("archive job %s: %w", job.ID, err)
	}
	if _, err := a.blobs.PutObject(ctx, ChecksumPath(objectPath), contentTypeText,
		bytes.NewReader(sha256.Manifest(data, objectPath))); err != nil {
		return "", fmt.Errorf("archive checksum for job %s: %w", job.ID, err)
	}
	return uri, nil
}
