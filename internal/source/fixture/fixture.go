// Package fixture implements a ListingSource backed by a JSON file, for local
// development and demos without a browser.
package fixture

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/JakeFAU/lead-scraper/internal/scraper"
)

// Source serves listings from a file of the form {"hotels": [...], "restaurants": [...]}.
// The file is read on every Fetch so edits show up without a restart.
type Source struct {
	path string
}

// New returns a Source reading path.
func New(path string) (*Source, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("fixture path is required")
	}
	return &Source{path: path}, nil
}

// Fetch returns the listings stored under q.Category. An optional
// "<category>@<location>" key takes precedence over the plain category key.
func (s *Source) Fetch(ctx context.Context, q scraper.Query) ([]scraper.Listing, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("fixture fetch: %w", err)
	}
	data, err := os.ReadFile(s.path)
	if err != nil {
		return nil, fmt.Errorf("read fixture %s: %w", s.path, err)
	}
	var doc map[string][]scraper.Listing
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decode fixture %s: %w", s.path, err)
	}
	listings, ok := doc[string(q.Category)+"@"+strings.ToLower(strings.TrimSpace(q.Location))]
	if !ok {
		listings = doc[string(q.Category)]
	}
	out := make([]scraper.Listing, 0, len(listings))
	for _, l := range listings {
		l = l.Clone()
		if l.Type == "" {
			l.Type = q.Category
		}
		out = append(out, l)
	}
	return out, nil
}
