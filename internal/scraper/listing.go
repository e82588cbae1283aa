package scraper

import (
	"sort"
	"strings"
)

// NormalizeEmails lowercases, trims, dedupes and sorts a set of addresses.
// The result is never nil so it serializes as an empty array.
func NormalizeEmails(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, raw := range in {
		e := strings.ToLower(strings.TrimSpace(raw))
		if e == "" {
			continue
		}
		if _, dup := seen[e]; dup {
			continue
		}
		seen[e] = struct{}{}
		out = append(out, e)
	}
	sort.Strings(out)
	return out
}

// DistinctWebsites returns each non-empty website once, in first-seen order.
func DistinctWebsites(listings []Listing) []string {
	seen := make(map[string]struct{})
	var urls []string
	for _, l := range listings {
		u := l.WebsiteURL()
		if u == "" {
			continue
		}
		if _, dup := seen[u]; dup {
			continue
		}
		seen[u] = struct{}{}
		urls = append(urls, u)
	}
	return urls
}

// ApplyEmails sets emails on every listing whose website equals websiteURL and
// returns how many listings were touched.
func ApplyEmails(listings []Listing, websiteURL string, emails []string) int {
	normalized := NormalizeEmails(emails)
	n := 0
	for i := range listings {
		if listings[i].WebsiteURL() != websiteURL {
			continue
		}
		listings[i].Emails = append([]string{}, normalized...)
		n++
	}
	return n
}
