package colly

import (
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// contactKeywords mark links likely to lead to a page with an address.
var contactKeywords = []string{
	"contact",
	"kontakt",
	"about",
	"über uns",
	"uber uns",
	"impressum",
	"imprint",
	"team",
	"legal",
	"reach-us",
	"get-in-touch",
}

var ignoredEmailSuffixes = []string{".png", ".jpg", ".jpeg", ".gif", ".svg", ".webp", ".css", ".js"}

// fallbackLinks is how many ordinary same-host links are followed when a page
// has no contact-looking link.
const fallbackLinks = 2

// extractEmails returns the raw candidates found in mailto anchors and in the page source.
func extractEmails(doc *goquery.Document, body string) []string {
	var out []string
	doc.Find(`a[href]`).Each(func(_ int, sel *goquery.Selection) {
		href, _ := sel.Attr("href")
		href = strings.TrimSpace(href)
		if strings.HasPrefix(strings.ToLower(href), "mailto:") {
			if email := sanitizeEmail(href); email != "" {
				out = append(out, email)
			}
		}
	})
	for _, match := range emailPattern.FindAllString(body, -1) {
		if email := sanitizeEmail(match); email != "" {
			out = append(out, email)
		}
	}
	return out
}

// sanitizeEmail strips mailto prefixes, query strings, URL escapes and
// surrounding punctuation. It returns "" for anything that does not look like
// a deliverable address.
func sanitizeEmail(raw string) string {
	clean := strings.TrimSpace(raw)
	if strings.HasPrefix(strings.ToLower(clean), "mailto:") {
		clean = clean[len("mailto:"):]
	}
	if idx := strings.IndexByte(clean, '?'); idx >= 0 {
		clean = clean[:idx]
	}
	if decoded, err := url.QueryUnescape(clean); err == nil {
		clean = decoded
	}
	clean = strings.ReplaceAll(clean, " ", "")
	clean = strings.Trim(clean, "<>()[]{}.,;:\"'`“”‘’")
	match := emailPattern.FindString(clean)
	if match == "" || match != clean {
		return ""
	}
	match = strings.ToLower(match)
	for _, suffix := range ignoredEmailSuffixes {
		if strings.HasSuffix(match, suffix) {
			return ""
		}
	}
	return match
}

// candidateLinks returns same-host links worth following from page, contact
// links first. When none look like contact pages the first few same-host
// links are returned instead.
func candidateLinks(doc *goquery.Document, page, root *url.URL) []string {
	var priority, fallback []string
	seen := make(map[string]struct{})
	doc.Find(`a[href]`).Each(func(_ int, sel *goquery.Selection) {
		href, _ := sel.Attr("href")
		abs := resolveLink(page, href)
		if abs == nil || !sameHost(root, abs) {
			return
		}
		link := abs.String()
		if _, dup := seen[link]; dup {
			return
		}
		seen[link] = struct{}{}
		text := strings.ToLower(strings.TrimSpace(sel.Text()) + " " + link)
		if isContactLink(text) {
			priority = append(priority, link)
			return
		}
		if len(fallback) < fallbackLinks {
			fallback = append(fallback, link)
		}
	})
	if len(priority) > 0 {
		return priority
	}
	return fallback
}

func resolveLink(base *url.URL, href string) *url.URL {
	href = strings.TrimSpace(href)
	lower := strings.ToLower(href)
	if href == "" || strings.HasPrefix(href, "#") ||
		strings.HasPrefix(lower, "mailto:") || strings.HasPrefix(lower, "tel:") || strings.HasPrefix(lower, "javascript:") {
		return nil
	}
	abs, err := base.Parse(href)
	if err != nil || (abs.Scheme != "http" && abs.Scheme != "https") {
		return nil
	}
	abs.Fragment = ""
	return abs
}

func isContactLink(text string) bool {
	for _, kw := range contactKeywords {
		if strings.Contains(text, kw) {
			return true
		}
	}
	return false
}

func sameHost(a, b *url.URL) bool {
	if a == nil || b == nil {
		return false
	}
	return strings.EqualFold(strings.TrimPrefix(a.Hostname(), "www."), strings.TrimPrefix(b.Hostname(), "www."))
}

// startURL normalizes a listing website into a crawlable URL.
func startURL(raw string) (*url.URL, error) {
	raw = strings.TrimSpace(raw)
	lower := strings.ToLower(raw)
	if !strings.HasPrefix(lower, "http://") && !strings.HasPrefix(lower, "https://") {
		raw = "https://" + strings.TrimLeft(raw, "/")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return nil, err
	}
	if u.Hostname() == "" {
		return nil, errEmptyHost
	}
	u.Fragment = ""
	return u, nil
}
