package maps

import (
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"

	"github.com/JakeFAU/lead-scraper/internal/scraper"
)

var (
	numberPattern = regexp.MustCompile(`[-+]?\d*\.?\d+`)
	nonDigit      = regexp.MustCompile(`\D`)
)

// card is one search result as returned by extractCardsJS.
type card struct {
	Name     string `json:"name"`
	Kind     string `json:"kind"`
	Address  string `json:"address"`
	Rating   string `json:"rating"`
	Reviews  string `json:"reviews"`
	PlaceURL string `json:"placeUrl"`
}

// placeDetails is the payload of extractPlaceJS.
type placeDetails struct {
	Website string `json:"website"`
	Phone   string `json:"phone"`
	Address string `json:"address"`
}

// SearchURL builds the maps search URL for one category query.
func SearchURL(base string, q scraper.Query) string {
	radius := strconv.FormatFloat(q.Radius, 'f', -1, 64)
	query := string(q.Category) + " in " + q.Location + " within " + radius + " km"
	return strings.TrimRight(base, "/") + "/" + strings.ReplaceAll(url.PathEscape(query), "%20", "+") + "/"
}

// cleanText applies compatibility decomposition and drops control and format characters.
func cleanText(s string) string {
	decomposed := norm.NFKD.String(s)
	var b strings.Builder
	b.Grow(len(decomposed))
	for _, r := range decomposed {
		switch {
		case unicode.IsSpace(r):
			b.WriteRune(' ')
		case unicode.Is(unicode.C, r):
		default:
			b.WriteRune(r)
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}

// parseRating extracts the first number, accepting a decimal comma.
func parseRating(s string) *float64 {
	match := numberPattern.FindString(strings.ReplaceAll(s, ",", "."))
	if match == "" {
		return nil
	}
	v, err := strconv.ParseFloat(match, 64)
	if err != nil {
		return nil
	}
	return &v
}

// parseReviews keeps only the digits, so "(1,234)" becomes 1234.
func parseReviews(s string) *int {
	digits := nonDigit.ReplaceAllString(s, "")
	if digits == "" {
		return nil
	}
	v, err := strconv.Atoi(digits)
	if err != nil {
		return nil
	}
	return &v
}

// normalizeWebsite unwraps google redirect links and ensures a scheme.
func normalizeWebsite(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	if u, err := url.Parse(raw); err == nil && strings.HasSuffix(u.Hostname(), "google.com") && u.Path == "/url" {
		target := u.Query().Get("q")
		if target == "" {
			target = u.Query().Get("url")
		}
		if target == "" {
			return ""
		}
		raw = target
	}
	if !strings.HasPrefix(strings.ToLower(raw), "http://") && !strings.HasPrefix(strings.ToLower(raw), "https://") {
		raw = "https://" + strings.TrimLeft(raw, "/")
	}
	return raw
}

// normalizePhone strips the "phone:tel:" / "tel:" prefixes and labels maps puts on numbers.
func normalizePhone(raw string) string {
	raw = cleanText(raw)
	lower := strings.ToLower(raw)
	for _, prefix := range []string{"phone:tel:", "tel:", "phone:"} {
		if strings.HasPrefix(lower, prefix) {
			raw = raw[len(prefix):]
			break
		}
	}
	return strings.TrimSpace(raw)
}

func normalizeAddress(raw string) string {
	raw = cleanText(raw)
	if idx := strings.Index(raw, ":"); idx >= 0 && strings.EqualFold(strings.TrimSpace(raw[:idx]), "address") {
		raw = raw[idx+1:]
	}
	return strings.TrimSpace(raw)
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// toListing converts a card plus optional place details. Cards without a name yield ok=false.
func toListing(c card, details placeDetails, category scraper.Category) (scraper.Listing, bool) {
	name := cleanText(c.Name)
	if name == "" {
		return scraper.Listing{}, false
	}
	address := normalizeAddress(details.Address)
	if address == "" {
		address = normalizeAddress(c.Address)
	}
	return scraper.Listing{
		Name:    name,
		Address: address,
		Rating:  parseRating(c.Rating),
		Reviews: parseReviews(c.Reviews),
		Type:    category,
		Phone:   optional(normalizePhone(details.Phone)),
		Website: optional(normalizeWebsite(details.Website)),
		Emails:  []string{},
	}, true
}

// dedupe drops repeated cards with the same name and address.
func dedupe(cards []card) []card {
	seen := make(map[string]struct{}, len(cards))
	out := make([]card, 0, len(cards))
	for _, c := range cards {
		key := strings.ToLower(cleanText(c.Name)) + "|" + strings.ToLower(cleanText(c.Address))
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, c)
	}
	return out
}
