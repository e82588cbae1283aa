// Package colly implements an EmailResolver that crawls a business website
// with gocolly and extracts published addresses with goquery.
package colly

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"

	"github.com/JakeFAU/lead-scraper/internal/policy/ratelimit"
	"github.com/JakeFAU/lead-scraper/internal/scraper"
)

var (
	emailPattern = regexp.MustCompile(`(?i)[a-z0-9._%+\-]+@[a-z0-9.\-]+\.[a-z]{2,24}`)
	errEmptyHost = errors.New("website has no host")
)

const (
	defaultMaxPages    = 6
	defaultPageTimeout = 15 * time.Second
	defaultMaxBodySize = 2 * 1024 * 1024
	defaultUserAgent   = "Mozilla/5.0 (compatible; lead-scraper/1.0)"
)

// Config controls the crawl of one website.
type Config struct {
	UserAgent     string
	MaxPages      int
	PageTimeout   time.Duration
	MaxBodySize   int
	RespectRobots bool
	// BlockedHosts replaces DefaultBlockedHosts when non-nil.
	BlockedHosts []string
}

// Resolver implements scraper.EmailResolver. It is safe for concurrent use.
type Resolver struct {
	cfg       Config
	base      *colly.Collector
	blocklist *hostBlocklist
	limiter   *ratelimit.Limiter
	mx        MXVerifier
	logger    *zap.Logger
}

// Option customizes a Resolver.
type Option func(*Resolver)

// WithHostLimiter paces requests per website host.
func WithHostLimiter(l *ratelimit.Limiter) Option {
	return func(r *Resolver) { r.limiter = l }
}

// WithMXVerifier drops addresses whose domain has no MX record.
func WithMXVerifier(v MXVerifier) Option {
	return func(r *Resolver) { r.mx = v }
}

// WithTransport replaces the HTTP transport (used by tests).
func WithTransport(rt http.RoundTripper) Option {
	return func(r *Resolver) { r.base.WithTransport(rt) }
}

// New builds a Resolver.
func New(cfg Config, logger *zap.Logger, opts ...Option) *Resolver {
	if cfg.UserAgent == "" {
		cfg.UserAgent = defaultUserAgent
	}
	if cfg.MaxPages <= 0 {
		cfg.MaxPages = defaultMaxPages
	}
	if cfg.PageTimeout <= 0 {
		cfg.PageTimeout = defaultPageTimeout
	}
	if cfg.MaxBodySize <= 0 {
		cfg.MaxBodySize = defaultMaxBodySize
	}
	if cfg.BlockedHosts == nil {
		cfg.BlockedHosts = DefaultBlockedHosts
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	base := colly.NewCollector(colly.Async(false))
	base.UserAgent = cfg.UserAgent
	base.IgnoreRobotsTxt = !cfg.RespectRobots
	base.MaxBodySize = cfg.MaxBodySize
	// Different jobs may resolve the same website; visit bookkeeping is ours.
	base.AllowURLRevisit = true
	base.SetRequestTimeout(cfg.PageTimeout)
	base.WithTransport(newHTTPTransport())

	r := &Resolver{
		cfg:       cfg,
		base:      base,
		blocklist: newHostBlocklist(cfg.BlockedHosts),
		logger:    logger,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve crawls websiteURL breadth-first, contact pages first, and returns
// the addresses found on the first page that has any. Blocked hosts resolve to
// no emails without a request. Only a failure of the start page is an error.
func (r *Resolver) Resolve(ctx context.Context, websiteURL string) ([]string, error) {
	root, err := startURL(websiteURL)
	if err != nil {
		return nil, fmt.Errorf("parse website %q: %w", websiteURL, err)
	}
	if r.blocklist.Blocked(root.Hostname()) {
		r.logger.Debug("website host blocked", zap.String("url", root.String()))
		return []string{}, nil
	}

	queue := []string{root.String()}
	visited := make(map[string]struct{})
	pages := 0
	for len(queue) > 0 && pages < r.cfg.MaxPages {
		current := queue[0]
		queue = queue[1:]
		if _, seen := visited[current]; seen {
			continue
		}
		visited[current] = struct{}{}

		emails, links, err := r.visit(ctx, current, root)
		pages++
		if err != nil {
			if pages == 1 || ctx.Err() != nil {
				return nil, err
			}
			r.logger.Debug("skipping website page", zap.String("url", current), zap.Error(err))
			continue
		}
		emails = r.verify(ctx, emails)
		if len(emails) > 0 {
			return scraper.NormalizeEmails(emails), nil
		}
		queue = append(queue, links...)
	}
	return []string{}, nil
}

// visit fetches one page and returns its email candidates and follow-up links.
func (r *Resolver) visit(ctx context.Context, pageURL string, root *url.URL) ([]string, []string, error) {
	if r.limiter != nil {
		if err := r.limiter.WaitHost(ctx, pageURL); err != nil {
			return nil, nil, err
		}
	}
	var (
		body     []byte
		final    *url.URL
		isHTML   bool
		fetchErr error
	)
	c := r.base.Clone()
	c.OnResponse(func(resp *colly.Response) {
		body = append([]byte(nil), resp.Body...)
		final = resp.Request.URL
		ct := strings.ToLower(resp.Headers.Get("Content-Type"))
		isHTML = ct == "" || strings.Contains(ct, "html")
	})
	c.OnError(func(resp *colly.Response, err error) {
		if resp != nil && resp.StatusCode >= http.StatusBadRequest {
			fetchErr = fmt.Errorf("%s responded with status %d", pageURL, resp.StatusCode)
			return
		}
		fetchErr = err
	})

	done := make(chan error, 1)
	go func() {
		done <- c.Visit(pageURL)
	}()
	select {
	case <-ctx.Done():
		return nil, nil, fmt.Errorf("colly visit canceled: %w", ctx.Err())
	case err := <-done:
		if err != nil {
			return nil, nil, fmt.Errorf("colly visit failed: %w", err)
		}
	}
	if fetchErr != nil {
		return nil, nil, fmt.Errorf("colly response failed: %w", fetchErr)
	}
	if !isHTML || len(body) == 0 {
		return nil, nil, nil
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, nil, fmt.Errorf("parse %s: %w", pageURL, err)
	}
	if final == nil {
		final = root
	}
	return extractEmails(doc, string(body)), candidateLinks(doc, final, root), nil
}

func (r *Resolver) verify(ctx context.Context, emails []string) []string {
	if r.mx == nil || len(emails) == 0 {
		return emails
	}
	out := emails[:0:0]
	for _, e := range emails {
		if r.mx.HasMX(ctx, emailDomain(e)) {
			out = append(out, e)
		}
	}
	return out
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   4,
		IdleConnTimeout:       90 * time.Second,
	}
}
