// Package maps implements a ListingSource that drives headless Chrome through a
// maps search results page.
package maps

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/JakeFAU/lead-scraper/internal/scraper"
)

const (
	// DefaultSearchBaseURL is the maps search endpoint.
	DefaultSearchBaseURL = "https://www.google.com/maps/search"
	defaultUserAgent     = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/122.0.0.0 Safari/537.36"
)

// Config controls the headless browser.
type Config struct {
	Headless          bool
	UserAgent         string
	SearchBaseURL     string
	MaxTabs           int
	NavigationTimeout time.Duration
	DetailTimeout     time.Duration
	ScrollIterations  int
	ScrollDelay       time.Duration
	// MaxResults caps listings per category. Zero keeps every card.
	MaxResults int
}

func (c Config) withDefaults() Config {
	if c.UserAgent == "" {
		c.UserAgent = defaultUserAgent
	}
	if c.SearchBaseURL == "" {
		c.SearchBaseURL = DefaultSearchBaseURL
	}
	if c.MaxTabs <= 0 {
		c.MaxTabs = 2
	}
	if c.NavigationTimeout <= 0 {
		c.NavigationTimeout = 60 * time.Second
	}
	if c.DetailTimeout <= 0 {
		c.DetailTimeout = 25 * time.Second
	}
	if c.ScrollIterations < 0 {
		c.ScrollIterations = 0
	}
	if c.ScrollDelay <= 0 {
		c.ScrollDelay = 1500 * time.Millisecond
	}
	return c
}

// Source implements scraper.ListingSource with chromedp.
type Source struct {
	cfg         Config
	tabs        chan struct{}
	allocator   context.Context
	allocCancel context.CancelFunc
	logger      *zap.Logger
}

// New starts a browser allocator. Chrome itself is launched lazily on the first Fetch.
func New(cfg Config, logger *zap.Logger) (*Source, error) {
	if cfg.MaxResults < 0 {
		return nil, fmt.Errorf("max results must be >= 0")
	}
	cfg = cfg.withDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", cfg.Headless),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.UserAgent(cfg.UserAgent),
	)
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)
	return &Source{
		cfg:         cfg,
		tabs:        make(chan struct{}, cfg.MaxTabs),
		allocator:   allocCtx,
		allocCancel: allocCancel,
		logger:      logger,
	}, nil
}

// Close shuts the browser down.
func (s *Source) Close() {
	s.allocCancel()
}

// Fetch runs one search and returns the listings found for q.Category.
func (s *Source) Fetch(ctx context.Context, q scraper.Query) ([]scraper.Listing, error) {
	if err := s.acquire(ctx); err != nil {
		return nil, err
	}
	defer s.release()

	browserCtx, browserCancel := chromedp.NewContext(s.allocator)
	defer browserCancel()
	stop := context.AfterFunc(ctx, browserCancel)
	defer stop()

	target := SearchURL(s.cfg.SearchBaseURL, q)
	logger := s.logger.With(zap.String("category", string(q.Category)), zap.String("url", target))
	start := time.Now()

	cards, err := s.searchCards(browserCtx, target)
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("maps search canceled: %w", ctx.Err())
		}
		return nil, err
	}
	cards = dedupe(cards)
	if s.cfg.MaxResults > 0 && len(cards) > s.cfg.MaxResults {
		cards = cards[:s.cfg.MaxResults]
	}

	listings := make([]scraper.Listing, 0, len(cards))
	for _, c := range cards {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("maps search canceled: %w", ctx.Err())
		}
		var details placeDetails
		if strings.TrimSpace(c.PlaceURL) != "" {
			details, err = s.placeDetails(browserCtx, c.PlaceURL)
			if err != nil {
				logger.Debug("place details unavailable", zap.String("name", c.Name), zap.Error(err))
			}
		}
		if l, ok := toListing(c, details, q.Category); ok {
			listings = append(listings, l)
		}
	}
	logger.Info("maps search finished",
		zap.Int("cards", len(cards)),
		zap.Int("listings", len(listings)),
		zap.Duration("duration", time.Since(start)),
	)
	return listings, nil
}

func (s *Source) searchCards(browserCtx context.Context, target string) ([]card, error) {
	ctx, cancel := context.WithTimeout(browserCtx, s.cfg.NavigationTimeout)
	defer cancel()

	var raw string
	err := chromedp.Run(ctx,
		s.userAgentAction(),
		chromedp.Navigate(target),
		chromedp.Evaluate(acceptConsentJS, nil),
		chromedp.WaitVisible(`div[role="feed"]`, chromedp.ByQuery),
		chromedp.ActionFunc(func(ctx context.Context) error {
			for i := 0; i < s.cfg.ScrollIterations; i++ {
				if err := chromedp.Evaluate(scrollFeedJS, nil).Do(ctx); err != nil {
					return fmt.Errorf("scroll results: %w", err)
				}
				if err := chromedp.Sleep(s.cfg.ScrollDelay).Do(ctx); err != nil {
					return fmt.Errorf("scroll pause: %w", err)
				}
			}
			return nil
		}),
		chromedp.Evaluate(extractCardsJS, &raw),
	)
	if err != nil {
		return nil, fmt.Errorf("chromedp search: %w", err)
	}
	return decodeCards(raw)
}

func (s *Source) placeDetails(browserCtx context.Context, placeURL string) (placeDetails, error) {
	tabCtx, tabCancel := chromedp.NewContext(browserCtx)
	defer tabCancel()
	ctx, cancel := context.WithTimeout(tabCtx, s.cfg.DetailTimeout)
	defer cancel()

	var raw string
	err := chromedp.Run(ctx,
		chromedp.Navigate(placeURL),
		chromedp.Evaluate(acceptConsentJS, nil),
		chromedp.WaitVisible(`h1`, chromedp.ByQuery),
		chromedp.Evaluate(extractPlaceJS, &raw),
	)
	if err != nil {
		return placeDetails{}, fmt.Errorf("chromedp place: %w", err)
	}
	var details placeDetails
	if err := json.Unmarshal([]byte(raw), &details); err != nil {
		return placeDetails{}, fmt.Errorf("decode place details: %w", err)
	}
	return details, nil
}

func (s *Source) userAgentAction() chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if err := emulation.SetUserAgentOverride(s.cfg.UserAgent).Do(ctx); err != nil {
			return fmt.Errorf("set user-agent: %w", err)
		}
		return nil
	})
}

func (s *Source) acquire(ctx context.Context) error {
	select {
	case s.tabs <- struct{}{}:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("browser slot wait canceled: %w", ctx.Err())
	}
}

func (s *Source) release() {
	<-s.tabs
}

func decodeCards(raw string) ([]card, error) {
	if strings.TrimSpace(raw) == "" {
		return []card{}, nil
	}
	var cards []card
	if err := json.Unmarshal([]byte(raw), &cards); err != nil {
		return nil, fmt.Errorf("decode result cards: %w", err)
	}
	return cards, nil
}
