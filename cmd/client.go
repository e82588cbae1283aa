package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/JakeFAU/lead-scraper/internal/scheduler"
	"github.com/JakeFAU/lead-scraper/internal/scraper"
)

// apiClient talks to a running lead-scraper HTTP API.
type apiClient struct {
	base   string
	apiKey string
	http   *http.Client
}

func newAPIClient(base, apiKey string) *apiClient {
	return &apiClient{
		base:   strings.TrimRight(base, "/"),
		apiKey: apiKey,
		http:   &http.Client{Timeout: 30 * time.Second},
	}
}

func (c *apiClient) submit(ctx context.Context, req scheduler.SubmitRequest) (scraper.Job, error) {
	body, err := json.Marshal(map[string]any{
		"location": req.Location,
		"radius":   req.Radius,
		"type":     req.Type,
	})
	if err != nil {
		return scraper.Job{}, fmt.Errorf("encode request: %w", err)
	}
	var job scraper.Job
	if err := c.do(ctx, http.MethodPost, "/api/scrape", bytes.NewReader(body), http.StatusCreated, &job); err != nil {
		return scraper.Job{}, err
	}
	return job, nil
}

func (c *apiClient) get(ctx context.Context, id string) (scraper.Job, error) {
	var job scraper.Job
	if err := c.do(ctx, http.MethodGet, "/api/jobs/"+url.PathEscape(id), nil, http.StatusOK, &job); err != nil {
		return scraper.Job{}, err
	}
	return job, nil
}

func (c *apiClient) list(ctx context.Context) ([]scraper.Job, error) {
	var jobs []scraper.Job
	if err := c.do(ctx, http.MethodGet, "/api/jobs", nil, http.StatusOK, &jobs); err != nil {
		return nil, err
	}
	return jobs, nil
}

func (c *apiClient) wait(ctx context.Context, id string, every time.Duration) (scraper.Job, error) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		job, err := c.get(ctx, id)
		if err != nil {
			return scraper.Job{}, err
		}
		if job.Status.Terminal() {
			return job, nil
		}
		select {
		case <-ctx.Done():
			return job, fmt.Errorf("wait for job %s: %w", id, ctx.Err())
		case <-ticker.C:
		}
	}
}

func (c *apiClient) do(ctx context.Context, method, path string, body io.Reader, want int, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("X-API-Key", c.apiKey)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != want {
		var apiErr struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(io.LimitReader(resp.Body, 1<<16)).Decode(&apiErr)
		if resp.StatusCode == http.StatusNotFound {
			return fmt.Errorf("%s %s: %w", method, path, scraper.ErrNotFound)
		}
		return fmt.Errorf("%s %s: status %d: %s", method, path, resp.StatusCode, apiErr.Error)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
