// Package scraper is the HTTP client for the remote scraping service, which
// fetches a URL and returns its cleaned text content.
package scraper

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const defaultTimeout = 30 * time.Second

// Page is the scraped content of a single URL.
type Page struct {
	URL     string `json:"url"`
	Title   string `json:"title"`
	Content string `json:"content"`
}

// Client calls the scraping service.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a scraper client for the given base URL.
func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
	}
}

// Scrape fetches the given URL through the scraping service. Pages with no
// extractable content are treated as errors so callers never index empty
// documents.
func (c *Client) Scrape(ctx context.Context, pageURL string) (*Page, error) {
	body, err := json.Marshal(map[string]string{"url": pageURL})
	if err != nil {
		return nil, fmt.Errorf("marshal scrape request: %w", err)
	}

	req, err := http.NewRequestWithContext(
		ctx, http.MethodPost, c.baseURL+"/scrape/url", bytes.NewReader(body),
	)
	if err != nil {
		return nil, fmt.Errorf("create scrape request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("scrape %s: %w", pageURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("scrape %s: status %d: %s", pageURL, resp.StatusCode, string(payload))
	}

	var page Page
	if err := json.NewDecoder(resp.Body).Decode(&page); err != nil {
		return nil, fmt.Errorf("decode scrape response for %s: %w", pageURL, err)
	}

	if strings.TrimSpace(page.Content) == "" {
		return nil, fmt.Errorf("scrape %s: no content extracted", pageURL)
	}
	if page.URL == "" {
		page.URL = pageURL
	}

	return &page, nil
}
