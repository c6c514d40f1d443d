// Package urlcheck validates URLs before they are queued for scraping.
package urlcheck

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/jonesrussell/fluentbot/internal/logger"
)

const defaultProbeTimeout = 10 * time.Second

// Validator checks that a URL is well formed, reachable, and serves HTML.
// Validation is best-effort and never returns an error: an unreachable URL
// is simply invalid.
type Validator struct {
	client    *http.Client
	userAgent string
	logger    logger.Logger
}

// New creates a validator. A zero timeout falls back to the default.
func New(timeout time.Duration, userAgent string, log logger.Logger) *Validator {
	if timeout <= 0 {
		timeout = defaultProbeTimeout
	}
	return &Validator{
		client:    &http.Client{Timeout: timeout},
		userAgent: userAgent,
		logger:    log,
	}
}

// IsValid reports whether the URL can be ingested. A URL passes when it
// parses as absolute http(s), responds to a HEAD probe with a 2xx status,
// and the Content-Type contains "text/html".
func (v *Validator) IsValid(ctx context.Context, rawURL string) bool {
	rawURL = strings.TrimSpace(rawURL)

	parsed, err := url.Parse(rawURL)
	if err != nil || parsed.Host == "" || (parsed.Scheme != "http" && parsed.Scheme != "https") {
		v.logger.Warn("url failed syntax check", logger.String("url", rawURL))
		return false
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, rawURL, http.NoBody)
	if err != nil {
		v.logger.Warn("url probe request failed", logger.String("url", rawURL), logger.Error(err))
		return false
	}
	if v.userAgent != "" {
		req.Header.Set("User-Agent", v.userAgent)
	}

	resp, err := v.client.Do(req)
	if err != nil {
		v.logger.Warn("url unreachable", logger.String("url", rawURL), logger.Error(err))
		return false
	}
	defer resp.Body.Close()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		v.logger.Warn("url probe returned non-success status",
			logger.String("url", rawURL),
			logger.Int("status", resp.StatusCode))
		return false
	}

	contentType := resp.Header.Get("Content-Type")
	if !strings.Contains(strings.ToLower(contentType), "text/html") {
		v.logger.Warn("url is not html",
			logger.String("url", rawURL),
			logger.String("content_type", contentType))
		return false
	}

	return true
}
