// Package indexer is the HTTP client for the remote vector-index service.
// Documents are sent there for chunking and embedding; deletions mirror the
// local cascade so the index never holds chunks for rows that are gone.
package indexer

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

// IndexRequest carries one document to the index service.
type IndexRequest struct {
	UserID     string `json:"userId"`
	BotID      string `json:"botId"`
	SourceID   string `json:"sourceId"`
	DocumentID string `json:"documentId"`
	Title      string `json:"title"`
	Content    string `json:"content"`
	URL        string `json:"url,omitempty"`
}

// IndexResult is the index service's answer for one document.
type IndexResult struct {
	Status string `json:"status"`
	Chunks int    `json:"chunks"`
	Error  string `json:"error,omitempty"`
}

// DocumentRef identifies one document's chunks in the remote index.
type DocumentRef struct {
	DocumentID string `json:"documentId"`
	Chunks     int    `json:"chunks"`
}

// DeleteDocumentRequest removes one document from the index.
type DeleteDocumentRequest struct {
	UserID     string `json:"userId"`
	BotID      string `json:"botId"`
	SourceID   string `json:"sourceId"`
	DocumentID string `json:"documentId"`
	Chunks     int    `json:"chunks"`
}

// DeleteSourceRequest removes all of a source's documents from the index.
type DeleteSourceRequest struct {
	UserID    string        `json:"userId"`
	BotID     string        `json:"botId"`
	SourceID  string        `json:"sourceId"`
	Documents []DocumentRef `json:"documents"`
}

// SourceRef identifies one source's chunked documents in the remote index.
type SourceRef struct {
	SourceID  string        `json:"sourceId"`
	Documents []DocumentRef `json:"documents"`
}

// DeleteAllSourcesRequest removes every source of a bot in one call.
type DeleteAllSourcesRequest struct {
	UserID  string      `json:"userId"`
	BotID   string      `json:"botId"`
	Sources []SourceRef `json:"sources"`
}

// Client calls the index service.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates an indexer client for the given base URL.
func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
	}
}

// Index submits a document for chunking and embedding and returns the chunk
// count the service reports.
func (c *Client) Index(ctx context.Context, req IndexRequest) (*IndexResult, error) {
	var result IndexResult
	if err := c.do(ctx, http.MethodPost, "/fluent-bot/import", req, &result); err != nil {
		return nil, fmt.Errorf("index document %s: %w", req.DocumentID, err)
	}
	if result.Status != "" && result.Status != "success" {
		return nil, fmt.Errorf("index document %s: %s", req.DocumentID, result.Error)
	}
	return &result, nil
}

// DeleteDocument removes one document's chunks from the index.
func (c *Client) DeleteDocument(ctx context.Context, req DeleteDocumentRequest) error {
	if err := c.do(ctx, http.MethodDelete, "/fluent-bot/source-document", req, nil); err != nil {
		return fmt.Errorf("delete remote document %s: %w", req.DocumentID, err)
	}
	return nil
}

// DeleteSource removes all of a source's chunks from the index.
func (c *Client) DeleteSource(ctx context.Context, req DeleteSourceRequest) error {
	if err := c.do(ctx, http.MethodDelete, "/fluent-bot/source", req, nil); err != nil {
		return fmt.Errorf("delete remote source %s: %w", req.SourceID, err)
	}
	return nil
}

// DeleteAllSources removes every source of a bot in one call. The endpoint
// exists on the index service but bot deletion currently fans out per-source
// so that a single oversized request cannot time out.
func (c *Client) DeleteAllSources(ctx context.Context, req DeleteAllSourcesRequest) error {
	if err := c.do(ctx, http.MethodDelete, "/fluent-bot/all-sources", req, nil); err != nil {
		return fmt.Errorf("delete all remote sources for bot %s: %w", req.BotID, err)
	}
	return nil
}

func (c *Client) do(ctx context.Context, method, path string, payload, result any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("status %d: %s", resp.StatusCode, string(payload))
	}

	if result != nil {
		if err := json.NewDecoder(resp.Body).Decode(result); err != nil && err != io.EOF {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}
