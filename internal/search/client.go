// Package search proxies full-text queries to the external indexing service
// and removes index entries when a file is deleted. The indexer is a separate
// deployment, so calls go through a retry wrapper and a circuit breaker.
package search

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/valyc0/document-service/pkg/config"
	apperrors "github.com/valyc0/document-service/pkg/errors"
	"github.com/valyc0/document-service/pkg/resilience"
)

// Hit is a single search result returned by the indexing service.
type Hit struct {
	FileID           string  `json:"fileId"`
	OriginalFilename string  `json:"originalFilename"`
	ChunkIndex       int     `json:"chunkIndex"`
	Snippet          string  `json:"snippet"`
	Score            float64 `json:"score"`
}

// Result is the response envelope for a search query.
type Result struct {
	Query string `json:"query"`
	Total int    `json:"total"`
	Hits  []Hit  `json:"hits"`
}

// Client talks to the indexing service over HTTP.
type Client struct {
	baseURL string
	http    *http.Client
	breaker *resilience.CircuitBreaker
	retry   resilience.RetryConfig
	logger  *slog.Logger
}

// NewClient builds a search client from the configured indexer location.
func NewClient(cfg config.SearchConfig) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL: cfg.IndexerURL,
		http:    &http.Client{Timeout: timeout},
		breaker: resilience.NewCircuitBreaker("indexer", resilience.CircuitBreakerConfig{}),
		retry: resilience.RetryConfig{
			MaxAttempts:  3,
			InitialDelay: 200 * time.Millisecond,
			MaxDelay:     2 * time.Second,
		},
		logger: slog.Default().With("component", "search-client"),
	}
}

// Search runs a full-text query against the indexer.
func (c *Client) Search(ctx context.Context, query string, limit int) (*Result, error) {
	if query == "" {
		return nil, apperrors.New(apperrors.ErrInvalidInput, 400, "query must not be empty")
	}
	if limit <= 0 {
		limit = 10
	}
	endpoint := fmt.Sprintf("%s/api/search?q=%s&limit=%s",
		c.baseURL, url.QueryEscape(query), strconv.Itoa(limit))

	var result Result
	err := c.breaker.Execute(func() error {
		return resilience.Retry(ctx, "indexer-search", c.retry, func() error {
			req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
			if err != nil {
				return err
			}
			resp, err := c.http.Do(req)
			if err != nil {
				return err
			}
			defer resp.Body.Close()
			if resp.StatusCode != http.StatusOK {
				body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
				return fmt.Errorf("indexer returned %d: %s", resp.StatusCode, string(body))
			}
			return json.NewDecoder(resp.Body).Decode(&result)
		})
	})
	if err != nil {
		c.logger.Error("search query failed", "query", query, "error", err)
		return nil, fmt.Errorf("%w: %v", apperrors.ErrSearchUnavailable, err)
	}
	return &result, nil
}

// DeleteDocument asks the indexer to drop all index entries for a file. A 404
// from the indexer is treated as success since the entries are already gone.
func (c *Client) DeleteDocument(ctx context.Context, fileID string) error {
	endpoint := fmt.Sprintf("%s/api/index/%s", c.baseURL, url.PathEscape(fileID))
	err := c.breaker.Execute(func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodDelete, endpoint, nil)
		if err != nil {
			return err
		}
		resp, err := c.http.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNoContent && resp.StatusCode != http.StatusNotFound {
			return fmt.Errorf("indexer returned %d", resp.StatusCode)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: deleting index entries for %s: %v", apperrors.ErrSearchUnavailable, fileID, err)
	}
	return nil
}
