// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package retrieval is the HTTP client for the knowledge-base search API.
package retrieval

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// =============================================================================
// CONSTANTS
// =============================================================================

const (
	// DefaultTimeout is the per-request timeout for search calls.
	DefaultTimeout = 30 * time.Second

	// DefaultRatePerSecond limits how fast tool calls may hit the API.
	DefaultRatePerSecond = 5.0

	// DefaultBurst is the limiter burst size.
	DefaultBurst = 5

	// MaxResponseSize caps the response body (5MB).
	MaxResponseSize = 5 * 1024 * 1024

	// Search types accepted by the tool schema. The backend may accept
	// fewer and rejects the rest itself.
	SearchHybrid   = "HYBRID"
	SearchSemantic = "SEMANTIC"
	SearchKeyword  = "KEYWORD"
)

// SearchTypes lists every search type the tool advertises.
var SearchTypes = []string{SearchHybrid, SearchSemantic, SearchKeyword}

// =============================================================================
// ERRORS
// =============================================================================

var (
	// ErrNotConfigured is returned when no URL or key is set.
	ErrNotConfigured = errors.New("Knowledge Base API not configured")

	// ErrAuthFailed is returned for 401/403 responses.
	ErrAuthFailed = errors.New("Authentication failed")

	// ErrTimeout is returned when the request deadline passes.
	ErrTimeout = errors.New("Request timeout")

	// ErrResponseTooLarge is returned when the body exceeds MaxResponseSize.
	ErrResponseTooLarge = fmt.Errorf("response exceeded maximum size of %d bytes", MaxResponseSize)
)

// APIError is a non-2xx response from the search API.
type APIError struct {
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("API error: %d", e.Status)
}

// =============================================================================
// TYPES
// =============================================================================

// Query is the request body for a search.
type Query struct {
	Query       string `json:"query"`
	K           int    `json:"k"`
	SearchType  string `json:"search_type"`
	CompanyName string `json:"company_name,omitempty"`
}

// Document is a single ranked search hit.
type Document struct {
	Rank     int            `json:"rank"`
	Text     string         `json:"text"`
	Score    float64        `json:"score"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// Response is the search API response.
type Response struct {
	Status       string     `json:"status"`
	Query        string     `json:"query"`
	SearchType   string     `json:"search_type"`
	K            int        `json:"k"`
	ResultsCount int        `json:"results_count"`
	Results      []Document `json:"results"`
}

// =============================================================================
// CLIENT
// =============================================================================

// Client calls the knowledge-base search endpoint.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	limiter    *rate.Limiter
	logger     zerolog.Logger
}

// NewClient creates a client for the given endpoint and key.
func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		baseURL:    strings.TrimSpace(baseURL),
		apiKey:     strings.TrimSpace(apiKey),
		httpClient: &http.Client{Timeout: DefaultTimeout},
		limiter:    rate.NewLimiter(rate.Limit(DefaultRatePerSecond), DefaultBurst),
		logger:     zerolog.Nop(),
	}
}

// WithTimeout sets the HTTP timeout.
func (c *Client) WithTimeout(timeout time.Duration) *Client {
	if timeout > 0 {
		c.httpClient.Timeout = timeout
	}
	return c
}

// WithRateLimit replaces the limiter. A non-positive rate disables limiting.
func (c *Client) WithRateLimit(perSecond float64, burst int) *Client {
	if perSecond <= 0 {
		c.limiter = rate.NewLimiter(rate.Inf, 0)
		return c
	}
	if burst < 1 {
		burst = 1
	}
	c.limiter = rate.NewLimiter(rate.Limit(perSecond), burst)
	return c
}

// WithHTTPClient swaps the underlying HTTP client (tests).
func (c *Client) WithHTTPClient(hc *http.Client) *Client {
	c.httpClient = hc
	return c
}

// WithLogger attaches a logger.
func (c *Client) WithLogger(logger zerolog.Logger) *Client {
	c.logger = logger.With().Str("component", "retrieval").Logger()
	return c
}

// IsConfigured reports whether both URL and key are present.
func (c *Client) IsConfigured() bool {
	return c != nil && c.baseURL != "" && c.apiKey != ""
}

// Search runs one query. It does not retry.
func (c *Client) Search(ctx context.Context, q Query) (*Response, error) {
	if !c.IsConfigured() {
		return nil, ErrNotConfigured
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter: %w", err)
	}

	body, err := json.Marshal(q)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", c.apiKey)

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		if isTimeout(err) {
			return nil, ErrTimeout
		}
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, MaxResponseSize+1))
	if err != nil {
		if isTimeout(err) {
			return nil, ErrTimeout
		}
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if len(data) > MaxResponseSize {
		return nil, ErrResponseTooLarge
	}

	c.logger.Debug().
		Int("status", resp.StatusCode).
		Dur("elapsed", time.Since(start)).
		Str("search_type", q.SearchType).
		Int("k", q.K).
		Msg("search completed")

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, ErrAuthFailed
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return nil, &APIError{Status: resp.StatusCode, Body: string(data)}
	}

	var out Response
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}
	return &out, nil
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
