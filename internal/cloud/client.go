// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package cloud is the client for the budget-gated inference API.
//
// The service speaks a Converse-style protocol: messages made of text,
// toolUse and toolResult blocks, a stop_reason, token usage, and the
// caller's monthly budget snapshot. A dedicated status (429) signals that
// the monthly limit has been reached.
//
// Calls are never retried. An inference call can cost real money, and a
// failure is always surfaced to the operator instead.
package cloud

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/jeranaias/ragent/internal/budget"
	"github.com/jeranaias/ragent/internal/conversation"
	"github.com/jeranaias/ragent/internal/cost"
)

// Configuration constants for the inference API.
const (
	// DefaultModelID is the model requested when none is configured.
	DefaultModelID = "us.anthropic.claude-sonnet-4-20250514-v1:0"

	// DefaultTimeout is the default timeout for a model call.
	DefaultTimeout = 60 * time.Second

	// MaxResponseSize is the maximum allowed response body size.
	MaxResponseSize = 10 * 1024 * 1024

	// StatusBudgetExceeded is the status reserved for ledger refusals.
	StatusBudgetExceeded = http.StatusTooManyRequests
)

// =============================================================================
// REQUEST / RESULT
// =============================================================================

// InferenceConfig holds sampling parameters.
type InferenceConfig struct {
	MaxTokens   int     `json:"maxTokens"`
	Temperature float64 `json:"temperature"`
}

// ToolSpec declares a tool to the model.
type ToolSpec struct {
	Name        string
	Description string
	InputSchema map[string]any
}

// Request is one model invocation.
type Request struct {
	ModelID string // empty uses the client default
	System  string
	History []conversation.Turn
	Tools   []ToolSpec
	Config  InferenceConfig
}

// StopReason tells whether the model wants tools run or is done.
type StopReason string

const (
	StopToolUse      StopReason = "tool_use"
	StopEndTurn      StopReason = "end_turn"
	StopMaxTokens    StopReason = "max_tokens"
	StopSequence     StopReason = "stop_sequence"
	StopContentGuard StopReason = "content_filtered"
)

// Result is a parsed successful response.
type Result struct {
	ModelID    string
	StopReason StopReason
	Content    []conversation.ContentBlock
	Usage      cost.Usage
	ServerCost float64
	Budget     *budget.Snapshot
	Elapsed    time.Duration
}

// Turn returns the response as an assistant turn.
func (r *Result) Turn() conversation.Turn {
	return conversation.NewAssistantTurn(r.Content...)
}

// =============================================================================
// CLIENT
// =============================================================================

// Client calls the inference endpoint.
type Client struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
	modelID    string
	logger     zerolog.Logger
}

// NewClient creates a client for the given endpoint URL and API key.
// An empty URL or key yields a client whose calls fail with
// ErrNotConfigured.
func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		apiKey:     strings.TrimSpace(apiKey),
		baseURL:    strings.TrimSpace(baseURL),
		httpClient: &http.Client{Timeout: DefaultTimeout},
		modelID:    DefaultModelID,
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

// WithHTTPClient replaces the HTTP client.
func (c *Client) WithHTTPClient(hc *http.Client) *Client {
	c.httpClient = hc
	return c
}

// WithModel sets the default model ID.
func (c *Client) WithModel(modelID string) *Client {
	if modelID = strings.TrimSpace(modelID); modelID != "" {
		c.modelID = modelID
	}
	return c
}

// WithLogger attaches a logger.
func (c *Client) WithLogger(logger zerolog.Logger) *Client {
	c.logger = logger.With().Str("component", "cloud").Logger()
	return c
}

// ModelID returns the default model ID.
func (c *Client) ModelID() string {
	return c.modelID
}

// IsConfigured reports whether URL and key are set.
func (c *Client) IsConfigured() bool {
	return c.apiKey != "" && c.baseURL != ""
}

// CredentialID is a stable, non-reversible identifier for the API key.
func (c *Client) CredentialID() string {
	if c.apiKey == "" {
		return "none"
	}
	h := sha256.Sum256([]byte(c.apiKey))
	return hex.EncodeToString(h[:4])
}

// APIKeyMasked describes the key without revealing any of it.
func (c *Client) APIKeyMasked() string {
	if c.apiKey == "" {
		return "[not set]"
	}
	return fmt.Sprintf("[REDACTED, length=%d, fingerprint=%s]", len(c.apiKey), c.CredentialID())
}

// Invoke sends the conversation and returns the model's response.
//
// Errors are *BudgetExceededError for ledger refusals and *TransportError
// for everything else.
func (c *Client) Invoke(ctx context.Context, req *Request) (*Result, error) {
	if !c.IsConfigured() {
		return nil, &TransportError{Kind: KindUnexpected, Message: ErrNotConfigured.Error(), Err: ErrNotConfigured}
	}

	messages, err := encodeMessages(req.History)
	if err != nil {
		return nil, &TransportError{Kind: KindMalformed, Message: "failed to encode history", Err: err}
	}
	body := encodeRequest(req, c.modelID)
	body.Messages = messages

	bodyBytes, err := json.Marshal(body)
	if err != nil {
		return nil, &TransportError{Kind: KindMalformed, Message: "failed to marshal request", Err: err}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL, bytes.NewReader(bodyBytes))
	if err != nil {
		return nil, &TransportError{Kind: KindNetwork, Message: "failed to create request", Err: err}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", c.apiKey)

	start := time.Now()
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		// Cancellation is the operator's doing, not a transport fault.
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, &TransportError{Kind: KindNetwork, Message: "request failed", Err: err}
	}
	defer resp.Body.Close()

	data, err := readResponse(resp)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, &TransportError{Kind: KindNetwork, Status: resp.StatusCode, Message: "failed to read response", Err: err}
	}

	c.logger.Debug().
		Int("status", resp.StatusCode).
		Dur("elapsed", time.Since(start)).
		Int("messages", len(messages)).
		Msg("model call completed")

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, c.handleErrorResponse(resp.StatusCode, data)
	}

	return c.parseResult(data, time.Since(start))
}

// readResponse reads the body with a size cap.
func readResponse(resp *http.Response) ([]byte, error) {
	body, err := io.ReadAll(io.LimitReader(resp.Body, MaxResponseSize+1))
	if err != nil {
		return nil, err
	}
	if int64(len(body)) > MaxResponseSize {
		return nil, fmt.Errorf("response exceeded maximum size of %d bytes", MaxResponseSize)
	}
	return body, nil
}

func (c *Client) parseResult(data []byte, elapsed time.Duration) (*Result, error) {
	var wr wireResponse
	if err := json.Unmarshal(data, &wr); err != nil {
		return nil, &TransportError{Kind: KindDecode, Status: http.StatusOK, Message: "failed to parse response", Err: err}
	}

	var blocks []conversation.ContentBlock
	if len(wr.Output.Message.Content) > 0 && string(wr.Output.Message.Content) != "null" {
		var err error
		blocks, err = conversation.DecodeBlocks(wr.Output.Message.Content)
		if err != nil {
			return nil, &TransportError{Kind: KindDecode, Status: http.StatusOK, Message: "failed to parse content blocks", Err: err}
		}
	}
	if wr.StopReason == "" {
		return nil, &TransportError{Kind: KindDecode, Status: http.StatusOK, Message: "response has no stop_reason"}
	}

	if wr.ElapsedMS > 0 {
		elapsed = time.Duration(wr.ElapsedMS * float64(time.Millisecond))
	}

	return &Result{
		ModelID:    wr.ModelID,
		StopReason: StopReason(wr.StopReason),
		Content:    blocks,
		Usage:      cost.Usage{InputTokens: wr.Usage.InputTokens, OutputTokens: wr.Usage.OutputTokens},
		ServerCost: wr.Usage.TotalCost,
		Budget:     wr.BudgetInfo.snapshot(c.CredentialID()),
		Elapsed:    elapsed,
	}, nil
}

// handleErrorResponse maps a non-2xx status onto the error taxonomy.
func (c *Client) handleErrorResponse(statusCode int, body []byte) error {
	var we wireError
	parsed := json.Unmarshal(body, &we) == nil

	msg := ""
	if parsed {
		msg = we.text()
	}
	if msg == "" {
		msg = strings.TrimSpace(string(body))
	}
	if msg == "" {
		msg = http.StatusText(statusCode)
	}

	if statusCode == StatusBudgetExceeded {
		return &BudgetExceededError{
			Status:   statusCode,
			Reason:   we.Error,
			Message:  we.Message,
			Snapshot: we.budget().snapshot(c.CredentialID()),
		}
	}

	kind := KindUnexpected
	switch {
	case statusCode == http.StatusUnauthorized || statusCode == http.StatusForbidden:
		kind = KindAuth
	case statusCode == http.StatusBadRequest || statusCode == http.StatusUnprocessableEntity:
		kind = KindMalformed
	case statusCode >= 500:
		kind = KindServer
	}
	return &TransportError{Kind: kind, Status: statusCode, Message: msg}
}

// IsTransport reports whether err is a *TransportError.
func IsTransport(err error) bool {
	var t *TransportError
	return errors.As(err, &t)
}
