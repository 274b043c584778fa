// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cloud

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/ragent/internal/conversation"
)

const okResponse = `{
  "elapsed_ms": 812.5,
  "model_id": "test-model",
  "stop_reason": "tool_use",
  "output": {"message": {"role": "assistant", "content": [
    {"text": "Let me look that up."},
    {"toolUse": {"toolUseId": "tu_1", "name": "calculator", "input": {"expression": "2+2"}}}
  ]}},
  "usage": {"input_tokens": 852, "output_tokens": 123, "total_cost": 0.004401},
  "budget_info": {"current_usage": 12.5, "monthly_limit": 50, "remaining": 37.5, "percentage_used": 25}
}`

func newTestServer(t *testing.T, status int, body string, inspect func(r *http.Request, payload map[string]any)) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		var payload map[string]any
		require.NoError(t, json.Unmarshal(data, &payload))
		if inspect != nil {
			inspect(r, payload)
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		io.WriteString(w, body)
	}))
	t.Cleanup(server.Close)
	return server
}

func TestInvoke_Success(t *testing.T) {
	var seen map[string]any
	server := newTestServer(t, http.StatusOK, okResponse, func(r *http.Request, payload map[string]any) {
		assert.Equal(t, "model-key", r.Header.Get("x-api-key"))
		seen = payload
	})

	client := NewClient(server.URL, "model-key").WithModel("test-model")
	result, err := client.Invoke(context.Background(), &Request{
		System:  "be brief",
		History: []conversation.Turn{conversation.NewUserTurn("what is 2+2?")},
		Tools: []ToolSpec{{
			Name:        "calculator",
			Description: "math",
			InputSchema: map[string]any{"type": "object"},
		}},
		Config: InferenceConfig{MaxTokens: 4096, Temperature: 0.7},
	})
	require.NoError(t, err)

	assert.Equal(t, StopToolUse, result.StopReason)
	assert.Equal(t, 852, result.Usage.InputTokens)
	assert.Equal(t, 123, result.Usage.OutputTokens)
	assert.InDelta(t, 0.004401, result.ServerCost, 1e-9)
	assert.Equal(t, 812500*time.Microsecond, result.Elapsed)
	require.NotNil(t, result.Budget)
	assert.Equal(t, 25.0, result.Budget.PercentageUsed)
	assert.Equal(t, client.CredentialID(), result.Budget.CredentialID)

	turn := result.Turn()
	assert.Equal(t, "Let me look that up.", turn.Text())
	uses := turn.ToolUses()
	require.Len(t, uses, 1)
	assert.Equal(t, "tu_1", uses[0].ID)

	assert.Equal(t, "test-model", seen["model_id"])
	assert.Equal(t, map[string]any{"auto": map[string]any{}}, seen["tool_choice"])
	assert.Equal(t, []any{map[string]any{"text": "be brief"}}, seen["system"])
	assert.Equal(t, map[string]any{"maxTokens": float64(4096), "temperature": 0.7}, seen["inference_config"])

	tools := seen["tools"].([]any)
	spec := tools[0].(map[string]any)["toolSpec"].(map[string]any)
	assert.Equal(t, map[string]any{"json": map[string]any{"type": "object"}}, spec["inputSchema"])
}

func TestInvoke_MergesToolRoleIntoUser(t *testing.T) {
	use, err := conversation.NewToolUse("tu_1", "calculator", map[string]any{"expression": "1+1"})
	require.NoError(t, err)

	history := []conversation.Turn{
		conversation.NewUserTurn("first"),
		conversation.NewAssistantTurn(use),
		conversation.NewToolResultTurn([]conversation.ToolResultBlock{{ToolUseID: "tu_1", Content: "2"}}),
		conversation.NewAssistantTurn(conversation.TextBlock{Text: "It is 2."}),
		conversation.NewUserTurn("second"),
	}

	var messages []any
	server := newTestServer(t, http.StatusOK, okResponse, func(_ *http.Request, payload map[string]any) {
		messages = payload["messages"].([]any)
	})

	_, err = NewClient(server.URL, "k").Invoke(context.Background(), &Request{History: history})
	require.NoError(t, err)

	require.Len(t, messages, 5)
	roles := make([]string, len(messages))
	for i, m := range messages {
		roles[i] = m.(map[string]any)["role"].(string)
	}
	assert.Equal(t, []string{"user", "assistant", "user", "assistant", "user"}, roles)
}

func TestEncodeMessages_MergesAdjacentUserTurns(t *testing.T) {
	msgs, err := encodeMessages([]conversation.Turn{
		conversation.NewUserTurn("failed call"),
		conversation.NewUserTurn("retry"),
	})
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.JSONEq(t, `[{"text":"failed call"},{"text":"retry"}]`, string(msgs[0].Content))
}

func TestInvoke_BudgetExceeded(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		percent float64
	}{
		{
			name:    "budget_info",
			body:    `{"error":"Monthly limit exceeded","message":"You have used $50.00 of your $50.00 limit","budget_info":{"current_usage":50,"monthly_limit":50,"remaining":0,"percentage_used":100}}`,
			percent: 100,
		},
		{
			name:    "legacy top-level usage",
			body:    `{"error":"Monthly limit exceeded","monthly_usage":51,"monthly_limit":50}`,
			percent: 102,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := newTestServer(t, http.StatusTooManyRequests, tt.body, nil)
			_, err := NewClient(server.URL, "k").Invoke(context.Background(), &Request{
				History: []conversation.Turn{conversation.NewUserTurn("hi")},
			})
			require.Error(t, err)
			assert.True(t, IsBudgetExceeded(err))
			assert.False(t, IsTransport(err))

			var be *BudgetExceededError
			require.True(t, errors.As(err, &be))
			assert.Equal(t, "Monthly limit exceeded", be.Reason)
			require.NotNil(t, be.Snapshot)
			assert.InDelta(t, tt.percent, be.Snapshot.PercentageUsed, 1e-9)
		})
	}
}

func TestInvoke_TransportErrors(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		body     string
		kind     TransportKind
		sentinel error
	}{
		{"unauthorized", http.StatusUnauthorized, `{"detail":"Invalid API key"}`, KindAuth, ErrAuthFailed},
		{"forbidden", http.StatusForbidden, `{"error":"forbidden"}`, KindAuth, ErrAuthFailed},
		{"bad request", http.StatusBadRequest, `{"message":"messages must alternate"}`, KindMalformed, ErrMalformedRequest},
		{"unprocessable", http.StatusUnprocessableEntity, `{"detail":[{"msg":"field required"}]}`, KindMalformed, ErrMalformedRequest},
		{"server", http.StatusBadGateway, `upstream down`, KindServer, ErrServer},
		{"teapot", http.StatusTeapot, ``, KindUnexpected, ErrUnexpectedStatus},
		{"garbage body", http.StatusOK, `not json`, KindDecode, ErrDecode},
		{"missing stop reason", http.StatusOK, `{"output":{"message":{"content":[]}}}`, KindDecode, ErrDecode},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := newTestServer(t, tt.status, tt.body, nil)
			_, err := NewClient(server.URL, "k").Invoke(context.Background(), &Request{
				History: []conversation.Turn{conversation.NewUserTurn("hi")},
			})
			require.Error(t, err)

			var te *TransportError
			require.True(t, errors.As(err, &te))
			assert.Equal(t, tt.kind, te.Kind)
			assert.ErrorIs(t, err, tt.sentinel)
			assert.False(t, IsBudgetExceeded(err))
		})
	}
}

func TestInvoke_NotConfigured(t *testing.T) {
	_, err := NewClient("", "").Invoke(context.Background(), &Request{})
	assert.ErrorIs(t, err, ErrNotConfigured)
}

func TestInvoke_NetworkFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	url := server.URL
	server.Close()

	_, err := NewClient(url, "k").Invoke(context.Background(), &Request{
		History: []conversation.Turn{conversation.NewUserTurn("hi")},
	})
	assert.ErrorIs(t, err, ErrNetwork)
}

func TestInvoke_Cancelled(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer server.Close()
	defer close(release)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	_, err := NewClient(server.URL, "k").Invoke(ctx, &Request{
		History: []conversation.Turn{conversation.NewUserTurn("hi")},
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, IsTransport(err))
}

func TestAPIKeyMasked(t *testing.T) {
	c := NewClient("http://x", "secret-key-123")
	masked := c.APIKeyMasked()
	assert.NotContains(t, masked, "secret")
	assert.Contains(t, masked, "length=14")
	assert.Len(t, c.CredentialID(), 8)
	assert.Equal(t, "[not set]", NewClient("http://x", "").APIKeyMasked())
}
