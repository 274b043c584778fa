// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package session

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/ragent/internal/conversation"
	"github.com/jeranaias/ragent/internal/cost"
)

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time {
		t = t.Add(time.Second)
		return t
	}
}

func sampleHistory(t *testing.T) []conversation.Turn {
	t.Helper()
	use, err := conversation.NewToolUse("tu_1", "calculator", map[string]any{
		"expression": "sqrt(16) < 5 && 1 > 0",
		"precision":  4,
	})
	require.NoError(t, err)
	return []conversation.Turn{
		conversation.NewUserTurn("What is <sqrt(16)>?\nAnswer briefly."),
		conversation.NewAssistantTurn(conversation.TextBlock{Text: "Calculating."}, use),
		conversation.NewToolResultTurn([]conversation.ToolResultBlock{
			{ToolUseID: "tu_1", Content: "{\n  \"result\": \"4\"\n}"},
		}),
		conversation.NewAssistantTurn(conversation.TextBlock{Text: "It is 4 & that's final."}),
	}
}

func TestRecorder_Totals(t *testing.T) {
	rec := NewRecorder(cost.NewCalculator(cost.DefaultRates()))

	c := rec.RecordModelCall(1, cost.Usage{InputTokens: 852, OutputTokens: 123}, 0.0044, "tool_use", time.Second)
	assert.InDelta(t, 0.004401, c, 1e-9)

	rec.RecordToolExecution(1, ToolCall{Name: "calculator", Input: `{"expression":"2+2"}`, Result: "4"})
	rec.RecordToolExecution(1, ToolCall{Name: "retrieve_documents", Input: `{"k":51}`, Result: "bad k", IsError: true, Failure: "validation"})
	rec.RecordModelCall(2, cost.Usage{InputTokens: 1000, OutputTokens: 100}, 0, "end_turn", time.Second)
	rec.RecordFailedCall(3, KindTransportError, errors.New("boom"))

	assert.Equal(t, 3, rec.Requests())
	assert.InDelta(t, 0.004401+0.0045, rec.TotalCost(), 1e-9)
	assert.Equal(t, cost.Usage{InputTokens: 1852, OutputTokens: 223}, rec.TotalUsage())

	logs := rec.Logs()
	require.Len(t, logs, 5)
	kinds := make([]Kind, len(logs))
	for i, l := range logs {
		kinds[i] = l.Kind
	}
	assert.Equal(t, []Kind{KindModelCall, KindToolExecution, KindValidationError, KindModelCall, KindTransportError}, kinds)
	assert.Equal(t, "boom", logs[4].Error)
	assert.Empty(t, logs[0].ToolName)
}

func TestStore_RoundTrip(t *testing.T) {
	store, err := OpenStore(t.TempDir())
	require.NoError(t, err)
	defer store.Close()

	rec := NewRecorder(nil)
	rec.now = fixedClock(time.Date(2025, 3, 14, 15, 9, 26, 535897000, time.Local))
	rec.RecordModelCall(1, cost.Usage{InputTokens: 852, OutputTokens: 123}, 0.004401, "tool_use", 812*time.Millisecond)
	rec.RecordToolExecution(1, ToolCall{Name: "calculator", Input: `{"expression":"sqrt(16)"}`, Result: "4", Duration: 3 * time.Millisecond})
	rec.RecordModelCall(2, cost.Usage{InputTokens: 900, OutputTokens: 40}, 0.0033, "end_turn", time.Second)

	record := rec.Snapshot(sampleHistory(t))
	path, err := store.Save(context.Background(), record)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(filepath.Base(path), "session_"))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, record, loaded)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"conversation_history"`)
	assert.Contains(t, string(data), "<sqrt(16)>", "HTML characters must not be escaped")
}

func TestStore_EmptySessionRoundTrip(t *testing.T) {
	store, err := OpenStore(t.TempDir())
	require.NoError(t, err)
	defer store.Close()

	record := NewRecorder(nil).Snapshot(nil)
	path, err := store.Save(context.Background(), record)
	require.NoError(t, err)

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, record, loaded)
}

func TestStore_IndexUpsertAndResolve(t *testing.T) {
	dir := t.TempDir()
	store, err := OpenStore(dir)
	require.NoError(t, err)
	defer store.Close()
	ctx := context.Background()

	rec := NewRecorder(nil)
	history := sampleHistory(t)

	first, err := store.Save(ctx, rec.Snapshot(history[:1]))
	require.NoError(t, err)
	rec.RecordModelCall(1, cost.Usage{InputTokens: 10, OutputTokens: 5}, 0, "end_turn", 0)
	second, err := store.Save(ctx, rec.Snapshot(history))
	require.NoError(t, err)
	assert.Equal(t, first, second, "repeated saves overwrite one file")

	other := NewRecorder(nil)
	_, err = store.Save(ctx, other.Snapshot(nil))
	require.NoError(t, err)

	list, err := store.List(ctx, 0)
	require.NoError(t, err)
	require.Len(t, list, 2)

	var found *Summary
	for i := range list {
		if list[i].SessionID == rec.ID() {
			found = &list[i]
		}
	}
	require.NotNil(t, found)
	assert.Equal(t, 1, found.TotalRequests)
	assert.Equal(t, len(history), found.Turns)
	assert.Equal(t, "What is <sqrt(16)>? Answer briefly.", found.Preview)

	path, err := store.Resolve(ctx, rec.ID()[:8])
	require.NoError(t, err)
	assert.Equal(t, second, path)

	path, err = store.Resolve(ctx, filepath.Base(second))
	require.NoError(t, err)
	assert.Equal(t, second, path)

	_, err = store.Resolve(ctx, "does-not-exist")
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestStore_ResolveTreatsRefLiterally(t *testing.T) {
	store, err := OpenStore(t.TempDir())
	require.NoError(t, err)
	defer store.Close()
	ctx := context.Background()

	rec := NewRecorder(nil)
	_, err = store.Save(ctx, rec.Snapshot(nil))
	require.NoError(t, err)

	for _, ref := range []string{"%", "_", "%%%%%%%%", ""} {
		_, err := store.Resolve(ctx, ref)
		assert.ErrorIs(t, err, ErrSessionNotFound, "ref %q", ref)
	}

	_, err = store.Resolve(ctx, rec.ID())
	assert.NoError(t, err)
}

func TestResumeRecorder(t *testing.T) {
	rec := NewRecorder(nil)
	rec.RecordModelCall(1, cost.Usage{InputTokens: 100, OutputTokens: 10}, 0, "end_turn", 0)
	saved := rec.Snapshot(nil)

	resumed := ResumeRecorder(saved, nil)
	assert.Equal(t, rec.ID(), resumed.ID())
	assert.Equal(t, 1, resumed.Requests())
	assert.InDelta(t, rec.TotalCost(), resumed.TotalCost(), 1e-12)
	assert.Equal(t, cost.Usage{InputTokens: 100, OutputTokens: 10}, resumed.TotalUsage())

	resumed.RecordModelCall(2, cost.Usage{InputTokens: 100, OutputTokens: 10}, 0, "end_turn", 0)
	assert.Equal(t, 2, resumed.Requests())
	assert.Len(t, rec.Logs(), 1, "resuming must not alias the saved log")
}

func TestLoad_Invalid(t *testing.T) {
	dir := t.TempDir()

	_, err := Load(filepath.Join(dir, "missing.json"))
	assert.ErrorIs(t, err, ErrSessionNotFound)

	bad := filepath.Join(dir, "bad.json")
	require.NoError(t, os.WriteFile(bad, []byte(`{"conversation_history":[{"role":"system","content":[]}]}`), 0600))
	_, err = Load(bad)
	assert.ErrorIs(t, err, ErrInvalidRecord)
}
