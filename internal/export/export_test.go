// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package export

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/ragent/internal/conversation"
	"github.com/jeranaias/ragent/internal/cost"
	"github.com/jeranaias/ragent/internal/session"
)

func sampleRecord(t *testing.T) *session.Record {
	t.Helper()
	use, err := conversation.NewToolUse("tu_1", "calculator", map[string]any{"expression": "2^10"})
	require.NoError(t, err)

	created := time.Date(2025, 3, 14, 9, 26, 53, 0, time.UTC)
	return &session.Record{
		SessionID:     "3f2a9c1e-0000-4000-8000-000000000000",
		SessionCost:   0.0123,
		TotalRequests: 2,
		ConversationHistory: []conversation.Turn{
			conversation.NewUserTurn("What is 2^10?"),
			conversation.NewAssistantTurn(conversation.TextBlock{Text: "Let me calculate."}, use),
			conversation.NewToolResultTurn([]conversation.ToolResultBlock{
				{ToolUseID: "tu_1", Content: "{\n  \"result\": \"1024\"\n}"},
			}),
			conversation.NewAssistantTurn(conversation.TextBlock{Text: "It is **1024**."}),
		},
		IterationLogs: []session.IterationLog{
			{Iteration: 1, Kind: session.KindModelCall, Usage: &cost.Usage{InputTokens: 852, OutputTokens: 123}, Cost: 0.004401, StopReason: "tool_use", Timestamp: created},
			{Iteration: 1, Kind: session.KindToolExecution, ToolName: "calculator", ToolResult: "1024", DurationMS: 3, Timestamp: created},
			{Iteration: 2, Kind: session.KindModelCall, Usage: &cost.Usage{InputTokens: 1000, OutputTokens: 20}, StopReason: "end_turn", Timestamp: created},
		},
		CreatedAt: created,
		SavedAt:   created.Add(time.Minute),
		Timestamp: created.Add(time.Minute),
	}
}

func TestMarkdownExport(t *testing.T) {
	exp := NewMarkdownExporter(DefaultOptions())
	data, err := exp.Export(sampleRecord(t))
	require.NoError(t, err)
	md := string(data)

	assert.Contains(t, md, "session_id: 3f2a9c1e-0000-4000-8000-000000000000")
	assert.Contains(t, md, "title: What is 2^10?")
	assert.Contains(t, md, "# What is 2^10?")
	assert.Contains(t, md, "### [User]")
	assert.Contains(t, md, "**Tool call**: `calculator`")
	assert.Contains(t, md, "\"expression\": \"2^10\"")
	assert.Contains(t, md, "**Result** [OK]")
	assert.Contains(t, md, "It is **1024**.")
	assert.Contains(t, md, "| 1 | model_call |  | 852 / 123 | $0.004401 |")
	assert.Contains(t, md, "| 1 | tool_execution | calculator |")
}

func TestMarkdownExport_WithoutMetadataOrLogs(t *testing.T) {
	exp := NewMarkdownExporter(&Options{})
	data, err := exp.Export(sampleRecord(t))
	require.NoError(t, err)
	md := string(data)

	assert.NotContains(t, md, "session_id:")
	assert.NotContains(t, md, "## Iterations")
	assert.Contains(t, md, "## Conversation")
}

func TestMarkdownExport_InvalidRecord(t *testing.T) {
	_, err := NewMarkdownExporter(nil).Export(&session.Record{SessionID: "x"})
	assert.Error(t, err)
}

func TestFence(t *testing.T) {
	assert.Equal(t, "```\nplain\n```", fence("plain"))
	assert.Equal(t, "````\nhas ``` inside\n````", fence("has ``` inside"))
}

func TestExportToFile(t *testing.T) {
	rec := sampleRecord(t)
	dir := t.TempDir()

	for _, format := range []string{"markdown", "json"} {
		t.Run(format, func(t *testing.T) {
			exp, err := New(format, nil)
			require.NoError(t, err)

			path, err := ExportToFile(rec, exp, &Options{OutputDir: dir, IncludeMetadata: true})
			require.NoError(t, err)
			assert.Equal(t, filepath.Join(dir, "session_20250314_092653_3f2a9c1e"+exp.FileExtension()), path)

			data, err := os.ReadFile(path)
			require.NoError(t, err)
			assert.Contains(t, string(data), "What is 2^10?")
		})
	}
}

func TestExportJSON_LoadsBack(t *testing.T) {
	rec := sampleRecord(t)
	path, err := ExportToFile(rec, JSONExporter{}, &Options{OutputDir: t.TempDir()})
	require.NoError(t, err)

	loaded, err := session.Load(path)
	require.NoError(t, err)
	assert.Equal(t, rec, loaded)
}

func TestNew_UnknownFormat(t *testing.T) {
	_, err := New("html", nil)
	assert.ErrorIs(t, err, ErrUnknownFormat)
}
