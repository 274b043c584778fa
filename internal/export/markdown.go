// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package export

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/jeranaias/ragent/internal/conversation"
	"github.com/jeranaias/ragent/internal/cost"
	"github.com/jeranaias/ragent/internal/session"
)

// =============================================================================
// MARKDOWN EXPORTER
// =============================================================================

// MarkdownExporter renders a session as a readable transcript.
type MarkdownExporter struct {
	options *Options
	now     func() time.Time
}

// NewMarkdownExporter creates a new Markdown exporter.
func NewMarkdownExporter(opts *Options) *MarkdownExporter {
	if opts == nil {
		opts = DefaultOptions()
	}
	return &MarkdownExporter{options: opts, now: time.Now}
}

// Export implements Exporter.
func (e *MarkdownExporter) Export(rec *session.Record) ([]byte, error) {
	if rec == nil {
		return nil, fmt.Errorf("session record is nil")
	}
	if rec.CreatedAt.IsZero() {
		return nil, fmt.Errorf("session has invalid creation timestamp")
	}

	var sb strings.Builder
	title := rec.Preview(60)
	if title == "" {
		title = "Session " + shortID(rec.SessionID)
	}

	if e.options.IncludeMetadata {
		sb.WriteString("---\n")
		fmt.Fprintf(&sb, "title: %s\n", escapeYAML(title))
		fmt.Fprintf(&sb, "session_id: %s\n", rec.SessionID)
		fmt.Fprintf(&sb, "created: %s\n", rec.CreatedAt.Format(time.RFC3339))
		fmt.Fprintf(&sb, "saved: %s\n", rec.SavedAt.Format(time.RFC3339))
		fmt.Fprintf(&sb, "turns: %d\n", len(rec.ConversationHistory))
		fmt.Fprintf(&sb, "requests: %d\n", rec.TotalRequests)
		fmt.Fprintf(&sb, "cost_usd: %.6f\n", rec.SessionCost)
		fmt.Fprintf(&sb, "exported: %s\n", e.now().UTC().Format(time.RFC3339))
		sb.WriteString("generator: ragent\n")
		sb.WriteString("---\n\n")
	}

	fmt.Fprintf(&sb, "# %s\n\n", escapeMarkdown(title))

	if e.options.IncludeMetadata {
		sb.WriteString("## Session Information\n\n")
		fmt.Fprintf(&sb, "- **Session**: `%s`\n", rec.SessionID)
		fmt.Fprintf(&sb, "- **Created**: %s\n", formatTimestamp(rec.CreatedAt))
		fmt.Fprintf(&sb, "- **Requests**: %d\n", rec.TotalRequests)
		fmt.Fprintf(&sb, "- **Cost**: %s\n", cost.FormatUSD(rec.SessionCost))
		sb.WriteString("\n---\n\n")
	}

	sb.WriteString("## Conversation\n\n")
	if len(rec.ConversationHistory) == 0 {
		sb.WriteString("*No messages.*\n\n")
	}
	for i, turn := range rec.ConversationHistory {
		fmt.Fprintf(&sb, "### %s\n\n", roleLabel(turn.Role))
		for _, block := range turn.Content {
			sb.WriteString(formatBlock(block))
		}
		if i < len(rec.ConversationHistory)-1 {
			sb.WriteString("---\n\n")
		}
	}

	if e.options.IncludeLogs && len(rec.IterationLogs) > 0 {
		sb.WriteString("\n## Iterations\n\n")
		sb.WriteString("| # | Kind | Tool | Tokens (in/out) | Cost | Duration | Detail |\n")
		sb.WriteString("|---|------|------|-----------------|------|----------|--------|\n")
		for _, l := range rec.IterationLogs {
			tokens := ""
			if l.Usage != nil {
				tokens = fmt.Sprintf("%s / %s", cost.FormatTokens(l.Usage.InputTokens), cost.FormatTokens(l.Usage.OutputTokens))
			}
			costCell := ""
			if l.Kind == session.KindModelCall {
				costCell = cost.FormatUSD(l.Cost)
			}
			duration := ""
			if l.DurationMS > 0 {
				duration = formatDuration(l.DurationMS)
			}
			detail := l.StopReason
			if l.Error != "" {
				detail = l.Error
			}
			fmt.Fprintf(&sb, "| %d | %s | %s | %s | %s | %s | %s |\n",
				l.Iteration, l.Kind, l.ToolName, tokens, costCell, duration, escapeTableCell(detail))
		}
	}

	sb.WriteString("\n---\n\n")
	fmt.Fprintf(&sb, "*Exported from ragent on %s*\n", e.now().Format("January 2, 2006 at 3:04 PM"))

	return []byte(sb.String()), nil
}

// FileExtension implements Exporter.
func (e *MarkdownExporter) FileExtension() string {
	return ".md"
}

// =============================================================================
// FORMATTING HELPERS
// =============================================================================

func roleLabel(role conversation.Role) string {
	switch role {
	case conversation.RoleUser:
		return "[User]"
	case conversation.RoleAssistant:
		return "[Assistant]"
	case conversation.RoleTool:
		return "[Tool results]"
	default:
		return "[" + string(role) + "]"
	}
}

func formatBlock(block conversation.ContentBlock) string {
	var sb strings.Builder
	switch b := block.(type) {
	case conversation.TextBlock:
		if text := strings.TrimSpace(b.Text); text != "" {
			sb.WriteString(text)
			sb.WriteString("\n\n")
		}
	case conversation.ToolUseBlock:
		fmt.Fprintf(&sb, "**Tool call**: `%s` <sub>%s</sub>\n\n", b.Name, b.ID)
		sb.WriteString("```json\n")
		sb.WriteString(indentJSON(b.Input))
		sb.WriteString("\n```\n\n")
	case conversation.ToolResultBlock:
		status := "[OK]"
		if b.IsError {
			status = "[FAIL]"
		}
		fmt.Fprintf(&sb, "**Result** %s <sub>%s</sub>\n\n", status, b.ToolUseID)
		sb.WriteString(fence(b.Content))
		sb.WriteString("\n\n")
	}
	return sb.String()
}

// fence wraps s in a code fence longer than any backtick run inside it.
func fence(s string) string {
	ticks := "```"
	for strings.Contains(s, ticks) {
		ticks += "`"
	}
	return ticks + "\n" + strings.TrimRight(s, "\n") + "\n" + ticks
}

func indentJSON(raw json.RawMessage) string {
	var buf bytes.Buffer
	if err := json.Indent(&buf, raw, "", "  "); err != nil {
		return string(raw)
	}
	return buf.String()
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// =============================================================================
// ESCAPING HELPERS
// =============================================================================

// escapeMarkdown escapes characters that would break a heading.
func escapeMarkdown(s string) string {
	s = strings.ReplaceAll(s, "#", "\\#")
	s = strings.ReplaceAll(s, "*", "\\*")
	s = strings.ReplaceAll(s, "_", "\\_")
	s = strings.ReplaceAll(s, "[", "\\[")
	s = strings.ReplaceAll(s, "]", "\\]")
	return s
}

func escapeTableCell(s string) string {
	s = strings.ReplaceAll(s, "|", "\\|")
	return strings.ReplaceAll(s, "\n", " ")
}

// escapeYAML quotes values containing YAML special characters.
func escapeYAML(s string) string {
	if strings.ContainsAny(s, ":#|>@`\"'[]{}!%&*\n\r\\") || strings.HasPrefix(s, " ") || strings.HasSuffix(s, " ") {
		s = strings.ReplaceAll(s, "\\", "\\\\")
		s = strings.ReplaceAll(s, "\"", "\\\"")
		s = strings.ReplaceAll(s, "\n", "\\n")
		s = strings.ReplaceAll(s, "\r", "\\r")
		return fmt.Sprintf("\"%s\"", s)
	}
	return s
}
