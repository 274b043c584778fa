// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package conversation

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Turn is one entry in the conversation history.
type Turn struct {
	Role    Role
	Content []ContentBlock
}

// NewUserTurn creates a user text turn.
func NewUserTurn(text string) Turn {
	return Turn{Role: RoleUser, Content: []ContentBlock{TextBlock{Text: text}}}
}

// NewAssistantTurn creates an assistant turn from model output.
func NewAssistantTurn(blocks ...ContentBlock) Turn {
	return Turn{Role: RoleAssistant, Content: blocks}
}

// NewToolResultTurn bundles tool results into a single turn.
func NewToolResultTurn(results []ToolResultBlock) Turn {
	blocks := make([]ContentBlock, len(results))
	for i, r := range results {
		blocks[i] = r
	}
	return Turn{Role: RoleTool, Content: blocks}
}

// Text concatenates the turn's text blocks.
func (t Turn) Text() string {
	var parts []string
	for _, b := range t.Content {
		if tb, ok := b.(TextBlock); ok && tb.Text != "" {
			parts = append(parts, tb.Text)
		}
	}
	return strings.Join(parts, "\n")
}

// ToolUses returns the tool-use blocks in order.
func (t Turn) ToolUses() []ToolUseBlock {
	var uses []ToolUseBlock
	for _, b := range t.Content {
		if u, ok := b.(ToolUseBlock); ok {
			uses = append(uses, u)
		}
	}
	return uses
}

// ToolResults returns the tool-result blocks in order.
func (t Turn) ToolResults() []ToolResultBlock {
	var results []ToolResultBlock
	for _, b := range t.Content {
		if r, ok := b.(ToolResultBlock); ok {
			results = append(results, r)
		}
	}
	return results
}

// clone copies the block slice. Blocks are values, apart from ToolUse
// input bytes which are never modified after construction.
func (t Turn) clone() Turn {
	content := make([]ContentBlock, len(t.Content))
	copy(content, t.Content)
	return Turn{Role: t.Role, Content: content}
}

type wireTurn struct {
	Role    Role            `json:"role"`
	Content json.RawMessage `json:"content"`
}

// MarshalJSON encodes the turn as {"role": ..., "content": [...]}.
func (t Turn) MarshalJSON() ([]byte, error) {
	content, err := EncodeBlocks(t.Content)
	if err != nil {
		return nil, err
	}
	return marshalJSON(wireTurn{Role: t.Role, Content: content})
}

// UnmarshalJSON decodes and validates a turn.
func (t *Turn) UnmarshalJSON(data []byte) error {
	var w wireTurn
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	if !w.Role.Valid() {
		return fmt.Errorf("invalid role %q", w.Role)
	}
	blocks, err := DecodeBlocks(w.Content)
	if err != nil {
		return err
	}
	t.Role = w.Role
	t.Content = blocks
	return nil
}

// =============================================================================
// TOOL RESULT MATCHING
// =============================================================================

// ErrUnmatchedResults is returned when a result turn does not answer an
// assistant turn one-to-one and in order.
var ErrUnmatchedResults = errors.New("tool results do not match tool uses")

// MatchResults checks that results answers every tool use of assistant
// exactly once, in the same order.
func MatchResults(assistant Turn, results []ToolResultBlock) error {
	uses := assistant.ToolUses()
	if len(uses) != len(results) {
		return fmt.Errorf("%w: %d uses, %d results", ErrUnmatchedResults, len(uses), len(results))
	}
	for i := range uses {
		if uses[i].ID != results[i].ToolUseID {
			return fmt.Errorf("%w: position %d expected %q, got %q",
				ErrUnmatchedResults, i, uses[i].ID, results[i].ToolUseID)
		}
	}
	return nil
}
