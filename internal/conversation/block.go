// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package conversation holds the ordered message history of a chat session
// and the content block types exchanged with the model.
package conversation

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// =============================================================================
// ROLES
// =============================================================================

// Role identifies who produced a turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	// RoleTool marks a turn made only of tool results. It is sent to the
	// model with the user role.
	RoleTool Role = "tool"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleUser, RoleAssistant, RoleTool:
		return true
	}
	return false
}

// WireRole maps a role onto the two roles the model accepts.
func (r Role) WireRole() Role {
	if r == RoleTool {
		return RoleUser
	}
	return r
}

// =============================================================================
// CONTENT BLOCKS
// =============================================================================

// BlockKind discriminates content blocks.
type BlockKind string

const (
	KindText       BlockKind = "text"
	KindToolUse    BlockKind = "toolUse"
	KindToolResult BlockKind = "toolResult"
)

// ContentBlock is one of TextBlock, ToolUseBlock or ToolResultBlock.
// The set is closed: the unexported method keeps other packages from
// adding variants.
type ContentBlock interface {
	Kind() BlockKind
	sealed()
}

// TextBlock is plain text.
type TextBlock struct {
	Text string
}

// ToolUseBlock is a tool invocation requested by the model.
// Input is always stored as compact JSON.
type ToolUseBlock struct {
	ID    string
	Name  string
	Input json.RawMessage
}

// ToolResultBlock answers the ToolUseBlock whose ID equals ToolUseID.
type ToolResultBlock struct {
	ToolUseID string
	Content   string
	IsError   bool
}

func (TextBlock) Kind() BlockKind       { return KindText }
func (ToolUseBlock) Kind() BlockKind    { return KindToolUse }
func (ToolResultBlock) Kind() BlockKind { return KindToolResult }

func (TextBlock) sealed()       {}
func (ToolUseBlock) sealed()    {}
func (ToolResultBlock) sealed() {}

// NewToolUse builds a ToolUseBlock from any JSON-serialisable input.
func NewToolUse(id, name string, input any) (ToolUseBlock, error) {
	raw, err := marshalJSON(input)
	if err != nil {
		return ToolUseBlock{}, fmt.Errorf("failed to marshal tool input: %w", err)
	}
	canon, err := canonicalJSON(raw)
	if err != nil {
		return ToolUseBlock{}, fmt.Errorf("failed to marshal tool input: %w", err)
	}
	return ToolUseBlock{ID: id, Name: name, Input: canon}, nil
}

// DecodeInput unmarshals the tool input into v.
func (b ToolUseBlock) DecodeInput(v any) error {
	if len(b.Input) == 0 {
		return json.Unmarshal([]byte("{}"), v)
	}
	return json.Unmarshal(b.Input, v)
}

// =============================================================================
// WIRE FORMAT
// =============================================================================

// ErrInvalidBlock is returned when a content block cannot be decoded.
var ErrInvalidBlock = errors.New("invalid content block")

type wireBlock struct {
	Text       *string         `json:"text,omitempty"`
	ToolUse    *wireToolUse    `json:"toolUse,omitempty"`
	ToolResult *wireToolResult `json:"toolResult,omitempty"`
}

type wireToolUse struct {
	ToolUseID string          `json:"toolUseId"`
	Name      string          `json:"name"`
	Input     json.RawMessage `json:"input"`
}

type wireToolResult struct {
	ToolUseID string              `json:"toolUseId"`
	Content   []wireResultContent `json:"content"`
	Status    string              `json:"status,omitempty"`
}

type wireResultContent struct {
	Text *string         `json:"text,omitempty"`
	JSON json.RawMessage `json:"json,omitempty"`
}

const statusError = "error"

func encodeBlock(b ContentBlock) (wireBlock, error) {
	switch v := b.(type) {
	case TextBlock:
		text := v.Text
		return wireBlock{Text: &text}, nil
	case ToolUseBlock:
		input := v.Input
		if len(input) == 0 {
			input = json.RawMessage("{}")
		}
		return wireBlock{ToolUse: &wireToolUse{ToolUseID: v.ID, Name: v.Name, Input: input}}, nil
	case ToolResultBlock:
		text := v.Content
		res := &wireToolResult{
			ToolUseID: v.ToolUseID,
			Content:   []wireResultContent{{Text: &text}},
		}
		if v.IsError {
			res.Status = statusError
		}
		return wireBlock{ToolResult: res}, nil
	default:
		return wireBlock{}, fmt.Errorf("%w: unsupported type %T", ErrInvalidBlock, b)
	}
}

func decodeBlock(w wireBlock) (ContentBlock, error) {
	set := 0
	if w.Text != nil {
		set++
	}
	if w.ToolUse != nil {
		set++
	}
	if w.ToolResult != nil {
		set++
	}
	if set != 1 {
		return nil, fmt.Errorf("%w: expected exactly one of text, toolUse, toolResult", ErrInvalidBlock)
	}

	switch {
	case w.Text != nil:
		return TextBlock{Text: *w.Text}, nil

	case w.ToolUse != nil:
		// An empty toolUseId is tolerated here; the agent assigns one.
		if w.ToolUse.Name == "" {
			return nil, fmt.Errorf("%w: toolUse requires a name", ErrInvalidBlock)
		}
		input, err := canonicalJSON(w.ToolUse.Input)
		if err != nil {
			return nil, fmt.Errorf("%w: toolUse input: %v", ErrInvalidBlock, err)
		}
		return ToolUseBlock{ID: w.ToolUse.ToolUseID, Name: w.ToolUse.Name, Input: input}, nil

	default:
		if w.ToolResult.ToolUseID == "" {
			return nil, fmt.Errorf("%w: toolResult requires toolUseId", ErrInvalidBlock)
		}
		parts := make([]string, 0, len(w.ToolResult.Content))
		for _, c := range w.ToolResult.Content {
			switch {
			case c.Text != nil:
				parts = append(parts, *c.Text)
			case len(c.JSON) > 0:
				parts = append(parts, string(c.JSON))
			}
		}
		return ToolResultBlock{
			ToolUseID: w.ToolResult.ToolUseID,
			Content:   strings.Join(parts, "\n"),
			IsError:   w.ToolResult.Status == statusError,
		}, nil
	}
}

// canonicalJSON re-encodes raw with sorted keys, no insignificant
// whitespace and no HTML escaping, so equal inputs compare byte-equal
// after any number of save/load cycles.
func canonicalJSON(raw json.RawMessage) (json.RawMessage, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return json.RawMessage("{}"), nil
	}
	dec := json.NewDecoder(bytes.NewReader(trimmed))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	out, err := marshalJSON(v)
	if err != nil {
		return nil, err
	}
	return json.RawMessage(out), nil
}

// marshalJSON is json.Marshal without HTML escaping.
func marshalJSON(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// EncodeBlocks converts blocks to their JSON wire form.
func EncodeBlocks(blocks []ContentBlock) (json.RawMessage, error) {
	wire := make([]wireBlock, 0, len(blocks))
	for _, b := range blocks {
		w, err := encodeBlock(b)
		if err != nil {
			return nil, err
		}
		wire = append(wire, w)
	}
	return marshalJSON(wire)
}

// DecodeBlocks parses a JSON array of wire blocks.
func DecodeBlocks(data []byte) ([]ContentBlock, error) {
	var wire []wireBlock
	if err := json.Unmarshal(data, &wire); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidBlock, err)
	}
	blocks := make([]ContentBlock, 0, len(wire))
	for i, w := range wire {
		b, err := decodeBlock(w)
		if err != nil {
			return nil, fmt.Errorf("block %d: %w", i, err)
		}
		blocks = append(blocks, b)
	}
	return blocks, nil
}
