// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cloud

import (
	"encoding/json"
	"fmt"

	"github.com/jeranaias/ragent/internal/budget"
	"github.com/jeranaias/ragent/internal/conversation"
)

// =============================================================================
// REQUEST WIRE TYPES
// =============================================================================

type wireText struct {
	Text string `json:"text"`
}

type wireMessage struct {
	Role    conversation.Role `json:"role"`
	Content json.RawMessage   `json:"content"`
}

type wireTool struct {
	ToolSpec wireToolSpec `json:"toolSpec"`
}

type wireToolSpec struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"inputSchema"`
}

type wireRequest struct {
	ModelID         string          `json:"model_id"`
	Messages        []wireMessage   `json:"messages"`
	System          []wireText      `json:"system,omitempty"`
	InferenceConfig InferenceConfig `json:"inference_config"`
	Tools           []wireTool      `json:"tools,omitempty"`
	ToolChoice      map[string]any  `json:"tool_choice,omitempty"`
}

// encodeMessages maps history onto the two wire roles. Adjacent turns that
// land on the same role (a tool-result turn followed by a new user turn,
// or a user turn left behind by a failed call) are merged so the request
// always alternates.
func encodeMessages(history []conversation.Turn) ([]wireMessage, error) {
	type group struct {
		role   conversation.Role
		blocks []conversation.ContentBlock
	}
	var groups []group
	for _, t := range history {
		if len(t.Content) == 0 {
			continue
		}
		role := t.Role.WireRole()
		if n := len(groups); n > 0 && groups[n-1].role == role {
			groups[n-1].blocks = append(groups[n-1].blocks, t.Content...)
			continue
		}
		blocks := make([]conversation.ContentBlock, len(t.Content))
		copy(blocks, t.Content)
		groups = append(groups, group{role: role, blocks: blocks})
	}

	msgs := make([]wireMessage, 0, len(groups))
	for i, g := range groups {
		content, err := conversation.EncodeBlocks(g.blocks)
		if err != nil {
			return nil, fmt.Errorf("message %d: %w", i, err)
		}
		msgs = append(msgs, wireMessage{Role: g.role, Content: content})
	}
	return msgs, nil
}

func encodeRequest(req *Request, defaultModel string) wireRequest {
	modelID := req.ModelID
	if modelID == "" {
		modelID = defaultModel
	}
	w := wireRequest{
		ModelID:         modelID,
		InferenceConfig: req.Config,
	}
	if req.System != "" {
		w.System = []wireText{{Text: req.System}}
	}
	if len(req.Tools) > 0 {
		w.Tools = make([]wireTool, len(req.Tools))
		for i, t := range req.Tools {
			w.Tools[i] = wireTool{ToolSpec: wireToolSpec{
				Name:        t.Name,
				Description: t.Description,
				InputSchema: map[string]any{"json": t.InputSchema},
			}}
		}
		w.ToolChoice = map[string]any{"auto": map[string]any{}}
	}
	return w
}

// =============================================================================
// RESPONSE WIRE TYPES
// =============================================================================

type wireBudget struct {
	CurrentUsage   float64 `json:"current_usage"`
	MonthlyLimit   float64 `json:"monthly_limit"`
	Remaining      float64 `json:"remaining"`
	PercentageUsed float64 `json:"percentage_used"`
}

func (b *wireBudget) snapshot(credentialID string) *budget.Snapshot {
	if b == nil {
		return nil
	}
	s := budget.Snapshot{
		CredentialID:   credentialID,
		CurrentUsage:   b.CurrentUsage,
		MonthlyLimit:   b.MonthlyLimit,
		Remaining:      b.Remaining,
		PercentageUsed: b.PercentageUsed,
	}.Normalize()
	return &s
}

type wireResponse struct {
	ElapsedMS  float64 `json:"elapsed_ms"`
	ModelID    string  `json:"model_id"`
	StopReason string  `json:"stop_reason"`
	Output     struct {
		Message struct {
			Role    string          `json:"role"`
			Content json.RawMessage `json:"content"`
		} `json:"message"`
	} `json:"output"`
	Usage struct {
		InputTokens  int     `json:"input_tokens"`
		OutputTokens int     `json:"output_tokens"`
		TotalCost    float64 `json:"total_cost"`
	} `json:"usage"`
	BudgetInfo *wireBudget `json:"budget_info"`
}

// wireError covers the error bodies the service and its framework emit.
type wireError struct {
	Error      string          `json:"error"`
	Message    string          `json:"message"`
	Detail     json.RawMessage `json:"detail"`
	BudgetInfo *wireBudget     `json:"budget_info"`

	// Older deployments report usage at the top level.
	MonthlyUsage *float64 `json:"monthly_usage"`
	MonthlyLimit *float64 `json:"monthly_limit"`
}

func (e wireError) budget() *wireBudget {
	if e.BudgetInfo != nil {
		return e.BudgetInfo
	}
	if e.MonthlyUsage != nil || e.MonthlyLimit != nil {
		b := &wireBudget{}
		if e.MonthlyUsage != nil {
			b.CurrentUsage = *e.MonthlyUsage
		}
		if e.MonthlyLimit != nil {
			b.MonthlyLimit = *e.MonthlyLimit
		}
		return b
	}
	return nil
}

func (e wireError) text() string {
	switch {
	case e.Message != "":
		return e.Message
	case e.Error != "":
		return e.Error
	case len(e.Detail) > 0:
		var s string
		if json.Unmarshal(e.Detail, &s) == nil {
			return s
		}
		return string(e.Detail)
	}
	return ""
}
