// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package tools implements the tools the model may call during a turn and
// the dispatcher that runs them.
//
// The set of tools is closed: each has a Name constant below, and the
// registry refuses anything else. Every tool validates its own input into a
// typed struct before Execute sees it.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
)

// =============================================================================
// TOOL NAMES
// =============================================================================

// Name identifies a tool.
type Name string

const (
	NameCalculator        Name = "calculator"
	NameRetrieveDocuments Name = "retrieve_documents"
)

// KnownNames lists every tool the registry accepts.
var KnownNames = []Name{NameCalculator, NameRetrieveDocuments}

func isKnown(n Name) bool {
	for _, k := range KnownNames {
		if k == n {
			return true
		}
	}
	return false
}

// =============================================================================
// SCHEMA
// =============================================================================

// Parameter describes one input field of a tool.
type Parameter struct {
	Name        string
	Type        string // "string", "integer", "number", "boolean"
	Description string
	Required    bool
	Default     any
	Enum        []string
	Minimum     *float64
	Maximum     *float64
}

// Schema is the input schema of a tool.
type Schema struct {
	Parameters []Parameter
}

// JSONSchema renders the schema as a JSON Schema object:
//
//	{"type":"object","properties":{...},"required":[...]}
func (s Schema) JSONSchema() map[string]any {
	properties := make(map[string]any, len(s.Parameters))
	required := make([]string, 0)

	for _, p := range s.Parameters {
		prop := map[string]any{
			"type":        p.Type,
			"description": p.Description,
		}
		if p.Default != nil {
			prop["default"] = p.Default
		}
		if len(p.Enum) > 0 {
			prop["enum"] = p.Enum
		}
		if p.Minimum != nil {
			prop["minimum"] = *p.Minimum
		}
		if p.Maximum != nil {
			prop["maximum"] = *p.Maximum
		}
		properties[p.Name] = prop
		if p.Required {
			required = append(required, p.Name)
		}
	}
	sort.Strings(required)

	return map[string]any{
		"type":       "object",
		"properties": properties,
		"required":   required,
	}
}

func bound(v float64) *float64 { return &v }

// Definition is what the model is told about a tool.
type Definition struct {
	Name        Name
	Description string
	Schema      Schema
}

// =============================================================================
// TOOL INTERFACE
// =============================================================================

// Tool is implemented by every tool handler.
type Tool interface {
	// Definition describes the tool to the model.
	Definition() Definition

	// Validate decodes raw JSON input, applies defaults and checks
	// constraints. It returns a *ValidationError on bad input.
	Validate(input json.RawMessage) (any, error)

	// Execute runs the tool on input previously returned by Validate.
	// The returned value is serialised unmodified into the tool result.
	Execute(ctx context.Context, args any) (any, error)
}

// =============================================================================
// REGISTRY
// =============================================================================

// Registry maps tool names to handlers.
type Registry struct {
	tools map[Name]Tool
	order []Name
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[Name]Tool)}
}

// Register adds a tool. Names outside KnownNames and duplicates are rejected.
func (r *Registry) Register(t Tool) error {
	name := t.Definition().Name
	if !isKnown(name) {
		return fmt.Errorf("unknown tool name %q", name)
	}
	if _, exists := r.tools[name]; exists {
		return fmt.Errorf("tool %q already registered", name)
	}
	r.tools[name] = t
	r.order = append(r.order, name)
	return nil
}

// Get looks up a tool by the name the model used.
func (r *Registry) Get(name string) (Tool, bool) {
	t, ok := r.tools[Name(name)]
	return t, ok
}

// Definitions returns tool definitions in registration order.
func (r *Registry) Definitions() []Definition {
	defs := make([]Definition, 0, len(r.order))
	for _, n := range r.order {
		defs = append(defs, r.tools[n].Definition())
	}
	return defs
}
