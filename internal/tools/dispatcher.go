// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/sourcegraph/conc/iter"

	"github.com/jeranaias/ragent/internal/conversation"
	"github.com/jeranaias/ragent/internal/util"
)

// =============================================================================
// CONSTANTS
// =============================================================================

const (
	// DefaultToolTimeout applies when the caller's context has no deadline.
	DefaultToolTimeout = 30 * time.Second

	// DefaultConcurrency bounds parallel tool calls within one turn.
	DefaultConcurrency = 4

	// DefaultMaxOutputSize caps the text of a single tool result (runes).
	DefaultMaxOutputSize = 100_000
)

// FailureKind classifies a failed tool call.
type FailureKind string

const (
	FailureNone        FailureKind = ""
	FailureUnknownTool FailureKind = "unknown_tool"
	FailureValidation  FailureKind = "validation"
	FailureExecution   FailureKind = "execution"
	FailureTimeout     FailureKind = "timeout"
	FailurePanic       FailureKind = "panic"
)

// Execution is the outcome of one tool call.
type Execution struct {
	Use      conversation.ToolUseBlock
	Result   conversation.ToolResultBlock
	Failure  FailureKind
	Duration time.Duration
}

type errorPayload struct {
	Status string      `json:"status"`
	Error  string      `json:"error"`
	Kind   FailureKind `json:"kind"`
	Tool   string      `json:"tool,omitempty"`
	Field  string      `json:"field,omitempty"`
}

// =============================================================================
// DISPATCHER
// =============================================================================

// Dispatcher validates and runs tool calls. It never panics and never
// returns an error for a single call: every failure becomes an error
// result block the model can read.
type Dispatcher struct {
	registry      *Registry
	logger        zerolog.Logger
	timeout       time.Duration
	concurrency   int
	maxOutputSize int
}

// NewDispatcher creates a dispatcher over registry.
func NewDispatcher(registry *Registry, logger zerolog.Logger) *Dispatcher {
	return &Dispatcher{
		registry:      registry,
		logger:        logger.With().Str("component", "tools").Logger(),
		timeout:       DefaultToolTimeout,
		concurrency:   DefaultConcurrency,
		maxOutputSize: DefaultMaxOutputSize,
	}
}

// WithTimeout sets the per-call timeout.
func (d *Dispatcher) WithTimeout(timeout time.Duration) *Dispatcher {
	if timeout > 0 {
		d.timeout = timeout
	}
	return d
}

// WithConcurrency bounds parallel calls in RunAll.
func (d *Dispatcher) WithConcurrency(n int) *Dispatcher {
	if n > 0 {
		d.concurrency = n
	}
	return d
}

// Registry returns the underlying registry.
func (d *Dispatcher) Registry() *Registry {
	return d.registry
}

// Definitions returns the registered tool definitions.
func (d *Dispatcher) Definitions() []Definition {
	return d.registry.Definitions()
}

// Execute runs one tool call and returns its result block.
func (d *Dispatcher) Execute(ctx context.Context, use conversation.ToolUseBlock) conversation.ToolResultBlock {
	return d.Run(ctx, use).Result
}

// ExecuteAll runs calls concurrently and returns results in request order.
// If ctx is cancelled the partial results are discarded.
func (d *Dispatcher) ExecuteAll(ctx context.Context, uses []conversation.ToolUseBlock) ([]conversation.ToolResultBlock, error) {
	execs, err := d.RunAll(ctx, uses)
	if err != nil {
		return nil, err
	}
	results := make([]conversation.ToolResultBlock, len(execs))
	for i, e := range execs {
		results[i] = e.Result
	}
	return results, nil
}

// RunAll is ExecuteAll with per-call detail.
func (d *Dispatcher) RunAll(ctx context.Context, uses []conversation.ToolUseBlock) ([]Execution, error) {
	if len(uses) == 0 {
		return nil, nil
	}
	mapper := iter.Mapper[conversation.ToolUseBlock, Execution]{MaxGoroutines: d.concurrency}
	execs := mapper.Map(uses, func(use *conversation.ToolUseBlock) Execution {
		return d.Run(ctx, *use)
	})
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return execs, nil
}

// Run executes one call with full detail.
func (d *Dispatcher) Run(ctx context.Context, use conversation.ToolUseBlock) (exec Execution) {
	start := time.Now()
	exec.Use = use

	defer func() {
		if r := recover(); r != nil {
			exec.Result = d.failure(use, FailurePanic, fmt.Sprintf("tool panicked: %v", r), "")
			exec.Failure = FailurePanic
		}
		exec.Duration = time.Since(start)
		d.logExecution(exec)
	}()

	tool, ok := d.registry.Get(use.Name)
	if !ok {
		exec.Failure = FailureUnknownTool
		exec.Result = d.failure(use, FailureUnknownTool, "Unknown tool: "+use.Name, "")
		return exec
	}

	args, err := tool.Validate(use.Input)
	if err != nil {
		var vErr *ValidationError
		field := ""
		if errors.As(err, &vErr) {
			field = vErr.Field
		}
		exec.Failure = FailureValidation
		exec.Result = d.failure(use, FailureValidation, err.Error(), field)
		return exec
	}

	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.timeout)
		defer cancel()
	}

	type outcome struct {
		out any
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- outcome{err: &panicError{value: r}}
			}
		}()
		out, err := tool.Execute(ctx, args)
		done <- outcome{out: out, err: err}
	}()

	var res outcome
	select {
	case res = <-done:
	case <-ctx.Done():
		exec.Failure = FailureTimeout
		exec.Result = d.failure(use, FailureTimeout, "tool execution stopped: "+ctx.Err().Error(), "")
		return exec
	}

	if res.err != nil {
		kind := FailureExecution
		var pErr *panicError
		if errors.As(res.err, &pErr) {
			kind = FailurePanic
		}
		exec.Failure = kind
		exec.Result = d.failure(use, kind, res.err.Error(), "")
		return exec
	}

	text, err := marshalResult(res.out)
	if err != nil {
		exec.Failure = FailureExecution
		exec.Result = d.failure(use, FailureExecution, err.Error(), "")
		return exec
	}
	exec.Result = conversation.ToolResultBlock{
		ToolUseID: use.ID,
		Content:   util.TruncateRunes(text, d.maxOutputSize),
	}
	return exec
}

type panicError struct {
	value any
}

func (e *panicError) Error() string {
	return fmt.Sprintf("tool panicked: %v", e.value)
}

func (d *Dispatcher) failure(use conversation.ToolUseBlock, kind FailureKind, msg, field string) conversation.ToolResultBlock {
	text, err := marshalResult(errorPayload{
		Status: "error",
		Error:  msg,
		Kind:   kind,
		Tool:   use.Name,
		Field:  field,
	})
	if err != nil {
		text = msg
	}
	return conversation.ToolResultBlock{ToolUseID: use.ID, Content: text, IsError: true}
}

func (d *Dispatcher) logExecution(exec Execution) {
	ev := d.logger.Debug()
	if exec.Failure != FailureNone {
		ev = d.logger.Warn().Str("failure", string(exec.Failure))
	}
	ev.Str("tool", exec.Use.Name).
		Str("tool_use_id", exec.Use.ID).
		Dur("duration", exec.Duration).
		Msg("tool executed")
}

// marshalResult renders tool output as indented JSON without HTML escaping.
func marshalResult(v any) (string, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return "", fmt.Errorf("failed to encode tool output: %w", err)
	}
	return string(bytes.TrimRight(buf.Bytes(), "\n")), nil
}
