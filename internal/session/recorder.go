// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package session

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jeranaias/ragent/internal/conversation"
	"github.com/jeranaias/ragent/internal/cost"
)

// =============================================================================
// ITERATION LOG
// =============================================================================

// Kind classifies an iteration log entry.
type Kind string

const (
	KindModelCall       Kind = "model_call"
	KindToolExecution   Kind = "tool_execution"
	KindValidationError Kind = "validation_error"
	KindBudgetExceeded  Kind = "budget_exceeded"
	KindTransportError  Kind = "transport_error"
	KindIterationCap    Kind = "iteration_cap"
	KindCancelled       Kind = "cancelled"
)

// IterationLog is one entry of the append-only session log.
type IterationLog struct {
	Iteration  int         `json:"iteration"`
	Kind       Kind        `json:"kind"`
	ToolName   string      `json:"tool_name,omitempty"`
	ToolInput  string      `json:"tool_input,omitempty"`
	ToolResult string      `json:"tool_result,omitempty"`
	IsError    bool        `json:"is_error,omitempty"`
	Usage      *cost.Usage `json:"usage,omitempty"`
	Cost       float64     `json:"cost,omitempty"`
	ServerCost float64     `json:"server_cost,omitempty"`
	StopReason string      `json:"stop_reason,omitempty"`
	Error      string      `json:"error,omitempty"`
	DurationMS int64       `json:"duration_ms,omitempty"`
	Timestamp  time.Time   `json:"timestamp"`
}

// ToolCall describes one tool execution for RecordToolExecution.
type ToolCall struct {
	Name     string
	Input    string
	Result   string
	IsError  bool
	Failure  string // validation, timeout, ...; empty on success
	Duration time.Duration
}

// =============================================================================
// RECORDER
// =============================================================================

// Recorder accumulates the log and totals for one session. It is safe for
// concurrent use.
type Recorder struct {
	mu        sync.Mutex
	id        string
	createdAt time.Time
	calc      *cost.Calculator

	totalCost float64
	requests  int
	usage     cost.Usage
	logs      []IterationLog

	now func() time.Time
}

// NewRecorder starts an empty session with a fresh ID.
func NewRecorder(calc *cost.Calculator) *Recorder {
	if calc == nil {
		calc = cost.NewCalculator(cost.DefaultRates())
	}
	r := &Recorder{
		id:   uuid.NewString(),
		calc: calc,
		now:  time.Now,
	}
	r.createdAt = r.stamp()
	return r
}

// ResumeRecorder continues a saved session: same ID, totals and log.
func ResumeRecorder(rec *Record, calc *cost.Calculator) *Recorder {
	r := NewRecorder(calc)
	if rec == nil {
		return r
	}
	if rec.SessionID != "" {
		r.id = rec.SessionID
	}
	if !rec.CreatedAt.IsZero() {
		r.createdAt = rec.CreatedAt
	}
	r.totalCost = rec.SessionCost
	r.requests = rec.TotalRequests
	r.logs = append(r.logs, rec.IterationLogs...)
	for _, l := range r.logs {
		if l.Usage != nil {
			r.usage = r.usage.Add(*l.Usage)
		}
	}
	return r
}

// stamp returns the current time in a form that survives a JSON round trip.
func (r *Recorder) stamp() time.Time {
	return r.now().UTC().Round(0)
}

// RecordModelCall logs a successful model response and returns its cost.
func (r *Recorder) RecordModelCall(iteration int, usage cost.Usage, serverCost float64, stopReason string, elapsed time.Duration) float64 {
	c := r.calc.UsageCost(usage)

	r.mu.Lock()
	defer r.mu.Unlock()

	r.requests++
	r.totalCost += c
	r.usage = r.usage.Add(usage)
	u := usage
	r.logs = append(r.logs, IterationLog{
		Iteration:  iteration,
		Kind:       KindModelCall,
		Usage:      &u,
		Cost:       c,
		ServerCost: serverCost,
		StopReason: stopReason,
		DurationMS: elapsed.Milliseconds(),
		Timestamp:  r.stamp(),
	})
	return c
}

// RecordToolExecution logs one tool call. Validation failures are logged
// with their own kind so they can be told apart from handler failures.
func (r *Recorder) RecordToolExecution(iteration int, call ToolCall) {
	kind := KindToolExecution
	if call.Failure == "validation" {
		kind = KindValidationError
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.logs = append(r.logs, IterationLog{
		Iteration:  iteration,
		Kind:       kind,
		ToolName:   call.Name,
		ToolInput:  call.Input,
		ToolResult: call.Result,
		IsError:    call.IsError,
		DurationMS: call.Duration.Milliseconds(),
		Timestamp:  r.stamp(),
	})
}

// RecordFailedCall logs a model call that reached the service but was
// refused or failed. It counts as a request but adds no cost.
func (r *Recorder) RecordFailedCall(iteration int, kind Kind, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.requests++
	r.logs = append(r.logs, IterationLog{
		Iteration: iteration,
		Kind:      kind,
		Error:     errString(err),
		Timestamp: r.stamp(),
	})
}

// RecordOutcome logs a terminal non-success outcome that did not involve a
// request (iteration cap, cancellation, a locally refused call).
func (r *Recorder) RecordOutcome(iteration int, kind Kind, message string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.logs = append(r.logs, IterationLog{
		Iteration: iteration,
		Kind:      kind,
		Error:     message,
		Timestamp: r.stamp(),
	})
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

// ID returns the session ID.
func (r *Recorder) ID() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.id
}

// TotalCost returns the cumulative cost of all model calls.
func (r *Recorder) TotalCost() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.totalCost
}

// Requests returns the number of model calls sent.
func (r *Recorder) Requests() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.requests
}

// TotalUsage returns cumulative token usage.
func (r *Recorder) TotalUsage() cost.Usage {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.usage
}

// Logs returns a copy of the iteration log.
func (r *Recorder) Logs() []IterationLog {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]IterationLog, len(r.logs))
	copy(out, r.logs)
	return out
}

// Snapshot builds a persistable record from the current totals and the
// given history.
func (r *Recorder) Snapshot(history []conversation.Turn) *Record {
	r.mu.Lock()
	defer r.mu.Unlock()

	turns := make([]conversation.Turn, len(history))
	copy(turns, history)
	logs := make([]IterationLog, len(r.logs))
	copy(logs, r.logs)
	now := r.stamp()

	return &Record{
		SessionID:           r.id,
		SessionCost:         r.totalCost,
		TotalRequests:       r.requests,
		ConversationHistory: turns,
		IterationLogs:       logs,
		CreatedAt:           r.createdAt,
		SavedAt:             now,
		Timestamp:           now,
	}
}
