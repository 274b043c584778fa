// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package agent

import (
	"time"

	"github.com/jeranaias/ragent/internal/budget"
	"github.com/jeranaias/ragent/internal/cloud"
	"github.com/jeranaias/ragent/internal/cost"
)

// =============================================================================
// STATE
// =============================================================================

// State is a state of the per-turn loop.
type State int

const (
	StateAwaitingModel State = iota
	StateExecutingTools
	StateDone
	StateForcedStop
	StateFailed
	StateCancelled
)

func (s State) String() string {
	switch s {
	case StateAwaitingModel:
		return "awaiting_model"
	case StateExecutingTools:
		return "executing_tools"
	case StateDone:
		return "done"
	case StateForcedStop:
		return "forced_stop"
	case StateFailed:
		return "failed"
	case StateCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Terminal reports whether the loop stops in s.
func (s State) Terminal() bool {
	return s >= StateDone
}

// NoticeMaxIterations accompanies a ForcedStop outcome.
const NoticeMaxIterations = "Maximum iterations reached"

// =============================================================================
// OUTCOME
// =============================================================================

// Outcome is the result of one user turn.
type Outcome struct {
	State      State
	Answer     string // final text, or the best partial answer on ForcedStop
	Notice     string
	StopReason cloud.StopReason
	Iterations int

	// Totals for this turn only.
	Cost     float64
	Usage    cost.Usage
	Requests int

	Budget   *budget.Snapshot
	Severity budget.Severity

	// Err is set for Failed and Cancelled. Budget refusals are
	// *cloud.BudgetExceededError, transport failures *cloud.TransportError.
	Err error

	Elapsed time.Duration
}

// =============================================================================
// EVENTS
// =============================================================================

// EventKind identifies an Event.
type EventKind string

const (
	EventModelCall     EventKind = "model_call"
	EventModelResponse EventKind = "model_response"
	EventToolCall      EventKind = "tool_call"
	EventToolResult    EventKind = "tool_result"
	EventBudget        EventKind = "budget"
	EventStateChange   EventKind = "state_change"
)

// Event is a progress notification for the console.
type Event struct {
	Kind      EventKind
	Iteration int
	State     State

	// model_call / model_response
	Messages   int
	StopReason cloud.StopReason
	Usage      cost.Usage
	Cost       float64
	Text       string

	// tool_call / tool_result
	ToolUseID string
	Tool      string
	Input     string
	Result    string
	IsError   bool

	// budget
	Snapshot *budget.Snapshot
	Severity budget.Severity

	Duration time.Duration
}

// Observer receives events synchronously from the loop goroutine.
type Observer func(Event)
