// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package agent runs the per-turn loop between the operator, the model and
// the tools.
//
// One call to RunTurn appends the user's message, then alternates model
// calls and tool executions until the model gives a final answer, the
// iteration cap is hit, a call fails, or the context is cancelled:
//
//	AwaitingModel -> Done
//	AwaitingModel -> ExecutingTools -> AwaitingModel -> ...
//	ExecutingTools -> ForcedStop (cap reached, no further call)
//	AwaitingModel -> Failed (budget refusal or transport error)
//	any -> Cancelled
//
// Nothing is retried. An assistant turn that requested tools is appended
// together with its result turn, so the history never holds an unanswered
// tool request.
package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/jeranaias/ragent/internal/budget"
	"github.com/jeranaias/ragent/internal/cloud"
	"github.com/jeranaias/ragent/internal/conversation"
	"github.com/jeranaias/ragent/internal/cost"
	"github.com/jeranaias/ragent/internal/session"
	"github.com/jeranaias/ragent/internal/tools"
	"github.com/jeranaias/ragent/internal/util"
)

// =============================================================================
// ERRORS
// =============================================================================

var (
	// ErrTurnInProgress is returned when RunTurn or Reset is called while
	// another turn is running.
	ErrTurnInProgress = errors.New("a turn is already in progress")

	// ErrEmptyInput is returned for blank user messages.
	ErrEmptyInput = errors.New("empty input")
)

// =============================================================================
// COLLABORATORS
// =============================================================================

// Invoker calls the model. *cloud.Client implements it.
type Invoker interface {
	Invoke(ctx context.Context, req *cloud.Request) (*cloud.Result, error)
	CredentialID() string
}

// ToolRunner executes tool calls. *tools.Dispatcher implements it.
type ToolRunner interface {
	Definitions() []tools.Definition
	RunAll(ctx context.Context, uses []conversation.ToolUseBlock) ([]tools.Execution, error)
}

// DefaultMaxIterations is the model-call cap per user turn.
const DefaultMaxIterations = 3

// Config holds the loop's per-request settings.
type Config struct {
	ModelID       string
	SystemPrompt  string
	Inference     cloud.InferenceConfig
	MaxIterations int
}

// =============================================================================
// AGENT
// =============================================================================

// Agent owns one conversation and runs turns against it.
type Agent struct {
	cfg      Config
	invoker  Invoker
	runner   ToolRunner
	gate     *budget.Gate
	recorder *session.Recorder
	history  *conversation.History
	logger   zerolog.Logger

	observerMu sync.RWMutex
	observer   Observer

	turnMu sync.Mutex
}

// New creates an agent. A nil gate or recorder gets a default one.
func New(cfg Config, invoker Invoker, runner ToolRunner, gate *budget.Gate, recorder *session.Recorder) *Agent {
	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = DefaultMaxIterations
	}
	if gate == nil {
		gate = budget.NewGate(budget.DefaultThresholds())
	}
	if recorder == nil {
		recorder = session.NewRecorder(nil)
	}
	return &Agent{
		cfg:      cfg,
		invoker:  invoker,
		runner:   runner,
		gate:     gate,
		recorder: recorder,
		history:  conversation.NewHistory(),
		logger:   zerolog.Nop(),
	}
}

// WithLogger attaches a logger.
func (a *Agent) WithLogger(logger zerolog.Logger) *Agent {
	a.logger = logger.With().Str("component", "agent").Logger()
	return a
}

// SetObserver installs (or with nil removes) the event observer.
func (a *Agent) SetObserver(o Observer) {
	a.observerMu.Lock()
	defer a.observerMu.Unlock()
	a.observer = o
}

// History returns a copy of the conversation.
func (a *Agent) History() []conversation.Turn {
	return a.history.Turns()
}

// Recorder returns the session recorder.
func (a *Agent) Recorder() *session.Recorder {
	return a.recorder
}

// Gate returns the budget gate.
func (a *Agent) Gate() *budget.Gate {
	return a.gate
}

// MaxIterations returns the per-turn cap.
func (a *Agent) MaxIterations() int {
	return a.cfg.MaxIterations
}

// Restore replaces the conversation with a saved one.
func (a *Agent) Restore(turns []conversation.Turn) error {
	if !a.turnMu.TryLock() {
		return ErrTurnInProgress
	}
	defer a.turnMu.Unlock()
	a.history.Restore(turns)
	return nil
}

// Reset clears the conversation. Session cost, request count and the
// iteration log are kept. It returns the number of turns cleared.
func (a *Agent) Reset() (int, error) {
	if !a.turnMu.TryLock() {
		return 0, ErrTurnInProgress
	}
	defer a.turnMu.Unlock()

	n := a.history.Len()
	a.history.Reset()
	a.logger.Info().
		Int("turns_cleared", n).
		Float64("session_cost", a.recorder.TotalCost()).
		Msg("conversation reset")
	return n, nil
}

// Snapshot returns a persistable record of the session.
func (a *Agent) Snapshot() *session.Record {
	return a.recorder.Snapshot(a.history.Turns())
}

// =============================================================================
// TURN
// =============================================================================

// turn is the mutable state of one RunTurn call.
type turn struct {
	state     State
	iteration int
	pending   conversation.Turn // assistant turn awaiting tool results
	lastText  string
	outcome   Outcome
}

// RunTurn processes one user message to completion.
//
// The returned error is non-nil only for misuse (concurrent turns, empty
// input). Every loop outcome, including failures, is reported in Outcome.
func (a *Agent) RunTurn(ctx context.Context, input string) (*Outcome, error) {
	if strings.TrimSpace(input) == "" {
		return nil, ErrEmptyInput
	}
	if !a.turnMu.TryLock() {
		return nil, ErrTurnInProgress
	}
	defer a.turnMu.Unlock()

	start := time.Now()
	a.gate.BeginTurn()
	a.history.Append(conversation.NewUserTurn(input))

	a.logger.Info().
		Int("history", a.history.Len()).
		Str("input", util.TruncateRunes(util.OneLine(input), 80)).
		Msg("turn started")

	specs := a.toolSpecs()
	t := &turn{state: StateAwaitingModel}

	for !t.state.Terminal() {
		switch t.state {
		case StateAwaitingModel:
			a.awaitModel(ctx, t, specs)
		case StateExecutingTools:
			a.executeTools(ctx, t)
		}
	}

	t.outcome.State = t.state
	t.outcome.Iterations = t.iteration
	t.outcome.Elapsed = time.Since(start)
	if t.outcome.Budget == nil {
		t.outcome.Budget = a.gate.Last()
	}

	a.logOutcome(&t.outcome)
	return &t.outcome, nil
}

func (a *Agent) transition(t *turn, next State) {
	if t.state == next {
		return
	}
	a.logger.Debug().
		Str("from", t.state.String()).
		Str("to", next.String()).
		Int("iteration", t.iteration).
		Msg("state change")
	t.state = next
	a.emit(Event{Kind: EventStateChange, Iteration: t.iteration, State: next})
}

func (a *Agent) cancel(t *turn, err error) {
	if err == nil {
		err = context.Canceled
	}
	t.outcome.Err = err
	a.recorder.RecordOutcome(t.iteration, session.KindCancelled, err.Error())
	a.transition(t, StateCancelled)
}

// awaitModel makes one model call and decides the next state.
func (a *Agent) awaitModel(ctx context.Context, t *turn, specs []cloud.ToolSpec) {
	if err := ctx.Err(); err != nil {
		a.cancel(t, err)
		return
	}

	decision := a.gate.Authorize(a.invoker.CredentialID())
	if !decision.Allowed {
		err := &cloud.BudgetExceededError{Reason: decision.Reason, Snapshot: decision.Snapshot}
		t.outcome.Err = err
		t.outcome.Budget = decision.Snapshot
		t.outcome.Severity = budget.SeverityHardStop
		a.recorder.RecordOutcome(t.iteration, session.KindBudgetExceeded, err.Error())
		a.transition(t, StateFailed)
		return
	}

	history := a.history.Turns()
	a.emit(Event{Kind: EventModelCall, Iteration: t.iteration + 1, State: t.state, Messages: len(history)})

	res, err := a.invoker.Invoke(ctx, &cloud.Request{
		ModelID: a.cfg.ModelID,
		System:  a.cfg.SystemPrompt,
		History: history,
		Tools:   specs,
		Config:  a.cfg.Inference,
	})
	t.iteration++

	if err != nil {
		a.handleInvokeError(ctx, t, err)
		return
	}

	t.outcome.Requests++
	c := a.recorder.RecordModelCall(t.iteration, res.Usage, res.ServerCost, string(res.StopReason), res.Elapsed)
	t.outcome.Cost += c
	t.outcome.Usage = t.outcome.Usage.Add(res.Usage)
	t.outcome.StopReason = res.StopReason

	assistant := withToolUseIDs(res.Turn())
	if text := assistant.Text(); text != "" {
		t.lastText = text
	}

	a.emit(Event{
		Kind:       EventModelResponse,
		Iteration:  t.iteration,
		State:      t.state,
		StopReason: res.StopReason,
		Usage:      res.Usage,
		Cost:       c,
		Text:       assistant.Text(),
		Duration:   res.Elapsed,
	})

	if res.Budget != nil {
		sev := a.gate.Observe(*res.Budget)
		t.outcome.Budget = a.gate.Last()
		t.outcome.Severity = sev
		a.emit(Event{Kind: EventBudget, Iteration: t.iteration, State: t.state, Snapshot: t.outcome.Budget, Severity: sev})
		if sev >= budget.SeverityWarning {
			a.logger.Warn().
				Str("severity", sev.String()).
				Float64("percentage_used", t.outcome.Budget.PercentageUsed).
				Msg("monthly budget")
		}
	}

	if res.StopReason != cloud.StopToolUse || len(assistant.ToolUses()) == 0 {
		// Tool uses outside a tool_use stop are never run, so they are
		// dropped to keep every recorded use paired with a result.
		final := withoutToolUses(assistant)
		if len(final.Content) > 0 {
			a.history.Append(final)
		}
		if n := len(assistant.ToolUses()); n > 0 {
			a.logger.Warn().
				Str("stop_reason", string(res.StopReason)).
				Int("dropped_tool_uses", n).
				Msg("tool uses ignored")
		}
		t.outcome.Answer = final.Text()
		a.transition(t, StateDone)
		return
	}

	t.pending = assistant
	a.transition(t, StateExecutingTools)
}

func (a *Agent) handleInvokeError(ctx context.Context, t *turn, err error) {
	if ctx.Err() != nil || errors.Is(err, context.Canceled) {
		a.cancel(t, err)
		return
	}

	t.outcome.Err = err

	var budgetErr *cloud.BudgetExceededError
	if errors.As(err, &budgetErr) {
		t.outcome.Requests++
		a.gate.Trip(budgetErr.Snapshot, budgetErr.Reason)
		t.outcome.Budget = a.gate.Last()
		t.outcome.Severity = budget.SeverityHardStop
		a.recorder.RecordFailedCall(t.iteration, session.KindBudgetExceeded, err)
		a.logger.Warn().Err(err).Int("iteration", t.iteration).Msg("budget exceeded")
		a.transition(t, StateFailed)
		return
	}

	// Only calls that got an HTTP response count as requests.
	var transportErr *cloud.TransportError
	if errors.As(err, &transportErr) && transportErr.Status != 0 {
		t.outcome.Requests++
		a.recorder.RecordFailedCall(t.iteration, session.KindTransportError, err)
	} else {
		a.recorder.RecordOutcome(t.iteration, session.KindTransportError, err.Error())
	}
	a.logger.Error().Err(err).Int("iteration", t.iteration).Msg("model call failed")
	a.transition(t, StateFailed)
}

// executeTools runs the pending tool uses and appends the assistant turn
// with its results.
func (a *Agent) executeTools(ctx context.Context, t *turn) {
	uses := t.pending.ToolUses()
	for _, use := range uses {
		a.emit(Event{
			Kind:      EventToolCall,
			Iteration: t.iteration,
			State:     t.state,
			ToolUseID: use.ID,
			Tool:      use.Name,
			Input:     string(use.Input),
		})
	}

	execs, err := a.runner.RunAll(ctx, uses)
	if err != nil {
		// Partial results are discarded; neither turn is appended.
		a.cancel(t, err)
		return
	}

	results := make([]conversation.ToolResultBlock, len(execs))
	for i, e := range execs {
		results[i] = e.Result
	}
	if err := conversation.MatchResults(t.pending, results); err != nil {
		t.outcome.Err = fmt.Errorf("tool dispatch: %w", err)
		a.logger.Error().Err(err).Msg("tool results do not match requests")
		a.transition(t, StateFailed)
		return
	}

	a.history.Append(t.pending, conversation.NewToolResultTurn(results))

	for _, e := range execs {
		a.recorder.RecordToolExecution(t.iteration, session.ToolCall{
			Name:     e.Use.Name,
			Input:    string(e.Use.Input),
			Result:   e.Result.Content,
			IsError:  e.Result.IsError,
			Failure:  string(e.Failure),
			Duration: e.Duration,
		})
		a.emit(Event{
			Kind:      EventToolResult,
			Iteration: t.iteration,
			State:     t.state,
			ToolUseID: e.Use.ID,
			Tool:      e.Use.Name,
			Result:    e.Result.Content,
			IsError:   e.Result.IsError,
			Duration:  e.Duration,
		})
	}
	t.pending = conversation.Turn{}

	if t.iteration >= a.cfg.MaxIterations {
		t.outcome.Answer = t.lastText
		t.outcome.Notice = NoticeMaxIterations
		a.recorder.RecordOutcome(t.iteration, session.KindIterationCap, NoticeMaxIterations)
		a.transition(t, StateForcedStop)
		return
	}
	a.transition(t, StateAwaitingModel)
}

// =============================================================================
// HELPERS
// =============================================================================

func (a *Agent) toolSpecs() []cloud.ToolSpec {
	if a.runner == nil {
		return nil
	}
	defs := a.runner.Definitions()
	specs := make([]cloud.ToolSpec, len(defs))
	for i, d := range defs {
		specs[i] = cloud.ToolSpec{
			Name:        string(d.Name),
			Description: d.Description,
			InputSchema: d.Schema.JSONSchema(),
		}
	}
	return specs
}

// withToolUseIDs assigns an ID to any tool use the model left without one,
// so its result can still be matched.
func withToolUseIDs(t conversation.Turn) conversation.Turn {
	missing := false
	for _, b := range t.Content {
		if u, ok := b.(conversation.ToolUseBlock); ok && u.ID == "" {
			missing = true
			break
		}
	}
	if !missing {
		return t
	}
	blocks := make([]conversation.ContentBlock, len(t.Content))
	for i, b := range t.Content {
		if u, ok := b.(conversation.ToolUseBlock); ok && u.ID == "" {
			u.ID = "tooluse_" + uuid.NewString()
			b = u
		}
		blocks[i] = b
	}
	return conversation.NewAssistantTurn(blocks...)
}

func withoutToolUses(t conversation.Turn) conversation.Turn {
	if len(t.ToolUses()) == 0 {
		return t
	}
	blocks := make([]conversation.ContentBlock, 0, len(t.Content))
	for _, b := range t.Content {
		if _, ok := b.(conversation.ToolUseBlock); !ok {
			blocks = append(blocks, b)
		}
	}
	return conversation.NewAssistantTurn(blocks...)
}

func (a *Agent) emit(e Event) {
	a.observerMu.RLock()
	o := a.observer
	a.observerMu.RUnlock()
	if o != nil {
		o(e)
	}
}

func (a *Agent) logOutcome(o *Outcome) {
	ev := a.logger.Info()
	switch o.State {
	case StateFailed:
		ev = a.logger.Error().Err(o.Err)
	case StateForcedStop, StateCancelled:
		ev = a.logger.Warn()
	}
	ev.Str("state", o.State.String()).
		Int("iterations", o.Iterations).
		Int("requests", o.Requests).
		Str("cost", cost.FormatUSD(o.Cost)).
		Dur("elapsed", o.Elapsed).
		Msg("turn finished")
}
