// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// render.go - Console output for turns, tool activity and budget state.

package cli

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/glamour"

	"github.com/jeranaias/ragent/internal/agent"
	"github.com/jeranaias/ragent/internal/budget"
	"github.com/jeranaias/ragent/internal/cloud"
	"github.com/jeranaias/ragent/internal/cost"
	"github.com/jeranaias/ragent/internal/session"
	"github.com/jeranaias/ragent/internal/util"
)

// previewWidth bounds tool input/result previews in verbose output.
const previewWidth = 160

// =============================================================================
// MARKDOWN RENDERING
// =============================================================================

var (
	markdownOnce     sync.Once
	markdownRenderer *glamour.TermRenderer
)

// renderMarkdown renders content for the terminal, or returns it unchanged
// when the renderer is unavailable.
func renderMarkdown(content string) string {
	markdownOnce.Do(func() {
		width := GetTerminalWidth() - 4
		if width > MaxRenderWidth {
			width = MaxRenderWidth
		}
		r, err := glamour.NewTermRenderer(
			glamour.WithAutoStyle(),
			glamour.WithWordWrap(width),
		)
		if err == nil {
			markdownRenderer = r
		}
	})
	if markdownRenderer == nil {
		return content
	}
	rendered, err := markdownRenderer.Render(content)
	if err != nil {
		return content
	}
	return rendered
}

// =============================================================================
// PRINTER
// =============================================================================

// printer writes console output. Verbose toggles per-iteration detail and
// markdown is only applied when stdout is a terminal.
type printer struct {
	out      io.Writer
	mu       sync.Mutex
	verbose  bool
	quiet    bool
	markdown bool
}

func newPrinter(out io.Writer, verbose, quiet, markdown bool) *printer {
	return &printer{
		out:      out,
		verbose:  verbose && !quiet,
		quiet:    quiet,
		markdown: markdown && IsStdoutTTY(),
	}
}

func (p *printer) setVerbose(on bool) {
	p.mu.Lock()
	p.verbose = on
	p.mu.Unlock()
}

func (p *printer) isVerbose() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.verbose
}

func (p *printer) printf(format string, args ...any) {
	fmt.Fprintf(p.out, format, args...)
}

func (p *printer) println(args ...any) {
	fmt.Fprintln(p.out, args...)
}

// observe is the agent.Observer for verbose output.
func (p *printer) observe(e agent.Event) {
	if !p.isVerbose() {
		return
	}
	tag := DimStyle.Render(fmt.Sprintf("[%d]", e.Iteration))

	switch e.Kind {
	case agent.EventModelCall:
		p.printf("%s %s %s\n", tag, InfoStyle.Render("calling model"),
			DimStyle.Render(fmt.Sprintf("(%d messages)", e.Messages)))

	case agent.EventModelResponse:
		p.printf("%s %s %s  %s in / %s out  %s  %s\n", tag,
			InfoStyle.Render("model replied:"),
			ValueStyle.Render(string(e.StopReason)),
			cost.FormatTokens(e.Usage.InputTokens),
			cost.FormatTokens(e.Usage.OutputTokens),
			CommandStyle.Render(cost.FormatUSD(e.Cost)),
			DimStyle.Render(e.Duration.Round(time.Millisecond).String()))
		if e.Text != "" && e.StopReason == cloud.StopToolUse {
			p.printf("    %s\n", DimStyle.Render(util.TruncateWidth(util.OneLine(e.Text), previewWidth)))
		}

	case agent.EventToolCall:
		p.printf("%s %s %s %s\n", tag,
			WarningStyle.Render("tool"),
			CommandStyle.Render(e.Tool),
			DimStyle.Render(util.TruncateWidth(e.Input, previewWidth)))

	case agent.EventToolResult:
		label := SuccessStyle.Render("ok")
		if e.IsError {
			label = ErrorStyle.Render("error")
		}
		p.printf("    %s %s %s\n", label,
			DimStyle.Render(e.Duration.Round(time.Millisecond).String()),
			util.TruncateWidth(util.OneLine(e.Result), previewWidth))

	case agent.EventBudget:
		if e.Snapshot != nil && e.Severity > budget.SeverityNone {
			p.printf("%s %s\n", tag, SeverityStyle(e.Severity).Render(
				fmt.Sprintf("budget %s: %s", e.Severity, e.Snapshot.String())))
		}
	}
}

// outcome prints the result of one turn.
func (p *printer) outcome(o *agent.Outcome, rec *session.Recorder) {
	switch o.State {
	case agent.StateDone, agent.StateForcedStop:
		if o.State == agent.StateForcedStop {
			p.printf("\n%s\n", WarningStyle.Render("[Notice] "+o.Notice))
		}
		p.answer(o.Answer)
		if o.StopReason != "" && o.StopReason != cloud.StopEndTurn && o.State == agent.StateDone {
			p.printf("%s\n", DimStyle.Render("stop reason: "+string(o.StopReason)))
		}

	case agent.StateCancelled:
		p.printf("\n%s\n", WarningStyle.Render("[Cancelled]"))

	case agent.StateFailed:
		p.failure(o.Err)
	}

	if p.quiet {
		return
	}
	p.println()
	p.printf("  %s %s\n", RenderLabel("This request:"), CommandStyle.Render(cost.FormatUSD(o.Cost)))
	p.printf("  %s %s\n", RenderLabel("Session total:"), CommandStyle.Render(cost.FormatUSD(rec.TotalCost())))
	p.printf("  %s %d\n", RenderLabel("Iterations:"), o.Iterations)
	if o.Budget != nil {
		usage := o.Budget.String()
		if label := severityLabel(o.Severity); label != "" {
			usage = label + " " + usage
		}
		p.printf("  %s %s\n", RenderLabel("Monthly usage:"), SeverityStyle(o.Severity).Render(usage))
	}
	p.println()
}

// severityLabel names the budget band in text so it survives NO_COLOR.
func severityLabel(s budget.Severity) string {
	switch s {
	case budget.SeverityInfo:
		return "notice:"
	case budget.SeverityWarning:
		return "warning:"
	case budget.SeverityHardStop:
		return "limit reached:"
	default:
		return ""
	}
}

func (p *printer) answer(text string) {
	text = strings.TrimSpace(text)
	if text == "" {
		p.printf("\n%s\n", DimStyle.Render("(no answer)"))
		return
	}
	p.println()
	if p.markdown {
		p.printf("%s", renderMarkdown(text))
		return
	}
	p.println(text)
}

// failure explains a Failed turn.
func (p *printer) failure(err error) {
	var bErr *cloud.BudgetExceededError
	if errors.As(err, &bErr) {
		p.printf("\n%s %s\n", ErrorStyle.Render("[Budget exceeded]"), bErr.Error())
		if s := bErr.Snapshot; s != nil {
			p.printf("  %s $%.2f\n", RenderLabel("Used:"), s.CurrentUsage)
			p.printf("  %s $%.2f\n", RenderLabel("Limit:"), s.MonthlyLimit)
		}
		p.printf("  %s\n", DimStyle.Render("Please wait until next month or contact support."))
		return
	}

	msg := "unknown error"
	if err != nil {
		msg = err.Error()
	}
	p.printf("\n%s %s\n", ErrorStyle.Render("[Error]"), msg)
	if errors.Is(err, cloud.ErrAuthFailed) {
		p.printf("  %s\n", DimStyle.Render("Check MODEL_API_KEY."))
	}
	if errors.Is(err, cloud.ErrNotConfigured) {
		p.printf("  %s\n", DimStyle.Render("Set MODEL_API_URL and MODEL_API_KEY."))
	}
}

// status prints the session totals and the last budget snapshot.
func (p *printer) status(rt *agentRuntime) {
	rec := rt.agent.Recorder()
	usage := rec.TotalUsage()

	p.println()
	p.println(HeaderStyle.Render("Session Status"))
	p.println(RenderSeparator(30))
	p.printf("  %s %s\n", RenderLabel("Session:"), rec.ID())
	p.printf("  %s %s\n", RenderLabel("Model:"), rt.model.ModelID())
	p.printf("  %s %d turns\n", RenderLabel("History:"), len(rt.agent.History()))
	p.printf("  %s %d\n", RenderLabel("Requests:"), rec.Requests())
	p.printf("  %s %s in / %s out\n", RenderLabel("Tokens:"),
		cost.FormatTokens(usage.InputTokens), cost.FormatTokens(usage.OutputTokens))
	p.printf("  %s %s\n", RenderLabel("Session cost:"), CommandStyle.Render(cost.FormatUSD(rec.TotalCost())))

	gate := rt.agent.Gate()
	if snap := gate.Last(); snap != nil {
		sev := gate.Severity(*snap)
		p.printf("  %s %s\n", RenderLabel("Monthly usage:"), SeverityStyle(sev).Render(snap.String()))
	} else {
		p.printf("  %s %s\n", RenderLabel("Monthly usage:"), DimStyle.Render("unknown until the first call"))
	}
	if gate.Tripped() {
		p.printf("  %s\n", ErrorStyle.Render("Budget hard stop active for this turn"))
	}
	p.println()
}
