// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// chat.go - Interactive chat command.
//
// Examples:
//   ragent chat                         Start a new session
//   ragent chat --resume 3f2a9c1e       Continue a saved session
//   ragent chat --quiet                 Answers only
//
// Interactive commands:
//   reset            Clear the conversation (session cost is kept)
//   save             Save the session
//   status           Show session totals and monthly usage
//   verbose on|off   Toggle per-iteration detail
//   help             Show commands
//   quit, exit       Save and exit
//   Ctrl+C           Cancel the current turn
//   Ctrl+D           Save and exit

package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/peterh/liner"
	"github.com/spf13/cobra"

	"github.com/jeranaias/ragent/internal/config"
	"github.com/jeranaias/ragent/internal/cost"
)

// =============================================================================
// INPUT
// =============================================================================

// lineReader is the prompt source. *ChatInput implements it; tests use a
// scripted reader.
type lineReader interface {
	Prompt(prompt string) (string, error)
	Close() error
}

// ChatInput provides line editing and persistent input history.
type ChatInput struct {
	line        *liner.State
	historyFile string
}

// NewChatInput creates a liner-backed reader with history from
// ~/.ragent/chat_history.
func NewChatInput() *ChatInput {
	line := liner.NewLiner()
	line.SetCtrlCAborts(true)

	dir, err := config.ConfigDir()
	if err != nil {
		dir = os.TempDir()
	}
	in := &ChatInput{line: line, historyFile: filepath.Join(dir, "chat_history")}

	if f, err := os.Open(in.historyFile); err == nil {
		_, _ = line.ReadHistory(f)
		f.Close()
	}
	return in
}

// Prompt reads one line and records non-empty input in the history.
func (c *ChatInput) Prompt(prompt string) (string, error) {
	input, err := c.line.Prompt(prompt)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(input) != "" {
		c.line.AppendHistory(input)
	}
	return input, nil
}

// Close writes the history (0600) and restores the terminal.
func (c *ChatInput) Close() error {
	if err := os.MkdirAll(filepath.Dir(c.historyFile), 0700); err == nil {
		if f, err := os.OpenFile(c.historyFile, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600); err == nil {
			_, _ = c.line.WriteHistory(f)
			f.Close()
		}
	}
	return c.line.Close()
}

// =============================================================================
// COMMAND
// =============================================================================

type chatOptions struct {
	resume string
	quiet  bool
}

func newChatCommand(a *app) *cobra.Command {
	var opts chatOptions
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Start an interactive session",
		Long: `Start an interactive session with the agent.

Type a question and press Enter. Commands: reset, save, status,
verbose on|off, help, quit. Ctrl+C cancels the current turn and
Ctrl+D saves and exits.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := newRuntime(cmd.Context(), a.cfg, a.logger, opts.resume)
			if err != nil {
				return err
			}
			defer rt.Close()

			in := NewChatInput()
			defer in.Close()

			c := newChatSession(rt, in, a.out, opts.quiet)
			return c.run(cmd.Context())
		},
	}
	cmd.Flags().StringVarP(&opts.resume, "resume", "r", "", "resume a saved session (path, file name or id prefix)")
	cmd.Flags().BoolVarP(&opts.quiet, "quiet", "q", false, "print answers only")
	return cmd
}

// =============================================================================
// SESSION
// =============================================================================

// chatSession is the REPL state.
type chatSession struct {
	rt    *agentRuntime
	in    lineReader
	p     *printer
	quiet bool

	// interrupt is the signal source for cancelling a turn. Tests replace it.
	interrupt func(ctx context.Context) (context.Context, context.CancelFunc)
}

func newChatSession(rt *agentRuntime, in lineReader, out io.Writer, quiet bool) *chatSession {
	p := newPrinter(out, rt.cfg.UI.Verbose, quiet, rt.cfg.UI.Markdown)
	rt.agent.SetObserver(p.observe)
	return &chatSession{
		rt:    rt,
		in:    in,
		p:     p,
		quiet: quiet,
		interrupt: func(ctx context.Context) (context.Context, context.CancelFunc) {
			return signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
		},
	}
}

// run is the read-eval loop. It returns after quit, exit, Ctrl+D or a
// Ctrl+C at the prompt, always saving first.
func (c *chatSession) run(ctx context.Context) error {
	if !c.quiet {
		c.printWelcome()
	}

	for {
		input, err := c.in.Prompt(PromptStyle.Render("ragent> "))
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, liner.ErrPromptAborted) {
				c.rt.logger.Warn().Err(err).Msg("input error")
			}
			c.p.println()
			return c.exit(ctx)
		}

		input = strings.TrimSpace(input)
		if input == "" {
			continue
		}

		done, err := c.handleCommand(ctx, input)
		if err != nil {
			c.p.printf("%s %v\n", ErrorStyle.Render("[Error]"), err)
		}
		if done {
			return c.exit(ctx)
		}
	}
}

// handleCommand runs a console command or a turn. It returns true when the
// session should end.
func (c *chatSession) handleCommand(ctx context.Context, input string) (bool, error) {
	fields := strings.Fields(strings.ToLower(input))
	switch fields[0] {
	case "quit", "exit":
		if len(fields) == 1 {
			return true, nil
		}
	case "reset":
		if len(fields) == 1 {
			n, err := c.rt.agent.Reset()
			if err != nil {
				return false, err
			}
			c.p.println(CommandStyle.Render(fmt.Sprintf("[Conversation cleared: %d turns]", n)))
			return false, nil
		}
	case "save":
		if len(fields) == 1 {
			path, err := c.rt.save(ctx)
			if err != nil {
				return false, err
			}
			c.p.println(CommandStyle.Render("[Saved] ") + path)
			return false, nil
		}
	case "status":
		if len(fields) == 1 {
			c.p.status(c.rt)
			return false, nil
		}
	case "help":
		if len(fields) == 1 {
			c.printHelp()
			return false, nil
		}
	case "verbose":
		if len(fields) == 2 && (fields[1] == "on" || fields[1] == "off") {
			on := fields[1] == "on"
			c.p.setVerbose(on)
			c.p.println(CommandStyle.Render(fmt.Sprintf("[Verbose mode: %s]", strings.ToUpper(fields[1]))))
			return false, nil
		}
	}
	return false, c.turn(ctx, input)
}

// turn runs one question with Ctrl+C wired to cancellation.
func (c *chatSession) turn(ctx context.Context, input string) error {
	turnCtx, stop := c.interrupt(ctx)
	defer stop()

	o, err := c.rt.agent.RunTurn(turnCtx, input)
	if err != nil {
		return err
	}
	c.p.outcome(o, c.rt.agent.Recorder())

	if c.rt.cfg.Session.AutoSave {
		if _, err := c.rt.save(ctx); err != nil {
			c.rt.logger.Warn().Err(err).Msg("auto-save failed")
		}
	}
	return nil
}

// exit saves the session and prints the summary.
func (c *chatSession) exit(ctx context.Context) error {
	path, err := c.rt.save(ctx)
	if err != nil {
		return err
	}
	c.printExitSummary(path)
	return nil
}

// =============================================================================
// DISPLAY
// =============================================================================

func (c *chatSession) printWelcome() {
	cfg := c.rt.cfg
	p := c.p

	p.println()
	p.println(TitleStyle.Render("ragent interactive session"))
	p.println(RenderSeparator(30))
	p.printf("%s %s\n", RenderLabel("Model:"), CommandStyle.Render(cfg.Model.ModelID))
	p.printf("%s %d\n", RenderLabel("Max iterations:"), c.rt.agent.MaxIterations())
	p.printf("%s %s\n", RenderLabel("Verbose:"), onOff(p.isVerbose()))
	if !cfg.ModelConfigured() {
		p.printf("%s %s\n", RenderLabel("Model API:"), WarningStyle.Render("not configured (set MODEL_API_URL, MODEL_API_KEY)"))
	}
	if !cfg.RetrievalConfigured() {
		p.printf("%s %s\n", RenderLabel("Knowledge base:"), WarningStyle.Render("not configured (set KB_API_URL, KB_API_KEY)"))
	}
	if c.rt.resumedFrom != "" {
		p.printf("%s %s (%d turns)\n", RenderLabel("Resumed:"),
			filepath.Base(c.rt.resumedFrom), len(c.rt.agent.History()))
	}
	p.println()
	p.println(InfoStyle.Render("Type your question and press Enter. Commands: help, quit"))
	p.println()
}

func (c *chatSession) printHelp() {
	commands := []struct {
		cmd  string
		desc string
	}{
		{"reset", "Clear the conversation (session cost is kept)"},
		{"save", "Save the session"},
		{"status", "Show session totals and monthly usage"},
		{"verbose on|off", "Toggle per-iteration detail"},
		{"help", "Show this help"},
		{"quit, exit", "Save and exit"},
	}

	c.p.println()
	c.p.println(HeaderStyle.Render("Commands"))
	c.p.println(RenderSeparator(20))
	for _, cmd := range commands {
		c.p.printf("  %s  %s\n", CommandStyle.Render(fmt.Sprintf("%-15s", cmd.cmd)), InfoStyle.Render(cmd.desc))
	}
	c.p.println()
	c.p.println(DimStyle.Render("Ctrl+C cancels the current turn, Ctrl+D saves and exits"))
	c.p.println()
}

func (c *chatSession) printExitSummary(path string) {
	rec := c.rt.agent.Recorder()
	c.p.println()
	if !c.quiet {
		c.p.println(HeaderStyle.Render("Session Summary"))
		c.p.println(RenderSeparator(20))
		c.p.printf("  %s %d\n", RenderLabel("Requests:"), rec.Requests())
		c.p.printf("  %s %s\n", RenderLabel("Tokens:"), cost.FormatTokens(rec.TotalUsage().Total()))
		c.p.printf("  %s %s\n", RenderLabel("Saved to:"), path)
		c.p.println()
	}
	c.p.println(InfoStyle.Render("Goodbye!"))
	c.p.printf("Total session cost: $%.6f\n", rec.TotalCost())
}

func onOff(on bool) string {
	if on {
		return SuccessStyle.Render("ON")
	}
	return DimStyle.Render("OFF")
}
