// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// ask.go - One-shot question.
//
// Examples:
//   ragent ask "What is 15% of 2,340?"
//   ragent ask --verbose "Summarise Acme's 2023 revenue"

package cli

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/jeranaias/ragent/internal/agent"
)

// ErrTurnFailed is returned by ask when the turn ends in Failed or
// Cancelled, so the process exits non-zero.
var ErrTurnFailed = errors.New("turn did not complete")

type askOptions struct {
	verbose bool
	quiet   bool
	noSave  bool
}

func newAskCommand(a *app) *cobra.Command {
	var opts askOptions
	cmd := &cobra.Command{
		Use:   "ask QUESTION",
		Short: "Ask one question, print the answer and save the session",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !a.cfg.ModelConfigured() {
				return ErrModelNotConfigured
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runAsk(ctx, a, strings.Join(args, " "), opts)
		},
	}
	cmd.Flags().BoolVarP(&opts.verbose, "verbose", "v", false, "show per-iteration detail")
	cmd.Flags().BoolVarP(&opts.quiet, "quiet", "q", false, "print the answer only")
	cmd.Flags().BoolVar(&opts.noSave, "no-save", false, "do not write a session file")
	return cmd
}

func runAsk(ctx context.Context, a *app, question string, opts askOptions) error {
	rt, err := newRuntime(ctx, a.cfg, a.logger, "")
	if err != nil {
		return err
	}
	defer rt.Close()

	p := newPrinter(a.out, opts.verbose, opts.quiet, a.cfg.UI.Markdown)
	rt.agent.SetObserver(p.observe)

	o, err := rt.agent.RunTurn(ctx, question)
	if err != nil {
		return err
	}
	p.outcome(o, rt.agent.Recorder())

	if !opts.noSave {
		path, err := rt.save(context.WithoutCancel(ctx))
		if err != nil {
			return err
		}
		if !opts.quiet {
			p.printf("%s %s\n", DimStyle.Render("Saved to"), path)
		}
	}

	if o.State == agent.StateFailed || o.State == agent.StateCancelled {
		return ErrTurnFailed
	}
	return nil
}
