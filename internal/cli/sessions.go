// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"encoding/json"
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/jeranaias/ragent/internal/cost"
	"github.com/jeranaias/ragent/internal/session"
	"github.com/jeranaias/ragent/internal/util"
)

type sessionsOptions struct {
	limit int
	json  bool
}

func newSessionsCommand(a *app) *cobra.Command {
	var opts sessionsOptions
	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "List saved sessions",
		Long: `List saved sessions, most recent first.

Resume one with: ragent chat --resume <id prefix>`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			store, err := session.OpenStore(a.cfg.Session.Dir)
			if err != nil {
				return err
			}
			defer store.Close()

			list, err := store.List(cmd.Context(), opts.limit)
			if err != nil {
				return err
			}
			if opts.json {
				data, err := json.MarshalIndent(list, "", "  ")
				if err != nil {
					return err
				}
				fmt.Fprintln(a.out, string(data))
				return nil
			}
			printSessions(newPrinter(a.out, false, false, false), store.Dir(), list)
			return nil
		},
	}
	cmd.Flags().IntVarP(&opts.limit, "limit", "n", session.DefaultListLimit, "maximum sessions to list")
	cmd.Flags().BoolVar(&opts.json, "json", false, "print as JSON")
	return cmd
}

func printSessions(p *printer, dir string, list []session.Summary) {
	if len(list) == 0 {
		p.println(DimStyle.Render("No saved sessions in " + dir))
		return
	}

	p.println()
	p.printf("%s %s\n", HeaderStyle.Render("Sessions"), DimStyle.Render(dir))
	p.println(RenderSeparator())
	for _, s := range list {
		id := s.SessionID
		if len(id) > 8 {
			id = id[:8]
		}
		p.printf("%s  %s  %s  %s\n",
			CommandStyle.Render(id),
			s.SavedAt.Local().Format("2006-01-02 15:04"),
			ValueStyle.Render(fmt.Sprintf("%3d turns %3d req", s.Turns, s.TotalRequests)),
			CommandStyle.Render(cost.FormatUSD(s.SessionCost)))
		if s.Preview != "" {
			p.printf("          %s\n", DimStyle.Render(util.TruncateWidth(s.Preview, GetTerminalWidth()-12)))
		}
		p.printf("          %s\n", DimStyle.Render(filepath.Base(s.Path)))
	}
	p.println()
}
