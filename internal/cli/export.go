// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jeranaias/ragent/internal/export"
	"github.com/jeranaias/ragent/internal/session"
)

type exportOptions struct {
	format string
	outDir string
	noLogs bool
}

func newExportCommand(a *app) *cobra.Command {
	var opts exportOptions
	cmd := &cobra.Command{
		Use:   "export SESSION",
		Short: "Export a saved session as a Markdown transcript or JSON",
		Long: `Export a saved session. SESSION is a file path, a file name in the
sessions directory, or a session id prefix as shown by "ragent sessions".`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			eopts := &export.Options{
				OutputDir:       opts.outDir,
				IncludeMetadata: true,
				IncludeLogs:     !opts.noLogs,
			}
			exp, err := export.New(opts.format, eopts)
			if err != nil {
				return err
			}

			store, err := session.OpenStore(a.cfg.Session.Dir)
			if err != nil {
				return err
			}
			defer store.Close()

			path, err := store.Resolve(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			rec, err := session.Load(path)
			if err != nil {
				return err
			}

			out, err := export.ExportToFile(rec, exp, eopts)
			if err != nil {
				return err
			}
			fmt.Fprintf(a.out, "%s %s\n", SuccessStyle.Render("[Exported]"), out)
			return nil
		},
	}
	cmd.Flags().StringVarP(&opts.format, "format", "f", "markdown", "output format: "+strings.Join(export.Formats, ", "))
	cmd.Flags().StringVarP(&opts.outDir, "output", "o", ".", "output directory")
	cmd.Flags().BoolVar(&opts.noLogs, "no-logs", false, "omit the iteration table")
	return cmd
}
