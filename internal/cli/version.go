// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"
)

func newVersionCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			fmt.Fprintf(a.out, "ragent %s (%s, %s/%s)\n", Version, runtime.Version(), runtime.GOOS, runtime.GOARCH)
			fmt.Fprintf(a.out, "%s %s\n", RenderLabel("Commit:"), GitCommit)
			fmt.Fprintf(a.out, "%s %s\n", RenderLabel("Built:"), BuildDate)
			fmt.Fprintf(a.out, "%s %s\n", RenderLabel("Model:"), a.cfg.Model.ModelID)
			fmt.Fprintf(a.out, "%s %s\n", RenderLabel("Sessions:"), a.cfg.Session.Dir)
			return nil
		},
	}
}
