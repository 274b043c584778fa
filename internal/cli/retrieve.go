// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// retrieve.go - Standalone knowledge base search.
//
// Examples:
//   ragent retrieve "quarterly revenue"
//   ragent retrieve -k 5 --company Acme --search-type semantic "net margin"
//   ragent retrieve --save "risk factors"      Write retrieval_<ts>.json
//   ragent retrieve --json "risk factors"      Print the raw response

package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/jeranaias/ragent/internal/retrieval"
	"github.com/jeranaias/ragent/internal/tools"
	"github.com/jeranaias/ragent/internal/util"
)

type retrieveOptions struct {
	k          int
	kSet       bool
	searchType string
	company    string
	save       bool
	json       bool
	dir        string
}

func newRetrieveCommand(a *app) *cobra.Command {
	var opts retrieveOptions
	cmd := &cobra.Command{
		Use:   "retrieve QUERY",
		Short: "Search the knowledge base directly",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.kSet = cmd.Flags().Changed("top-k")
			return runRetrieve(cmd.Context(), a, strings.Join(args, " "), opts)
		},
	}
	cmd.Flags().IntVarP(&opts.k, "top-k", "k", tools.DefaultK, "number of results (1-50)")
	cmd.Flags().StringVarP(&opts.searchType, "search-type", "t", "", "HYBRID, SEMANTIC or KEYWORD (default from config)")
	cmd.Flags().StringVar(&opts.company, "company", "", "filter by company name")
	cmd.Flags().BoolVarP(&opts.save, "save", "s", false, "write the results to a timestamped JSON file")
	cmd.Flags().BoolVar(&opts.json, "json", false, "print the response as JSON")
	cmd.Flags().StringVar(&opts.dir, "dir", "", "directory for --save (default retrieval.results_dir)")
	return cmd
}

// runRetrieve goes through the retrieve_documents tool so the command and
// the agent validate input the same way.
func runRetrieve(ctx context.Context, a *app, query string, opts retrieveOptions) error {
	search := newSearchClient(a.cfg, a.logger)
	if !search.IsConfigured() {
		return retrieval.ErrNotConfigured
	}
	tool := tools.NewRetrieve(search, a.cfg.Retrieval.DefaultK, a.cfg.Retrieval.SearchType)

	input := map[string]any{"query": query}
	if opts.kSet {
		input["k"] = opts.k
	}
	if opts.searchType != "" {
		input["search_type"] = opts.searchType
	}
	if opts.company != "" {
		input["company_name"] = opts.company
	}
	raw, err := json.Marshal(input)
	if err != nil {
		return err
	}

	args, err := tool.Validate(raw)
	if err != nil {
		return err
	}
	res, err := tool.Execute(ctx, args)
	if err != nil {
		return fmt.Errorf("search failed: %w", err)
	}
	out, ok := res.(tools.RetrieveOutput)
	if !ok {
		return fmt.Errorf("unexpected search output %T", res)
	}

	p := newPrinter(a.out, false, false, false)
	if opts.json {
		data, err := json.MarshalIndent(out, "", "  ")
		if err != nil {
			return err
		}
		p.println(string(data))
	} else {
		printResults(p, out)
	}

	if opts.save {
		dir := opts.dir
		if dir == "" {
			dir = a.cfg.Retrieval.ResultsDir
		}
		q := retrieval.Query{Query: out.Query, K: out.K, SearchType: out.SearchType, CompanyName: opts.company}
		path, err := retrieval.SaveResults(dir, q, &retrieval.Response{
			Status:       out.Status,
			Query:        out.Query,
			SearchType:   out.SearchType,
			K:            out.K,
			ResultsCount: out.ResultsCount,
			Results:      out.Results,
		}, time.Now().UTC())
		if err != nil {
			return err
		}
		p.printf("%s %s\n", SuccessStyle.Render("[Saved]"), path)
	}
	return nil
}

func printResults(p *printer, out tools.RetrieveOutput) {
	p.println()
	p.printf("%s %s\n", HeaderStyle.Render("Query:"), out.Query)
	meta := fmt.Sprintf("%s, k=%d, %d results", out.SearchType, out.K, out.ResultsCount)
	if out.CompanyFilter != nil {
		meta += ", company=" + *out.CompanyFilter
	}
	p.println(DimStyle.Render(meta))
	p.println(RenderSeparator())

	width := GetTerminalWidth() - 8
	for _, d := range out.Results {
		p.printf("%s %s\n",
			CommandStyle.Render(fmt.Sprintf("#%d", d.Rank)),
			DimStyle.Render(fmt.Sprintf("score %.4f", d.Score)))
		p.printf("   %s\n", util.TruncateWidth(util.OneLine(d.Text), width))
		if len(d.Metadata) > 0 {
			if data, err := json.Marshal(d.Metadata); err == nil {
				p.printf("   %s\n", DimStyle.Render(util.TruncateWidth(string(data), width)))
			}
		}
	}
	p.println()
}
