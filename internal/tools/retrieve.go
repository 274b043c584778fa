// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/jeranaias/ragent/internal/retrieval"
)

const (
	DefaultK = 10
	MinK     = 1
	MaxK     = 50
)

// Searcher is the retrieval backend. *retrieval.Client implements it.
type Searcher interface {
	IsConfigured() bool
	Search(ctx context.Context, q retrieval.Query) (*retrieval.Response, error)
}

// RetrieveInput is the validated retrieve_documents input.
type RetrieveInput struct {
	Query       string `json:"query" validate:"required"`
	K           Int    `json:"k" validate:"gte=1,lte=50"`
	SearchType  string `json:"search_type" validate:"required"`
	CompanyName string `json:"company_name"`
}

// RetrieveOutput is returned on success.
type RetrieveOutput struct {
	Status        string               `json:"status"`
	Query         string               `json:"query"`
	SearchType    string               `json:"search_type"`
	K             int                  `json:"k"`
	CompanyFilter *string              `json:"company_filter"`
	ResultsCount  int                  `json:"results_count"`
	Results       []retrieval.Document `json:"results"`
}

// Retrieve searches the knowledge base.
type Retrieve struct {
	searcher          Searcher
	defaultK          int
	defaultSearchType string
}

// NewRetrieve creates the retrieve_documents tool.
func NewRetrieve(searcher Searcher, defaultK int, defaultSearchType string) *Retrieve {
	if defaultK < MinK || defaultK > MaxK {
		defaultK = DefaultK
	}
	defaultSearchType = strings.ToUpper(strings.TrimSpace(defaultSearchType))
	if defaultSearchType == "" {
		defaultSearchType = retrieval.SearchHybrid
	}
	return &Retrieve{searcher: searcher, defaultK: defaultK, defaultSearchType: defaultSearchType}
}

// Definition implements Tool.
func (r *Retrieve) Definition() Definition {
	return Definition{
		Name: NameRetrieveDocuments,
		Description: "Search the document knowledge base (company filings, reports) and return " +
			"the most relevant passages with scores and metadata.",
		Schema: Schema{Parameters: []Parameter{
			{Name: "query", Type: "string", Required: true,
				Description: "Natural-language search query"},
			{Name: "k", Type: "integer", Default: r.defaultK, Minimum: bound(MinK), Maximum: bound(MaxK),
				Description: "Number of passages to return"},
			{Name: "search_type", Type: "string", Default: r.defaultSearchType, Enum: retrieval.SearchTypes,
				Description: "HYBRID (keyword + semantic), SEMANTIC or KEYWORD"},
			{Name: "company_name", Type: "string",
				Description: "Optional company name to filter results"},
		}},
	}
}

// Validate implements Tool. The search type is only normalised here; the
// backend decides which types it supports.
func (r *Retrieve) Validate(raw json.RawMessage) (any, error) {
	in := RetrieveInput{K: Int(r.defaultK), SearchType: r.defaultSearchType}
	if err := decodeInput(NameRetrieveDocuments, raw, &in); err != nil {
		return nil, err
	}
	in.Query = strings.TrimSpace(in.Query)
	if in.Query == "" {
		return nil, &ValidationError{Tool: NameRetrieveDocuments, Field: "query", Message: "missing required argument"}
	}
	in.SearchType = strings.ToUpper(strings.TrimSpace(in.SearchType))
	in.CompanyName = strings.TrimSpace(in.CompanyName)
	return in, nil
}

// Execute implements Tool.
func (r *Retrieve) Execute(ctx context.Context, args any) (any, error) {
	in, ok := args.(RetrieveInput)
	if !ok {
		return nil, fmt.Errorf("retrieve_documents: unexpected input type %T", args)
	}
	if r.searcher == nil || !r.searcher.IsConfigured() {
		return nil, retrieval.ErrNotConfigured
	}

	resp, err := r.searcher.Search(ctx, retrieval.Query{
		Query:       in.Query,
		K:           int(in.K),
		SearchType:  in.SearchType,
		CompanyName: in.CompanyName,
	})
	if err != nil {
		return nil, err
	}

	results := retrieval.Rerank(resp.Results)
	var company *string
	if in.CompanyName != "" {
		company = &in.CompanyName
	}

	return RetrieveOutput{
		Status:        "success",
		Query:         in.Query,
		SearchType:    in.SearchType,
		K:             int(in.K),
		CompanyFilter: company,
		ResultsCount:  len(results),
		Results:       results,
	}, nil
}
