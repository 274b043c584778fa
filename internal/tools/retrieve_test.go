// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package tools

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/ragent/internal/retrieval"
)

// newKB starts a fake knowledge-base API that returns min(k, available)
// documents and counts requests.
func newKB(t *testing.T, available int) (*retrieval.Client, *atomic.Int32, *retrieval.Query) {
	t.Helper()
	var calls atomic.Int32
	var last retrieval.Query

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&last))
		if last.SearchType == "KEYWORD" {
			http.Error(w, `{"detail":"unsupported search_type"}`, http.StatusUnprocessableEntity)
			return
		}
		n := last.K
		if n > available {
			n = available
		}
		docs := make([]retrieval.Document, n)
		for i := range docs {
			docs[i] = retrieval.Document{Rank: 100 + i, Text: "passage", Score: 1 / float64(i+1)}
		}
		json.NewEncoder(w).Encode(retrieval.Response{Status: "success", Results: docs, ResultsCount: n})
	}))
	t.Cleanup(server.Close)

	return retrieval.NewClient(server.URL, "key").WithRateLimit(0, 0), &calls, &last
}

func runRetrieve(t *testing.T, tool *Retrieve, input string) (any, error) {
	t.Helper()
	args, err := tool.Validate(json.RawMessage(input))
	if err != nil {
		return nil, err
	}
	return tool.Execute(context.Background(), args)
}

func TestRetrieve_RequestsExactlyK(t *testing.T) {
	client, calls, last := newKB(t, 100)
	tool := NewRetrieve(client, DefaultK, "HYBRID")

	out, err := runRetrieve(t, tool, `{"query":"Tesla revenue 2023","k":10}`)
	require.NoError(t, err)

	res := out.(RetrieveOutput)
	assert.Equal(t, int32(1), calls.Load())
	assert.Equal(t, 10, last.K)
	assert.Equal(t, 10, res.ResultsCount)
	assert.Len(t, res.Results, 10)
	for i, d := range res.Results {
		assert.Equal(t, i+1, d.Rank, "ranks are renumbered")
	}
	assert.Nil(t, res.CompanyFilter)
}

func TestRetrieve_FewerThanK(t *testing.T) {
	client, _, _ := newKB(t, 3)
	out, err := runRetrieve(t, NewRetrieve(client, DefaultK, "HYBRID"), `{"query":"q"}`)
	require.NoError(t, err)
	assert.Equal(t, 3, out.(RetrieveOutput).ResultsCount)
}

func TestRetrieve_RejectsKOutOfRangeLocally(t *testing.T) {
	client, calls, _ := newKB(t, 100)
	tool := NewRetrieve(client, DefaultK, "HYBRID")

	for _, input := range []string{`{"query":"q","k":51}`, `{"query":"q","k":0}`, `{"query":"q","k":"ten"}`, `{"query":"q","k":10.5}`} {
		_, err := runRetrieve(t, tool, input)
		var vErr *ValidationError
		require.ErrorAs(t, err, &vErr, input)
		assert.Equal(t, "k", vErr.Field)
	}
	assert.Equal(t, int32(0), calls.Load(), "no network call for invalid k")
}

func TestRetrieve_AcceptsWholeNumberFloats(t *testing.T) {
	client, calls, last := newKB(t, 100)
	tool := NewRetrieve(client, DefaultK, "HYBRID")

	for _, input := range []string{`{"query":"q","k":10.0}`, `{"query":"q","k":1e1}`} {
		out, err := runRetrieve(t, tool, input)
		require.NoError(t, err, input)
		assert.Equal(t, 10, last.K)
		assert.Equal(t, 10, out.(RetrieveOutput).K)
	}
	assert.Equal(t, int32(2), calls.Load())
}

func TestRetrieve_DefaultsAndNormalisation(t *testing.T) {
	client, _, last := newKB(t, 5)
	tool := NewRetrieve(client, 7, "semantic")

	out, err := runRetrieve(t, tool, `{"query":"  margins ","search_type":"hybrid","company_name":" Acme "}`)
	require.NoError(t, err)

	assert.Equal(t, retrieval.Query{Query: "margins", K: 7, SearchType: "HYBRID", CompanyName: "Acme"}, *last)
	res := out.(RetrieveOutput)
	require.NotNil(t, res.CompanyFilter)
	assert.Equal(t, "Acme", *res.CompanyFilter)
}

func TestRetrieve_BackendRejectsSearchType(t *testing.T) {
	client, calls, _ := newKB(t, 5)
	_, err := runRetrieve(t, NewRetrieve(client, DefaultK, "HYBRID"), `{"query":"q","search_type":"keyword"}`)
	require.Error(t, err)
	assert.Equal(t, int32(1), calls.Load(), "search type is validated by the backend")
	assert.Contains(t, err.Error(), "API error: 422")
}

func TestRetrieve_NotConfigured(t *testing.T) {
	_, err := runRetrieve(t, NewRetrieve(retrieval.NewClient("", ""), DefaultK, ""), `{"query":"q"}`)
	assert.ErrorIs(t, err, retrieval.ErrNotConfigured)

	_, err = runRetrieve(t, NewRetrieve(nil, DefaultK, ""), `{"query":"q"}`)
	assert.ErrorIs(t, err, retrieval.ErrNotConfigured)
}
