// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package retrieval

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"time"

	"github.com/jeranaias/ragent/internal/util"
)

// Rerank renumbers documents 1..n in their current order.
func Rerank(docs []Document) []Document {
	out := make([]Document, len(docs))
	for i, d := range docs {
		d.Rank = i + 1
		out[i] = d
	}
	return out
}

// SavedResults is the file written by SaveResults.
type SavedResults struct {
	SavedAt  time.Time `json:"saved_at"`
	Request  Query     `json:"request"`
	Response *Response `json:"response"`
}

// SaveResults writes a search response to dir as
// retrieval_<YYYYMMDD_HHMMSS>.json and returns the path.
func SaveResults(dir string, q Query, resp *Response, now time.Time) (string, error) {
	data, err := json.MarshalIndent(SavedResults{SavedAt: now, Request: q, Response: resp}, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal results: %w", err)
	}

	path := filepath.Join(dir, fmt.Sprintf("retrieval_%s.json", now.Format("20060102_150405")))
	if err := util.AtomicWriteFile(path, data, 0600); err != nil {
		return "", err
	}
	return path, nil
}
