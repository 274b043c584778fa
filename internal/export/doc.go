// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package export renders saved sessions as Markdown transcripts or JSON.
//
// # Usage
//
//	exp, err := export.New("markdown", export.DefaultOptions())
//	path, err := export.ExportToFile(rec, exp, opts)
package export
