// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package export

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jeranaias/ragent/internal/session"
	"github.com/jeranaias/ragent/internal/util"
)

// =============================================================================
// EXPORT INTERFACE
// =============================================================================

// ErrUnknownFormat is returned by New for an unsupported format name.
var ErrUnknownFormat = errors.New("unknown export format")

// Exporter converts a session record to one output format.
type Exporter interface {
	Export(rec *session.Record) ([]byte, error)

	// FileExtension includes the dot, e.g. ".md".
	FileExtension() string
}

// =============================================================================
// EXPORT OPTIONS
// =============================================================================

// Options configures export behavior.
type Options struct {
	// OutputDir is where ExportToFile writes. Default: current directory.
	OutputDir string

	// IncludeMetadata adds the front matter and session summary.
	IncludeMetadata bool

	// IncludeLogs adds the per-iteration log table.
	IncludeLogs bool
}

// DefaultOptions returns default export options.
func DefaultOptions() *Options {
	return &Options{
		OutputDir:       ".",
		IncludeMetadata: true,
		IncludeLogs:     true,
	}
}

// Formats lists the names New accepts.
var Formats = []string{"markdown", "md", "json"}

// New returns the exporter for format.
func New(format string, opts *Options) (Exporter, error) {
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "markdown", "md", "":
		return NewMarkdownExporter(opts), nil
	case "json":
		return JSONExporter{}, nil
	default:
		return nil, fmt.Errorf("%w: %q (use markdown or json)", ErrUnknownFormat, format)
	}
}

// =============================================================================
// EXPORT FUNCTIONS
// =============================================================================

// ExportToFile writes rec with exporter into opts.OutputDir and returns the
// path. The name follows the session file name with the exporter's
// extension, so re-exporting one session overwrites the same file.
func ExportToFile(rec *session.Record, exporter Exporter, opts *Options) (string, error) {
	if opts == nil {
		opts = DefaultOptions()
	}
	if rec == nil {
		return "", errors.New("session record is nil")
	}

	content, err := exporter.Export(rec)
	if err != nil {
		return "", fmt.Errorf("export failed: %w", err)
	}

	dir := opts.OutputDir
	if dir == "" {
		dir = "."
	}
	if err := os.MkdirAll(dir, 0700); err != nil {
		return "", fmt.Errorf("create output directory: %w", err)
	}

	name := strings.TrimSuffix(rec.FileName(), filepath.Ext(rec.FileName())) + exporter.FileExtension()
	path := filepath.Join(dir, name)
	if err := util.AtomicWriteFile(path, content, 0600); err != nil {
		return "", err
	}
	return path, nil
}

// =============================================================================
// JSON
// =============================================================================

// JSONExporter writes the record in the session file format.
type JSONExporter struct{}

// Export implements Exporter.
func (JSONExporter) Export(rec *session.Record) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(rec); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// FileExtension implements Exporter.
func (JSONExporter) FileExtension() string { return ".json" }

// =============================================================================
// HELPER FUNCTIONS
// =============================================================================

// formatDuration formats milliseconds for display.
func formatDuration(ms int64) string {
	if ms < 1000 {
		return fmt.Sprintf("%dms", ms)
	}
	seconds := float64(ms) / 1000.0
	if seconds < 60 {
		return fmt.Sprintf("%.2fs", seconds)
	}
	minutes := int(seconds / 60)
	return fmt.Sprintf("%dm %ds", minutes, int(seconds)%60)
}

func formatTimestamp(t time.Time) string {
	return t.Format("2006-01-02 15:04:05 MST")
}
