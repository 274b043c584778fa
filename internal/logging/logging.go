// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package logging builds the zerolog logger shared by ragent components.
//
// Diagnostics go to stderr so they never interleave with answers on stdout.
// Components take a zerolog.Logger in their constructor and add their own
// "component" field.
package logging

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Options configures New.
type Options struct {
	Level   string    // trace, debug, info, warn, error, disabled
	JSON    bool      // structured output instead of the console writer
	NoColor bool      // disable ANSI colours in console output
	Out     io.Writer // defaults to os.Stderr
}

// ParseLevel maps a level name to a zerolog level. Empty means warn.
func ParseLevel(name string) (zerolog.Level, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		return zerolog.WarnLevel, nil
	}
	if name == "disabled" || name == "off" {
		return zerolog.Disabled, nil
	}
	lvl, err := zerolog.ParseLevel(name)
	if err != nil {
		return zerolog.NoLevel, fmt.Errorf("unknown log level %q", name)
	}
	return lvl, nil
}

// New returns a logger for the given options.
func New(opts Options) (zerolog.Logger, error) {
	lvl, err := ParseLevel(opts.Level)
	if err != nil {
		return zerolog.Nop(), err
	}

	out := opts.Out
	if out == nil {
		out = os.Stderr
	}
	if !opts.JSON {
		out = zerolog.ConsoleWriter{
			Out:        out,
			NoColor:    opts.NoColor,
			TimeFormat: time.TimeOnly,
		}
	}

	return zerolog.New(out).Level(lvl).With().Timestamp().Logger(), nil
}
