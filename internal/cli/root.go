// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/jeranaias/ragent/internal/config"
	"github.com/jeranaias/ragent/internal/logging"
)

// Build information, set by main.
var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

// ErrModelNotConfigured is returned by commands that need the inference
// service when MODEL_API_URL or MODEL_API_KEY is missing.
var ErrModelNotConfigured = errors.New("model API not configured: set MODEL_API_URL and MODEL_API_KEY")

// globalOptions are the persistent flags shared by every command.
type globalOptions struct {
	configPath string
	envFile    string
	logLevel   string
	logJSON    bool
}

// app carries what PersistentPreRunE prepared for the subcommands.
type app struct {
	opts   globalOptions
	cfg    *config.Config
	logger zerolog.Logger
	out    io.Writer
	errOut io.Writer
}

// NewRootCommand builds the command tree.
func NewRootCommand() *cobra.Command {
	a := &app{logger: zerolog.Nop()}

	root := &cobra.Command{
		Use:   "ragent",
		Short: "Retrieval-augmented agent with a budget cap",
		Long: `ragent is an interactive assistant that answers questions with two tools:
a calculator and a knowledge-base search. Every model call is priced and
checked against the monthly budget reported by the inference service.

Credentials come from the environment or a .env file:
  MODEL_API_URL, MODEL_API_KEY   inference service
  KB_API_URL, KB_API_KEY         knowledge base search`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			a.out = cmd.OutOrStdout()
			a.errOut = cmd.ErrOrStderr()
			return a.setup()
		},
	}

	flags := root.PersistentFlags()
	flags.StringVarP(&a.opts.configPath, "config", "c", "", "config file (default ~/.ragent/config.toml)")
	flags.StringVar(&a.opts.envFile, "env-file", "", "env file with credentials (default ./.env)")
	flags.StringVar(&a.opts.logLevel, "log-level", "", "log level: trace, debug, info, warn, error, disabled")
	flags.BoolVar(&a.opts.logJSON, "log-json", false, "write logs as JSON")

	root.AddCommand(
		newChatCommand(a),
		newAskCommand(a),
		newRetrieveCommand(a),
		newSessionsCommand(a),
		newExportCommand(a),
		newVersionCommand(a),
	)
	return root
}

// Execute runs the root command and returns the process exit code.
func Execute() int {
	root := NewRootCommand()
	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "%s %v\n", ErrorStyle.Render("Error:"), err)
		return 1
	}
	return 0
}

// setup loads configuration and builds the logger.
func (a *app) setup() error {
	cfg, err := config.Load(config.Options{
		ConfigPath: a.opts.configPath,
		EnvFile:    a.opts.envFile,
	})
	if err != nil {
		return err
	}
	if a.opts.logLevel != "" {
		cfg.Log.Level = a.opts.logLevel
	}
	if a.opts.logJSON {
		cfg.Log.JSON = true
	}

	logger, err := logging.New(logging.Options{
		Level:   cfg.Log.Level,
		JSON:    cfg.Log.JSON,
		NoColor: !ColorsEnabled(),
		Out:     a.errOut,
	})
	if err != nil {
		return err
	}

	for _, key := range cfg.Unknown {
		logger.Warn().Str("key", key).Msg("unknown config key ignored")
	}

	a.cfg = cfg
	a.logger = logger
	return nil
}
