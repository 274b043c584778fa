// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package cli is the ragent command tree and interactive console.
//
// # Usage
//
//	os.Exit(cli.Execute())
//
// # Commands
//
//   - chat: interactive session (liner line editing, Ctrl+C cancels a turn)
//   - ask: one question, answer, save
//   - retrieve: direct knowledge base search, optionally saved to JSON
//   - sessions: saved sessions from the session index
//   - export: a saved session as Markdown or JSON
//   - version: build information
//
// Every command loads configuration in the root's PersistentPreRunE:
// defaults, then ~/.ragent/config.toml, then .env, then the environment.
package cli
