// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package config loads ragent configuration.
//
// # Configuration Precedence
//
// Later sources override earlier ones:
//   - Built-in defaults
//   - ~/.ragent/config.toml (or the file given with --config)
//   - .env in the working directory (or the file given with --env-file)
//   - Process environment: MODEL_API_URL, MODEL_API_KEY, KB_API_URL,
//     KB_API_KEY and RAGENT_*
//
// # Usage
//
//	cfg, err := config.Load(config.Options{})
//	if err != nil {
//	    return err
//	}
//	client := cloud.NewClient(cfg.Model.APIURL, cfg.Model.APIKey)
package config
