// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package config provides configuration loading and management for rigrun-chat.
//
// # Key Types
//
//   - Config: main configuration structure
//   - CloudConfig: provider key, base URL, attribution headers, timeout
//   - HistoryConfig, SessionConfig: history cap and session lifetime
//   - ServerConfig: HTTP API address, rate limits, body cap, auth token
//   - ValidateErrors: every validation problem found, joined
//
// # Configuration Precedence
//
// Configuration is assembled from (highest precedence first):
//   - Environment variables (RIGRUN_CHAT_*, OPENROUTER_API_KEY)
//   - ~/.rigrun-chat/config.toml, or the file named by --config
//   - Built-in defaults
//
// # Usage
//
//	cfg, err := config.Load("")
//	if err != nil {
//	    return err
//	}
//	registry, err := cfg.Registry()
//
// Config values are not mutated after Load; share them freely.
package config
