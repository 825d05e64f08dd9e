// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package cli implements the rigrun-chat command line.
//
// # Commands
//
//	rigrun-chat [chat]     interactive chat (the default)
//	rigrun-chat serve      HTTP JSON API over the session manager
//	rigrun-chat models     list the model registry
//	rigrun-chat config     init | show | path
//
// Every command except "config init" and "config path" loads the config
// file first (see package config) and builds a zap logger from its [log]
// section. Logs go to stderr so chat output on stdout stays clean.
//
// # Chat
//
// The REPL reads lines with liner (history in ~/.rigrun-chat/chat_history)
// when stdin is a terminal, and plain lines otherwise. Replies are rendered
// as markdown with glamour only when stdout is a terminal. Slash commands
// never reach the session:
//
//	/attach <path>   queue a file for the next message
//	/models          list models, marking the current one
//	/help            show help
//	/quit            exit
//
// Ctrl+C while a reply is pending cancels that request only.
package cli
