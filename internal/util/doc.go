// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package util holds small helpers shared across packages.
//
// String helpers are rune- and width-aware so terminal output and error
// details never split a multi-byte character. AtomicWriteFile is used for
// the config file.
package util
