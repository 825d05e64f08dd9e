// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package model contains the data structures for conversations and models.
//
// This package defines the core domain types shared by the session
// controller, the command router and the completion client.
//
// # Key Types
//
//   - Turn: one dialogue message tagged with its Role
//   - Conversation: ordered turn log that always keeps its system turn
//   - Registry: immutable, ordered set of models with fuzzy resolution
//
// # Usage
//
// Start a conversation and bound its size:
//
//	conv := model.NewConversation(model.DefaultSystemPrompt)
//	conv.Append(model.NewUserTurn("Hello!"))
//	conv.Truncate(model.DefaultHistoryCap)
//
// Resolve a model from user input:
//
//	reg := model.DefaultRegistry()
//	info, ok := reg.Resolve("gemma")
package model
