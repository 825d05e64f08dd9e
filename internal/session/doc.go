// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package session runs conversations: one Session per user, driven by a
// Controller and tracked by a Manager.
//
// # Key Types
//
//   - Session: history plus selected model for one conversation
//   - Controller: classifies inbound events and applies them to a session
//   - Outcome: what an event produced, rendered by Messages
//   - Manager: id-keyed sessions with idle reaping for the HTTP API
//
// # Usage
//
//	ctrl, err := session.NewController(session.Options{
//	    Registry: registry,
//	    Client:   client,
//	})
//	s, welcome := ctrl.Start()
//	out := ctrl.HandleMessage(ctx, s, "model: gemma", nil)
//	for _, msg := range out.Messages() {
//	    fmt.Println(msg)
//	}
//
// # Concurrency
//
// Each Session serializes its own events for the full duration of
// HandleMessage, provider call included. Sessions never share mutable
// state, so different sessions run in parallel. Session state can be read
// (Model, History, Snapshot) while an event is in flight.
package session
