// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package commands classifies inbound user input before it reaches a session.
//
// Every inbound event (text plus optional attachments) is turned into an
// ordered list of Classification values. Detection is kept apart from side
// effects: the session controller decides what each classification does.
//
// # Classifications
//
//   - KindModelSwitch: "model: <query>" switches the session's model
//   - KindAttachmentTurn: a text/* attachment embedded into a user turn
//   - KindAttachmentAcknowledged: any other attachment, acknowledged only
//   - KindContentTurn: ordinary chat text
//   - KindEmpty: nothing to do
//
// # Usage
//
//	router := commands.NewRouter()
//	for _, c := range router.Classify(input, attachments) {
//	    switch c.Kind {
//	    case commands.KindModelSwitch:
//	        // resolve c.Query
//	    }
//	}
//
// Front ends also use ParseCommand for their own slash commands (/attach,
// /help, /quit), which never reach a session.
package commands
