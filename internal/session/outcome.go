// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package session

import (
	"errors"
	"fmt"

	"github.com/jeranaias/rigrun-chat/internal/cloud"
	"github.com/jeranaias/rigrun-chat/internal/model"
)

// WelcomeMessage is sent once when a session starts.
const WelcomeMessage = "Welcome To ChatBot🔥\n\nI'm your AI assistant. How can I help you today?"

// OutcomeKind says what handling an inbound event produced.
type OutcomeKind int

const (
	// OutcomeNoOp means the event was empty.
	OutcomeNoOp OutcomeKind = iota
	// OutcomeModelChanged means the session switched models.
	OutcomeModelChanged
	// OutcomeModelNotFound means a model command matched nothing.
	OutcomeModelNotFound
	// OutcomeReply means the assistant answered.
	OutcomeReply
	// OutcomeFailure means the completion call failed.
	OutcomeFailure
	// OutcomeAcknowledged means only non-textual attachments arrived.
	OutcomeAcknowledged
)

// String returns the kind's wire name.
func (k OutcomeKind) String() string {
	switch k {
	case OutcomeNoOp:
		return "no_op"
	case OutcomeModelChanged:
		return "model_changed"
	case OutcomeModelNotFound:
		return "model_not_found"
	case OutcomeReply:
		return "reply"
	case OutcomeFailure:
		return "failure"
	case OutcomeAcknowledged:
		return "acknowledged"
	default:
		return fmt.Sprintf("outcome(%d)", int(k))
	}
}

// Outcome is the result of one HandleMessage call.
type Outcome struct {
	Kind OutcomeKind

	// Acknowledgements are attachment notices, in attachment order.
	Acknowledgements []string

	// Model is the newly selected model for OutcomeModelChanged.
	Model model.Info

	// Query and Available describe OutcomeModelNotFound.
	Query     string
	Available string

	// Reply is the assistant text for OutcomeReply.
	Reply string

	// Err is the completion failure for OutcomeFailure.
	Err error
}

// Messages renders the outbound text for the outcome: acknowledgements
// first, then the main message. NoOp renders nothing.
func (o Outcome) Messages() []string {
	out := make([]string, 0, len(o.Acknowledgements)+1)
	out = append(out, o.Acknowledgements...)

	switch o.Kind {
	case OutcomeModelChanged:
		out = append(out, fmt.Sprintf("Model changed to: %s (%s)", o.Model.Name, o.Model.ID))
	case OutcomeModelNotFound:
		out = append(out, fmt.Sprintf("Model '%s' not found. Available models: %s", o.Query, o.Available))
	case OutcomeReply:
		out = append(out, o.Reply)
	case OutcomeFailure:
		out = append(out, FailureMessage(o.Err))
	}
	return out
}

// FailureMessage renders a completion failure as user-facing text.
func FailureMessage(err error) string {
	var cerr *cloud.CompletionError
	if !errors.As(err, &cerr) {
		if err == nil {
			return "❌ An error occurred"
		}
		return "❌ An error occurred: " + err.Error()
	}

	switch cerr.Kind {
	case cloud.KindUnauthorized:
		return "❌ Error: Unauthorized - Please check your API key configuration"
	case cloud.KindForbidden:
		return "❌ Error: Access forbidden - Your API key may not have access to this model"
	case cloud.KindRateLimited:
		return "❌ Error: Rate limit exceeded - Too many requests"
	case cloud.KindHTTPError:
		return fmt.Sprintf("❌ HTTP Error: %d %s", cerr.Status, cerr.Detail)
	case cloud.KindTransportError:
		return "❌ Request error: " + cerr.Detail
	default:
		return "❌ An error occurred: " + cerr.Detail
	}
}

func textAck(name string) string {
	return fmt.Sprintf("File '%s' uploaded and processed. I've analyzed its content and am ready to discuss it.", name)
}

func otherAck(name string) string {
	return fmt.Sprintf("File '%s' uploaded. (Note: I can only analyze text files directly)", name)
}
