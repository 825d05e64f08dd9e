// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package commands

import (
	"fmt"
	"strings"
	"unicode"
)

// ModelCommandPrefix starts a model-switch command. Matching is
// case-insensitive and ignores surrounding whitespace.
const ModelCommandPrefix = "model:"

// textFileTemplate wraps a textual attachment before it enters history.
const textFileTemplate = "User uploaded a text file named '%s'. Here's its content:\n\n%s\n\nPlease analyze this content and respond appropriately."

// =============================================================================
// CLASSIFICATION
// =============================================================================

// Kind identifies what a piece of inbound input means.
type Kind int

const (
	// KindEmpty is input with no text and no attachments.
	KindEmpty Kind = iota
	// KindModelSwitch is a "model:" command.
	KindModelSwitch
	// KindContentTurn is ordinary chat text.
	KindContentTurn
	// KindAttachmentTurn is a textual attachment rendered into a user turn.
	KindAttachmentTurn
	// KindAttachmentAcknowledged is a non-textual attachment; it produces no turn.
	KindAttachmentAcknowledged
)

// String returns a short name for the kind.
func (k Kind) String() string {
	switch k {
	case KindEmpty:
		return "empty"
	case KindModelSwitch:
		return "model_switch"
	case KindContentTurn:
		return "content_turn"
	case KindAttachmentTurn:
		return "attachment_turn"
	case KindAttachmentAcknowledged:
		return "attachment_acknowledged"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Classification is one classified item of an inbound event.
type Classification struct {
	Kind Kind

	// Query is the model query for KindModelSwitch.
	Query string

	// Text is the turn content for KindContentTurn and KindAttachmentTurn.
	Text string

	// Name is the attachment name for the attachment kinds.
	Name string
}

// ProducesTurn reports whether the classification appends a user turn.
func (c Classification) ProducesTurn() bool {
	return c.Kind == KindContentTurn || c.Kind == KindAttachmentTurn
}

// =============================================================================
// ROUTER
// =============================================================================

// Router classifies inbound events. It has no state and performs no side
// effects; callers act on the returned classifications.
type Router struct{}

// NewRouter creates a router.
func NewRouter() *Router {
	return &Router{}
}

// Classify turns raw input and attachments into an ordered list of
// classifications:
//
//   - a "model:" command yields exactly one KindModelSwitch, regardless of
//     attachments
//   - otherwise each attachment yields one item in order, followed by a
//     KindContentTurn when the trimmed input is non-empty
//   - if nothing remains, a single KindEmpty
func (r *Router) Classify(raw string, attachments []Attachment) []Classification {
	trimmed := strings.TrimSpace(raw)

	if query, ok := parseModelCommand(trimmed); ok {
		return []Classification{{Kind: KindModelSwitch, Query: query}}
	}

	out := make([]Classification, 0, len(attachments)+1)
	for _, att := range attachments {
		out = append(out, classifyAttachment(att))
	}

	if trimmed != "" {
		out = append(out, Classification{Kind: KindContentTurn, Text: raw})
	}

	if len(out) == 0 {
		return []Classification{{Kind: KindEmpty}}
	}
	return out
}

// parseModelCommand returns the trimmed query after the "model:" prefix.
func parseModelCommand(trimmed string) (string, bool) {
	if len(trimmed) < len(ModelCommandPrefix) {
		return "", false
	}
	if !strings.EqualFold(trimmed[:len(ModelCommandPrefix)], ModelCommandPrefix) {
		return "", false
	}
	return strings.TrimSpace(trimmed[len(ModelCommandPrefix):]), true
}

// classifyAttachment renders textual attachments into turn text and marks
// everything else as acknowledged-only.
func classifyAttachment(att Attachment) Classification {
	if !att.IsText() {
		return Classification{Kind: KindAttachmentAcknowledged, Name: att.Name}
	}
	return Classification{
		Kind: KindAttachmentTurn,
		Name: att.Name,
		Text: fmt.Sprintf(textFileTemplate, att.Name, att.Text()),
	}
}

// =============================================================================
// LOCAL SLASH COMMANDS
// =============================================================================

// IsCommand returns true if the input is a front-end slash command such as
// "/attach". These never reach the session.
func IsCommand(input string) bool {
	return strings.HasPrefix(strings.TrimSpace(input), "/")
}

// ParseCommand splits a slash command into its lower-cased name (without the
// slash) and its arguments. Quoted arguments may contain spaces.
func ParseCommand(input string) (string, []string) {
	parts := splitCommandLine(strings.TrimSpace(input))
	if len(parts) == 0 {
		return "", nil
	}
	name := strings.ToLower(strings.TrimPrefix(parts[0], "/"))
	return name, parts[1:]
}

// splitCommandLine splits a command line into tokens, respecting quotes.
// Supports both single and double quotes for arguments with spaces.
func splitCommandLine(input string) []string {
	var tokens []string
	var current strings.Builder
	var inSingleQuote, inDoubleQuote bool

	runes := []rune(input)
	for i := 0; i < len(runes); i++ {
		char := runes[i]

		switch {
		case char == '\'' && !inDoubleQuote:
			inSingleQuote = !inSingleQuote

		case char == '"' && !inSingleQuote:
			inDoubleQuote = !inDoubleQuote

		case char == '\\' && i+1 < len(runes) && (inDoubleQuote || inSingleQuote):
			next := runes[i+1]
			if next == '"' || next == '\'' || next == '\\' {
				current.WriteRune(next)
				i++
			} else {
				current.WriteRune(char)
			}

		case unicode.IsSpace(char) && !inSingleQuote && !inDoubleQuote:
			if current.Len() > 0 {
				tokens = append(tokens, current.String())
				current.Reset()
			}

		default:
			current.WriteRune(char)
		}
	}

	if current.Len() > 0 {
		tokens = append(tokens, current.String())
	}
	return tokens
}
