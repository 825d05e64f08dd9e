// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package model contains the data structures for conversations and models.
package model

// DefaultHistoryCap is the maximum number of turns retained after truncation:
// the system turn plus the last 20 turns (10 user/assistant exchanges).
const DefaultHistoryCap = 21

// DefaultSystemPrompt is the system message every new conversation starts with.
const DefaultSystemPrompt = "You are a helpful AI assistant. Answer questions clearly and concisely. If you don't know the answer, say so."

// =============================================================================
// CONVERSATION TYPE
// =============================================================================

// Conversation is the ordered turn log of one session. The first turn is
// always the system turn and survives every truncation.
//
// Conversation is not safe for concurrent use; the owning session serializes
// access.
type Conversation struct {
	turns []Turn
}

// NewConversation creates a conversation seeded with a system turn.
func NewConversation(systemPrompt string) *Conversation {
	return &Conversation{
		turns: []Turn{NewSystemTurn(systemPrompt)},
	}
}

// =============================================================================
// TURN MANAGEMENT
// =============================================================================

// Append adds a turn to the end of the conversation.
func (c *Conversation) Append(turn Turn) {
	c.turns = append(c.turns, turn)
}

// Truncate bounds the conversation to at most limit turns. When the length
// exceeds limit the result is the system turn followed by the last limit-1
// turns, in their original order. A limit below 1 is treated as 1.
// Returns true if any turn was dropped.
func (c *Conversation) Truncate(limit int) bool {
	if limit < 1 {
		limit = 1
	}
	if len(c.turns) <= limit {
		return false
	}

	kept := make([]Turn, 0, limit)
	kept = append(kept, c.turns[0])
	kept = append(kept, c.turns[len(c.turns)-(limit-1):]...)
	c.turns = kept
	return true
}

// Current returns a copy of the turns in chronological order.
func (c *Conversation) Current() []Turn {
	out := make([]Turn, len(c.turns))
	copy(out, c.turns)
	return out
}

// Len returns the number of turns, including the system turn.
func (c *Conversation) Len() int {
	return len(c.turns)
}

// System returns the leading system turn.
func (c *Conversation) System() Turn {
	return c.turns[0]
}

// Last returns the most recent turn.
func (c *Conversation) Last() Turn {
	return c.turns[len(c.turns)-1]
}

// LastUserTurn returns the most recent user turn, if any.
func (c *Conversation) LastUserTurn() (Turn, bool) {
	for i := len(c.turns) - 1; i > 0; i-- {
		if c.turns[i].Role == RoleUser {
			return c.turns[i], true
		}
	}
	return Turn{}, false
}

// EstimateTokens gives a rough token count (4 characters per token plus
// per-message overhead). Used for logging only.
func (c *Conversation) EstimateTokens() int {
	total := 0
	for _, t := range c.turns {
		total += (len(t.Content)+3)/4 + 4
	}
	return total
}
