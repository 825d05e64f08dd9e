// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package session

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/jeranaias/rigrun-chat/internal/model"
	"github.com/jeranaias/rigrun-chat/internal/util"
)

// =============================================================================
// SESSION
// =============================================================================

// Session is the state of one ongoing conversation: its history and the
// model it talks to.
type Session struct {
	// ID is a random UUID.
	ID string

	// CreatedAt is when the session was started.
	CreatedAt time.Time

	// eventMu serializes inbound events for the whole of HandleMessage,
	// including the provider round trip.
	eventMu sync.Mutex

	// mu guards conv and modelID for readers while an event is in flight.
	mu      sync.RWMutex
	conv    *model.Conversation
	modelID string

	// lastActivity is unix nanoseconds, readable without either lock.
	lastActivity atomic.Int64
}

func newSession(systemPrompt, modelID string, now time.Time) *Session {
	s := &Session{
		ID:        uuid.NewString(),
		CreatedAt: now,
		conv:      model.NewConversation(systemPrompt),
		modelID:   modelID,
	}
	s.touch(now)
	return s
}

// Model returns the selected model id.
func (s *Session) Model() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.modelID
}

// History returns a copy of the conversation history.
func (s *Session) History() []model.Turn {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.conv.Current()
}

// Len returns the number of turns in the history.
func (s *Session) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.conv.Len()
}

// LastActivity returns when the session last received an event.
func (s *Session) LastActivity() time.Time {
	return time.Unix(0, s.lastActivity.Load())
}

// IdleSince reports how long the session has been idle at now.
func (s *Session) IdleSince(now time.Time) time.Duration {
	return now.Sub(s.LastActivity())
}

func (s *Session) touch(now time.Time) {
	s.lastActivity.Store(now.UnixNano())
}

func (s *Session) setModel(id string) {
	s.mu.Lock()
	s.modelID = id
	s.mu.Unlock()
}

func (s *Session) append(turn model.Turn) {
	s.mu.Lock()
	s.conv.Append(turn)
	s.mu.Unlock()
}

func (s *Session) truncate(limit int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conv.Truncate(limit)
}

// request returns what a completion call needs: the model and a copy of
// the history.
func (s *Session) request() (string, []model.Turn) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.modelID, s.conv.Current()
}

// lastPrompt returns the first line of the newest user turn, cut to width
// columns, for log lines.
func (s *Session) lastPrompt(width int) string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	turn, ok := s.conv.LastUserTurn()
	if !ok {
		return ""
	}
	return util.TruncateWidth(util.FirstLine(turn.Content), width)
}

// Snapshot is a point-in-time view of a session, shaped for JSON.
type Snapshot struct {
	ID              string       `json:"session_id"`
	Model           string       `json:"model"`
	Turns           []model.Turn `json:"turns"`
	EstimatedTokens int          `json:"estimated_tokens"`
	CreatedAt       time.Time    `json:"created_at"`
	LastActivity    time.Time    `json:"last_activity"`
}

// Snapshot returns a consistent copy of the session state.
func (s *Session) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Snapshot{
		ID:              s.ID,
		Model:           s.modelID,
		Turns:           s.conv.Current(),
		EstimatedTokens: s.conv.EstimateTokens(),
		CreatedAt:       s.CreatedAt,
		LastActivity:    s.LastActivity(),
	}
}
