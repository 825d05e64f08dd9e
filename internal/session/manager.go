// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/jeranaias/rigrun-chat/internal/commands"
	"github.com/jeranaias/rigrun-chat/internal/telemetry"
)

// ErrSessionNotFound is returned for an unknown or reaped session id.
var ErrSessionNotFound = errors.New("session not found")

// =============================================================================
// SESSION MANAGER
// =============================================================================

// ManagerConfig holds configuration for the session manager.
type ManagerConfig struct {
	// IdleTimeout is how long a session may sit unused before Reap removes
	// it. Zero disables reaping.
	IdleTimeout time.Duration

	// ReapInterval is how often Run calls Reap. Zero means one minute.
	ReapInterval time.Duration

	Logger  *zap.Logger
	Metrics *telemetry.Metrics
}

// Manager owns the live sessions of a multi-user front end.
type Manager struct {
	controller *Controller

	mu       sync.RWMutex
	sessions map[string]*Session

	idleTimeout  time.Duration
	reapInterval time.Duration

	log     *zap.Logger
	metrics *telemetry.Metrics
}

// NewManager creates a manager that drives sessions through c.
func NewManager(c *Controller, cfg ManagerConfig) *Manager {
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}
	interval := cfg.ReapInterval
	if interval <= 0 {
		interval = time.Minute
	}
	return &Manager{
		controller:   c,
		sessions:     make(map[string]*Session),
		idleTimeout:  cfg.IdleTimeout,
		reapInterval: interval,
		log:          log.Named("sessions"),
		metrics:      cfg.Metrics,
	}
}

// Controller returns the controller sessions are driven by.
func (m *Manager) Controller() *Controller {
	return m.controller
}

// Create starts and registers a new session, returning it with the welcome
// message.
func (m *Manager) Create() (*Session, string) {
	s, welcome := m.controller.Start()

	m.mu.Lock()
	m.sessions[s.ID] = s
	m.mu.Unlock()

	m.metrics.SessionStarted()
	m.log.Info("session created", zap.String("session", s.ID))
	return s, welcome
}

// Get returns the session with id.
func (m *Manager) Get(id string) (*Session, error) {
	m.mu.RLock()
	s, ok := m.sessions[id]
	m.mu.RUnlock()
	if !ok {
		return nil, ErrSessionNotFound
	}
	return s, nil
}

// Delete removes the session with id.
func (m *Manager) Delete(id string) error {
	m.mu.Lock()
	_, ok := m.sessions[id]
	delete(m.sessions, id)
	m.mu.Unlock()

	if !ok {
		return ErrSessionNotFound
	}
	m.metrics.SessionEnded()
	m.log.Info("session deleted", zap.String("session", id))
	return nil
}

// Send delivers one inbound event to the session with id. The manager's
// lock is not held while the event is handled.
func (m *Manager) Send(ctx context.Context, id, raw string, attachments []commands.Attachment) (Outcome, error) {
	s, err := m.Get(id)
	if err != nil {
		return Outcome{}, err
	}
	return m.controller.HandleMessage(ctx, s, raw, attachments), nil
}

// Len returns the number of live sessions.
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// Reap removes sessions idle for longer than the idle timeout at now and
// returns how many were removed.
func (m *Manager) Reap(now time.Time) int {
	if m.idleTimeout <= 0 {
		return 0
	}

	m.mu.Lock()
	var reaped []string
	for id, s := range m.sessions {
		if s.IdleSince(now) > m.idleTimeout {
			delete(m.sessions, id)
			reaped = append(reaped, id)
		}
	}
	m.mu.Unlock()

	if len(reaped) > 0 {
		m.metrics.SessionsReaped(len(reaped))
		m.log.Info("reaped idle sessions",
			zap.Int("count", len(reaped)),
			zap.Duration("idle_timeout", m.idleTimeout))
	}
	return len(reaped)
}

// Run reaps idle sessions every reap interval until ctx is done.
func (m *Manager) Run(ctx context.Context) error {
	ticker := time.NewTicker(m.reapInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case now := <-ticker.C:
			m.Reap(now)
		}
	}
}
