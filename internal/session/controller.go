// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/jeranaias/rigrun-chat/internal/cloud"
	"github.com/jeranaias/rigrun-chat/internal/commands"
	"github.com/jeranaias/rigrun-chat/internal/model"
	"github.com/jeranaias/rigrun-chat/internal/telemetry"
)

// Completer produces an assistant reply for a history. *cloud.Client
// satisfies it.
type Completer interface {
	Complete(ctx context.Context, modelID string, turns []model.Turn) (string, error)
}

// promptPreviewWidth bounds the prompt excerpt in debug logs.
const promptPreviewWidth = 60

// Options configures a Controller. Registry and Client are required.
type Options struct {
	Registry *model.Registry
	Client   Completer

	// DefaultModel is the id new sessions start with. Empty means the
	// first registry entry.
	DefaultModel string

	// SystemPrompt seeds each history. Empty means model.DefaultSystemPrompt.
	SystemPrompt string

	// HistoryCap bounds history length, system turn included. Zero means
	// model.DefaultHistoryCap.
	HistoryCap int

	Logger  *zap.Logger
	Metrics *telemetry.Metrics
}

// Controller applies inbound events to sessions. It holds only immutable
// configuration and is shared by all sessions.
type Controller struct {
	registry     *model.Registry
	router       *commands.Router
	client       Completer
	defaultModel string
	systemPrompt string
	historyCap   int

	log     *zap.Logger
	metrics *telemetry.Metrics
	now     func() time.Time
}

// NewController validates opts and builds a controller.
func NewController(opts Options) (*Controller, error) {
	if opts.Registry == nil {
		return nil, errors.New("session: registry is required")
	}
	if opts.Client == nil {
		return nil, errors.New("session: completion client is required")
	}

	defaultModel := opts.DefaultModel
	if defaultModel == "" {
		defaultModel = opts.Registry.List()[0].ID
	}
	if !opts.Registry.Contains(defaultModel) {
		return nil, fmt.Errorf("session: default model %q is not in the registry", defaultModel)
	}

	systemPrompt := opts.SystemPrompt
	if systemPrompt == "" {
		systemPrompt = model.DefaultSystemPrompt
	}
	historyCap := opts.HistoryCap
	if historyCap == 0 {
		historyCap = model.DefaultHistoryCap
	}

	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}

	return &Controller{
		registry:     opts.Registry,
		router:       commands.NewRouter(),
		client:       opts.Client,
		defaultModel: defaultModel,
		systemPrompt: systemPrompt,
		historyCap:   historyCap,
		log:          log.Named("session"),
		metrics:      opts.Metrics,
		now:          time.Now,
	}, nil
}

// Registry returns the model registry.
func (c *Controller) Registry() *model.Registry {
	return c.registry
}

// DefaultModel returns the id new sessions start with.
func (c *Controller) DefaultModel() string {
	return c.defaultModel
}

// Start creates a session with a history holding only the system turn and
// returns it with the welcome message.
func (c *Controller) Start() (*Session, string) {
	s := newSession(c.systemPrompt, c.defaultModel, c.now())
	c.log.Debug("session started", zap.String("session", s.ID), zap.String("model", s.Model()))
	return s, WelcomeMessage
}

// HandleMessage applies one inbound event to s. Events for the same session
// are serialized; different sessions proceed in parallel.
//
// A model command changes the session model and never touches history. Any
// content or textual attachment is appended as a user turn, the history is
// truncated once, and one completion call is made. User turns stay in
// history when that call fails.
func (c *Controller) HandleMessage(ctx context.Context, s *Session, raw string, attachments []commands.Attachment) Outcome {
	s.eventMu.Lock()
	defer s.eventMu.Unlock()

	defer func() { s.touch(c.now()) }()
	s.touch(c.now())

	var out Outcome
	appended := false

	for _, item := range c.router.Classify(raw, attachments) {
		switch item.Kind {
		case commands.KindEmpty:
			return Outcome{Kind: OutcomeNoOp}

		case commands.KindModelSwitch:
			return c.switchModel(s, item.Query)

		case commands.KindAttachmentTurn:
			s.append(model.NewUserTurn(item.Text))
			appended = true
			out.Acknowledgements = append(out.Acknowledgements, textAck(item.Name))
			c.metrics.Attachment(true)

		case commands.KindAttachmentAcknowledged:
			out.Acknowledgements = append(out.Acknowledgements, otherAck(item.Name))
			c.metrics.Attachment(false)

		case commands.KindContentTurn:
			s.append(model.NewUserTurn(item.Text))
			appended = true
		}
	}

	if !appended {
		out.Kind = OutcomeAcknowledged
		return out
	}

	if s.truncate(c.historyCap) {
		c.metrics.Truncated()
	}

	reply, err := c.complete(ctx, s)
	if err != nil {
		out.Kind = OutcomeFailure
		out.Err = err
		return out
	}

	s.append(model.NewAssistantTurn(reply))
	out.Kind = OutcomeReply
	out.Reply = reply
	return out
}

func (c *Controller) switchModel(s *Session, query string) Outcome {
	info, ok := c.registry.Resolve(query)
	c.metrics.ModelSwitch(ok)
	if !ok {
		c.log.Debug("model not found", zap.String("session", s.ID), zap.String("query", query))
		return Outcome{
			Kind:      OutcomeModelNotFound,
			Query:     query,
			Available: c.registry.FormatList(),
		}
	}

	s.setModel(info.ID)
	c.log.Info("model changed", zap.String("session", s.ID), zap.String("model", info.ID))
	return Outcome{Kind: OutcomeModelChanged, Model: info}
}

func (c *Controller) complete(ctx context.Context, s *Session) (string, error) {
	modelID, turns := s.request()

	start := c.now()
	reply, err := c.client.Complete(ctx, modelID, turns)
	elapsed := c.now().Sub(start)

	if err != nil {
		label := "error"
		var cerr *cloud.CompletionError
		if errors.As(err, &cerr) {
			label = cerr.Kind.String()
		}
		c.metrics.ObserveCompletion(label, elapsed)
		c.log.Warn("completion failed",
			zap.String("session", s.ID),
			zap.String("model", modelID),
			zap.String("kind", label),
			zap.Duration("duration", elapsed),
			zap.Error(err))
		return "", err
	}

	c.metrics.ObserveCompletion("ok", elapsed)
	c.log.Debug("completion succeeded",
		zap.String("session", s.ID),
		zap.String("model", modelID),
		zap.Int("turns", len(turns)),
		zap.String("prompt", s.lastPrompt(promptPreviewWidth)),
		zap.Duration("duration", elapsed))
	return reply, nil
}
