// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/jeranaias/rigrun-chat/internal/cloud"
	"github.com/jeranaias/rigrun-chat/internal/commands"
	"github.com/jeranaias/rigrun-chat/internal/model"
	"github.com/jeranaias/rigrun-chat/internal/session"
)

// ============================================================================
// CONSTANTS
// ============================================================================

const (
	// Version is reported by /health.
	Version = "0.1.0"

	// MaxAttachments bounds attachments per message.
	MaxAttachments = 10

	// ShutdownTimeout bounds graceful shutdown.
	ShutdownTimeout = 10 * time.Second
)

// Config holds HTTP server settings.
type Config struct {
	Addr         string
	AuthToken    string
	RateLimit    float64
	RateBurst    int
	MaxBodyBytes int64

	// WriteTimeout must exceed the completion timeout. Zero means 2 minutes.
	WriteTimeout time.Duration
}

// ============================================================================
// SERVER
// ============================================================================

// Server exposes sessions over a JSON HTTP API.
type Server struct {
	cfg      Config
	manager  *session.Manager
	registry *model.Registry
	limiter  *RateLimiter
	gatherer prometheus.Gatherer
	log      *zap.Logger
	started  time.Time

	handlerOnce sync.Once
	handler     http.Handler
}

// New creates a server for the sessions held by mgr.
func New(cfg Config, mgr *session.Manager) *Server {
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = 2 << 20
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 2 * time.Minute
	}
	return &Server{
		cfg:      cfg,
		manager:  mgr,
		registry: mgr.Controller().Registry(),
		limiter:  NewRateLimiter(cfg.RateLimit, cfg.RateBurst),
		gatherer: prometheus.DefaultGatherer,
		log:      zap.NewNop(),
		started:  time.Now(),
	}
}

// WithLogger sets the logger.
func (s *Server) WithLogger(l *zap.Logger) *Server {
	if l != nil {
		s.log = l.Named("server")
	}
	return s
}

// WithGatherer sets the registry served on /metrics.
func (s *Server) WithGatherer(g prometheus.Gatherer) *Server {
	if g != nil {
		s.gatherer = g
	}
	return s
}

// Handler returns the fully wrapped HTTP handler. Configure the server
// before the first call.
func (s *Server) Handler() http.Handler {
	s.handlerOnce.Do(func() { s.handler = s.buildHandler() })
	return s.handler
}

func (s *Server) buildHandler() http.Handler {
	api := Chain(
		AuthMiddleware(s.cfg.AuthToken, s.log),
		RateLimitMiddleware(s.limiter, s.log),
		BodyLimitMiddleware(s.cfg.MaxBodyBytes),
	)

	mux := http.NewServeMux()
	mux.Handle("POST /v1/sessions", api(http.HandlerFunc(s.handleCreateSession)))
	mux.Handle("GET /v1/sessions/{id}", api(http.HandlerFunc(s.handleGetSession)))
	mux.Handle("DELETE /v1/sessions/{id}", api(http.HandlerFunc(s.handleDeleteSession)))
	mux.Handle("POST /v1/sessions/{id}/messages", api(http.HandlerFunc(s.handleSendMessage)))
	mux.Handle("GET /v1/models", api(http.HandlerFunc(s.handleModels)))
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.Handle("GET /metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))

	return Chain(
		RecoveryMiddleware(s.log),
		RequestIDMiddleware(),
		SecurityHeadersMiddleware(),
		LoggingMiddleware(s.log),
	)(mux)
}

// ============================================================================
// REQUEST / RESPONSE TYPES
// ============================================================================

// SessionResponse is returned when a session is created.
type SessionResponse struct {
	SessionID string   `json:"session_id"`
	Model     string   `json:"model"`
	Messages  []string `json:"messages"`
}

// MessageRequest is the body of POST /v1/sessions/{id}/messages.
// Attachment content is base64 in JSON.
type MessageRequest struct {
	Text        string                `json:"text"`
	Attachments []commands.Attachment `json:"attachments,omitempty"`
}

// MessageResponse is the result of one inbound message.
type MessageResponse struct {
	SessionID string   `json:"session_id"`
	Outcome   string   `json:"outcome"`
	Model     string   `json:"model"`
	Messages  []string `json:"messages"`
	ErrorKind string   `json:"error_kind,omitempty"`
}

// ModelsResponse lists the registry.
type ModelsResponse struct {
	Default string       `json:"default"`
	Models  []model.Info `json:"models"`
}

// HealthResponse reports liveness.
type HealthResponse struct {
	Status        string  `json:"status"`
	Version       string  `json:"version"`
	Sessions      int     `json:"sessions"`
	UptimeSeconds float64 `json:"uptime_seconds"`
}

// ============================================================================
// HANDLERS
// ============================================================================

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	sess, welcome := s.manager.Create()
	writeJSON(w, http.StatusCreated, SessionResponse{
		SessionID: sess.ID,
		Model:     sess.Model(),
		Messages:  []string{welcome},
	})
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	sess, err := s.manager.Get(r.PathValue("id"))
	if err != nil {
		s.writeSessionError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sess.Snapshot())
}

func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	if err := s.manager.Delete(r.PathValue("id")); err != nil {
		s.writeSessionError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	var req MessageRequest
	if err := decodeJSON(r, &req); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return
		}
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := validateAttachments(req.Attachments); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	out, err := s.manager.Send(r.Context(), id, req.Text, req.Attachments)
	if err != nil {
		s.writeSessionError(w, err)
		return
	}

	sess, err := s.manager.Get(id)
	modelID := ""
	if err == nil {
		modelID = sess.Model()
	}

	resp := MessageResponse{
		SessionID: id,
		Outcome:   out.Kind.String(),
		Model:     modelID,
		Messages:  out.Messages(),
	}
	if out.Err != nil {
		resp.ErrorKind = errorKind(out.Err)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleModels(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, ModelsResponse{
		Default: s.manager.Controller().DefaultModel(),
		Models:  s.registry.List(),
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{
		Status:        "ok",
		Version:       Version,
		Sessions:      s.manager.Len(),
		UptimeSeconds: time.Since(s.started).Seconds(),
	})
}

func (s *Server) writeSessionError(w http.ResponseWriter, err error) {
	if errors.Is(err, session.ErrSessionNotFound) {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	s.log.Error("session operation failed", zap.Error(err))
	writeError(w, http.StatusInternalServerError, "internal server error")
}

// ============================================================================
// SERVER LIFECYCLE
// ============================================================================

// Run listens on the configured address and serves until ctx is done.
func (s *Server) Run(ctx context.Context) error {
	addr := s.cfg.Addr
	if addr == "" {
		addr = "127.0.0.1:8000"
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve serves on ln and runs the idle-session reaper until ctx is done,
// then shuts down gracefully. ln is closed on return.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      s.cfg.WriteTimeout,
		IdleTimeout:       120 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		s.log.Info("server listening", zap.String("addr", ln.Addr().String()), zap.String("version", Version))
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		return s.manager.Run(gctx)
	})

	g.Go(func() error {
		<-gctx.Done()
		s.log.Info("server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

// ============================================================================
// HELPERS
// ============================================================================

func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return err
		}
		return fmt.Errorf("invalid JSON body: %w", err)
	}
	return nil
}

func validateAttachments(atts []commands.Attachment) error {
	if len(atts) > MaxAttachments {
		return fmt.Errorf("too many attachments (max %d)", MaxAttachments)
	}
	for i, a := range atts {
		if strings.TrimSpace(a.Name) == "" {
			return fmt.Errorf("attachments[%d]: name is required", i)
		}
		if len(a.Data) > commands.MaxAttachmentSize {
			return fmt.Errorf("attachments[%d]: %q exceeds %d bytes", i, a.Name, commands.MaxAttachmentSize)
		}
	}
	return nil
}

// errorKind labels a completion failure for API clients.
func errorKind(err error) string {
	var cerr *cloud.CompletionError
	if errors.As(err, &cerr) {
		return cerr.Kind.String()
	}
	return "error"
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error ErrorBody `json:"error"`
}

// ErrorBody describes an API error.
type ErrorBody struct {
	Message string `json:"message"`
	Code    int    `json:"code"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, ErrorResponse{Error: ErrorBody{Message: message, Code: status}})
}
