// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package server exposes chat sessions over a JSON HTTP API.
//
// # Endpoints
//
//   - POST   /v1/sessions               - start a session, returns the welcome message
//   - GET    /v1/sessions/{id}          - session snapshot (model, turns)
//   - DELETE /v1/sessions/{id}          - end a session
//   - POST   /v1/sessions/{id}/messages - send {text, attachments}
//   - GET    /v1/models                 - list available models
//   - GET    /health                    - health check
//   - GET    /metrics                   - Prometheus metrics
//
// # Middleware
//
//   - Panic recovery with stack logging
//   - Request ids (X-Request-Id) and one zap log line per request
//   - Per-client-IP token bucket rate limiting (429 with Retry-After)
//   - Request body cap (413)
//   - Optional bearer token on /v1 routes, compared in constant time
//
// Forwarding headers are trusted only from loopback and private ranges.
//
// # Usage
//
//	srv := server.New(server.Config{Addr: ":8000"}, manager).
//		WithLogger(logger).
//		WithGatherer(registry)
//	if err := srv.Run(ctx); err != nil {
//		return err
//	}
package server
