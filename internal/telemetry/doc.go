// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package telemetry provides Prometheus metrics for chat sessions.
//
// # Key Types
//
//   - Metrics: counters, a histogram and a gauge registered on a caller-owned
//     registry
//
// # Usage
//
//	reg := prometheus.NewRegistry()
//	metrics := telemetry.NewMetrics(reg)
//	metrics.ObserveCompletion("ok", time.Since(start))
//
// A nil *Metrics is valid and records nothing, so tests and the REPL can
// skip metrics entirely.
//
// # Privacy
//
// Labels carry outcome kinds and model ids only. Message content and API
// keys are never recorded.
package telemetry
