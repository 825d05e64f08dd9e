// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package cloud provides the OpenRouter chat-completion client.
//
// # Key Types
//
//   - Client: sends one completion request per call over an injected Doer
//   - ChatRequest: request body {model, messages, temperature, max_tokens}
//   - CompletionError: the single typed failure returned by Complete
//
// # Usage
//
//	client, err := cloud.NewClient(cloud.Config{
//	    APIKey:  key,
//	    BaseURL: cloud.DefaultBaseURL,
//	})
//	reply, err := client.Complete(ctx, "google/gemma-7b-it", conv.Current())
//	if errors.Is(err, cloud.ErrRateLimited) {
//	    // tell the user to slow down
//	}
//
// # Failure mapping
//
// 401, 403 and 429 map to Unauthorized, Forbidden and RateLimited. Other
// non-2xx statuses are HTTPError. Failures before a status is received are
// TransportError ("timeout" on deadline expiry). A 2xx body without
// choices[0].message.content is MalformedResponse. No call is retried.
//
// API keys are never logged; KeyFingerprint gives a stable short hash.
package cloud
