// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cloud

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/jeranaias/rigrun-chat/internal/util"
)

// Error variables for each completion failure kind. A *CompletionError
// matches its kind's sentinel with errors.Is.
var (
	// ErrNotConfigured indicates the API key or base URL is not set.
	ErrNotConfigured = errors.New("completion client not configured")

	// ErrUnauthorized indicates the provider rejected the credential (401).
	ErrUnauthorized = errors.New("unauthorized")

	// ErrForbidden indicates the credential lacks access to the model (403).
	ErrForbidden = errors.New("forbidden")

	// ErrRateLimited indicates too many requests were made (429).
	ErrRateLimited = errors.New("rate limited")

	// ErrHTTP indicates any other non-2xx response.
	ErrHTTP = errors.New("http error")

	// ErrTransport indicates the request failed before a status was received.
	ErrTransport = errors.New("transport error")

	// ErrMalformedResponse indicates a 2xx response without a completion choice.
	ErrMalformedResponse = errors.New("malformed response")
)

// maxDetailRunes bounds how much of a raw error body ends up in Detail.
const maxDetailRunes = 200

// =============================================================================
// ERROR KIND
// =============================================================================

// ErrorKind classifies a failed completion.
type ErrorKind int

const (
	KindUnauthorized ErrorKind = iota + 1
	KindForbidden
	KindRateLimited
	KindHTTPError
	KindTransportError
	KindMalformedResponse
)

// String returns the kind's label, used in logs and metrics.
func (k ErrorKind) String() string {
	switch k {
	case KindUnauthorized:
		return "unauthorized"
	case KindForbidden:
		return "forbidden"
	case KindRateLimited:
		return "rate_limited"
	case KindHTTPError:
		return "http_error"
	case KindTransportError:
		return "transport_error"
	case KindMalformedResponse:
		return "malformed_response"
	default:
		return "unknown"
	}
}

func (k ErrorKind) sentinel() error {
	switch k {
	case KindUnauthorized:
		return ErrUnauthorized
	case KindForbidden:
		return ErrForbidden
	case KindRateLimited:
		return ErrRateLimited
	case KindHTTPError:
		return ErrHTTP
	case KindTransportError:
		return ErrTransport
	case KindMalformedResponse:
		return ErrMalformedResponse
	default:
		return nil
	}
}

// =============================================================================
// COMPLETION ERROR
// =============================================================================

// CompletionError is the single error type returned by Client.Complete.
type CompletionError struct {
	Kind ErrorKind

	// Status is the HTTP status code, or 0 when no response was received.
	Status int

	// Detail is a short human-readable explanation.
	Detail string

	// Err is the underlying cause, if any.
	Err error
}

// Error implements the error interface.
func (e *CompletionError) Error() string {
	switch {
	case e.Status != 0 && e.Detail != "":
		return fmt.Sprintf("completion %s (HTTP %d): %s", e.Kind, e.Status, e.Detail)
	case e.Status != 0:
		return fmt.Sprintf("completion %s (HTTP %d)", e.Kind, e.Status)
	case e.Detail != "":
		return fmt.Sprintf("completion %s: %s", e.Kind, e.Detail)
	default:
		return "completion " + e.Kind.String()
	}
}

// Unwrap returns the underlying cause.
func (e *CompletionError) Unwrap() error {
	return e.Err
}

// Is matches the sentinel for the error's kind.
func (e *CompletionError) Is(target error) bool {
	return target != nil && target == e.Kind.sentinel()
}

func transportError(detail string, err error) *CompletionError {
	return &CompletionError{Kind: KindTransportError, Detail: detail, Err: err}
}

func malformedError(detail string, err error) *CompletionError {
	return &CompletionError{Kind: KindMalformedResponse, Detail: detail, Err: err}
}

// apiErrorResponse represents an error response from the API.
type apiErrorResponse struct {
	Error struct {
		Code    json.RawMessage `json:"code"`
		Message string          `json:"message"`
	} `json:"error"`
}

// statusError converts a non-2xx response into a CompletionError. The
// provider's error message is used as the detail when the body carries one.
func statusError(status int, body []byte) *CompletionError {
	detail := http.StatusText(status)

	var apiErr apiErrorResponse
	if err := json.Unmarshal(body, &apiErr); err == nil && apiErr.Error.Message != "" {
		detail = apiErr.Error.Message
	} else if text := strings.TrimSpace(string(body)); text != "" {
		detail = util.TruncateRunes(text, maxDetailRunes)
	}

	kind := KindHTTPError
	switch status {
	case http.StatusUnauthorized:
		kind = KindUnauthorized
	case http.StatusForbidden:
		kind = KindForbidden
	case http.StatusTooManyRequests:
		kind = KindRateLimited
	}
	return &CompletionError{Kind: kind, Status: status, Detail: detail}
}
