// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cloud

import (
	"bytes"
	"context"
	"crypto/sha256"
	"crypto/tls"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/jeranaias/rigrun-chat/internal/model"
)

// Configuration constants for the completion API.
const (
	// DefaultBaseURL is the base URL for the OpenRouter API.
	DefaultBaseURL = "https://openrouter.ai/api/v1"

	// DefaultTimeout bounds a single completion round trip.
	DefaultTimeout = 60 * time.Second

	// DefaultTemperature is the sampling temperature sent with every request.
	DefaultTemperature = 0.7

	// DefaultMaxTokens caps the length of each completion.
	DefaultMaxTokens = 1000

	// MaxResponseSize is the maximum allowed response body size.
	MaxResponseSize = 10 * 1024 * 1024

	userAgent = "rigrun-chat/0.1.0"
)

// Doer sends HTTP requests. *http.Client satisfies it.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// newHTTPClient returns a pooled client. Timeouts are enforced per call
// through the request context, so the client itself has none.
func newHTTPClient() *http.Client {
	return &http.Client{
		Transport: &http.Transport{
			Proxy:               http.ProxyFromEnvironment,
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 10,
			IdleConnTimeout:     90 * time.Second,
			TLSHandshakeTimeout: 10 * time.Second,
			TLSClientConfig: &tls.Config{
				MinVersion: tls.VersionTLS12,
			},
		},
	}
}

// =============================================================================
// WIRE TYPES
// =============================================================================

// ChatMessage is a single message in the request body.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatRequest is the body of a chat completions request.
type ChatRequest struct {
	Model       string        `json:"model"`
	Messages    []ChatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens"`
}

// chatResponse is the subset of the completion response this client reads.
type chatResponse struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Choices []struct {
		Message *struct {
			Role    string  `json:"role"`
			Content *string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}

// NewChatRequest serializes a turn history into a request body.
func NewChatRequest(modelID string, turns []model.Turn, temperature float64, maxTokens int) ChatRequest {
	messages := make([]ChatMessage, 0, len(turns))
	for _, t := range turns {
		messages = append(messages, ChatMessage{Role: t.Role.String(), Content: t.Content})
	}
	return ChatRequest{
		Model:       modelID,
		Messages:    messages,
		Temperature: temperature,
		MaxTokens:   maxTokens,
	}
}

// =============================================================================
// CLIENT
// =============================================================================

// Config holds the values a Client needs. APIKey and BaseURL are required.
type Config struct {
	APIKey  string
	BaseURL string

	// SiteURL and SiteName identify the calling application to OpenRouter
	// (sent as HTTP-Referer and X-Title).
	SiteURL  string
	SiteName string

	// Timeout bounds each completion call. Zero means DefaultTimeout.
	Timeout time.Duration
}

// Client sends chat completion requests. It holds no per-session state and
// is safe for concurrent use.
type Client struct {
	apiKey      string
	baseURL     string
	siteURL     string
	siteName    string
	timeout     time.Duration
	temperature float64
	maxTokens   int

	httpClient Doer
	log        *zap.Logger
}

// NewClient creates a client from cfg. It fails with ErrNotConfigured when
// the API key or base URL is empty.
func NewClient(cfg Config) (*Client, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		return nil, fmt.Errorf("%w: API key is empty", ErrNotConfigured)
	}
	baseURL := strings.TrimSuffix(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		return nil, fmt.Errorf("%w: base URL is empty", ErrNotConfigured)
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	return &Client{
		apiKey:      apiKey,
		baseURL:     baseURL,
		siteURL:     cfg.SiteURL,
		siteName:    cfg.SiteName,
		timeout:     timeout,
		temperature: DefaultTemperature,
		maxTokens:   DefaultMaxTokens,
		httpClient:  newHTTPClient(),
		log:         zap.NewNop(),
	}, nil
}

// WithHTTPClient replaces the transport used for requests.
func (c *Client) WithHTTPClient(d Doer) *Client {
	if d != nil {
		c.httpClient = d
	}
	return c
}

// WithLogger sets the logger used for request/response logging.
func (c *Client) WithLogger(l *zap.Logger) *Client {
	if l != nil {
		c.log = l.Named("cloud")
	}
	return c
}

// Timeout returns the per-call timeout.
func (c *Client) Timeout() time.Duration {
	return c.timeout
}

// KeyFingerprint returns a short SHA-256 fingerprint of the API key, safe to
// log. The key itself is never logged.
func (c *Client) KeyFingerprint() string {
	h := sha256.Sum256([]byte(c.apiKey))
	return hex.EncodeToString(h[:4])
}

// setHeaders sets the required headers for completion requests.
func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", userAgent)

	if c.siteURL != "" {
		req.Header.Set("HTTP-Referer", c.siteURL)
	}
	if c.siteName != "" {
		req.Header.Set("X-Title", c.siteName)
	}
}

// Complete sends the history to modelID and returns the assistant's reply.
// Exactly one attempt is made. Any error is a *CompletionError.
func (c *Client) Complete(ctx context.Context, modelID string, turns []model.Turn) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	reqBody := NewChatRequest(modelID, turns, c.temperature, c.maxTokens)
	bodyBytes, err := json.Marshal(reqBody)
	if err != nil {
		return "", transportError("failed to encode request", err)
	}

	url := c.baseURL + "/chat/completions"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(bodyBytes))
	if err != nil {
		return "", transportError("failed to create request", err)
	}
	c.setHeaders(req)

	c.log.Debug("API request",
		zap.String("method", req.Method),
		zap.String("path", req.URL.Path),
		zap.String("model", modelID),
		zap.Int("messages", len(turns)))

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", mapTransportError(ctx, err)
	}
	defer resp.Body.Close()

	body, err := readResponse(resp)
	if err != nil {
		if ctx.Err() != nil {
			return "", mapTransportError(ctx, err)
		}
		return "", transportError(err.Error(), err)
	}

	c.log.Debug("API response",
		zap.Int("status", resp.StatusCode),
		zap.Duration("duration", time.Since(start)))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		cerr := statusError(resp.StatusCode, body)
		c.log.Warn("completion rejected",
			zap.Int("status", resp.StatusCode),
			zap.Stringer("kind", cerr.Kind),
			zap.String("key", c.KeyFingerprint()))
		return "", cerr
	}

	return parseCompletion(body)
}

// parseCompletion extracts choices[0].message.content from a 2xx body.
func parseCompletion(body []byte) (string, error) {
	var chatResp chatResponse
	if err := json.Unmarshal(body, &chatResp); err != nil {
		return "", malformedError("response is not valid JSON", err)
	}
	if len(chatResp.Choices) == 0 {
		return "", malformedError("response contains no choices", nil)
	}
	msg := chatResp.Choices[0].Message
	if msg == nil || msg.Content == nil {
		return "", malformedError("first choice has no message content", nil)
	}
	return *msg.Content, nil
}

// mapTransportError classifies a failure that happened before a status was
// received. Deadline expiry becomes TransportError("timeout").
func mapTransportError(ctx context.Context, err error) *CompletionError {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return transportError("timeout", err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return transportError("timeout", err)
	}
	if errors.Is(err, context.Canceled) {
		return transportError("canceled", err)
	}
	return transportError(err.Error(), err)
}

// readResponse reads the response body with a size limit.
func readResponse(resp *http.Response) ([]byte, error) {
	body, err := io.ReadAll(io.LimitReader(resp.Body, MaxResponseSize+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if int64(len(body)) > MaxResponseSize {
		return nil, fmt.Errorf("response exceeded maximum size of %d bytes", MaxResponseSize)
	}
	return body, nil
}
