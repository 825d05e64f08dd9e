// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package session

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/rigrun-chat/internal/cloud"
	"github.com/jeranaias/rigrun-chat/internal/commands"
	"github.com/jeranaias/rigrun-chat/internal/model"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

type completeCall struct {
	model string
	turns []model.Turn
}

// fakeCompleter records calls and answers with fn, or "Hello!" by default.
type fakeCompleter struct {
	mu    sync.Mutex
	calls []completeCall
	fn    func(ctx context.Context, modelID string, turns []model.Turn) (string, error)
}

func (f *fakeCompleter) Complete(ctx context.Context, modelID string, turns []model.Turn) (string, error) {
	f.mu.Lock()
	f.calls = append(f.calls, completeCall{model: modelID, turns: turns})
	fn := f.fn
	f.mu.Unlock()

	if fn != nil {
		return fn(ctx, modelID, turns)
	}
	return "Hello!", nil
}

func (f *fakeCompleter) Calls() []completeCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]completeCall, len(f.calls))
	copy(out, f.calls)
	return out
}

func newController(t *testing.T, client Completer, historyCap int) *Controller {
	t.Helper()
	c, err := NewController(Options{
		Registry:   model.DefaultRegistry(),
		Client:     client,
		HistoryCap: historyCap,
	})
	require.NoError(t, err)
	return c
}

func textFile(name, content string) commands.Attachment {
	return commands.Attachment{Name: name, MIME: "text/plain", Data: []byte(content)}
}

func binaryFile(name string) commands.Attachment {
	return commands.Attachment{Name: name, MIME: "image/png", Data: []byte{0x89, 'P', 'N', 'G'}}
}

// =============================================================================
// CONSTRUCTION TESTS
// =============================================================================

func TestNewController_Validation(t *testing.T) {
	_, err := NewController(Options{Client: &fakeCompleter{}})
	assert.Error(t, err)

	_, err = NewController(Options{Registry: model.DefaultRegistry()})
	assert.Error(t, err)

	_, err = NewController(Options{
		Registry:     model.DefaultRegistry(),
		Client:       &fakeCompleter{},
		DefaultModel: "nobody/nothing",
	})
	assert.Error(t, err)

	c, err := NewController(Options{Registry: model.DefaultRegistry(), Client: &fakeCompleter{}})
	require.NoError(t, err)
	assert.Equal(t, model.DefaultModelID, c.DefaultModel())
}

func TestStart(t *testing.T) {
	c := newController(t, &fakeCompleter{}, 0)
	s, welcome := c.Start()

	assert.Equal(t, WelcomeMessage, welcome)
	assert.NotEmpty(t, s.ID)
	assert.Equal(t, model.DefaultModelID, s.Model())

	history := s.History()
	require.Len(t, history, 1)
	assert.Equal(t, model.RoleSystem, history[0].Role)
	assert.Equal(t, model.DefaultSystemPrompt, history[0].Content)

	s2, _ := c.Start()
	assert.NotEqual(t, s.ID, s2.ID)
}

// =============================================================================
// END-TO-END SCENARIOS
// =============================================================================

func TestHandleMessage_Reply(t *testing.T) {
	fc := &fakeCompleter{}
	c := newController(t, fc, 0)
	s, _ := c.Start()

	out := c.HandleMessage(context.Background(), s, "Hi", nil)

	assert.Equal(t, OutcomeReply, out.Kind)
	assert.Equal(t, "Hello!", out.Reply)
	assert.Equal(t, []string{"Hello!"}, out.Messages())

	calls := fc.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, model.DefaultModelID, calls[0].model)
	require.Len(t, calls[0].turns, 2, "client sees system + user turn")
	assert.Equal(t, model.NewUserTurn("Hi"), calls[0].turns[1])

	history := s.History()
	require.Len(t, history, 3)
	assert.Equal(t, model.NewAssistantTurn("Hello!"), history[2])
}

func TestHandleMessage_ModelSwitch(t *testing.T) {
	fc := &fakeCompleter{}
	c := newController(t, fc, 0)
	s, _ := c.Start()
	before := s.History()

	out := c.HandleMessage(context.Background(), s, "model: gemma", nil)

	assert.Equal(t, OutcomeModelChanged, out.Kind)
	assert.Equal(t, "Gemma 7B (Lightweight)", out.Model.Name)
	assert.Equal(t, "google/gemma-7b-it", out.Model.ID)
	assert.Equal(t, []string{"Model changed to: Gemma 7B (Lightweight) (google/gemma-7b-it)"}, out.Messages())
	assert.Equal(t, "google/gemma-7b-it", s.Model())
	assert.Equal(t, before, s.History())
	assert.Empty(t, fc.Calls())

	// The next completion uses the new model.
	c.HandleMessage(context.Background(), s, "Hi", nil)
	calls := fc.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, "google/gemma-7b-it", calls[0].model)
}

func TestHandleMessage_ModelSwitchIgnoresAttachments(t *testing.T) {
	fc := &fakeCompleter{}
	c := newController(t, fc, 0)
	s, _ := c.Start()

	out := c.HandleMessage(context.Background(), s, "  Model: OPENCHAT ", []commands.Attachment{textFile("notes.txt", "hello")})

	assert.Equal(t, OutcomeModelChanged, out.Kind)
	assert.Equal(t, "openchat/openchat-7b", s.Model())
	assert.Empty(t, out.Acknowledgements)
	assert.Equal(t, 1, s.Len())
}

func TestHandleMessage_ModelNotFound(t *testing.T) {
	c := newController(t, &fakeCompleter{}, 0)
	s, _ := c.Start()

	out := c.HandleMessage(context.Background(), s, "model: xyz-nonexistent", nil)

	assert.Equal(t, OutcomeModelNotFound, out.Kind)
	assert.Equal(t, "xyz-nonexistent", out.Query)
	assert.Equal(t, model.DefaultModelID, s.Model())

	msgs := out.Messages()
	require.Len(t, msgs, 1)
	assert.True(t, strings.HasPrefix(msgs[0], "Model 'xyz-nonexistent' not found. Available models: "))
	assert.Contains(t, msgs[0], "Gemma 7B (Lightweight) (google/gemma-7b-it)")
}

func TestHandleMessage_EmptyModelQuery(t *testing.T) {
	c := newController(t, &fakeCompleter{}, 0)
	s, _ := c.Start()

	out := c.HandleMessage(context.Background(), s, "model:", nil)
	assert.Equal(t, OutcomeModelNotFound, out.Kind)
	assert.Equal(t, model.DefaultModelID, s.Model())
}

func TestHandleMessage_RateLimitedThenRecovers(t *testing.T) {
	var limited atomic.Bool
	limited.Store(true)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if limited.Load() {
			w.WriteHeader(http.StatusTooManyRequests)
			w.Write([]byte(`{"error":{"message":"Rate limit exceeded"}}`))
			return
		}
		w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"Back again"}}]}`))
	}))
	defer server.Close()

	client, err := cloud.NewClient(cloud.Config{APIKey: "sk-test", BaseURL: server.URL, Timeout: 2 * time.Second})
	require.NoError(t, err)
	client.WithHTTPClient(server.Client())

	c := newController(t, client, 0)
	s, _ := c.Start()

	out := c.HandleMessage(context.Background(), s, "Hi", nil)
	assert.Equal(t, OutcomeFailure, out.Kind)
	assert.ErrorIs(t, out.Err, cloud.ErrRateLimited)
	assert.Equal(t, []string{"❌ Error: Rate limit exceeded - Too many requests"}, out.Messages())

	history := s.History()
	require.Len(t, history, 2)
	assert.Equal(t, model.NewUserTurn("Hi"), history[1])

	limited.Store(false)
	out = c.HandleMessage(context.Background(), s, "Hi again", nil)
	assert.Equal(t, OutcomeReply, out.Kind)
	assert.Equal(t, "Back again", out.Reply)
	assert.Equal(t, 4, s.Len())
}

func TestHandleMessage_Empty(t *testing.T) {
	fc := &fakeCompleter{}
	c := newController(t, fc, 0)
	s, _ := c.Start()

	for _, raw := range []string{"", "   ", "\n\t"} {
		out := c.HandleMessage(context.Background(), s, raw, nil)
		assert.Equal(t, OutcomeNoOp, out.Kind)
		assert.Empty(t, out.Messages())
	}
	assert.Empty(t, fc.Calls())
	assert.Equal(t, 1, s.Len())
}

// =============================================================================
// ATTACHMENT TESTS
// =============================================================================

func TestHandleMessage_Attachments(t *testing.T) {
	fc := &fakeCompleter{}
	c := newController(t, fc, 0)
	s, _ := c.Start()

	out := c.HandleMessage(context.Background(), s, "what do you think?", []commands.Attachment{
		textFile("notes.txt", "hello"),
		binaryFile("photo.png"),
	})

	assert.Equal(t, OutcomeReply, out.Kind)
	assert.Equal(t, []string{
		"File 'notes.txt' uploaded and processed. I've analyzed its content and am ready to discuss it.",
		"File 'photo.png' uploaded. (Note: I can only analyze text files directly)",
		"Hello!",
	}, out.Messages())

	calls := fc.Calls()
	require.Len(t, calls, 1, "one completion per event")
	turns := calls[0].turns
	require.Len(t, turns, 3)
	assert.Contains(t, turns[1].Content, "notes.txt")
	assert.Contains(t, turns[1].Content, "hello")
	assert.Equal(t, "what do you think?", turns[2].Content)
	assert.Equal(t, 4, s.Len())
}

func TestHandleMessage_TextAttachmentOnly(t *testing.T) {
	fc := &fakeCompleter{}
	c := newController(t, fc, 0)
	s, _ := c.Start()

	out := c.HandleMessage(context.Background(), s, "", []commands.Attachment{textFile("notes.txt", "hello")})
	assert.Equal(t, OutcomeReply, out.Kind)
	assert.Len(t, out.Acknowledgements, 1)
	assert.Len(t, fc.Calls(), 1)
}

func TestHandleMessage_BinaryOnly(t *testing.T) {
	fc := &fakeCompleter{}
	c := newController(t, fc, 0)
	s, _ := c.Start()

	out := c.HandleMessage(context.Background(), s, "", []commands.Attachment{binaryFile("a.png"), binaryFile("b.pdf")})

	assert.Equal(t, OutcomeAcknowledged, out.Kind)
	assert.Equal(t, []string{
		"File 'a.png' uploaded. (Note: I can only analyze text files directly)",
		"File 'b.pdf' uploaded. (Note: I can only analyze text files directly)",
	}, out.Messages())
	assert.Empty(t, fc.Calls())
	assert.Equal(t, 1, s.Len())
}

// =============================================================================
// TRUNCATION TESTS
// =============================================================================

func TestHandleMessage_TruncatesBeforeCompletion(t *testing.T) {
	var maxSeen int
	fc := &fakeCompleter{fn: func(_ context.Context, _ string, turns []model.Turn) (string, error) {
		if len(turns) > maxSeen {
			maxSeen = len(turns)
		}
		if turns[0].Role != model.RoleSystem {
			return "", errors.New("system turn evicted")
		}
		return "ok", nil
	}}
	c := newController(t, fc, 5)
	s, _ := c.Start()

	for i := 0; i < 10; i++ {
		out := c.HandleMessage(context.Background(), s, fmt.Sprintf("msg %d", i), nil)
		require.Equal(t, OutcomeReply, out.Kind, "round %d: %v", i, out.Err)
	}

	assert.LessOrEqual(t, maxSeen, 5)
	history := s.History()
	// Truncation runs before the reply is appended.
	assert.LessOrEqual(t, len(history), 6)
	assert.Equal(t, model.RoleSystem, history[0].Role)
	assert.Equal(t, model.NewAssistantTurn("ok"), history[len(history)-1])
	assert.Equal(t, model.NewUserTurn("msg 9"), history[len(history)-2])
}

// =============================================================================
// CONCURRENCY TESTS
// =============================================================================

func TestHandleMessage_SerializesPerSession(t *testing.T) {
	var inFlight, maxInFlight atomic.Int32
	fc := &fakeCompleter{fn: func(context.Context, string, []model.Turn) (string, error) {
		n := inFlight.Add(1)
		for {
			m := maxInFlight.Load()
			if n <= m || maxInFlight.CompareAndSwap(m, n) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		inFlight.Add(-1)
		return "ok", nil
	}}
	c := newController(t, fc, 100)
	s, _ := c.Start()

	const senders = 10
	var wg sync.WaitGroup
	for i := 0; i < senders; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			c.HandleMessage(context.Background(), s, fmt.Sprintf("m%d", i), nil)
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(1), maxInFlight.Load())
	history := s.History()
	require.Len(t, history, 1+2*senders)
	// Every user turn is immediately followed by its reply.
	for i := 1; i < len(history); i += 2 {
		assert.Equal(t, model.RoleUser, history[i].Role)
		assert.Equal(t, model.RoleAssistant, history[i+1].Role)
	}
}

func TestHandleMessage_SessionsRunInParallel(t *testing.T) {
	var arrived sync.WaitGroup
	arrived.Add(2)
	fc := &fakeCompleter{fn: func(ctx context.Context, _ string, _ []model.Turn) (string, error) {
		arrived.Done()
		done := make(chan struct{})
		go func() {
			arrived.Wait()
			close(done)
		}()
		select {
		case <-done:
			return "together", nil
		case <-time.After(2 * time.Second):
			return "", errors.New("other session never arrived")
		}
	}}
	c := newController(t, fc, 0)
	s1, _ := c.Start()
	s2, _ := c.Start()

	results := make(chan Outcome, 2)
	for _, s := range []*Session{s1, s2} {
		go func(s *Session) {
			results <- c.HandleMessage(context.Background(), s, "Hi", nil)
		}(s)
	}

	for i := 0; i < 2; i++ {
		out := <-results
		assert.Equal(t, OutcomeReply, out.Kind, "%v", out.Err)
	}
}

func TestSession_ReadableDuringCompletion(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	fc := &fakeCompleter{fn: func(context.Context, string, []model.Turn) (string, error) {
		close(started)
		<-release
		return "done", nil
	}}
	c := newController(t, fc, 0)
	s, _ := c.Start()

	finished := make(chan Outcome, 1)
	go func() { finished <- c.HandleMessage(context.Background(), s, "Hi", nil) }()

	<-started
	snap := s.Snapshot()
	assert.Equal(t, s.ID, snap.ID)
	assert.Len(t, snap.Turns, 2)
	assert.Positive(t, snap.EstimatedTokens)
	assert.Equal(t, model.DefaultModelID, snap.Model)
	close(release)

	assert.Equal(t, OutcomeReply, (<-finished).Kind)
}

func TestSession_LastPrompt(t *testing.T) {
	c := newController(t, &fakeCompleter{}, 0)
	s, _ := c.Start()
	assert.Equal(t, "", s.lastPrompt(20))

	c.HandleMessage(context.Background(), s, "first line of a long question\nsecond line", nil)
	assert.Equal(t, "first line of a l...", s.lastPrompt(20))
}

// =============================================================================
// FAILURE MESSAGE TESTS
// =============================================================================

func TestFailureMessage(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{&cloud.CompletionError{Kind: cloud.KindUnauthorized, Status: 401}, "❌ Error: Unauthorized - Please check your API key configuration"},
		{&cloud.CompletionError{Kind: cloud.KindForbidden, Status: 403}, "❌ Error: Access forbidden - Your API key may not have access to this model"},
		{&cloud.CompletionError{Kind: cloud.KindRateLimited, Status: 429}, "❌ Error: Rate limit exceeded - Too many requests"},
		{&cloud.CompletionError{Kind: cloud.KindHTTPError, Status: 502, Detail: "Bad Gateway"}, "❌ HTTP Error: 502 Bad Gateway"},
		{&cloud.CompletionError{Kind: cloud.KindTransportError, Detail: "timeout"}, "❌ Request error: timeout"},
		{&cloud.CompletionError{Kind: cloud.KindMalformedResponse, Detail: "response contains no choices"}, "❌ An error occurred: response contains no choices"},
		{fmt.Errorf("wrapped: %w", &cloud.CompletionError{Kind: cloud.KindRateLimited}), "❌ Error: Rate limit exceeded - Too many requests"},
		{errors.New("boom"), "❌ An error occurred: boom"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, FailureMessage(tt.err))
	}
}

func TestOutcomeKind_String(t *testing.T) {
	assert.Equal(t, "no_op", OutcomeNoOp.String())
	assert.Equal(t, "model_changed", OutcomeModelChanged.String())
	assert.Equal(t, "model_not_found", OutcomeModelNotFound.String())
	assert.Equal(t, "reply", OutcomeReply.String())
	assert.Equal(t, "failure", OutcomeFailure.String())
	assert.Equal(t, "acknowledged", OutcomeAcknowledged.String())
}
