// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/muesli/termenv"

	"github.com/jeranaias/rigrun-chat/internal/model"
	"github.com/jeranaias/rigrun-chat/internal/session"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

// scriptCompleter returns canned replies and records each request.
type scriptCompleter struct {
	mu     sync.Mutex
	reply  string
	err    error
	models []string
	turns  [][]model.Turn
}

func (c *scriptCompleter) Complete(_ context.Context, modelID string, turns []model.Turn) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.models = append(c.models, modelID)
	c.turns = append(c.turns, append([]model.Turn(nil), turns...))
	return c.reply, c.err
}

func newTestREPL(t *testing.T, fc *scriptCompleter, input string) (*REPL, *bytes.Buffer) {
	t.Helper()
	ctrl, err := session.NewController(session.Options{
		Registry: model.DefaultRegistry(),
		Client:   fc,
	})
	if err != nil {
		t.Fatalf("NewController: %v", err)
	}
	out := &bytes.Buffer{}
	repl, _ := NewREPL(ctrl, newScanReader(strings.NewReader(input)), out, nil)
	repl.interrupt = func(ctx context.Context) (context.Context, context.CancelFunc) {
		return context.WithCancel(ctx)
	}
	return repl, out
}

// clearEnv removes environment overrides that would leak into config loading.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"OPENROUTER_API_KEY", "RIGRUN_CHAT_API_KEY", "RIGRUN_CHAT_BASE_URL",
		"RIGRUN_CHAT_MODEL", "RIGRUN_CHAT_TIMEOUT", "RIGRUN_CHAT_MAX_TURNS",
		"RIGRUN_CHAT_ADDR", "RIGRUN_CHAT_AUTH_TOKEN", "RIGRUN_CHAT_LOG_LEVEL",
	} {
		t.Setenv(k, "")
		os.Unsetenv(k)
	}
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func runRoot(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	root := NewRootCommand()
	out := &bytes.Buffer{}
	root.SetOut(out)
	root.SetErr(out)
	root.SetIn(strings.NewReader(stdin))
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

// =============================================================================
// REPL TESTS
// =============================================================================

func TestREPL_SendsMessagesAndPrintsReplies(t *testing.T) {
	fc := &scriptCompleter{reply: "Hello!"}
	repl, out := newTestREPL(t, fc, "Hi\n")

	if err := repl.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if !strings.Contains(out.String(), "Hello!") {
		t.Errorf("output missing reply: %q", out.String())
	}
	if got := repl.Session().Len(); got != 3 {
		t.Errorf("history length = %d, want 3", got)
	}
	if len(fc.models) != 1 || fc.models[0] != model.DefaultModelID {
		t.Errorf("completion models = %v", fc.models)
	}
}

func TestREPL_ExitWords(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"quit command", "/quit\nHi\n"},
		{"short quit", "/q\nHi\n"},
		{"exit word", "exit\nHi\n"},
		{"quit word", "  QUIT \nHi\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fc := &scriptCompleter{reply: "unused"}
			repl, _ := newTestREPL(t, fc, tt.input)
			if err := repl.Run(context.Background()); err != nil {
				t.Fatalf("Run: %v", err)
			}
			if len(fc.models) != 0 {
				t.Errorf("expected no completion calls, got %d", len(fc.models))
			}
		})
	}
}

func TestREPL_ModelSwitchIsLocal(t *testing.T) {
	fc := &scriptCompleter{reply: "ok"}
	repl, out := newTestREPL(t, fc, "model: gemma\nHi\n")

	if err := repl.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if !strings.Contains(out.String(), "Model changed to: Gemma 7B (Lightweight) (google/gemma-7b-it)") {
		t.Errorf("missing switch notice: %q", out.String())
	}
	if len(fc.models) != 1 || fc.models[0] != "google/gemma-7b-it" {
		t.Errorf("completion models = %v, want [google/gemma-7b-it]", fc.models)
	}
}

func TestREPL_AttachQueuesForNextMessage(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "notes.txt")
	if err := os.WriteFile(path, []byte("alpha beta"), 0o600); err != nil {
		t.Fatal(err)
	}

	fc := &scriptCompleter{reply: "got it"}
	input := fmt.Sprintf("/attach %s\nsummarize\nagain\n", path)
	repl, out := newTestREPL(t, fc, input)

	if err := repl.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if !strings.Contains(out.String(), "File 'notes.txt' uploaded and processed.") {
		t.Errorf("missing acknowledgement: %q", out.String())
	}
	if len(fc.turns) != 2 {
		t.Fatalf("completion calls = %d, want 2", len(fc.turns))
	}

	first := fc.turns[0]
	var sawFile bool
	for _, turn := range first {
		if strings.Contains(turn.Content, "alpha beta") {
			sawFile = true
		}
	}
	if !sawFile {
		t.Errorf("first request does not include the attachment: %+v", first)
	}

	// The queue is drained after one message.
	if got := strings.Count(out.String(), "uploaded and processed"); got != 1 {
		t.Errorf("acknowledgements = %d, want 1", got)
	}
}

func TestREPL_AttachErrors(t *testing.T) {
	fc := &scriptCompleter{reply: "x"}
	repl, out := newTestREPL(t, fc, "/attach\n/attach /does/not/exist.txt\n")

	if err := repl.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !strings.Contains(out.String(), "Usage: /attach <path>") {
		t.Errorf("missing usage: %q", out.String())
	}
	if !strings.Contains(out.String(), "open attachment") {
		t.Errorf("missing open error: %q", out.String())
	}
	if len(repl.pending) != 0 {
		t.Errorf("pending = %d, want 0", len(repl.pending))
	}
}

func TestREPL_LocalCommands(t *testing.T) {
	fc := &scriptCompleter{reply: "x"}
	repl, out := newTestREPL(t, fc, "/help\n/models\n/bogus\n")

	if err := repl.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	got := out.String()
	for _, want := range []string{
		"/attach <path>",
		"Available models",
		"* Mistral 7B (Balanced)",
		"google/gemma-7b-it",
		"Unknown command /bogus",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("output missing %q:\n%s", want, got)
		}
	}
	if len(fc.models) != 0 {
		t.Errorf("slash commands reached the session")
	}
}

func TestREPL_History(t *testing.T) {
	fc := &scriptCompleter{reply: "Hello!\nMore detail"}
	repl, out := newTestREPL(t, fc, "/history\nHi there\n/history\n")

	if err := repl.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	got := out.String()
	if !strings.Contains(got, "No messages yet.") {
		t.Errorf("missing empty history notice:\n%s", got)
	}
	if !strings.Contains(got, "Hi there") || !strings.Contains(got, "Assistant:") {
		t.Errorf("history not listed:\n%s", got)
	}
	if strings.Contains(got, model.DefaultSystemPrompt) {
		t.Errorf("system prompt should not be listed:\n%s", got)
	}
}

func TestREPL_FailureIsPrinted(t *testing.T) {
	fc := &scriptCompleter{err: fmt.Errorf("boom")}
	repl, out := newTestREPL(t, fc, "Hi\n")

	if err := repl.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !strings.Contains(out.String(), "❌ An error occurred: boom") {
		t.Errorf("missing failure: %q", out.String())
	}
}

func TestREPL_RendererAppliesToRepliesOnly(t *testing.T) {
	fc := &scriptCompleter{reply: "plain"}
	repl, out := newTestREPL(t, fc, "Hi\nmodel: nothing-like-this\n")
	repl.render = func(s string) string { return "<md>" + s + "</md>\n" }

	if err := repl.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !strings.Contains(out.String(), "<md>plain</md>") {
		t.Errorf("reply not rendered: %q", out.String())
	}
	if strings.Contains(out.String(), "<md>Model") {
		t.Errorf("notice was rendered as markdown: %q", out.String())
	}
}

func TestREPL_StopsWhenContextDone(t *testing.T) {
	fc := &scriptCompleter{reply: "x"}
	repl, _ := newTestREPL(t, fc, "Hi\n")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := repl.Run(ctx); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(fc.models) != 0 {
		t.Errorf("expected no calls after cancel")
	}
}

// =============================================================================
// TERMINAL TESTS
// =============================================================================

func TestColorProfile(t *testing.T) {
	env := func(vals map[string]string) func(string) string {
		return func(k string) string { return vals[k] }
	}
	yes := func() bool { return true }
	no := func() bool { return false }

	if got := colorProfile(env(map[string]string{"NO_COLOR": "1", "FORCE_COLOR": "1"}), yes); got != termenv.Ascii {
		t.Errorf("NO_COLOR: got %v, want Ascii", got)
	}
	if got := colorProfile(env(map[string]string{"FORCE_COLOR": "1"}), no); got != termenv.ANSI256 {
		t.Errorf("FORCE_COLOR: got %v, want ANSI256", got)
	}
	if got := colorProfile(env(nil), no); got != termenv.Ascii {
		t.Errorf("non-TTY: got %v, want Ascii", got)
	}
}

func TestClampWidth(t *testing.T) {
	tests := []struct{ in, want int }{
		{10, MinTerminalWidth},
		{80, 80},
		{500, MaxRenderWidth},
	}
	for _, tt := range tests {
		if got := clampWidth(tt.in); got != tt.want {
			t.Errorf("clampWidth(%d) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

func TestIsLoopback(t *testing.T) {
	tests := []struct {
		addr string
		want bool
	}{
		{"127.0.0.1:8000", true},
		{"localhost:8000", true},
		{"[::1]:8000", true},
		{"0.0.0.0:8000", false},
		{":8000", false},
		{"bad", false},
	}
	for _, tt := range tests {
		if got := isLoopback(tt.addr); got != tt.want {
			t.Errorf("isLoopback(%q) = %v, want %v", tt.addr, got, tt.want)
		}
	}
}

// =============================================================================
// COMMAND TESTS
// =============================================================================

func TestModelsCommand(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, `default_model = "google/gemma-7b-it"`)

	out, err := runRoot(t, "", "models", "--config", path)
	if err != nil {
		t.Fatalf("models: %v", err)
	}
	if !strings.Contains(out, "* Gemma 7B (Lightweight)") {
		t.Errorf("default not marked:\n%s", out)
	}
	if !strings.Contains(out, "mistralai/Mistral-7B-Instruct-v0.2") {
		t.Errorf("missing model id:\n%s", out)
	}
}

func TestModelsCommand_JSON(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, "")

	out, err := runRoot(t, "", "models", "--json", "--config", path)
	if err != nil {
		t.Fatalf("models --json: %v", err)
	}
	if !strings.Contains(out, `"default": "mistralai/Mistral-7B-Instruct-v0.2"`) {
		t.Errorf("unexpected JSON:\n%s", out)
	}
}

func TestConfigInit(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "nested", "config.toml")

	if _, err := runRoot(t, "", "config", "init", "--config", path); err != nil {
		t.Fatalf("config init: %v", err)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0o600 {
		t.Errorf("mode = %o, want 600", perm)
	}

	if _, err := runRoot(t, "", "config", "init", "--config", path); err == nil {
		t.Error("second init without --force should fail")
	}
	if _, err := runRoot(t, "", "config", "init", "--force", "--config", path); err != nil {
		t.Errorf("init --force: %v", err)
	}

	// The written file loads cleanly.
	if _, err := runRoot(t, "", "config", "show", "--config", path); err != nil {
		t.Errorf("config show on generated file: %v", err)
	}
}

func TestConfigShow_RedactsSecrets(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, "[cloud]\napi_key = \"sk-secret\"\n")

	out, err := runRoot(t, "", "config", "show", "--config", path)
	if err != nil {
		t.Fatalf("config show: %v", err)
	}
	if strings.Contains(out, "sk-secret") {
		t.Errorf("api key leaked:\n%s", out)
	}
	if !strings.Contains(out, "[REDACTED]") {
		t.Errorf("missing redaction marker:\n%s", out)
	}
}

func TestChatCommand_RequiresAPIKey(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, "")

	_, err := runRoot(t, "Hi\n", "chat", "--config", path)
	if err == nil || !strings.Contains(err.Error(), "OPENROUTER_API_KEY") {
		t.Fatalf("err = %v, want missing key error", err)
	}
}

func TestChatCommand_UnknownModelFlag(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, "[cloud]\napi_key = \"k\"\n")

	_, err := runRoot(t, "", "chat", "--model", "nope", "--config", path)
	if err == nil || !strings.Contains(err.Error(), `unknown model "nope"`) {
		t.Fatalf("err = %v", err)
	}
}

func TestChatCommand_PipedConversation(t *testing.T) {
	clearEnv(t)

	var (
		mu       sync.Mutex
		gotModel string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Model string `json:"model"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		mu.Lock()
		gotModel = body.Model
		mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"choices":[{"message":{"role":"assistant","content":"Hello from the API"}}]}`)
	}))
	defer srv.Close()

	path := writeConfig(t, fmt.Sprintf("[cloud]\napi_key = \"k\"\nbase_url = %q\n", srv.URL))

	out, err := runRoot(t, "Hi\n/quit\n", "--model", "phi", "--config", path)
	if err != nil {
		t.Fatalf("chat: %v", err)
	}
	if !strings.Contains(out, session.WelcomeMessage) {
		t.Errorf("missing welcome:\n%s", out)
	}
	if !strings.Contains(out, "Hello from the API") {
		t.Errorf("missing reply:\n%s", out)
	}
	mu.Lock()
	defer mu.Unlock()
	if gotModel != "microsoft/phi-3-medium-128k-instruct" {
		t.Errorf("model = %q", gotModel)
	}
}
