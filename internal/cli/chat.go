// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/peterh/liner"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/jeranaias/rigrun-chat/internal/commands"
	"github.com/jeranaias/rigrun-chat/internal/config"
	"github.com/jeranaias/rigrun-chat/internal/session"
	"github.com/jeranaias/rigrun-chat/internal/util"
)

const historyFileName = "chat_history"

const chatHelp = `Commands:
  /attach <path>   Attach a file to your next message
  /models          List available models
  /history         Show the conversation so far
  /help            Show this help
  /quit            Exit (also: exit, quit, Ctrl+D)

Switch models with: model: <name or id>
Ctrl+C cancels a pending reply.`

// =============================================================================
// LINE INPUT
// =============================================================================

// lineReader reads one line of user input per call and returns io.EOF when
// input ends.
type lineReader interface {
	Prompt(prompt string) (string, error)
	Close() error
}

// historyReader provides line editing and a persistent history file.
type historyReader struct {
	line        *liner.State
	historyFile string
}

func newHistoryReader(historyFile string) *historyReader {
	line := liner.NewLiner()
	line.SetCtrlCAborts(true)

	r := &historyReader{line: line, historyFile: historyFile}
	if f, err := os.Open(historyFile); err == nil {
		_, _ = line.ReadHistory(f)
		f.Close()
	}
	return r
}

func (r *historyReader) Prompt(prompt string) (string, error) {
	input, err := r.line.Prompt(prompt)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(input) != "" {
		r.line.AppendHistory(input)
	}
	return input, nil
}

// Close saves history with owner-only permissions and restores the terminal.
func (r *historyReader) Close() error {
	if r.historyFile != "" {
		if err := os.MkdirAll(filepath.Dir(r.historyFile), 0o700); err == nil {
			if f, err := os.OpenFile(r.historyFile, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600); err == nil {
				_, _ = r.line.WriteHistory(f)
				f.Close()
			}
		}
	}
	return r.line.Close()
}

// scanReader reads plain lines, for piped stdin.
type scanReader struct {
	scanner *bufio.Scanner
}

func newScanReader(in io.Reader) *scanReader {
	s := bufio.NewScanner(in)
	s.Buffer(make([]byte, 0, 64*1024), commands.MaxAttachmentSize)
	return &scanReader{scanner: s}
}

func (r *scanReader) Prompt(string) (string, error) {
	if !r.scanner.Scan() {
		if err := r.scanner.Err(); err != nil {
			return "", err
		}
		return "", io.EOF
	}
	return r.scanner.Text(), nil
}

func (r *scanReader) Close() error { return nil }

// =============================================================================
// REPL
// =============================================================================

// REPL drives one session from terminal input.
type REPL struct {
	controller *session.Controller
	session    *session.Session

	in  lineReader
	out io.Writer

	// render formats assistant replies. Nil prints them verbatim.
	render func(string) string

	// interrupt derives the context for one completion. The default cancels
	// it on Ctrl+C.
	interrupt func(context.Context) (context.Context, context.CancelFunc)

	pending []commands.Attachment
	log     *zap.Logger
}

// NewREPL starts a session on c and reads input from in.
func NewREPL(c *session.Controller, in lineReader, out io.Writer, log *zap.Logger) (*REPL, string) {
	if log == nil {
		log = zap.NewNop()
	}
	s, welcome := c.Start()
	return &REPL{
		controller: c,
		session:    s,
		in:         in,
		out:        out,
		interrupt: func(ctx context.Context) (context.Context, context.CancelFunc) {
			return signal.NotifyContext(ctx, os.Interrupt)
		},
		log: log.Named("repl"),
	}, welcome
}

// Session returns the session driven by the REPL.
func (r *REPL) Session() *session.Session {
	return r.session
}

// Run reads lines until input ends, the user quits or ctx is done.
func (r *REPL) Run(ctx context.Context) error {
	prompt := PromptStyle.Render("you> ")
	for {
		if ctx.Err() != nil {
			return nil
		}

		line, err := r.in.Prompt(prompt)
		if err != nil {
			if errors.Is(err, io.EOF) {
				fmt.Fprintln(r.out)
				return nil
			}
			if errors.Is(err, liner.ErrPromptAborted) {
				fmt.Fprintln(r.out, DimStyle.Render("(use /quit or Ctrl+D to exit)"))
				continue
			}
			return fmt.Errorf("read input: %w", err)
		}

		if r.handleLine(ctx, line) {
			return nil
		}
	}
}

// handleLine processes one line of input and reports whether to exit.
func (r *REPL) handleLine(ctx context.Context, line string) bool {
	trimmed := strings.TrimSpace(line)
	switch strings.ToLower(trimmed) {
	case "exit", "quit":
		return true
	}

	if commands.IsCommand(trimmed) {
		return r.handleCommand(trimmed)
	}

	r.send(ctx, line)
	return false
}

func (r *REPL) handleCommand(input string) bool {
	name, args := commands.ParseCommand(input)
	switch name {
	case "quit", "q", "exit":
		return true
	case "help", "h", "?":
		fmt.Fprintln(r.out, chatHelp)
	case "models":
		printModels(r.out, r.controller.Registry(), r.session.Model())
	case "attach", "a":
		r.attach(args)
	case "history":
		r.printHistory()
	default:
		fmt.Fprintln(r.out, WarningStyle.Render(fmt.Sprintf("Unknown command /%s. Type /help for commands.", name)))
	}
	return false
}

func (r *REPL) attach(paths []string) {
	if len(paths) == 0 {
		fmt.Fprintln(r.out, WarningStyle.Render("Usage: /attach <path>"))
		return
	}
	for _, p := range paths {
		att, err := commands.LoadAttachment(p)
		if err != nil {
			fmt.Fprintln(r.out, WarningStyle.Render(err.Error()))
			continue
		}
		r.pending = append(r.pending, att)
		fmt.Fprintln(r.out, DimStyle.Render(fmt.Sprintf("Attached %s (%s, %d bytes); it will be sent with your next message.",
			att.Name, att.MIME, len(att.Data))))
	}
}

// printHistory lists the non-system turns, one line each.
func (r *REPL) printHistory() {
	turns := r.session.History()
	if len(turns) <= 1 {
		fmt.Fprintln(r.out, DimStyle.Render("No messages yet."))
		return
	}
	width := GetTerminalWidth() - 12
	for _, t := range turns[1:] {
		label := util.PadRight(t.Role.DisplayName()+":", 11)
		fmt.Fprintln(r.out, DimStyle.Render(label)+" "+util.TruncateWidth(util.FirstLine(t.Content), width))
	}
}

// send hands one message and any queued attachments to the session.
func (r *REPL) send(ctx context.Context, text string) {
	atts := r.pending
	r.pending = nil

	callCtx, cancel := r.interrupt(ctx)
	defer cancel()

	out := r.controller.HandleMessage(callCtx, r.session, text, atts)
	r.log.Debug("message handled",
		zap.String("outcome", out.Kind.String()),
		zap.Int("attachments", len(atts)),
		zap.Int("history", r.session.Len()))

	r.printOutcome(out)
}

func (r *REPL) printOutcome(out session.Outcome) {
	msgs := out.Messages()
	acks := len(out.Acknowledgements)
	for i, msg := range msgs {
		if i < acks {
			fmt.Fprintln(r.out, NoticeStyle.Render(msg))
			continue
		}
		switch out.Kind {
		case session.OutcomeReply:
			fmt.Fprintln(r.out, r.renderReply(msg))
		case session.OutcomeFailure:
			fmt.Fprintln(r.out, ErrorStyle.Render(msg))
		case session.OutcomeModelNotFound:
			fmt.Fprintln(r.out, WarningStyle.Render(msg))
		default:
			fmt.Fprintln(r.out, NoticeStyle.Render(msg))
		}
	}
}

func (r *REPL) renderReply(reply string) string {
	if r.render == nil {
		return reply
	}
	return strings.TrimRight(r.render(reply), "\n")
}

// newMarkdownRenderer returns a reply renderer for terminal output.
// Rendering failures fall back to the raw text.
func newMarkdownRenderer(width int) (func(string) string, error) {
	tr, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(width),
	)
	if err != nil {
		return nil, fmt.Errorf("markdown renderer: %w", err)
	}
	return func(s string) string {
		rendered, err := tr.Render(s)
		if err != nil {
			return s
		}
		return rendered
	}, nil
}

// =============================================================================
// COMMAND
// =============================================================================

func newChatCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Start an interactive chat session",
		Long: `Start an interactive chat session in the terminal.

Type a message to get a reply. "model: <name>" switches models.
/attach <path> sends a file with your next message.`,
		Example: `  rigrun-chat chat
  rigrun-chat chat --model gemma
  echo "Hi" | rigrun-chat chat`,
		Args: cobra.NoArgs,
		RunE: a.runChat,
	}
	cmd.Flags().StringVarP(&a.model, "model", "m", "", "model to start with (name or id)")
	return cmd
}

func (a *app) runChat(cmd *cobra.Command, _ []string) error {
	if a.model != "" {
		reg, err := a.cfg.Registry()
		if err != nil {
			return err
		}
		info, ok := reg.Resolve(a.model)
		if !ok {
			return fmt.Errorf("unknown model %q (available: %s)", a.model, reg.FormatList())
		}
		a.cfg.DefaultModel = info.ID
	}

	ctrl, err := a.buildController(nil)
	if err != nil {
		return err
	}

	interactive := isTerminal(cmd.InOrStdin())
	var in lineReader
	if interactive {
		historyFile := ""
		if dir, err := config.ConfigDir(); err == nil {
			historyFile = filepath.Join(dir, historyFileName)
		}
		in = newHistoryReader(historyFile)
	} else {
		in = newScanReader(cmd.InOrStdin())
	}
	defer in.Close()

	out := cmd.OutOrStdout()
	repl, welcome := NewREPL(ctrl, in, out, a.log)
	if IsStdoutTTY() {
		render, err := newMarkdownRenderer(GetTerminalWidth())
		if err != nil {
			a.log.Warn("markdown rendering disabled", zap.Error(err))
		} else {
			repl.render = render
		}
	}

	if interactive {
		fmt.Fprintln(out, TitleStyle.Render("rigrun-chat"))
		fmt.Fprintln(out, DimStyle.Render(fmt.Sprintf("model %s  |  /help for commands",
			util.TruncateWidth(repl.Session().Model(), 60))))
	}
	fmt.Fprintln(out, NoticeStyle.Render(welcome))

	return repl.Run(cmd.Context())
}
