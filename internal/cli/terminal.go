// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"io"
	"os"

	"github.com/muesli/termenv"
	"golang.org/x/term"
)

const (
	// DefaultTerminalWidth is used when the width cannot be detected.
	DefaultTerminalWidth = 80

	// MinTerminalWidth keeps rendered markdown readable in narrow panes.
	MinTerminalWidth = 40

	// MaxRenderWidth caps the markdown word-wrap width.
	MaxRenderWidth = 120
)

// isTerminal reports whether r is a terminal file.
func isTerminal(r io.Reader) bool {
	f, ok := r.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

// IsStdoutTTY returns true if stdout is a terminal.
func IsStdoutTTY() bool {
	return term.IsTerminal(int(os.Stdout.Fd()))
}

// GetTerminalWidth returns the width of stdout, clamped to
// [MinTerminalWidth, MaxRenderWidth].
func GetTerminalWidth() int {
	width, _, err := term.GetSize(int(os.Stdout.Fd()))
	if err != nil || width <= 0 {
		return DefaultTerminalWidth
	}
	return clampWidth(width)
}

func clampWidth(width int) int {
	switch {
	case width < MinTerminalWidth:
		return MinTerminalWidth
	case width > MaxRenderWidth:
		return MaxRenderWidth
	default:
		return width
	}
}

// ColorProfile picks the color profile for styled output. NO_COLOR wins,
// then FORCE_COLOR, then TTY detection on stdout.
// See https://no-color.org/.
func ColorProfile() termenv.Profile {
	return colorProfile(os.Getenv, IsStdoutTTY)
}

func colorProfile(getenv func(string) string, isTTY func() bool) termenv.Profile {
	if getenv("NO_COLOR") != "" {
		return termenv.Ascii
	}
	if getenv("FORCE_COLOR") != "" {
		return termenv.ANSI256
	}
	if !isTTY() {
		return termenv.Ascii
	}
	return termenv.ColorProfile()
}
