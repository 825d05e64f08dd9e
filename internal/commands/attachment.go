// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package commands

import (
	"fmt"
	"io"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

// MaxAttachmentSize bounds the bytes read for a single attachment.
const MaxAttachmentSize = 1 << 20

// Attachment is a file delivered alongside a message.
type Attachment struct {
	// Name is the file name shown to the user and the model
	Name string `json:"name"`

	// MIME is the declared content type (e.g. "text/plain; charset=utf-8")
	MIME string `json:"mime"`

	// Data is the raw file content
	Data []byte `json:"content"`
}

// IsText reports whether the attachment can be embedded into a turn.
func (a Attachment) IsText() bool {
	mediaType := strings.ToLower(strings.TrimSpace(a.MIME))
	if parsed, _, err := mime.ParseMediaType(a.MIME); err == nil {
		mediaType = parsed
	}
	return strings.HasPrefix(mediaType, "text/")
}

// Text decodes the attachment as text. A UTF-8 or UTF-16 byte order mark
// selects the encoding; otherwise UTF-8 is assumed and invalid sequences are
// replaced with U+FFFD.
func (a Attachment) Text() string {
	decoder := unicode.BOMOverride(unicode.UTF8.NewDecoder())
	out, _, err := transform.Bytes(decoder, a.Data)
	if err != nil {
		return strings.ToValidUTF8(string(a.Data), "�")
	}
	return string(out)
}

// LoadAttachment reads a file from disk and detects its content type from
// the extension, falling back to content sniffing.
func LoadAttachment(path string) (Attachment, error) {
	f, err := os.Open(path)
	if err != nil {
		return Attachment{}, fmt.Errorf("open attachment: %w", err)
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, MaxAttachmentSize+1))
	if err != nil {
		return Attachment{}, fmt.Errorf("read attachment: %w", err)
	}
	if len(data) > MaxAttachmentSize {
		return Attachment{}, fmt.Errorf("attachment %s exceeds %d bytes", filepath.Base(path), MaxAttachmentSize)
	}

	return Attachment{
		Name: filepath.Base(path),
		MIME: DetectMIME(path, data),
		Data: data,
	}, nil
}

// DetectMIME guesses a content type from the file extension, then the data.
func DetectMIME(name string, data []byte) string {
	if byExt := mime.TypeByExtension(filepath.Ext(name)); byExt != "" {
		return byExt
	}
	return http.DetectContentType(data)
}
