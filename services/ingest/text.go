package ingest

import (
	"path/filepath"
	"strings"

	"github.com/mindspring-backend/apperrors"
)

const (
	// maxTextBytes caps normalized source text at 10 MiB.
	maxTextBytes = 10 * 1024 * 1024
	// minTextChars is the minimum usable length after trimming.
	minTextChars = 10
)

// NormalizeText prepares raw extracted text for chunking: line endings are
// unified, surrounding whitespace trimmed, and the result bounded. Too-short
// content is a validation error.
func NormalizeText(raw string) (string, error) {
	text := strings.ReplaceAll(raw, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")
	text = strings.TrimSpace(text)

	if len([]rune(text)) < minTextChars {
		return "", apperrors.NewValidation("Text content is too short to process")
	}
	if len(text) > maxTextBytes {
		text = text[:maxTextBytes]
	}
	return text, nil
}

// FileExt returns the lowercase extension of a filename without the dot.
func FileExt(name string) string {
	return strings.ToLower(strings.TrimPrefix(filepath.Ext(name), "."))
}
