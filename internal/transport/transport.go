// Package transport defines the outbound messaging contract and shared
// text chunking for channel message-size limits.
package transport

import (
	"context"
	"strings"
	"unicode/utf8"
)

// MaxMessageLength is the default per-message size limit for outbound text.
const MaxMessageLength = 3000

// Sender delivers outbound text to a chat on the messaging channel.
type Sender interface {
	SendText(ctx context.Context, chatID, text string) error
}

// Chunk splits text into pieces no longer than max bytes, preferring to
// break on a newline, then a sentence boundary, then a space. max <= 0
// disables chunking.
func Chunk(text string, max int) []string {
	if max <= 0 || len(text) <= max {
		return []string{text}
	}

	var out []string
	for len(text) > max {
		cut := strings.LastIndex(text[:max], "\n")
		if cut <= 0 {
			if i := strings.LastIndex(text[:max], ". "); i > 0 {
				cut = i + 1
			}
		}
		if cut <= 0 {
			cut = strings.LastIndex(text[:max], " ")
		}
		if cut <= 0 {
			cut = max
			// don't split a multi-byte rune on a hard cut
			for cut > 0 && !utf8.RuneStart(text[cut]) {
				cut--
			}
			if cut == 0 {
				cut = max
			}
		}

		piece := strings.TrimSpace(text[:cut])
		if piece != "" {
			out = append(out, piece)
		}
		text = strings.TrimSpace(text[cut:])
	}
	if text != "" {
		out = append(out, text)
	}
	return out
}
