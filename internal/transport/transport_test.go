package transport

import (
	"strings"
	"testing"
)

func TestChunk_ShortTextUntouched(t *testing.T) {
	t.Parallel()

	got := Chunk("hello", 3000)
	if len(got) != 1 || got[0] != "hello" {
		t.Errorf("Chunk = %v", got)
	}
}

func TestChunk_PrefersNewline(t *testing.T) {
	t.Parallel()

	text := "first paragraph\nsecond paragraph that pushes past the limit"
	got := Chunk(text, 30)
	if got[0] != "first paragraph" {
		t.Errorf("first piece = %q, want break at newline", got[0])
	}
}

func TestChunk_FallsBackToSentence(t *testing.T) {
	t.Parallel()

	text := "A short sentence. Another sentence that goes past the limit here"
	got := Chunk(text, 40)
	if got[0] != "A short sentence." {
		t.Errorf("first piece = %q, want break after sentence", got[0])
	}
}

func TestChunk_FallsBackToSpace(t *testing.T) {
	t.Parallel()

	text := "several plain words without punctuation at all in this text"
	got := Chunk(text, 25)
	for _, piece := range got {
		if len(piece) > 25 {
			t.Errorf("piece %q exceeds limit", piece)
		}
		if strings.HasPrefix(piece, " ") || strings.HasSuffix(piece, " ") {
			t.Errorf("piece %q not trimmed", piece)
		}
	}
	if strings.Join(got, " ") != text {
		t.Errorf("content lost: %v", got)
	}
}

func TestChunk_HardCutWithoutBreaks(t *testing.T) {
	t.Parallel()

	text := strings.Repeat("x", 70)
	got := Chunk(text, 30)
	if len(got) != 3 {
		t.Fatalf("pieces = %d, want 3", len(got))
	}
	if len(got[0]) != 30 || len(got[1]) != 30 || len(got[2]) != 10 {
		t.Errorf("piece sizes = %d/%d/%d", len(got[0]), len(got[1]), len(got[2]))
	}
}

func TestChunk_DoesNotSplitRunes(t *testing.T) {
	t.Parallel()

	text := strings.Repeat("ü", 40) // 2 bytes each
	for _, piece := range Chunk(text, 25) {
		if !strings.HasPrefix(piece, "ü") {
			t.Errorf("piece starts mid-rune: %q", piece)
		}
	}
}

func TestChunk_DisabledLimit(t *testing.T) {
	t.Parallel()

	text := strings.Repeat("x", 100)
	if got := Chunk(text, 0); len(got) != 1 {
		t.Errorf("pieces = %d, want 1 with chunking disabled", len(got))
	}
}
