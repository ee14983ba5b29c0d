package chunker

import (
	"strings"
	"testing"
)

func TestNormalize_CollapsesWhitespace(t *testing.T) {
	in := "a   b\t\tc\n\n\n\nd"
	got := Normalize(in)
	want := "a b c\n\nd"
	if got != want {
		t.Errorf("Normalize(%q) = %q, want %q", in, got, want)
	}
}

func TestChunk_SmallTextSingleChunk(t *testing.T) {
	cfg := DefaultConfig()
	chunks := Chunk("hello world", cfg)
	if len(chunks) != 1 {
		t.Fatalf("expected 1 chunk, got %d", len(chunks))
	}
	if chunks[0].ID != 0 {
		t.Errorf("expected chunk id 0, got %d", chunks[0].ID)
	}
	if chunks[0].Text != "hello world" {
		t.Errorf("unexpected text: %q", chunks[0].Text)
	}
}

func TestChunk_OverflowSplitsIntoMultiple(t *testing.T) {
	cfg := Config{ChunkSize: 20, ChunkOverlap: 5}
	para1 := strings.Repeat("a", 15)
	para2 := strings.Repeat("b", 15)
	text := para1 + "\n\n" + para2
	chunks := Chunk(text, cfg)
	if len(chunks) < 2 {
		t.Fatalf("expected at least 2 chunks, got %d", len(chunks))
	}
}

func TestChunk_IDsSequential(t *testing.T) {
	cfg := Config{ChunkSize: 10, ChunkOverlap: 2}
	text := "one\n\ntwo\n\nthree\n\nfour\n\nfive"
	chunks := Chunk(text, cfg)
	for i, c := range chunks {
		if c.ID != uint32(i) {
			t.Errorf("chunk %d has ID %d", i, c.ID)
		}
		if int(c.Length) != len([]rune(c.Text)) {
			t.Errorf("chunk %d length %d does not match rune count %d", i, c.Length, len([]rune(c.Text)))
		}
	}
}

func TestSplitSentences(t *testing.T) {
	sentences := splitSentences("Hello world. How are you? Fine!")
	if len(sentences) != 3 {
		t.Fatalf("expected 3 sentences, got %d: %v", len(sentences), sentences)
	}
}
