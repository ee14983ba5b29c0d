// Package chunker splits raw book text into overlapping Chunks for
// retrieval.
package chunker

import (
	"regexp"
	"strings"
	"unicode"

	"github.com/bookrag/bookrag/internal/types"
)

// Config controls chunk size and overlap, both measured in characters.
type Config struct {
	ChunkSize    int
	ChunkOverlap int
}

// DefaultConfig returns the current recommended chunk size/overlap.
func DefaultConfig() Config {
	return Config{ChunkSize: 800, ChunkOverlap: 150}
}

// LegacyConfig returns the previous generation's chunk size/overlap, kept
// for books indexed before the default changed.
func LegacyConfig() Config {
	return Config{ChunkSize: 500, ChunkOverlap: 100}
}

var (
	spaceRun   = regexp.MustCompile(`[ \t]+`)
	newlineRun = regexp.MustCompile(`\n{3,}`)
	paragraph  = regexp.MustCompile(`\n{2,}`)
)

// Normalize collapses runs of space/tab to one space and runs of three or
// more newlines to exactly two.
func Normalize(text string) string {
	text = spaceRun.ReplaceAllString(text, " ")
	text = newlineRun.ReplaceAllString(text, "\n\n")
	return text
}

// Chunk splits text into an ordered sequence of overlapping Chunks.
func Chunk(text string, cfg Config) []types.Chunk {
	if cfg.ChunkSize <= 0 {
		cfg = DefaultConfig()
	}

	normalized := Normalize(text)
	paragraphs := paragraph.Split(normalized, -1)

	var chunks []string
	var acc strings.Builder

	flush := func() {
		s := strings.TrimSpace(acc.String())
		if s != "" {
			chunks = append(chunks, s)
		}
		acc.Reset()
	}

	seedOverlap := func(prev string) {
		tail := tailRunes(prev, cfg.ChunkOverlap)
		if tail != "" {
			acc.WriteString(tail)
			acc.WriteString("\n\n")
		}
	}

	for _, p := range paragraphs {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}

		if runeLen(p) > cfg.ChunkSize {
			// Paragraph itself overflows: flush what we have, then split
			// it into sentences and accumulate those independently.
			flush()
			for _, s := range splitSentences(p) {
				appendWithOverflow(&acc, &chunks, s, cfg.ChunkOverlap, cfg.ChunkSize)
			}
			continue
		}

		candidate := acc.String()
		if candidate != "" {
			candidate += "\n\n"
		}
		candidate += p

		if runeLen(candidate) > cfg.ChunkSize && acc.Len() > 0 {
			prev := acc.String()
			flush()
			seedOverlap(prev)
			acc.WriteString(p)
		} else {
			if acc.Len() > 0 {
				acc.WriteString("\n\n")
			}
			acc.WriteString(p)
		}
	}
	flush()

	result := make([]types.Chunk, len(chunks))
	for i, c := range chunks {
		result[i] = types.NewChunk(uint32(i), c)
	}
	return result
}

// appendWithOverflow accumulates sentence s into acc, flushing into
// *chunks and seeding the next accumulator with its own trailing overlap
// when the addition would exceed chunkSize.
func appendWithOverflow(acc *strings.Builder, chunks *[]string, s string, overlap, chunkSize int) {
	candidate := acc.String()
	if candidate != "" {
		candidate += " "
	}
	candidate += s

	if runeLen(candidate) > chunkSize && acc.Len() > 0 {
		prev := acc.String()
		trimmed := strings.TrimSpace(prev)
		if trimmed != "" {
			*chunks = append(*chunks, trimmed)
		}
		acc.Reset()

		tail := tailRunes(prev, overlap)
		if tail != "" {
			acc.WriteString(tail)
			acc.WriteString(" ")
		}
		acc.WriteString(s)
	} else {
		if acc.Len() > 0 {
			acc.WriteString(" ")
		}
		acc.WriteString(s)
	}
}

// splitSentences splits text on Chinese/Western sentence terminators,
// keeping the terminator attached to the preceding sentence.
func splitSentences(text string) []string {
	const terminators = "。！？.!?"

	var sentences []string
	var cur strings.Builder

	for _, r := range text {
		cur.WriteRune(r)
		if strings.ContainsRune(terminators, r) {
			s := strings.TrimSpace(cur.String())
			if s != "" {
				sentences = append(sentences, s)
			}
			cur.Reset()
		}
	}
	if remaining := strings.TrimSpace(cur.String()); remaining != "" {
		sentences = append(sentences, remaining)
	}
	return sentences
}

func runeLen(s string) int {
	return len([]rune(s))
}

// tailRunes returns the last n runes of s (fewer if s is shorter).
func tailRunes(s string, n int) string {
	if n <= 0 {
		return ""
	}
	r := []rune(s)
	if len(r) <= n {
		return string(r)
	}
	return string(r[len(r)-n:])
}

// IsSpaceOrPunct reports whether r is Unicode whitespace or punctuation.
// The lexical scorer in internal/retrieval does not call it; it applies
// the same test in its own splitOnSpacePunct.
func IsSpaceOrPunct(r rune) bool {
	return unicode.IsSpace(r) || unicode.IsPunct(r)
}
