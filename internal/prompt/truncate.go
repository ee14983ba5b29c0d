package prompt

import (
	"strings"
)

// MaxChars bounds the assembled prompt text handed upstream. 0 disables
// truncation. Adapted from the teacher's extractive-compression sentence
// splitter: rather than scoring and dropping sentences, this trims from
// the middle of the context block (keeping its start and end, where the
// question and the most relevant passage usually sit).
type Budget struct {
	MaxChars int
}

// Truncate trims text to fit budget, preferring to cut whole sentences
// out of the middle rather than the ends.
func Truncate(text string, budget Budget) string {
	if budget.MaxChars <= 0 {
		return text
	}
	runes := []rune(text)
	if len(runes) <= budget.MaxChars {
		return text
	}

	sentences := splitSentences(text)
	if len(sentences) <= 2 {
		return string(runes[:budget.MaxChars])
	}

	kept := []string{sentences[0]}
	total := len([]rune(sentences[0]))
	const marker = "\n\n[...omitted for length...]\n\n"
	total += len([]rune(marker))

	tail := sentences[len(sentences)-1]
	total += len([]rune(tail))

	for i := 1; i < len(sentences)-1; i++ {
		s := sentences[i]
		if total+len([]rune(s)) > budget.MaxChars {
			break
		}
		kept = append(kept, s)
		total += len([]rune(s))
	}
	kept = append(kept, tail)

	return strings.Join(kept[:len(kept)-1], " ") + marker + tail
}

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
