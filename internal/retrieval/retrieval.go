// Package retrieval implements bookrag's hybrid lexical+vector retrieval
// engine: given a query and a book's index, it returns the top_k chunks
// ranked by a fused score.
package retrieval

import (
	"math"
	"sort"
	"strings"
	"unicode"

	"github.com/bookrag/bookrag/internal/types"
)

// Result is one ranked hit returned by Search.
type Result struct {
	Chunk        types.Chunk
	Score        float64
	KeywordScore float64
	VectorScore  float64
	Method       string
}

// Search runs hybrid retrieval over index for query, fusing lexical and
// vector scores with keywordWeight ∈ [0,1]. If queryEmbedding is nil or
// empty, or its dimension disagrees with the index, vector scoring
// degrades silently to all-zero (keyword-only search).
func Search(index *types.BookIndex, query string, queryEmbedding []float32, topK int, keywordWeight float64) []Result {
	n := len(index.Chunks)
	if n == 0 {
		return nil
	}

	keywords := extractKeywords(query)

	kw := make([]float64, n)
	vec := make([]float64, n)

	dim := index.Dimension()
	useVector := len(queryEmbedding) > 0 && dim > 0 && len(queryEmbedding) == dim

	var kwMax, vecMax float64
	for i, c := range index.Chunks {
		kw[i] = keywordScore(c.Text, keywords)
		if kw[i] > kwMax {
			kwMax = kw[i]
		}
		if useVector && i < len(index.Embeddings) {
			v := CosineSimilarity(queryEmbedding, index.Embeddings[i])
			vec[i] = v
			if v > vecMax {
				vecMax = v
			}
		}
	}

	if kwMax == 0 {
		kwMax = 1
	}
	if vecMax == 0 {
		vecMax = 1
	}

	results := make([]Result, n)
	for i, c := range index.Chunks {
		kwNorm := kw[i] / kwMax
		vecNorm := vec[i] / vecMax
		final := keywordWeight*kwNorm + (1-keywordWeight)*vecNorm

		method := "keyword"
		if useVector {
			method = "hybrid"
		}

		results[i] = Result{
			Chunk:        c,
			Score:        final,
			KeywordScore: kw[i],
			VectorScore:  vec[i],
			Method:       method,
		}
	}

	sort.Slice(results, func(a, b int) bool {
		if results[a].Score != results[b].Score {
			return results[a].Score > results[b].Score
		}
		return results[a].Chunk.ID < results[b].Chunk.ID
	})

	if topK > 0 && topK < len(results) {
		results = results[:topK]
	}
	return results
}

// SearchVectorOnly skips the lexical axis entirely.
func SearchVectorOnly(index *types.BookIndex, queryEmbedding []float32, topK int) []Result {
	n := len(index.Chunks)
	if n == 0 {
		return nil
	}

	dim := index.Dimension()
	useVector := len(queryEmbedding) > 0 && dim > 0 && len(queryEmbedding) == dim

	results := make([]Result, n)
	var vecMax float64
	for i, c := range index.Chunks {
		var v float64
		if useVector && i < len(index.Embeddings) {
			v = CosineSimilarity(queryEmbedding, index.Embeddings[i])
		}
		if v > vecMax {
			vecMax = v
		}
		results[i] = Result{Chunk: c, VectorScore: v, Method: "vector"}
	}
	if vecMax == 0 {
		vecMax = 1
	}
	for i := range results {
		results[i].Score = results[i].VectorScore / vecMax
	}

	sort.Slice(results, func(a, b int) bool {
		if results[a].Score != results[b].Score {
			return results[a].Score > results[b].Score
		}
		return results[a].Chunk.ID < results[b].Chunk.ID
	})
	if topK > 0 && topK < len(results) {
		results = results[:topK]
	}
	return results
}

// extractKeywords tokenizes query on Unicode whitespace/punctuation,
// keeps tokens of length ≥ 2, and for tokens longer than 2 characters
// additionally emits every 2-character sliding window. Deduplicated.
func extractKeywords(query string) []string {
	fields := splitOnSpacePunct(query)

	seen := make(map[string]struct{})
	var keywords []string
	add := func(s string) {
		if s == "" {
			return
		}
		if _, ok := seen[s]; ok {
			return
		}
		seen[s] = struct{}{}
		keywords = append(keywords, s)
	}

	for _, f := range fields {
		r := []rune(f)
		if len(r) < 2 {
			continue
		}
		add(f)
		if len(r) > 2 {
			for i := 0; i+2 <= len(r); i++ {
				add(string(r[i : i+2]))
			}
		}
	}
	return keywords
}

func splitOnSpacePunct(s string) []string {
	return strings.FieldsFunc(s, func(r rune) bool {
		return unicode.IsSpace(r) || unicode.IsPunct(r)
	})
}

// keywordScore computes kw = Σ log(1 + count_ci(text, k)) · length(k)
// for each keyword k, case-insensitive, counting characters not bytes.
func keywordScore(text string, keywords []string) float64 {
	if len(keywords) == 0 {
		return 0
	}
	lower := strings.ToLower(text)

	var total float64
	for _, k := range keywords {
		count := countOccurrences(lower, strings.ToLower(k))
		if count == 0 {
			continue
		}
		total += math.Log(1+float64(count)) * float64(len([]rune(k)))
	}
	return total
}

// countOccurrences counts non-overlapping occurrences of sub in s.
func countOccurrences(s, sub string) int {
	if sub == "" {
		return 0
	}
	count := 0
	idx := 0
	for {
		i := strings.Index(s[idx:], sub)
		if i < 0 {
			break
		}
		count++
		idx += i + len(sub)
	}
	return count
}
