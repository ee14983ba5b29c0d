// Package epub defines the narrow interface bookrag uses to turn a book
// file on disk into the plain UTF-8 text and metadata the chunker and
// indexer consume. Parsing arbitrary EPUB/PDF/plain-text formats is
// treated as an external collaborator's concern (spec.md's book-parsing
// Non-goal); this package only fixes the seam a parser plugs into.
package epub

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/bookrag/bookrag/internal/types"
)

// Extractor turns a book file into plain text plus metadata. A real
// deployment wires in an EPUB/PDF-aware implementation; PlainTextExtractor
// below is the one concrete implementation shipped here, for .txt/.md
// books and for tests.
type Extractor interface {
	Extract(path string) (text string, meta types.BookMetadata, err error)
}

// PlainTextExtractor reads UTF-8 plain-text or Markdown files verbatim.
// It is the fallback used when no richer Extractor is configured.
type PlainTextExtractor struct{}

// Extract implements Extractor for plain-text files.
func (PlainTextExtractor) Extract(path string) (string, types.BookMetadata, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", types.BookMetadata{}, fmt.Errorf("epub: open %s: %w", path, err)
	}
	defer f.Close()

	var sb strings.Builder
	r := bufio.NewReaderSize(f, 64*1024)
	if _, err := io.Copy(&sb, r); err != nil {
		return "", types.BookMetadata{}, fmt.Errorf("epub: read %s: %w", path, err)
	}

	stem := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	meta := types.BookMetadata{
		Title: stem,
		Path:  path,
	}
	return sb.String(), meta, nil
}

// Registry resolves an Extractor by file extension, falling back to
// PlainTextExtractor for unrecognized extensions so ingestion never
// hard-fails on an unexpected format.
type Registry struct {
	byExt    map[string]Extractor
	fallback Extractor
}

// NewRegistry builds a Registry with the given extension-to-extractor
// bindings (e.g. {".txt": PlainTextExtractor{}, ".epub": someEpubLib{}}).
func NewRegistry(byExt map[string]Extractor) *Registry {
	return &Registry{byExt: byExt, fallback: PlainTextExtractor{}}
}

// For returns the Extractor registered for path's extension, or the
// plain-text fallback.
func (r *Registry) For(path string) Extractor {
	ext := strings.ToLower(filepath.Ext(path))
	if e, ok := r.byExt[ext]; ok {
		return e
	}
	return r.fallback
}
