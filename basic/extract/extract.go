// Package extract reads the plain BASIC text out of authored documents.
//
// Authored documents live in a bot's dialog folder next to the editable
// copies the loader writes. Which extractor reads a document is decided
// by its file extension.
package extract

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/teranos/gbvm/errors"
)

// Extractor returns the text of an authored document.
type Extractor interface {
	Extract(ctx context.Context, path string) (string, error)
}

// Registry maps file extensions to extractors.
type Registry struct {
	mu    sync.RWMutex
	byExt map[string]Extractor
}

// NewRegistry returns a registry with the built-in extractors:
// .bas and .txt as plain text, .md as markdown.
func NewRegistry() *Registry {
	r := &Registry{byExt: make(map[string]Extractor)}
	r.Register(".bas", PlainText{})
	r.Register(".txt", PlainText{})
	r.Register(".md", NewMarkdown())
	return r
}

// Register binds ext (with or without the leading dot) to e.
func (r *Registry) Register(ext string, e Extractor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byExt[normalizeExt(ext)] = e
}

// For returns the extractor for path's extension.
func (r *Registry) For(path string) (Extractor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.byExt[normalizeExt(filepath.Ext(path))]
	return e, ok
}

// Extensions returns the registered extensions, sorted.
func (r *Registry) Extensions() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	exts := make([]string, 0, len(r.byExt))
	for ext := range r.byExt {
		exts = append(exts, ext)
	}
	sort.Strings(exts)
	return exts
}

// Extract reads path with the extractor registered for its extension.
// Failures are source resolution errors.
func (r *Registry) Extract(ctx context.Context, path string) (string, error) {
	e, ok := r.For(path)
	if !ok {
		return "", errors.Mark(errors.Newf("no extractor for %s", filepath.Base(path)), errors.ErrSourceResolution)
	}
	text, err := e.Extract(ctx, path)
	if err != nil {
		return "", errors.Mark(errors.Wrapf(err, "extract %s", filepath.Base(path)), errors.ErrSourceResolution)
	}
	return text, nil
}

func normalizeExt(ext string) string {
	ext = strings.ToLower(strings.TrimSpace(ext))
	if ext != "" && !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	return ext
}

// quoteReplacer turns typographic quotes from word processors back into
// the ASCII quotes the statement rules expect.
var quoteReplacer = strings.NewReplacer(
	"¨", `"`,
	"“", `"`,
	"”", `"`,
	"‘", "'",
	"’", "'",
)

// NormalizeQuotes replaces typographic quotes with ASCII ones.
func NormalizeQuotes(text string) string {
	return quoteReplacer.Replace(text)
}

// PlainText reads a document as UTF-8 text.
type PlainText struct{}

// Extract implements Extractor.
func (PlainText) Extract(ctx context.Context, path string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return NormalizeQuotes(string(data)), nil
}
