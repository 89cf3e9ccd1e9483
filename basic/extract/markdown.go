package extract

import (
	"context"
	"os"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/text"
)

// scriptLanguages are the fenced code block info strings read as BASIC.
var scriptLanguages = map[string]bool{
	"":       true,
	"bas":    true,
	"basic":  true,
	"vb":     true,
	"vbs":    true,
	"gbasic": true,
}

// Markdown extracts BASIC from markdown-authored dialogs. When the
// document has fenced code blocks in a BASIC language, only those are
// read; otherwise every paragraph line is a statement. Headings are
// dropped in both cases.
type Markdown struct {
	md goldmark.Markdown
}

// NewMarkdown returns a markdown extractor.
func NewMarkdown() *Markdown {
	return &Markdown{md: goldmark.New(goldmark.WithExtensions(extension.GFM))}
}

// Extract implements Extractor.
func (m *Markdown) Extract(ctx context.Context, path string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return NormalizeQuotes(m.Text(data)), nil
}

// Text returns the BASIC text of a markdown source.
func (m *Markdown) Text(source []byte) string {
	document := m.md.Parser().Parse(text.NewReader(source))

	var code, prose []string
	ast.Walk(document, func(node ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		switch n := node.(type) {
		case *ast.FencedCodeBlock:
			if scriptLanguages[strings.ToLower(string(n.Language(source)))] {
				code = append(code, blockLines(n, source)...)
			}
			return ast.WalkSkipChildren, nil
		case *ast.CodeBlock:
			code = append(code, blockLines(n, source)...)
			return ast.WalkSkipChildren, nil
		case *ast.Heading:
			return ast.WalkSkipChildren, nil
		case *ast.Paragraph, *ast.TextBlock:
			prose = append(prose, blockLines(n, source)...)
			return ast.WalkSkipChildren, nil
		}
		return ast.WalkContinue, nil
	})

	if len(code) > 0 {
		return strings.Join(code, "\n")
	}
	return strings.Join(prose, "\n")
}

func blockLines(node ast.Node, source []byte) []string {
	lines := node.Lines()
	out := make([]string, 0, lines.Len())
	for i := 0; i < lines.Len(); i++ {
		segment := lines.At(i)
		out = append(out, strings.TrimRight(string(segment.Value(source)), "\r\n"))
	}
	return out
}
