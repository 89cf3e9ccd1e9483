// Package transpile turns authored BASIC text into the intermediate script
// body: a snippet of host-language statements made of rule rewrites, plus
// a map from every emitted line back to the authored line that produced it.
package transpile

import (
	"context"
	"strings"
	"time"

	"github.com/dlclark/regexp2"
	"go.uber.org/zap"

	"github.com/teranos/gbvm/basic/keywords"
	"github.com/teranos/gbvm/errors"
	"github.com/teranos/gbvm/logger"
)

// LoginStatement is prepended when authentication is required.
const LoginStatement = "hear gbLogin as login"

var (
	endLine     = mustCompile(`^\s*END\s*$`)
	commentLine = mustCompile(`^\s*(?:REM\b|')`)
)

// Options controls pre-processing.
type Options struct {
	// StripEnd removes END lines instead of truncating the document at
	// the first one.
	StripEnd bool
	// AuthLogin prepends LoginStatement to every script.
	AuthLogin bool
	// HeaderOffset is the number of envelope lines that precede the body
	// once assembled. Line map keys include it.
	HeaderOffset int
	// Resolver supplies INCLUDE targets. Documents with INCLUDE
	// directives fail to transpile when nil.
	Resolver IncludeResolver
}

// Result is the intermediate form of one script.
type Result struct {
	Name    string
	Code    string
	LineMap LineMap
}

// Transpiler applies a rule table to authored documents.
type Transpiler struct {
	rules *keywords.Table
	opts  Options
	log   *zap.SugaredLogger
}

// New creates a transpiler. A nil table selects keywords.Default().
func New(rules *keywords.Table, opts Options, log *zap.SugaredLogger) *Transpiler {
	if rules == nil {
		rules = keywords.Default()
	}
	return &Transpiler{
		rules: rules,
		opts:  opts,
		log:   logger.OrNop(log).Named("transpile"),
	}
}

// Options returns the options the transpiler was built with.
func (t *Transpiler) Options() Options {
	return t.opts
}

// sourceLine is one line of text tagged with the authored line it came
// from. Origin 0 marks synthetic lines.
type sourceLine struct {
	text   string
	origin int
}

// Transpile converts text, the content of the editable copy of script
// name, into its intermediate form.
func (t *Transpiler) Transpile(ctx context.Context, name, text string) (*Result, error) {
	lines := splitLines(text)
	lines = t.applyEnd(lines)
	stripComments(lines)

	lines, err := t.inline(ctx, lines, []string{name})
	if err != nil {
		return nil, errors.Wrapf(err, "transpile %s", name)
	}

	if t.opts.AuthLogin {
		lines = append([]sourceLine{{text: LoginStatement}}, lines...)
	}

	out := make([]string, 0, len(lines))
	lineMap := make(LineMap, len(lines))
	for _, l := range lines {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		rewritten, _, err := t.rules.Apply(l.text)
		if err != nil {
			return nil, errors.Mark(errors.Wrapf(err, "%s:%d", name, l.origin), errors.ErrCompile)
		}

		// a replacement may span several lines; all of them map back to l
		for _, part := range strings.Split(rewritten, "\n") {
			out = append(out, part)
			if l.origin > 0 {
				lineMap[t.opts.HeaderOffset+len(out)] = l.origin
			}
		}
	}

	t.log.Debugw("Transpiled script",
		logger.FieldScript, name,
		"source_lines", len(lines),
		"output_lines", len(out),
	)

	return &Result{
		Name:    name,
		Code:    strings.Join(out, "\n"),
		LineMap: lineMap,
	}, nil
}

// applyEnd truncates at the first END line, or blanks every END line when
// StripEnd is set. Blanking keeps line numbering intact.
func (t *Transpiler) applyEnd(lines []sourceLine) []sourceLine {
	for i := range lines {
		if !matches(endLine, lines[i].text) {
			continue
		}
		if !t.opts.StripEnd {
			return lines[:i]
		}
		lines[i].text = ""
	}
	return lines
}

func stripComments(lines []sourceLine) {
	for i := range lines {
		if matches(commentLine, lines[i].text) {
			lines[i].text = ""
		}
	}
}

// splitLines normalises line endings and numbers lines from 1.
func splitLines(text string) []sourceLine {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")

	raw := strings.Split(text, "\n")
	lines := make([]sourceLine, len(raw))
	for i, s := range raw {
		lines[i] = sourceLine{text: s, origin: i + 1}
	}
	return lines
}

func mustCompile(pattern string) *regexp2.Regexp {
	re := regexp2.MustCompile(pattern, regexp2.IgnoreCase)
	re.MatchTimeout = time.Second
	return re
}

func matches(re *regexp2.Regexp, s string) bool {
	ok, err := re.MatchString(s)
	return err == nil && ok
}
