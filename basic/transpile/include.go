package transpile

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/teranos/gbvm/errors"
	"github.com/teranos/gbvm/logger"
)

// ErrIncludeCycle reports a document that includes itself, directly or
// through other documents.
var ErrIncludeCycle = errors.Mark(errors.New("include cycle"), errors.ErrSourceResolution)

var includeLine = mustCompile(`^\s*INCLUDE\b\s*(.*?)\s*$`)

// Include is a resolved INCLUDE target.
type Include struct {
	// Key identifies the target for cycle detection.
	Key  string
	Text string
}

// IncludeResolver loads the text named by an INCLUDE directive.
type IncludeResolver interface {
	ResolveInclude(ctx context.Context, name string) (Include, error)
}

// DirResolver resolves INCLUDE names to the editable copies in a package
// folder: "helpers.docx" reads "<Dir>/helpers.vbs".
type DirResolver struct {
	Dir string
}

// ResolveInclude implements IncludeResolver.
func (r DirResolver) ResolveInclude(ctx context.Context, name string) (Include, error) {
	if err := ctx.Err(); err != nil {
		return Include{}, err
	}

	name = strings.Trim(strings.TrimSpace(name), `"`)
	if name == "" {
		return Include{}, errors.Mark(errors.New("empty include name"), errors.ErrSourceResolution)
	}

	target := strings.TrimSuffix(name, filepath.Ext(name)) + ".vbs"
	path := filepath.Join(r.Dir, target)
	if rel, err := filepath.Rel(r.Dir, path); err != nil || strings.HasPrefix(rel, "..") {
		return Include{}, errors.Mark(errors.Newf("include %q escapes package folder", name), errors.ErrSourceResolution)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return Include{}, errors.Mark(errors.Wrapf(err, "include %q", name), errors.ErrSourceResolution)
	}
	return Include{Key: path, Text: string(data)}, nil
}

// inline replaces INCLUDE directives with the included text until none
// remain. Included lines take the origin of the directive they replace.
// An END inside an included document ends that document, not the host.
// stack holds the keys of the documents being expanded.
func (t *Transpiler) inline(ctx context.Context, lines []sourceLine, stack []string) ([]sourceLine, error) {
	out := make([]sourceLine, 0, len(lines))
	for _, l := range lines {
		m, err := includeLine.FindStringMatch(l.text)
		if err != nil || m == nil {
			out = append(out, l)
			continue
		}

		name := m.GroupByNumber(1).String()
		if t.opts.Resolver == nil {
			return nil, errors.Mark(errors.Newf("include %q: no resolver configured", name), errors.ErrSourceResolution)
		}

		inc, err := t.opts.Resolver.ResolveInclude(ctx, name)
		if err != nil {
			return nil, errors.Mark(err, errors.ErrSourceResolution)
		}
		for _, key := range stack {
			if key == inc.Key {
				return nil, errors.Wrapf(ErrIncludeCycle, "%s -> %s", strings.Join(stack, " -> "), inc.Key)
			}
		}

		t.log.Debugw("Inlining include",
			logger.FieldLine, l.origin,
			logger.FieldFile, inc.Key,
		)

		// Included documents get the same END, comment and schedule
		// handling as the host; only the host schedule is honoured.
		_, body, _ := ExtractSchedule(inc.Text)
		included := t.applyEnd(splitLines(body))
		stripComments(included)
		for i := range included {
			included[i].origin = l.origin
		}
		expanded, err := t.inline(ctx, included, append(stack[:len(stack):len(stack)], inc.Key))
		if err != nil {
			return nil, err
		}
		out = append(out, expanded...)
	}
	return out, nil
}
