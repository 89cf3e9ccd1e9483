// Package keywords holds the ordered rule table that rewrites BASIC
// statements into asynchronous façade calls of the host script language.
//
// Every rule is line-anchored and case-insensitive. For one source line the
// table tries each rule in registration order and the first match replaces
// the matched portion of the line. Lines no rule recognises pass through,
// which keeps plain assignments and expressions valid host syntax.
package keywords

import (
	"sync"
	"time"

	"github.com/dlclark/regexp2"

	"github.com/teranos/gbvm/errors"
)

// Facade names one of the three remote namespaces a compiled script calls into.
type Facade string

const (
	Dialog        Facade = "dialog"
	System        Facade = "system"
	WebAutomation Facade = "webAutomation"
)

// matchTimeout bounds a single pattern evaluation against one line.
const matchTimeout = time.Second

// Call identifies one remote operation a rule may emit.
type Call struct {
	Facade    Facade
	Operation string
}

// Groups holds the captures of one match. Index 0 is the whole match.
type Groups []string

// At returns capture i, or the empty string when the group did not participate.
func (g Groups) At(i int) string {
	if i < 0 || i >= len(g) {
		return ""
	}
	return g[i]
}

// Builder turns the captures of a match into replacement text.
// Replacement text may span several lines.
type Builder func(g Groups) string

// Rule recognises one statement surface form.
type Rule struct {
	Name    string
	Pattern *regexp2.Regexp
	// Params is the positional-to-named binding used by the builder, nil
	// when the form carries no argument list.
	Params []string
	Build  Builder
	// Calls lists the remote operations the replacement may invoke.
	Calls []Call
}

// Apply rewrites line when the rule matches. The second result reports
// whether the rule matched.
func (r *Rule) Apply(line string) (string, bool, error) {
	m, err := r.Pattern.FindStringMatch(line)
	if err != nil {
		return line, false, errors.Wrapf(err, "rule %s", r.Name)
	}
	if m == nil {
		return line, false, nil
	}

	groups := make(Groups, 0, m.GroupCount())
	for _, g := range m.Groups() {
		groups = append(groups, g.String())
	}

	// regexp2 reports positions in runes
	runes := []rune(line)
	return string(runes[:m.Index]) + r.Build(groups) + string(runes[m.Index+m.Length:]), true, nil
}

// Matches reports whether the rule recognises line.
func (r *Rule) Matches(line string) bool {
	ok, err := r.Pattern.MatchString(line)
	return err == nil && ok
}

// Table is an immutable ordered list of rules.
type Table struct {
	rules  []Rule
	byName map[string]int
}

// NewTable builds a table from rules in registration order.
// Rule names must be unique.
func NewTable(rules ...Rule) (*Table, error) {
	t := &Table{
		rules:  make([]Rule, len(rules)),
		byName: make(map[string]int, len(rules)),
	}
	copy(t.rules, rules)
	for i, r := range t.rules {
		if r.Pattern == nil || r.Build == nil {
			return nil, errors.Newf("rule %q is incomplete", r.Name)
		}
		if _, dup := t.byName[r.Name]; dup {
			return nil, errors.Newf("duplicate rule name %q", r.Name)
		}
		t.byName[r.Name] = i
	}
	return t, nil
}

// Len returns the number of rules.
func (t *Table) Len() int {
	return len(t.rules)
}

// Rules returns a copy of the rules in registration order.
func (t *Table) Rules() []Rule {
	out := make([]Rule, len(t.rules))
	copy(out, t.rules)
	return out
}

// Lookup returns the rule registered under name.
func (t *Table) Lookup(name string) (*Rule, bool) {
	i, ok := t.byName[name]
	if !ok {
		return nil, false
	}
	r := t.rules[i]
	return &r, true
}

// Apply rewrites line with the first matching rule. The returned rule is
// nil when the line passes through unchanged.
func (t *Table) Apply(line string) (string, *Rule, error) {
	for i := range t.rules {
		out, ok, err := t.rules[i].Apply(line)
		if err != nil {
			return line, nil, err
		}
		if ok {
			r := t.rules[i]
			return out, &r, nil
		}
	}
	return line, nil, nil
}

var (
	defaultOnce  sync.Once
	defaultTable *Table
)

// Default returns the General Bots statement table, built once.
func Default() *Table {
	defaultOnce.Do(func() {
		t, err := NewTable(defaultRules()...)
		if err != nil {
			panic("keywords: " + err.Error())
		}
		defaultTable = t
	})
	return defaultTable
}

// compile builds a case-insensitive pattern with the table's match timeout.
func compile(pattern string) *regexp2.Regexp {
	re := regexp2.MustCompile(pattern, regexp2.IgnoreCase)
	re.MatchTimeout = matchTimeout
	return re
}

// literal is a Builder producing fixed text.
func literal(text string) Builder {
	return func(Groups) string { return text }
}
