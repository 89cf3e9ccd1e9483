package keywords

import (
	"strconv"
	"strings"
)

// hearPrefix accepts an optional assignment in front of HEAR so that
// "age = hear x as integer" binds both names to the answer.
const hearPrefix = `^\s*(?:` + target + `\s*=\s*)?hear\s+(\w+)`

// hearKinds are the typed prompts, in registration order.
var hearKinds = []string{
	"login", "email", "integer", "file", "boolean", "name",
	"date", "hour", "phone", "money", "language", "zipcode",
}

var sessionSuffix = compile(`\s*\b(AS|WITH)\s*#\s*(.*)$`)

func webSessionRules() []Rule {
	return []Rule{
		{
			Name:    "open",
			Pattern: compile(`^\s*open\s+(.*)`),
			Params:  []string{"url", "username", "password"},
			Calls:   []Call{{WebAutomation, "getPage"}},
			Build:   buildOpen,
		},
		{
			Name:    "set-hear-on",
			Pattern: compile(`^\s*set\s+hear\s+on\s*(.*)`),
			Build: func(g Groups) string {
				return "hrOn = " + strings.TrimSpace(g.At(1))
			},
		},
	}
}

func buildOpen(g Groups) string {
	args := strings.TrimSpace(g.At(1))

	var fields []string
	if m, err := sessionSuffix.FindStringMatch(args); err == nil && m != nil {
		fields = append(fields,
			field("sessionKind", strconv.Quote(strings.ToUpper(m.GroupByNumber(1).String()))),
			field("sessionName", strconv.Quote(strings.TrimSpace(m.GroupByNumber(2).String()))),
		)
		args = strings.TrimSpace(string([]rune(args)[:m.Index]))
	}
	if !strings.HasPrefix(args, `"`) && !strings.HasPrefix(args, "'") {
		args = `"` + args + `"`
	}
	fields = append(fields, BindParams(args, []string{"url", "username", "password"})...)

	return "page = " + call(WebAutomation, "getPage", fields...)
}

func hearRules() []Rule {
	rules := []Rule{
		{
			Name:    "hear-sheet",
			Pattern: compile(hearPrefix + `\s+as\s+([\w ]+\.xlsx)\b`),
			Calls:   []Call{{Dialog, "getHear"}},
			Build: func(g Groups) string {
				return hearCall(g, field("kind", `"sheet"`), field("arg", strconv.Quote(g.At(3))))
			},
		},
	}

	for _, kind := range hearKinds {
		kindField := field("kind", strconv.Quote(kind))
		rules = append(rules, Rule{
			Name:    "hear-" + kind,
			Pattern: compile(hearPrefix + `\s+as\s+` + kind + `\b`),
			Calls:   []Call{{Dialog, "getHear"}},
			Build: func(g Groups) string {
				return hearCall(g, kindField)
			},
		})
	}

	return append(rules,
		Rule{
			Name:    "hear-menu",
			Pattern: compile(hearPrefix + `\s+as\s+(.*)`),
			Calls:   []Call{{Dialog, "getHear"}},
			Build: func(g Groups) string {
				return hearCall(g, field("kind", `"menu"`), field("args", list(g.At(3))))
			},
		},
		Rule{
			Name:    "hear",
			Pattern: compile(hearPrefix),
			Calls:   []Call{{Dialog, "getHear"}},
			Build: func(g Groups) string {
				return hearCall(g)
			},
		},
	)
}

// hearCall assigns the answer to the HEAR variable and, when present, to
// the outer assignment target as well.
func hearCall(g Groups, fields ...string) string {
	expr := g.At(2) + " = " + call(Dialog, "getHear", fields...)
	return assign(g.At(1), expr)
}
