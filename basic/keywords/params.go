package keywords

import (
	"strings"

	"github.com/dlclark/regexp2"
)

// SplitParams splits a comma-separated argument list. Commas inside
// double-quoted substrings do not split. Items are trimmed; an empty list
// yields no items.
func SplitParams(text string) []string {
	if strings.TrimSpace(text) == "" {
		return nil
	}

	var (
		items    []string
		current  strings.Builder
		inQuotes bool
	)
	for _, r := range text {
		switch {
		case r == '"':
			inQuotes = !inQuotes
			current.WriteRune(r)
		case r == ',' && !inQuotes:
			items = append(items, strings.TrimSpace(current.String()))
			current.Reset()
		default:
			current.WriteRune(r)
		}
	}
	return append(items, strings.TrimSpace(current.String()))
}

// BindParams zips the split argument list against names, producing
// "name: value" fields. Trailing names without a value are omitted and
// surplus values are ignored.
func BindParams(text string, names []string) []string {
	items := SplitParams(text)
	fields := make([]string, 0, len(names))
	for i, name := range names {
		if i >= len(items) {
			break
		}
		if items[i] == "" {
			continue
		}
		fields = append(fields, field(name, items[i]))
	}
	return fields
}

var conditionRewrites = []struct {
	pattern *regexp2.Regexp
	with    string
}{
	{compile(` +and +`), " && "},
	{compile(` +or +`), " || "},
	{compile(` +<> +`), " !== "},
	{compile(` += +`), " === "},
}

// ConvertConditions rewrites BASIC boolean operators in a condition to
// their host-language equivalents.
func ConvertConditions(cond string) string {
	for _, rw := range conditionRewrites {
		if out, err := rw.pattern.Replace(cond, rw.with, -1, -1); err == nil {
			cond = out
		}
	}
	return cond
}

// call renders an awaited façade call carrying the invocation id.
func call(f Facade, op string, fields ...string) string {
	args := append([]string{"invocationId"}, fields...)
	return "await " + string(f) + "." + op + "({" + strings.Join(args, ", ") + "})"
}

func field(name, value string) string {
	return name + ": " + strings.TrimSpace(value)
}

// assign prefixes expr with "target = " when target is set.
func assign(target, expr string) string {
	if target == "" {
		return expr
	}
	return target + " = " + expr
}

// quoteText wraps bare text in double quotes. Text that already starts
// with a quote is an expression and is kept as written.
func quoteText(text string) string {
	text = strings.TrimSpace(text)
	if strings.HasPrefix(text, `"`) {
		return text
	}
	return `"` + text + `"`
}

// list renders an argument list as an array literal.
func list(text string) string {
	return "[" + strings.Join(SplitParams(text), ", ") + "]"
}
