package keywords

import (
	"strconv"
	"strings"
)

// target captures the left-hand side of an assignment-style statement.
const target = `([\w.\[\]]+)`

var fromClause = compile(`\bFROM\s+(\w+)`)

// selectVar holds the SELECT CASE subject inside its block.
const selectVar = "__selectCase"

func commentRules() []Rule {
	return []Rule{
		{Name: "rem", Pattern: compile(`^\s*REM\b.*`), Build: literal("")},
		{Name: "quote-comment", Pattern: compile(`^\s*'.*`), Build: literal("")},
	}
}

func sqlRules() []Rule {
	return []Rule{
		{
			Name:    "select",
			Pattern: compile(`^\s*` + target + `\s*=\s*SELECT\s+(.*)`),
			Calls:   []Call{{System, "executeSQL"}},
			Build: func(g Groups) string {
				sql := "SELECT " + g.At(2)
				table := ""
				if m, err := fromClause.FindStringMatch(sql); err == nil && m != nil {
					table = m.GroupByNumber(1).String()
					sql = strings.Replace(sql, m.String(), "FROM ?", 1)
				}
				return assign(g.At(1), call(System, "executeSQL",
					field("data", g.At(1)),
					field("sql", strconv.Quote(sql)),
					field("tableName", strconv.Quote(table)),
				))
			},
		},
	}
}

func controlRules() []Rule {
	return []Rule{
		{Name: "end-if", Pattern: compile(`^\s*end\s*if\b`), Build: literal("}")},
		{
			Name:    "else-if",
			Pattern: compile(`^\s*else\s*if\s+(.*?)\s+then\b`),
			Build: func(g Groups) string {
				return "} else if (" + ConvertConditions(g.At(1)) + ") {"
			},
		},
		{
			Name:    "if",
			Pattern: compile(`^\s*if\s+(.*?)\s+then\b`),
			Build: func(g Groups) string {
				return "if (" + ConvertConditions(g.At(1)) + ") {"
			},
		},
		{Name: "else", Pattern: compile(`^\s*else\s*$`), Build: literal("} else {")},
		// SELECT CASE lowers to a scoped if/else chain so arms never fall
		// through and the table stays line-local.
		{
			Name:    "select-case",
			Pattern: compile(`^\s*select\s+case\s+(.*?)\s*$`),
			Build: func(g Groups) string {
				return "{ const " + selectVar + " = " + g.At(1) + "; if (false) {"
			},
		},
		{Name: "case-else", Pattern: compile(`^\s*case\s+else\b`), Build: literal("} else {")},
		{
			Name:    "case",
			Pattern: compile(`^\s*case\s+(?!.*:\s*$)(.+?)\s*$`),
			Build: func(g Groups) string {
				values := SplitParams(g.At(1))
				tests := make([]string, len(values))
				for i, v := range values {
					tests[i] = selectVar + " === " + v
				}
				return "} else if (" + strings.Join(tests, " || ") + ") {"
			},
		},
		{Name: "end-select", Pattern: compile(`^\s*end\s*select\b`), Build: literal("} }")},
		{Name: "end-function", Pattern: compile(`^\s*end\s*function\b`), Build: literal("}")},
		{
			Name:    "function",
			Pattern: compile(`^\s*function\s+(\w+)\s*\((.*)\)`),
			Build: func(g Groups) string {
				return g.At(1) + " = async (" + g.At(2) + ") => {"
			},
		},
		{
			Name:    "for-each",
			Pattern: compile(`^\s*for\s+each\s+(\w+)\s+in\s+(.+?)\s*$`),
			Build: func(g Groups) string {
				return "for (" + g.At(1) + " of " + g.At(2) + ") {"
			},
		},
		{
			Name:    "for",
			Pattern: compile(`^\s*for\s+(\w+)\s*=\s*(.+?)\s+to\s+(.+?)(?:\s+step\s+(.+?))?\s*$`),
			Build:   buildFor,
		},
		{Name: "next", Pattern: compile(`^\s*next(?:\s+\w+)?\s*$`), Build: literal("}")},
		{
			Name:    "do-while",
			Pattern: compile(`^\s*do\s+while\s+(.*?)\s*$`),
			Build: func(g Groups) string {
				return "while (" + ConvertConditions(g.At(1)) + ") {"
			},
		},
		{Name: "loop", Pattern: compile(`^\s*loop\s*$`), Build: literal("}")},
		{Name: "exit-loop", Pattern: compile(`^\s*exit\s+(?:for|do)\b`), Build: literal("break;")},
		{Name: "exit", Pattern: compile(`^\s*exit\s*$`), Build: literal("return;")},
		{Name: "end", Pattern: compile(`^\s*end\s*$`), Build: literal("return;")},
	}
}

func buildFor(g Groups) string {
	v, from, to, step := g.At(1), g.At(2), g.At(3), strings.TrimSpace(g.At(4))

	cmp, inc := " <= ", v+"++"
	switch {
	case step == "":
	case strings.HasPrefix(step, "-"):
		cmp, inc = " >= ", v+" -= "+strings.TrimSpace(step[1:])
	default:
		inc = v + " += " + step
	}
	return "for (" + v + " = " + from + "; " + v + cmp + to + "; " + inc + ") {"
}
