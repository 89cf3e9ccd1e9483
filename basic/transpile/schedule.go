package transpile

import "strings"

var scheduleLine = mustCompile(`^\s*SET\s+SCHEDULE\s+(.*?)\s*$`)

// ScheduleDirective is the cron expression of a SET SCHEDULE statement.
type ScheduleDirective struct {
	Cron string
}

// ExtractSchedule returns the first SET SCHEDULE directive in text and the
// text with every directive line blanked. ok is false when text carries no
// directive. The expression is not validated here.
func ExtractSchedule(text string) (ScheduleDirective, string, bool) {
	var (
		directive ScheduleDirective
		found     bool
	)

	lines := strings.Split(text, "\n")
	for i, line := range lines {
		m, err := scheduleLine.FindStringMatch(strings.TrimRight(line, "\r"))
		if err != nil || m == nil {
			continue
		}
		if !found {
			directive.Cron = strings.Trim(m.GroupByNumber(1).String(), `"`)
			found = true
		}
		lines[i] = ""
	}
	if !found {
		return ScheduleDirective{}, text, false
	}
	return directive, strings.Join(lines, "\n"), true
}
