package schedule

import (
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/teranos/gbvm/errors"
)

// cronParser accepts the five standard fields, an optional leading seconds
// field, and descriptors such as @daily or @every 1h.
var cronParser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// ParseCron parses a SET SCHEDULE expression. Failures are schedule errors.
func ParseCron(expr string) (cron.Schedule, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return nil, errors.Mark(errors.New("empty cron expression"), errors.ErrSchedule)
	}
	sched, err := cronParser.Parse(expr)
	if err != nil {
		return nil, errors.Mark(errors.Wrapf(err, "cron %q", expr), errors.ErrSchedule)
	}
	return sched, nil
}

// NextRun returns the first activation of expr after from.
func NextRun(expr string, from time.Time) (time.Time, error) {
	sched, err := ParseCron(expr)
	if err != nil {
		return time.Time{}, err
	}
	return sched.Next(from), nil
}
