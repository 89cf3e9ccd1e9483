// Package schedule fires scripts on the cron expressions of their
// SET SCHEDULE directives.
//
// The loader hands each directive to a Scheduler, which keeps one row per
// (bot, script) in the script_schedules table. A Ticker polls for due rows
// and runs the script through a Runner.
package schedule

import "time"

// Job is the schedule of one script.
type Job struct {
	ID         string
	BotID      string
	ScriptName string
	Cron       string
	NextRunAt  *time.Time
	LastRunAt  *time.Time
	LastStatus string
	LastError  string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Run outcomes recorded on a job and its executions.
const (
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)
