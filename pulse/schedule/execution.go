package schedule

// Execution is one run of a scheduled script.
type Execution struct {
	ID         string `json:"id"`
	ScheduleID string `json:"schedule_id"`
	Status     string `json:"status"`

	StartedAt   string  `json:"started_at"`             // RFC3339
	CompletedAt *string `json:"completed_at,omitempty"` // null while running
	DurationMs  *int    `json:"duration_ms,omitempty"`

	ErrorMessage *string `json:"error_message,omitempty"`

	CreatedAt string `json:"created_at"`
	UpdatedAt string `json:"updated_at"`
}
