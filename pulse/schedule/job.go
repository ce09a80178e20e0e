// Package schedule runs engines on fixed intervals through the runner.
package schedule

import "time"

// Job is the schedule state of one interval engine
type Job struct {
	Engine      string        `json:"engine"`
	Interval    time.Duration `json:"interval"`
	NextRunAt   time.Time     `json:"next_run_at"`
	LastRunAt   *time.Time    `json:"last_run_at,omitempty"`
	LastOutcome string        `json:"last_outcome,omitempty"`
	Skipped     int           `json:"skipped"` // due ticks not run: busy or failed engine
}

// Outcomes recorded for a due tick that did not produce a run
const (
	SkippedBusy   = "skipped_busy"
	SkippedFailed = "skipped_failed"
)

// due reports whether the job should run at now
func (j *Job) due(now time.Time) bool {
	return !now.Before(j.NextRunAt)
}
