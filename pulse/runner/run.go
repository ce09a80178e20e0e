package runner

import (
	"time"
)

// Outcome is how a run ended
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailure Outcome = "failure"
	OutcomeTimeout Outcome = "timeout"
)

// JobRun is the in-memory record of one execution
type JobRun struct {
	ID             string         `json:"id"`
	Engine         string         `json:"engine"`
	StartedAt      time.Time      `json:"started_at"`
	EndedAt        time.Time      `json:"ended_at"`
	Outcome        Outcome        `json:"outcome"`
	TransactionIDs []int64        `json:"transaction_ids"`
	Summary        map[string]any `json:"summary,omitempty"`
	Error          string         `json:"error,omitempty"`
}

// Duration is the wall time of the run
func (r JobRun) Duration() time.Duration {
	return r.EndedAt.Sub(r.StartedAt)
}

// history keeps the last run per engine and a bounded ring of recent runs.
// Not safe for concurrent use; the runner guards it.
type history struct {
	last   map[string]JobRun
	ring   []JobRun
	next   int
	filled bool
}

func newHistory(size int) *history {
	if size < 1 {
		size = 1
	}
	return &history{
		last: make(map[string]JobRun),
		ring: make([]JobRun, size),
	}
}

func (h *history) add(run JobRun) {
	h.last[run.Engine] = run
	h.ring[h.next] = run
	h.next = (h.next + 1) % len(h.ring)
	if h.next == 0 {
		h.filled = true
	}
}

// recent returns up to limit runs, newest first
func (h *history) recent(limit int) []JobRun {
	n := h.next
	if h.filled {
		n = len(h.ring)
	}
	if limit <= 0 || limit > n {
		limit = n
	}

	out := make([]JobRun, 0, limit)
	for i := 1; i <= limit; i++ {
		idx := (h.next - i + len(h.ring)) % len(h.ring)
		out = append(out, h.ring[idx])
	}
	return out
}
