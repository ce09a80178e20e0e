package ledger

import (
	"encoding/json"
	"time"
)

// Status is an engine's lifecycle status
type Status string

const (
	StatusInactive Status = "inactive"
	StatusStarting Status = "starting"
	StatusActive   Status = "active"
	StatusFailed   Status = "failed"
)

// Valid reports whether s is one of the four lifecycle statuses
func (s Status) Valid() bool {
	switch s {
	case StatusInactive, StatusStarting, StatusActive, StatusFailed:
		return true
	}
	return false
}

// Engine is the persisted state of one registered engine
type Engine struct {
	Name           string          `json:"name"`
	Status         Status          `json:"status"`
	LastActivity   *time.Time      `json:"last_activity,omitempty"`
	TotalEarnings  Amount          `json:"total_earnings"`
	PeriodEarnings Amount          `json:"period_earnings"` // committed by the most recent successful run
	Config         json.RawMessage `json:"config,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
}

// Transaction is an immutable ledger entry
type Transaction struct {
	ID          int64     `json:"id"`
	Engine      string    `json:"engine"`
	Kind        string    `json:"kind"`
	Amount      Amount    `json:"amount"`
	Description string    `json:"description"`
	RunID       string    `json:"run_id,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// Entry is one transaction to be written, as produced by an engine run
type Entry struct {
	Kind        string `json:"kind"`
	Amount      Amount `json:"amount"`
	Description string `json:"description"`
}

// Transaction kinds written by nexus itself
const (
	KindJobRun     = "job_run"
	KindCorrection = "correction"
)
