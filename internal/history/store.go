package history

import (
	"time"
)

// RunStatus is the recorded outcome of a sync run
type RunStatus string

const (
	RunSucceeded RunStatus = "succeeded"
	RunFailed    RunStatus = "failed"
)

// RunRecord represents one completed sync run in the journal
type RunRecord struct {
	ID         int64     `json:"id"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	Status     RunStatus `json:"status"`
	Error      string    `json:"error,omitempty"`
}

// Store defines the interface for run-journal persistence
type Store interface {
	// SaveRun appends a completed run; the record's ID is filled in
	SaveRun(record *RunRecord) error

	// LastSuccess returns the finish time of the most recent
	// successful run, or the zero time when none exists
	LastSuccess() (time.Time, error)

	// ListRecent returns up to limit runs, newest first
	ListRecent(limit int) ([]*RunRecord, error)

	Close() error
}
