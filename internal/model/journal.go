package model

import "time"

// Conversion outcomes recorded in the journal.
const (
	OutcomeConverted   = "converted"
	OutcomePassThrough = "passthrough"
	OutcomeFailed      = "failed"
	OutcomeSkipped     = "skipped"
)

// RunRecord summarises one pass over the mailbox.
type RunRecord struct {
	ID         string     `db:"id" json:"id"`
	StartedAt  time.Time  `db:"started_at" json:"started_at"`
	FinishedAt *time.Time `db:"finished_at" json:"finished_at,omitempty"`

	Messages int `db:"messages" json:"messages"`
	Printed  int `db:"printed" json:"printed"`
	Failed   int `db:"failed" json:"failed"`

	// FatalError is set when the run aborted, e.g. on a connection failure.
	FatalError string `db:"fatal_error" json:"fatal_error,omitempty"`
}

// Duration returns how long the run took, or zero while it is open.
func (r RunRecord) Duration() time.Duration {
	if r.FinishedAt == nil {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}

// ConversionRecord is the outcome of one attachment in a run.
type ConversionRecord struct {
	ID        string    `db:"id" json:"id"`
	RunID     string    `db:"run_id" json:"run_id"`
	MessageID string    `db:"message_id" json:"message_id"`
	Filename  string    `db:"filename" json:"filename"`
	Digest    string    `db:"digest" json:"digest"`
	Strategy  string    `db:"strategy" json:"strategy"`
	Outcome   string    `db:"outcome" json:"outcome"`
	Reason    string    `db:"reason" json:"reason,omitempty"`
	Output    string    `db:"output" json:"output,omitempty"`
	Duration  int64     `db:"duration_ms" json:"duration_ms"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// PrintRecord is the outcome of sending one file to the printer.
type PrintRecord struct {
	ID        string    `db:"id" json:"id"`
	RunID     string    `db:"run_id" json:"run_id"`
	Path      string    `db:"path" json:"path"`
	Printer   string    `db:"printer" json:"printer"`
	Success   bool      `db:"success" json:"success"`
	Reason    string    `db:"reason" json:"reason,omitempty"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}
