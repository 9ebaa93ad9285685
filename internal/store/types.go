package store

import (
	"time"
)

// Row is one redacted record persisted for a run
type Row struct {
	RunID            string    `db:"run_id" json:"run_id"`
	RecordID         string    `db:"record_id" json:"record_id"`
	RedactedDataJSON string    `db:"redacted_data_json" json:"redacted_data_json"`
	IsPII            bool      `db:"is_pii" json:"is_pii"`
	CreatedAt        time.Time `db:"created_at" json:"created_at"`
}

// Stats summarizes the stored rows
type Stats struct {
	TotalRecords int64      `db:"total" json:"total_records"`
	PIIRecords   int64      `db:"pii" json:"pii_records"`
	Runs         int64      `db:"runs" json:"runs"`
	LastWrite    *time.Time `db:"last_write" json:"last_write,omitempty"`
}

// RunStats summarizes one run
type RunStats struct {
	RunID        string    `db:"run_id" json:"run_id"`
	TotalRecords int64     `db:"total" json:"total_records"`
	PIIRecords   int64     `db:"pii" json:"pii_records"`
	StartedAt    time.Time `db:"started_at" json:"started_at"`
}

// SaveResult represents the result of a batch upsert
type SaveResult struct {
	Written  int64         `json:"written"`
	Duration time.Duration `json:"duration"`
}
