package etl

import (
	"errors"
	"path/filepath"
	"strings"
	"time"
)

var (
	// ErrInputNotFound is returned when the input file does not exist
	ErrInputNotFound = errors.New("input file not found")
	// ErrMissingColumn is returned when the input lacks record_id or data_json
	ErrMissingColumn = errors.New("missing required column")
)

// Column names shared by every input and output format
const (
	ColumnRecordID         = "record_id"
	ColumnDataJSON         = "data_json"
	ColumnRedactedDataJSON = "redacted_data_json"
	ColumnIsPII            = "is_pii"
)

// InputRow represents a single record from the input dataset
type InputRow struct {
	RecordID string `parquet:"record_id" json:"record_id"`
	DataJSON string `parquet:"data_json" json:"data_json"`
}

// OutputRow represents a single redacted record
type OutputRow struct {
	RecordID         string `parquet:"record_id" json:"record_id" yaml:"record_id"`
	RedactedDataJSON string `parquet:"redacted_data_json" json:"redacted_data_json" yaml:"redacted_data_json"`
	IsPII            bool   `parquet:"is_pii" json:"is_pii" yaml:"is_pii"`
}

// Summary represents the result of processing a dataset
type Summary struct {
	RunID          string           `json:"run_id" yaml:"run_id"`
	Input          string           `json:"input" yaml:"input"`
	Output         string           `json:"output" yaml:"output"`
	TotalRecords   int64            `json:"total_records" yaml:"total_records"`
	PIIRecords     int64            `json:"pii_records" yaml:"pii_records"`
	PIIRate        float64          `json:"pii_rate" yaml:"pii_rate"`
	Malformed      int64            `json:"malformed" yaml:"malformed"`
	SkippedRows    int64            `json:"skipped_rows" yaml:"skipped_rows"`
	CacheHits      int64            `json:"cache_hits" yaml:"cache_hits"`
	StoredRecords  int64            `json:"stored_records" yaml:"stored_records"`
	CategoryCounts map[string]int64 `json:"category_counts" yaml:"category_counts"`
	Samples        []OutputRow      `json:"samples,omitempty" yaml:"samples,omitempty"`
	StartedAt      time.Time        `json:"started_at" yaml:"started_at"`
	Duration       time.Duration    `json:"duration" yaml:"duration"`
}

// Progress is a point-in-time view of a running pipeline
type Progress struct {
	RunID      string  `json:"run_id"`
	Input      string  `json:"input"`
	Processed  int64   `json:"processed"`
	Flagged    int64   `json:"flagged"`
	Malformed  int64   `json:"malformed"`
	RatePerSec float64 `json:"rate_per_sec"`
	Done       bool    `json:"done"`
}

// FileFormat represents supported file formats
type FileFormat string

const (
	FormatCSV     FileFormat = "csv"
	FormatParquet FileFormat = "parquet"
	FormatJSONL   FileFormat = "jsonl"
)

// DetectFileFormat detects file format from extension; anything unknown is
// treated as CSV
func DetectFileFormat(filename string) FileFormat {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".parquet":
		return FormatParquet
	case ".jsonl", ".ndjson", ".json":
		return FormatJSONL
	default:
		return FormatCSV
	}
}
