package models

import "time"

// ImportStatus is the terminal state of an import attempt
type ImportStatus string

const (
	ImportPending   ImportStatus = "pending"
	ImportCompleted ImportStatus = "completed"
	ImportPartial   ImportStatus = "partial"
	ImportFailed    ImportStatus = "failed"
)

// ImportLog records one import attempt. It is immutable once finished.
type ImportLog struct {
	ID            string        `json:"id"`
	TenantID      int64         `json:"tenant_id"`
	Source        Source        `json:"source"`
	BankCode      string        `json:"bank_code"`
	FileName      string        `json:"file_name,omitempty"`
	FileSize      int64         `json:"file_size"`
	TotalRows     int           `json:"total_rows"`
	ParsedRows    int           `json:"parsed_rows"`
	ImportedRows  int           `json:"imported_rows"`
	DuplicateRows int           `json:"duplicate_rows"`
	FailedRows    int           `json:"failed_rows"`
	Errors        []string      `json:"errors"`
	ParseTime     time.Duration `json:"parse_time"`
	Duration      time.Duration `json:"duration"`
	Status        ImportStatus  `json:"status"`
	StartedAt     time.Time     `json:"started_at"`
	FinishedAt    *time.Time    `json:"finished_at,omitempty"`
}
