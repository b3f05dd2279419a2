package models

import (
	"time"

	"github.com/google/uuid"
)

// ImportFormat represents the file format for import
type ImportFormat string

const (
	ImportFormatCSV  ImportFormat = "csv"
	ImportFormatXLSX ImportFormat = "xlsx"
)

// ImportMode controls how existing catalog records are treated
type ImportMode string

const (
	ImportModeCreateOnly      ImportMode = "CREATE_ONLY"
	ImportModeCreateAndEnrich ImportMode = "CREATE_AND_ENRICH"
)

// JobStatus represents the lifecycle status of an import job
type JobStatus string

const (
	JobStatusPending    JobStatus = "PENDING"
	JobStatusValidating JobStatus = "VALIDATING"
	JobStatusValidated  JobStatus = "VALIDATED"
	JobStatusCommitting JobStatus = "COMMITTING"
	JobStatusCompleted  JobStatus = "COMPLETED"
	JobStatusFailed     JobStatus = "FAILED"
	JobStatusCancelled  JobStatus = "CANCELLED"
)

// IsTerminal reports whether no further transition can occur from the status
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed || s == JobStatusCancelled
}

// jobTransitions enumerates the legal state machine edges. Cancellation and
// failure are handled separately since they are reachable from any
// non-terminal state.
var jobTransitions = map[JobStatus][]JobStatus{
	JobStatusPending:    {JobStatusValidating},
	JobStatusValidating: {JobStatusValidated},
	JobStatusValidated:  {JobStatusCommitting},
	JobStatusCommitting: {JobStatusCompleted},
}

// CanTransition reports whether moving from s to next is legal
func (s JobStatus) CanTransition(next JobStatus) bool {
	if s.IsTerminal() {
		return false
	}
	if next == JobStatusFailed || next == JobStatusCancelled {
		return true
	}
	for _, allowed := range jobTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// RowStatus represents the validation/commit status of a single import row
type RowStatus string

const (
	RowStatusPending   RowStatus = "PENDING"
	RowStatusValid     RowStatus = "VALID"
	RowStatusInvalid   RowStatus = "INVALID"
	RowStatusCommitted RowStatus = "COMMITTED"
)

// ImportJob is one bulk import run for a tenant's catalog
type ImportJob struct {
	ID         uuid.UUID  `json:"id" gorm:"type:uuid;primary_key;default:gen_random_uuid()"`
	TenantID   string     `json:"tenantId" gorm:"not null;index"`
	Filename   string     `json:"filename" gorm:"not null"`
	Mode       ImportMode `json:"mode" gorm:"not null;default:'CREATE_ONLY'"`
	Status     JobStatus  `json:"status" gorm:"not null;index;default:'PENDING'"`
	Summary    *JSON      `json:"summary,omitempty" gorm:"type:jsonb"`
	CreatedBy  *string    `json:"createdBy,omitempty"`
	StartedAt  time.Time  `json:"startedAt"`
	FinishedAt *time.Time `json:"finishedAt,omitempty"`
	CreatedAt  time.Time  `json:"createdAt"`
	UpdatedAt  time.Time  `json:"updatedAt"`
}

func (ImportJob) TableName() string {
	return "import_jobs"
}

// ImportRow is one source spreadsheet row. (JobID, RowNumber) is unique;
// RowNumber is 1-indexed matching file order.
type ImportRow struct {
	ID         uuid.UUID `json:"id" gorm:"type:uuid;primary_key;default:gen_random_uuid()"`
	JobID      uuid.UUID `json:"jobId" gorm:"type:uuid;not null;uniqueIndex:idx_import_rows_job_row,priority:1"`
	RowNumber  int       `json:"rowNumber" gorm:"not null;uniqueIndex:idx_import_rows_job_row,priority:2"`
	Raw        JSON      `json:"raw" gorm:"type:jsonb;not null"`
	Normalized *JSON     `json:"normalized,omitempty" gorm:"type:jsonb"`
	Error      *string   `json:"error,omitempty"`
	Status     RowStatus `json:"status" gorm:"not null;index;default:'PENDING'"`
	CreatedAt  time.Time `json:"createdAt"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

func (ImportRow) TableName() string {
	return "import_rows"
}

// ImportSummary is the summary blob persisted on the job, first written at
// VALIDATED so the preview can render counts and ignored-column warnings
type ImportSummary struct {
	Processed   int      `json:"processed"`
	Created     int      `json:"created"`
	Updated     int      `json:"updated"`
	Failed      int      `json:"failed"`
	Error       string   `json:"error,omitempty"`
	FailedBatch int      `json:"failedBatch,omitempty"`
	Warnings    []string `json:"warnings,omitempty"`
}

// ToJSON converts the summary to the jsonb representation stored on the job
func (s ImportSummary) ToJSON() *JSON {
	out := JSON{
		"processed": s.Processed,
		"created":   s.Created,
		"updated":   s.Updated,
		"failed":    s.Failed,
	}
	if s.Error != "" {
		out["error"] = s.Error
	}
	if s.FailedBatch > 0 {
		out["failedBatch"] = s.FailedBatch
	}
	if len(s.Warnings) > 0 {
		out["warnings"] = s.Warnings
	}
	return &out
}

// ProgressPhase identifies which phase of the pipeline a progress event
// belongs to
type ProgressPhase string

const (
	PhaseParsing    ProgressPhase = "parsing"
	PhaseValidating ProgressPhase = "validating"
	PhaseCommitting ProgressPhase = "committing"
)

// ProgressEvent is pushed to every live subscriber of a job after each batch
type ProgressEvent struct {
	Type       string        `json:"type"`
	JobID      uuid.UUID     `json:"jobId"`
	Status     JobStatus     `json:"status"`
	Phase      ProgressPhase `json:"phase,omitempty"`
	Processed  int           `json:"processed"`
	Total      int           `json:"total"`
	Created    int           `json:"created,omitempty"`
	Updated    int           `json:"updated,omitempty"`
	Failed     int           `json:"failed,omitempty"`
	Percentage int           `json:"percentage"`
	Message    string        `json:"message,omitempty"`
}

// ImportTemplateColumn defines a column in the import template
type ImportTemplateColumn struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Required    bool   `json:"required"`
	Type        string `json:"type"` // string, number, uuid
	Example     string `json:"example"`
}

// ImportTemplate defines the structure of an import template
type ImportTemplate struct {
	Entity  string                 `json:"entity"`
	Version string                 `json:"version"`
	Columns []ImportTemplateColumn `json:"columns"`
}

// ProductImportColumns returns the column definitions for product import
func ProductImportColumns() []ImportTemplateColumn {
	return []ImportTemplateColumn{
		{Name: "name", Description: "Product name", Required: true, Type: "string", Example: "Blue Cotton T-Shirt"},
		{Name: "sku", Description: "Unique product SKU", Required: true, Type: "string", Example: "TSH-BLU-001"},
		{Name: "upid", Description: "Universal product identifier, unique within the file", Required: true, Type: "string", Example: "UP-83F2K1"},
		{Name: "price", Description: "Product price", Required: false, Type: "number", Example: "29.99"},
		{Name: "description", Description: "Product description", Required: false, Type: "string", Example: ""},
		{Name: "brand", Description: "Brand name", Required: false, Type: "string", Example: ""},
		{Name: "color", Description: "Variant color", Required: false, Type: "string", Example: "Blue"},
		{Name: "size", Description: "Variant size", Required: false, Type: "string", Example: "M"},
		{Name: "variant_sku", Description: "Variant SKU when the row carries a variant", Required: false, Type: "string", Example: "TSH-BLU-001-M"},
		{Name: "compare_price", Description: "Original/compare price", Required: false, Type: "number", Example: ""},
		{Name: "quantity", Description: "Initial stock quantity", Required: false, Type: "number", Example: ""},
		{Name: "weight", Description: "Product weight (kg)", Required: false, Type: "number", Example: ""},
		{Name: "tags", Description: "Comma-separated tags", Required: false, Type: "string", Example: ""},
	}
}

// ProductImportTemplate returns the template definition for products
func ProductImportTemplate() ImportTemplate {
	return ImportTemplate{
		Entity:  "products",
		Version: "1.0",
		Columns: ProductImportColumns(),
	}
}
