package parser

import (
	"fmt"
	"io"
	"strings"
)

const (
	// DefaultMaxBytes is the parser-level upload ceiling. The transport
	// layer enforces a much lower multipart cap; this bound protects the
	// parser when it is fed from storage directly.
	DefaultMaxBytes int64 = 5 << 30 // 5 GiB
)

// Format is the declared or detected file kind
type Format string

const (
	FormatCSV  Format = "csv"
	FormatXLSX Format = "xlsx"
)

// RowError is a non-fatal structural problem tagged with its row number
type RowError struct {
	Row     int    `json:"row"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Row is one parsed data row: 1-indexed file position plus the raw field map
// keyed by the file's own headers.
type Row struct {
	Number int
	Fields map[string]string
}

// Result is what parsing always produces: some rows (possibly zero), the
// header list as it appeared in the file, and any structural errors
// encountered along the way. Parsing never fails past preflight.
type Result struct {
	Format   Format
	Encoding string
	Headers  []string
	Rows     []Row
	Errors   []RowError
}

// Options configures a parse run
type Options struct {
	MaxBytes int64  // 0 means DefaultMaxBytes
	Sheet    string // XLSX only; empty applies DefaultSheetPolicy
}

// FormatForFilename maps a filename extension to a supported format
func FormatForFilename(filename string) (Format, error) {
	lower := strings.ToLower(filename)
	switch {
	case strings.HasSuffix(lower, ".csv"):
		return FormatCSV, nil
	case strings.HasSuffix(lower, ".xlsx"), strings.HasSuffix(lower, ".xls"):
		return FormatXLSX, nil
	default:
		return "", fmt.Errorf("unsupported file format: %s", filename)
	}
}

// Parse reads the byte source once and decodes it into rows of string
// fields. Contract failures (empty file, oversized file) return an error;
// everything else degrades into Result.Errors.
func Parse(r io.Reader, format Format, opts Options) (*Result, error) {
	maxBytes := opts.MaxBytes
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}

	data, err := io.ReadAll(io.LimitReader(r, maxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read upload: %w", err)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("file is empty")
	}
	if int64(len(data)) > maxBytes {
		return nil, fmt.Errorf("file exceeds maximum size of %d bytes", maxBytes)
	}

	switch format {
	case FormatXLSX:
		return parseXLSX(data, opts.Sheet)
	default:
		return parseCSV(data)
	}
}
