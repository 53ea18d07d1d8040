// Package parser defines the statement parser contract and the registry that
// selects a parser by name or by probing the file header.
package parser

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/Dan9191/bank-feed/internal/models"
)

// HeaderSize is the number of leading bytes handed to Detect
const HeaderSize = 4096

var (
	// ErrInvalidFile marks a structurally broken file; the whole file is rejected
	ErrInvalidFile = errors.New("invalid statement file")
	// ErrUnknownFormat is returned for an unknown parser name or an undetectable file
	ErrUnknownFormat = errors.New("unknown statement format")
)

// Parser turns raw statement bytes into normalized transaction records
type Parser interface {
	// Name returns the parser identifier, e.g. "mt940" or "csv-ing-nl"
	Name() string

	// Detect reports whether header (the first HeaderSize bytes) looks like
	// a file this parser understands
	Detect(header []byte) bool

	// Parse reads the whole statement. Row level problems are collected in
	// Result.RowErrors; a returned error means the file as a whole is invalid.
	Parse(ctx context.Context, r io.Reader) (*Result, error)
}

// StatementAccount is the account a statement file declares, if any
type StatementAccount struct {
	IBAN          string
	AccountNumber string
	Currency      string
	BankCode      string
}

// Result is the outcome of parsing one file
type Result struct {
	Format    string
	Account   StatementAccount
	Records   []models.RawTransaction
	RowErrors []RowError
	TotalRows int
}

// AddError records a failed row
func (r *Result) AddError(row int, reference string, err error) {
	r.RowErrors = append(r.RowErrors, RowError{Row: row, Reference: reference, Err: err})
}

// ErrorStrings returns the row errors as human-readable strings
func (r *Result) ErrorStrings() []string {
	out := make([]string, 0, len(r.RowErrors))
	for _, e := range r.RowErrors {
		out = append(out, e.Error())
	}
	return out
}

// RowError is a parse failure of a single row or statement line
type RowError struct {
	Row       int
	Reference string
	Err       error
}

func (e RowError) Error() string {
	if e.Reference != "" {
		return fmt.Sprintf("row %d (%s): %v", e.Row, e.Reference, e.Err)
	}
	return fmt.Sprintf("row %d: %v", e.Row, e.Err)
}

func (e RowError) Unwrap() error { return e.Err }

// Invalid wraps a structural problem as ErrInvalidFile
func Invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidFile, fmt.Sprintf(format, args...))
}

// CheckContext returns ctx.Err() without blocking
func CheckContext(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
		return nil
	}
}
