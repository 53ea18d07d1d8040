package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/Dan9191/bank-feed/internal/models"
)

const importLogColumns = `id, tenant_id, source, bank_code, file_name, file_size, total_rows, parsed_rows,
	imported_rows, duplicate_rows, failed_rows, errors, parse_time_ms, duration_ms, status, started_at, finished_at`

// CreateImportLog stores a started import
func (r *Repository) CreateImportLog(ctx context.Context, l *models.ImportLog) error {
	return r.writeImportLog(ctx, `
		INSERT INTO import_logs (`+importLogColumns+`)
		VALUES (`+placeholders(1, 17)+`)`, l)
}

// FinishImportLog writes the final counters of a pending import. Finished
// logs are never modified again.
func (r *Repository) FinishImportLog(ctx context.Context, l *models.ImportLog) error {
	errs, err := json.Marshal(nonNil(l.Errors))
	if err != nil {
		return fmt.Errorf("failed to encode import errors: %w", err)
	}
	res, err := r.db.ExecContext(ctx, `
		UPDATE import_logs
		SET total_rows = $1, parsed_rows = $2, imported_rows = $3, duplicate_rows = $4, failed_rows = $5,
			errors = $6, parse_time_ms = $7, duration_ms = $8, status = $9, finished_at = $10,
			bank_code = $11, file_size = $12
		WHERE id = $13 AND status = $14`,
		l.TotalRows, l.ParsedRows, l.ImportedRows, l.DuplicateRows, l.FailedRows, string(errs),
		l.ParseTime.Milliseconds(), l.Duration.Milliseconds(), string(l.Status), nullTime(l.FinishedAt),
		l.BankCode, l.FileSize, l.ID, string(models.ImportPending))
	if err != nil {
		return fmt.Errorf("failed to finish import log: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("pending import log %s: %w", l.ID, ErrNotFound)
	}
	return nil
}

// GetImportLog returns one import log of the tenant
func (r *Repository) GetImportLog(ctx context.Context, tenantID int64, id string) (*models.ImportLog, error) {
	logs, err := r.queryImportLogs(ctx,
		`SELECT `+importLogColumns+` FROM import_logs WHERE tenant_id = $1 AND id = $2`, tenantID, id)
	if err != nil {
		return nil, err
	}
	if len(logs) == 0 {
		return nil, fmt.Errorf("import log %s: %w", id, ErrNotFound)
	}
	return &logs[0], nil
}

// ListImportLogs returns the tenant's imports started in [from, to)
func (r *Repository) ListImportLogs(ctx context.Context, tenantID int64, from, to time.Time) ([]models.ImportLog, error) {
	return r.queryImportLogs(ctx, `SELECT `+importLogColumns+` FROM import_logs
		WHERE tenant_id = $1 AND started_at >= $2 AND started_at < $3 ORDER BY started_at`,
		tenantID, from.UTC(), to.UTC())
}

func (r *Repository) writeImportLog(ctx context.Context, query string, l *models.ImportLog) error {
	errs, err := json.Marshal(nonNil(l.Errors))
	if err != nil {
		return fmt.Errorf("failed to encode import errors: %w", err)
	}
	_, err = r.db.ExecContext(ctx, query,
		l.ID, l.TenantID, string(l.Source), l.BankCode, l.FileName, l.FileSize, l.TotalRows, l.ParsedRows,
		l.ImportedRows, l.DuplicateRows, l.FailedRows, string(errs), l.ParseTime.Milliseconds(),
		l.Duration.Milliseconds(), string(l.Status), l.StartedAt.UTC(), nullTime(l.FinishedAt))
	if err != nil {
		return fmt.Errorf("failed to create import log: %w", err)
	}
	return nil
}

func (r *Repository) queryImportLogs(ctx context.Context, query string, args ...any) ([]models.ImportLog, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query import logs: %w", err)
	}
	defer rows.Close()

	var out []models.ImportLog
	for rows.Next() {
		var (
			l                     models.ImportLog
			source, status        string
			errs                  []byte
			parseTimeMS, duration int64
			finishedAt            sql.NullTime
		)
		if err := rows.Scan(&l.ID, &l.TenantID, &source, &l.BankCode, &l.FileName, &l.FileSize, &l.TotalRows,
			&l.ParsedRows, &l.ImportedRows, &l.DuplicateRows, &l.FailedRows, &errs, &parseTimeMS, &duration,
			&status, &l.StartedAt, &finishedAt); err != nil {
			return nil, fmt.Errorf("failed to scan import log: %w", err)
		}
		if err := json.Unmarshal(errs, &l.Errors); err != nil {
			return nil, fmt.Errorf("import log %s has invalid errors: %w", l.ID, err)
		}
		l.Source = models.Source(source)
		l.Status = models.ImportStatus(status)
		l.ParseTime = time.Duration(parseTimeMS) * time.Millisecond
		l.Duration = time.Duration(duration) * time.Millisecond
		l.StartedAt = l.StartedAt.UTC()
		l.FinishedAt = timePtr(finishedAt)
		out = append(out, l)
	}
	return out, rows.Err()
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
