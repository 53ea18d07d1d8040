package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/Dan9191/bank-feed/internal/models"
)

const (
	// maxLogErrors bounds the errors kept on an import log
	maxLogErrors = 50
	topErrors    = 5
)

// ErrImportFinished is returned when a finished import log is modified
var ErrImportFinished = errors.New("import log already finished")

// ImportOutcome are the final counters of an import
type ImportOutcome struct {
	TotalRows     int
	ParsedRows    int
	ImportedRows  int
	DuplicateRows int
	FailedRows    int
	// FailedFetches counts sources that could not be read at all, such as
	// a bank account whose transactions request failed
	FailedFetches int
	Errors        []string
	ParseTime     time.Duration
	// Fatal marks an import rejected as a whole
	Fatal bool
}

// ImportLogger records import attempts and aggregates them
type ImportLogger struct {
	store ImportLogStore
	log   *logrus.Logger
	now   func() time.Time
}

// NewImportLogger creates an import logger
func NewImportLogger(store ImportLogStore, log *logrus.Logger) *ImportLogger {
	return &ImportLogger{store: store, log: log, now: func() time.Time { return time.Now().UTC() }}
}

// Start stores a pending import log
func (l *ImportLogger) Start(ctx context.Context, tenantID int64, source models.Source, bankCode, fileName string, fileSize int64) (*models.ImportLog, error) {
	entry := &models.ImportLog{
		ID:        uuid.NewString(),
		TenantID:  tenantID,
		Source:    source,
		BankCode:  bankCode,
		FileName:  fileName,
		FileSize:  fileSize,
		Errors:    []string{},
		Status:    models.ImportPending,
		StartedAt: l.now(),
	}
	if err := l.store.CreateImportLog(ctx, entry); err != nil {
		return nil, err
	}
	return entry, nil
}

// Finish writes the outcome and the terminal status. Completed means no
// failed rows or fetches, partial means some failed, failed means nothing
// was stored or the import was rejected. entry is updated only once the
// store accepted the write.
func (l *ImportLogger) Finish(ctx context.Context, entry *models.ImportLog, o ImportOutcome) error {
	if entry.Status != models.ImportPending {
		return fmt.Errorf("%w: %s", ErrImportFinished, entry.ID)
	}

	finished := l.now()
	done := *entry
	done.TotalRows = o.TotalRows
	done.ParsedRows = o.ParsedRows
	done.ImportedRows = o.ImportedRows
	done.DuplicateRows = o.DuplicateRows
	done.FailedRows = o.FailedRows
	done.Errors = boundErrors(o.Errors)
	done.ParseTime = o.ParseTime
	done.Duration = finished.Sub(entry.StartedAt)
	done.FinishedAt = &finished
	done.Status = finalStatus(o)

	if err := l.store.FinishImportLog(ctx, &done); err != nil {
		return err
	}
	*entry = done
	l.log.WithFields(logrus.Fields{
		"import_id": entry.ID,
		"tenant_id": entry.TenantID,
		"status":    entry.Status,
		"imported":  entry.ImportedRows,
		"failed":    entry.FailedRows,
		"duration":  entry.Duration.String(),
	}).Info("import finished")
	return nil
}

func finalStatus(o ImportOutcome) models.ImportStatus {
	switch {
	case o.Fatal:
		return models.ImportFailed
	case o.FailedRows == 0 && o.FailedFetches == 0:
		return models.ImportCompleted
	case o.ImportedRows+o.DuplicateRows == 0:
		return models.ImportFailed
	default:
		return models.ImportPartial
	}
}

// Get returns one import log of the tenant
func (l *ImportLogger) Get(ctx context.Context, tenantID int64, id string) (*models.ImportLog, error) {
	return l.store.GetImportLog(ctx, tenantID, id)
}

// GetStats aggregates the tenant's imports started in [from, to)
func (l *ImportLogger) GetStats(ctx context.Context, tenantID int64, from, to time.Time) (*models.ImportStats, error) {
	logs, err := l.store.ListImportLogs(ctx, tenantID, from, to)
	if err != nil {
		return nil, err
	}

	stats := &models.ImportStats{
		TotalImports: len(logs),
		PerBank:      make(map[string]models.BankImportStats),
		TopErrors:    []models.ErrorCount{},
	}
	if len(logs) == 0 {
		return stats, nil
	}

	var (
		completed int
		parseTime time.Duration
		errCounts = make(map[string]int)
	)
	for _, entry := range logs {
		if entry.Status == models.ImportCompleted {
			completed++
		}
		parseTime += entry.ParseTime

		bank := stats.PerBank[entry.BankCode]
		bank.Imports++
		bank.Rows += entry.TotalRows
		bank.Imported += entry.ImportedRows
		bank.Duplicates += entry.DuplicateRows
		bank.Failed += entry.FailedRows
		stats.PerBank[entry.BankCode] = bank

		for _, msg := range entry.Errors {
			errCounts[msg]++
		}
	}

	stats.SuccessRate = float64(completed) / float64(len(logs))
	stats.AvgParseTime = parseTime / time.Duration(len(logs))

	for msg, n := range errCounts {
		stats.TopErrors = append(stats.TopErrors, models.ErrorCount{Message: msg, Count: n})
	}
	sort.Slice(stats.TopErrors, func(i, j int) bool {
		a, b := stats.TopErrors[i], stats.TopErrors[j]
		if a.Count != b.Count {
			return a.Count > b.Count
		}
		return a.Message < b.Message
	})
	if len(stats.TopErrors) > topErrors {
		stats.TopErrors = stats.TopErrors[:topErrors]
	}
	return stats, nil
}

func boundErrors(errs []string) []string {
	if errs == nil {
		return []string{}
	}
	if len(errs) > maxLogErrors {
		return append([]string(nil), errs[:maxLogErrors]...)
	}
	return errs
}
