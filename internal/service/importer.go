package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/Dan9191/bank-feed/internal/fingerprint"
	"github.com/Dan9191/bank-feed/internal/integrations/cbr"
	"github.com/Dan9191/bank-feed/internal/models"
	"github.com/Dan9191/bank-feed/internal/parser"
)

// maxResultErrors bounds ImportResult.Errors
const maxResultErrors = 50

// ImportOptions tunes one deduplicating import batch
type ImportOptions struct {
	// AccountID links every row to a local account
	AccountID *int64
	// Limit caps the processed rows; the rest is counted as skipped. Zero means no limit.
	Limit int
	// ImportID tags the stored rows with their import log
	ImportID string
}

// Importer normalizes records and stores each real-world transaction once
type Importer struct {
	txs        TransactionStore
	currencies cbr.Directory
	log        *logrus.Logger
}

// NewImporter creates an importer. currencies may be nil, leaving currency ids empty.
func NewImporter(txs TransactionStore, currencies cbr.Directory, log *logrus.Logger) *Importer {
	return &Importer{txs: txs, currencies: currencies, log: log}
}

// ImportWithDedupe stores records in order. A failing row is counted and
// reported without aborting the batch.
func (im *Importer) ImportWithDedupe(ctx context.Context, records []models.RawTransaction, tenantID int64, source models.Source, opts ImportOptions) models.ImportResult {
	result := models.ImportResult{Errors: []string{}, CreatedIDs: []int64{}}
	currencies := cbr.NewCurrencyCache(im.currencies, im.log)
	logger := im.log.WithFields(logrus.Fields{"tenant_id": tenantID, "source": source, "import_id": opts.ImportID})

	for i, rec := range records {
		if opts.Limit > 0 && i >= opts.Limit {
			result.Skipped = len(records) - i
			logger.WithField("skipped", result.Skipped).Warn("row limit reached")
			break
		}
		if err := ctx.Err(); err != nil {
			result.Skipped = len(records) - i
			addError(&result, fmt.Sprintf("import cancelled after %d rows: %v", i, err))
			break
		}

		t, err := im.normalize(ctx, rec, tenantID, source, opts, currencies)
		if err != nil {
			result.Failed++
			addError(&result, rowError(i, rec, err))
			continue
		}

		// a started insert finishes even when the batch is cancelled
		inserted, err := im.txs.InsertIfAbsent(context.WithoutCancel(ctx), t)
		switch {
		case err != nil:
			result.Failed++
			addError(&result, rowError(i, rec, err))
		case inserted:
			result.Created++
			result.CreatedIDs = append(result.CreatedIDs, t.ID)
		default:
			result.Duplicates++
		}
	}

	logger.WithFields(logrus.Fields{
		"created":    result.Created,
		"duplicates": result.Duplicates,
		"failed":     result.Failed,
	}).Info("import batch finished")
	return result
}

// IsDuplicate reports whether rec is already stored for the tenant, without writing
func (im *Importer) IsDuplicate(ctx context.Context, rec models.RawTransaction, tenantID int64, accountID *int64) (bool, error) {
	t, err := im.normalize(ctx, rec, tenantID, "", ImportOptions{AccountID: accountID}, cbr.NewCurrencyCache(nil, im.log))
	if err != nil {
		return false, err
	}
	return im.txs.ExistsFingerprint(ctx, tenantID, t.Fingerprint)
}

func (im *Importer) normalize(ctx context.Context, rec models.RawTransaction, tenantID int64, source models.Source, opts ImportOptions, currencies *cbr.CurrencyCache) (*models.Transaction, error) {
	amount, err := decimal.NewFromString(strings.TrimPrefix(strings.TrimSpace(rec.Amount), "+"))
	if err != nil {
		return nil, fmt.Errorf("invalid amount %q", rec.Amount)
	}

	direction := rec.Direction
	switch direction {
	case models.DirectionCredit:
		amount = amount.Abs()
	case models.DirectionDebit:
		amount = amount.Abs().Neg()
	case "":
		direction = models.DirectionCredit
		if amount.IsNegative() {
			direction = models.DirectionDebit
		}
	default:
		return nil, fmt.Errorf("invalid direction %q", rec.Direction)
	}

	date, ok := fingerprint.ParseDate(rec.Date)
	if !ok {
		return nil, fmt.Errorf("invalid date %q", rec.Date)
	}

	currency := strings.ToUpper(strings.TrimSpace(rec.Currency))
	if len(currency) != 3 {
		return nil, fmt.Errorf("invalid currency %q", rec.Currency)
	}

	status := rec.BookingStatus
	switch status {
	case "":
		status = models.BookingBooked
	case models.BookingBooked, models.BookingPending:
	default:
		return nil, fmt.Errorf("invalid booking status %q", rec.BookingStatus)
	}

	accountID := opts.AccountID
	if accountID == nil {
		accountID = rec.AccountID
	}

	t := &models.Transaction{
		TenantID:            tenantID,
		AccountID:           accountID,
		ExternalID:          strings.TrimSpace(rec.ExternalID),
		Amount:              amount,
		Currency:            currency,
		CurrencyID:          currencies.ID(ctx, currency),
		Direction:           direction,
		TransactionDate:     date,
		BookingDate:         optionalDate(rec.BookingDate),
		ValueDate:           optionalDate(rec.ValueDate),
		Description:         strings.TrimSpace(rec.Description),
		RemittanceInfo:      strings.TrimSpace(rec.RemittanceInfo),
		Reference:           strings.TrimSpace(rec.Reference),
		CounterpartyName:    strings.TrimSpace(rec.CounterpartyName),
		CounterpartyAccount: strings.TrimSpace(rec.CounterpartyAccount),
		BookingStatus:       status,
		Status:              models.StatusUnprocessed,
		Source:              source,
		ImportID:            opts.ImportID,
	}
	if len(rec.Raw) > 0 {
		raw, err := json.Marshal(rec.Raw)
		if err != nil {
			return nil, fmt.Errorf("failed to encode raw payload: %w", err)
		}
		t.RawPayload = raw
	}
	t.Fingerprint = fingerprint.Generate(fingerprint.FromTransaction(t))
	return t, nil
}

func optionalDate(s string) *time.Time {
	t, ok := fingerprint.ParseDate(s)
	if !ok {
		return nil
	}
	return &t
}

func rowError(i int, rec models.RawTransaction, err error) string {
	return fmt.Sprintf("record %d (%s): %v", i+1, rec.Label(), err)
}

func addError(result *models.ImportResult, msg string) {
	if len(result.Errors) < maxResultErrors {
		result.Errors = append(result.Errors, msg)
	}
}

// FileImport is one uploaded statement file
type FileImport struct {
	TenantID int64
	// Format names a parser explicitly; empty means auto-detect
	Format    string
	FileName  string
	Data      []byte
	AccountID *int64
	// ApplyRules runs the tenant's matching rules over the created rows
	ApplyRules bool
}

// FileImporter parses statement files and imports them with logging
type FileImporter struct {
	registry *parser.Registry
	importer *Importer
	logs     *ImportLogger
	accounts AccountStore
	rules    *RuleService
	notifier ImportNotifier
	log      *logrus.Logger
}

// NewFileImporter wires the file import pipeline. accounts, rules and notifier may be nil.
func NewFileImporter(registry *parser.Registry, importer *Importer, logs *ImportLogger, accounts AccountStore, rules *RuleService, notifier ImportNotifier, log *logrus.Logger) *FileImporter {
	return &FileImporter{
		registry: registry,
		importer: importer,
		logs:     logs,
		accounts: accounts,
		rules:    rules,
		notifier: notifier,
		log:      log,
	}
}

// ImportFile parses f and imports its records. A structurally invalid file
// is rejected as a whole and logged as failed.
func (fi *FileImporter) ImportFile(ctx context.Context, f FileImport) (*models.ImportResult, *models.ImportLog, error) {
	if err := checkAccounts(ctx, fi.accounts, f.TenantID, f.AccountID); err != nil {
		return nil, nil, err
	}
	p, resolveErr := fi.registry.Resolve(f.Format, f.Data)
	format := f.Format
	if resolveErr == nil {
		format = p.Name()
	}
	importLog, err := fi.logs.Start(ctx, f.TenantID, sourceFor(format), format, f.FileName, int64(len(f.Data)))
	if err != nil {
		return nil, nil, err
	}
	logger := fi.log.WithFields(logrus.Fields{"tenant_id": f.TenantID, "import_id": importLog.ID, "file": f.FileName})

	if resolveErr != nil {
		fi.fail(ctx, importLog, f, resolveErr)
		return nil, importLog, resolveErr
	}

	parseStart := time.Now()
	parsed, err := p.Parse(ctx, bytes.NewReader(f.Data))
	parseTime := time.Since(parseStart)
	if err != nil {
		fi.fail(ctx, importLog, f, err)
		return nil, importLog, err
	}

	accountID := f.AccountID
	if accountID == nil {
		accountID = fi.statementAccount(ctx, f.TenantID, parsed.Account)
	}

	result := fi.importer.ImportWithDedupe(ctx, parsed.Records, f.TenantID, importLog.Source, ImportOptions{
		AccountID: accountID,
		ImportID:  importLog.ID,
	})
	for _, rowErr := range parsed.RowErrors {
		result.Failed++
		addError(&result, rowErr.Error())
	}

	if f.ApplyRules && fi.rules != nil && len(result.CreatedIDs) > 0 {
		if _, err := fi.rules.Apply(ctx, f.TenantID, result.CreatedIDs); err != nil {
			logger.WithError(err).Warn("failed to apply matching rules")
		}
	}

	outcome := ImportOutcome{
		TotalRows:     parsed.TotalRows,
		ParsedRows:    len(parsed.Records),
		ImportedRows:  result.Created,
		DuplicateRows: result.Duplicates,
		FailedRows:    result.Failed,
		Errors:        result.Errors,
		ParseTime:     parseTime,
	}
	if err := fi.logs.Finish(ctx, importLog, outcome); err != nil {
		logger.WithError(err).Error("failed to finish import log")
	}
	if importLog.Status == models.ImportFailed {
		fi.notifyFailed(f, result.Errors)
	}

	logger.WithFields(logrus.Fields{
		"format":     p.Name(),
		"created":    result.Created,
		"duplicates": result.Duplicates,
		"failed":     result.Failed,
		"status":     importLog.Status,
	}).Info("file imported")
	return &result, importLog, nil
}

func (fi *FileImporter) fail(ctx context.Context, importLog *models.ImportLog, f FileImport, cause error) {
	if err := fi.logs.Finish(ctx, importLog, ImportOutcome{Errors: []string{cause.Error()}, Fatal: true}); err != nil {
		fi.log.WithError(err).Error("failed to finish import log")
	}
	fi.notifyFailed(f, []string{cause.Error()})
}

func (fi *FileImporter) notifyFailed(f FileImport, errs []string) {
	if fi.notifier == nil {
		return
	}
	if err := fi.notifier.SendImportFailed(f.TenantID, f.FileName, errs); err != nil {
		fi.log.WithError(err).Warn("failed to send import failure notice")
	}
}

// checkAccounts rejects account ids the tenant does not own
func checkAccounts(ctx context.Context, accounts AccountStore, tenantID int64, ids ...*int64) error {
	var wanted []int64
	for _, id := range ids {
		if id != nil {
			wanted = append(wanted, *id)
		}
	}
	if len(wanted) == 0 {
		return nil
	}
	if accounts == nil {
		return fmt.Errorf("%w: accounts cannot be resolved", ErrInvalidInput)
	}
	owned, err := accounts.ListAccounts(ctx, tenantID, "")
	if err != nil {
		return fmt.Errorf("failed to list accounts: %w", err)
	}
	known := make(map[int64]bool, len(owned))
	for _, a := range owned {
		known[a.ID] = true
	}
	for _, id := range wanted {
		if !known[id] {
			return fmt.Errorf("%w: unknown account %d", ErrInvalidInput, id)
		}
	}
	return nil
}

// recordAccounts collects the per-record account ids of a batch
func recordAccounts(records []models.RawTransaction) []*int64 {
	var ids []*int64
	for i := range records {
		if records[i].AccountID != nil {
			ids = append(ids, records[i].AccountID)
		}
	}
	return ids
}

// statementAccount finds the local account a statement declares by IBAN or number
func (fi *FileImporter) statementAccount(ctx context.Context, tenantID int64, acc parser.StatementAccount) *int64 {
	if fi.accounts == nil || (acc.IBAN == "" && acc.AccountNumber == "") {
		return nil
	}
	accounts, err := fi.accounts.ListAccounts(ctx, tenantID, "")
	if err != nil {
		fi.log.WithError(err).Warn("failed to look up statement account")
		return nil
	}
	for _, a := range accounts {
		if (acc.IBAN != "" && strings.EqualFold(a.IBAN, acc.IBAN)) ||
			(acc.AccountNumber != "" && a.AccountNumber == acc.AccountNumber) {
			id := a.ID
			return &id
		}
	}
	return nil
}

// PreviewRow is one parsed record and whether importing it would be a no-op
type PreviewRow struct {
	Record    models.RawTransaction `json:"record"`
	Duplicate bool                  `json:"duplicate"`
	Error     string                `json:"error,omitempty"`
}

// Preview is the dry-run outcome of a file
type Preview struct {
	Format    string       `json:"format"`
	TotalRows int          `json:"total_rows"`
	Rows      []PreviewRow `json:"rows"`
	RowErrors []string     `json:"row_errors"`
}

// PreviewFile parses f and classifies every record without storing anything
func (fi *FileImporter) PreviewFile(ctx context.Context, f FileImport) (*Preview, error) {
	if err := checkAccounts(ctx, fi.accounts, f.TenantID, f.AccountID); err != nil {
		return nil, err
	}
	p, err := fi.registry.Resolve(f.Format, f.Data)
	if err != nil {
		return nil, err
	}
	parsed, err := p.Parse(ctx, bytes.NewReader(f.Data))
	if err != nil {
		return nil, err
	}
	accountID := f.AccountID
	if accountID == nil {
		accountID = fi.statementAccount(ctx, f.TenantID, parsed.Account)
	}

	preview := &Preview{
		Format:    p.Name(),
		TotalRows: parsed.TotalRows,
		Rows:      make([]PreviewRow, 0, len(parsed.Records)),
		RowErrors: parsed.ErrorStrings(),
	}
	for _, rec := range parsed.Records {
		row := PreviewRow{Record: rec}
		dup, err := fi.importer.IsDuplicate(ctx, rec, f.TenantID, accountID)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil, err
			}
			row.Error = err.Error()
		}
		row.Duplicate = dup
		preview.Rows = append(preview.Rows, row)
	}
	return preview, nil
}

func sourceFor(format string) models.Source {
	if strings.HasPrefix(format, "csv") {
		return models.SourceCSV
	}
	return models.SourceStatement
}
