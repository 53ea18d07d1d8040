package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/Dan9191/bank-feed/internal/banking"
	"github.com/Dan9191/bank-feed/internal/models"
)

// BankGateway fetches data from a connected bank. banking.Client satisfies it.
type BankGateway interface {
	Accounts(ctx context.Context, tenantID int64, bank string) ([]models.ProviderAccount, error)
	Transactions(ctx context.Context, tenantID int64, bank, accountID string, from, to time.Time) ([]models.RawTransaction, error)
}

// SyncOptions bounds one consent sync
type SyncOptions struct {
	// Lookback is how far back transactions are requested
	Lookback time.Duration
	// RowLimit caps the rows processed in one consent sync across all of
	// its accounts; zero means no limit
	RowLimit int
}

// SyncReport is the outcome of one consent sync
type SyncReport struct {
	TenantID int64               `json:"tenant_id"`
	Bank     string              `json:"bank"`
	Accounts int                 `json:"accounts"`
	Result   models.ImportResult `json:"result"`
	ImportID string              `json:"import_id,omitempty"`
	Skipped  bool                `json:"skipped,omitempty"`
}

// BankSync pulls transactions of connected banks into the store
type BankSync struct {
	gateway  BankGateway
	consents ConsentLister
	accounts *AccountSync
	store    AccountStore
	importer *Importer
	logs     *ImportLogger
	opts     SyncOptions
	log      *logrus.Logger
	now      func() time.Time

	mu   sync.Mutex
	cron *cron.Cron
}

// NewBankSync creates a bank sync job
func NewBankSync(gateway BankGateway, consents ConsentLister, accounts *AccountSync, store AccountStore, importer *Importer, logs *ImportLogger, opts SyncOptions, log *logrus.Logger) *BankSync {
	if opts.Lookback <= 0 {
		opts.Lookback = 30 * 24 * time.Hour
	}
	return &BankSync{
		gateway:  gateway,
		consents: consents,
		accounts: accounts,
		store:    store,
		importer: importer,
		logs:     logs,
		opts:     opts,
		log:      log,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// SyncConsent mirrors the accounts of one consent and imports the
// transactions of every active account in the lookback window
func (s *BankSync) SyncConsent(ctx context.Context, consent *models.Consent) (*SyncReport, error) {
	report := &SyncReport{TenantID: consent.TenantID, Bank: consent.BankCode, Result: models.ImportResult{Errors: []string{}, CreatedIDs: []int64{}}}
	logger := s.log.WithFields(logrus.Fields{"tenant_id": consent.TenantID, "bank": consent.BankCode})

	reported, err := s.gateway.Accounts(ctx, consent.TenantID, consent.BankCode)
	if err != nil {
		if errors.Is(err, banking.ErrReauthorizationRequired) || errors.Is(err, banking.ErrConsentNotFound) {
			logger.WithError(err).Warn("consent needs reauthorization, sync skipped")
			report.Skipped = true
			return report, nil
		}
		return nil, fmt.Errorf("failed to fetch accounts: %w", err)
	}
	accounts, err := s.accounts.SyncAccountsFromConsent(ctx, consent, reported)
	if err != nil {
		return nil, err
	}
	report.Accounts = len(accounts)

	importLog, err := s.logs.Start(ctx, consent.TenantID, models.SourceAPI, consent.BankCode, "", 0)
	if err != nil {
		return nil, err
	}
	report.ImportID = importLog.ID

	to := s.now()
	from := to.Add(-s.opts.Lookback)
	// least recently synced first, so a row limit does not starve later accounts
	sort.SliceStable(accounts, func(i, j int) bool {
		return syncedBefore(accounts[i].LastSyncedAt, accounts[j].LastSyncedAt)
	})

	outcome := ImportOutcome{}
	remaining := s.opts.RowLimit
	for _, acc := range accounts {
		if s.opts.RowLimit > 0 && remaining <= 0 {
			logger.WithField("row_limit", s.opts.RowLimit).Info("row limit reached, remaining accounts wait for the next run")
			break
		}
		records, err := s.gateway.Transactions(ctx, consent.TenantID, consent.BankCode, acc.ExternalID, from, to)
		if err != nil {
			outcome.FailedFetches++
			if errors.Is(err, banking.ErrReauthorizationRequired) {
				outcome.Errors = append(outcome.Errors, err.Error())
				break
			}
			logger.WithError(err).WithField("account_id", acc.ID).Warn("failed to fetch transactions")
			outcome.Errors = append(outcome.Errors, fmt.Sprintf("account %s: %v", acc.ExternalID, err))
			continue
		}

		accountID := acc.ID
		res := s.importer.ImportWithDedupe(ctx, records, consent.TenantID, models.SourceAPI, ImportOptions{
			AccountID: &accountID,
			Limit:     remaining,
			ImportID:  importLog.ID,
		})
		mergeResult(&report.Result, res)
		processed := len(records) - res.Skipped
		outcome.TotalRows += len(records)
		outcome.ParsedRows += processed
		if s.opts.RowLimit > 0 {
			remaining -= processed
		}

		if err := s.store.MarkAccountSynced(ctx, consent.TenantID, acc.ID, to); err != nil {
			logger.WithError(err).WithField("account_id", acc.ID).Warn("failed to mark account synced")
		}
	}

	outcome.ImportedRows = report.Result.Created
	outcome.DuplicateRows = report.Result.Duplicates
	outcome.FailedRows = report.Result.Failed
	outcome.Errors = append(outcome.Errors, report.Result.Errors...)
	if err := s.logs.Finish(ctx, importLog, outcome); err != nil {
		logger.WithError(err).Error("failed to finish import log")
	}
	return report, nil
}

// SyncAll syncs every active consent one after another. A failing consent
// does not stop the others.
func (s *BankSync) SyncAll(ctx context.Context) ([]SyncReport, error) {
	consents, err := s.consents.ListActiveConsents(ctx)
	if err != nil {
		return nil, err
	}
	reports := make([]SyncReport, 0, len(consents))
	for i := range consents {
		if err := ctx.Err(); err != nil {
			return reports, err
		}
		report, err := s.SyncConsent(ctx, &consents[i])
		if err != nil {
			s.log.WithError(err).WithFields(logrus.Fields{"tenant_id": consents[i].TenantID, "bank": consents[i].BankCode}).
				Error("consent sync failed")
			continue
		}
		reports = append(reports, *report)
	}
	return reports, nil
}

// Start schedules SyncAll with a standard five-field cron expression.
// Overlapping runs are skipped.
func (s *BankSync) Start(schedule string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cron != nil {
		return fmt.Errorf("bank sync already started")
	}

	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DefaultLogger)))
	_, err := c.AddFunc(schedule, func() {
		started := time.Now()
		reports, err := s.SyncAll(context.Background())
		if err != nil {
			s.log.WithError(err).Error("scheduled sync failed")
			return
		}
		s.log.WithFields(logrus.Fields{"consents": len(reports), "took": time.Since(started).String()}).Info("scheduled sync finished")
	})
	if err != nil {
		return fmt.Errorf("failed to schedule bank sync %q: %w", schedule, err)
	}
	c.Start()
	s.cron = c
	s.log.WithField("schedule", schedule).Info("bank sync scheduled")
	return nil
}

// Stop cancels the schedule and waits for a running sync
func (s *BankSync) Stop() {
	s.mu.Lock()
	c := s.cron
	s.cron = nil
	s.mu.Unlock()
	if c != nil {
		<-c.Stop().Done()
	}
}

func syncedBefore(a, b *time.Time) bool {
	switch {
	case a == nil:
		return b != nil
	case b == nil:
		return false
	default:
		return a.Before(*b)
	}
}

func mergeResult(dst *models.ImportResult, src models.ImportResult) {
	dst.Created += src.Created
	dst.Duplicates += src.Duplicates
	dst.Failed += src.Failed
	dst.Skipped += src.Skipped
	dst.CreatedIDs = append(dst.CreatedIDs, src.CreatedIDs...)
	for _, msg := range src.Errors {
		addError(dst, msg)
	}
}
