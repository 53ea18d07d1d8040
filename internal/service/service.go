package service

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/Dan9191/bank-feed/internal/banking"
	"github.com/Dan9191/bank-feed/internal/config"
	"github.com/Dan9191/bank-feed/internal/integrations/cbr"
	"github.com/Dan9191/bank-feed/internal/models"
	"github.com/Dan9191/bank-feed/internal/parser"
	"github.com/Dan9191/bank-feed/internal/repository"
)

// Store is everything the services persist
type Store interface {
	TransactionStore
	AccountStore
	ImportLogStore
	RuleStore
	ConsentLister
	GetConsent(ctx context.Context, tenantID int64, bank string) (*models.Consent, error)
	ListConsents(ctx context.Context, tenantID int64) ([]models.Consent, error)
}

var _ Store = (*repository.Repository)(nil)

// Gateway is the open-banking client used by the service
type Gateway interface {
	BankGateway
	Banks() []string
	AuthorizationURL(ctx context.Context, tenantID int64, bank string) (string, error)
	HandleCallback(ctx context.Context, query url.Values) (*models.Consent, error)
	Revoke(ctx context.Context, tenantID int64, bank string) error
}

var _ Gateway = (*banking.Client)(nil)

// Service handles business logic
type Service struct {
	store  Store
	bank   Gateway
	log    *logrus.Logger
	config *config.Config

	Importer *Importer
	Files    *FileImporter
	Logs     *ImportLogger
	Accounts *AccountSync
	Rules    *RuleService
	Sync     *BankSync
}

// NewService wires the services on top of the store. currencies, reconciler
// and notifier may be nil.
func NewService(store Store, bank Gateway, registry *parser.Registry, currencies cbr.Directory, reconciler Reconciler, notifier ImportNotifier, log *logrus.Logger, cfg *config.Config) *Service {
	importer := NewImporter(store, currencies, log)
	logs := NewImportLogger(store, log)
	accounts := NewAccountSync(store, log)
	ruleSvc := NewRuleService(store, store, reconciler, log)

	s := &Service{
		store:    store,
		bank:     bank,
		log:      log,
		config:   cfg,
		Importer: importer,
		Files:    NewFileImporter(registry, importer, logs, store, ruleSvc, notifier, log),
		Logs:     logs,
		Accounts: accounts,
		Rules:    ruleSvc,
	}
	s.Sync = NewBankSync(bank, store, accounts, store, importer, logs, SyncOptions{
		Lookback: time.Duration(cfg.SyncLookbackDays) * 24 * time.Hour,
		RowLimit: cfg.SyncRowLimit,
	}, log)
	return s
}

// Banks lists the banks a tenant can connect
func (s *Service) Banks() []string {
	return s.bank.Banks()
}

// ConnectBank starts the consent flow and returns the bank's authorization URL
func (s *Service) ConnectBank(ctx context.Context, tenantID int64, bank string) (string, error) {
	return s.bank.AuthorizationURL(ctx, tenantID, bank)
}

// CompleteAuthorization handles the bank's redirect and mirrors the
// accounts of the new consent. An account sync failure does not undo the
// consent.
func (s *Service) CompleteAuthorization(ctx context.Context, query url.Values) (*models.Consent, error) {
	consent, err := s.bank.HandleCallback(ctx, query)
	if err != nil {
		return nil, err
	}
	logger := s.log.WithFields(logrus.Fields{"tenant_id": consent.TenantID, "bank": consent.BankCode})
	logger.Info("bank connected")

	reported, err := s.bank.Accounts(ctx, consent.TenantID, consent.BankCode)
	if err != nil {
		logger.WithError(err).Warn("failed to fetch accounts after authorization")
		return consent, nil
	}
	if _, err := s.Accounts.SyncAccountsFromConsent(ctx, consent, reported); err != nil {
		logger.WithError(err).Warn("failed to sync accounts after authorization")
	}
	return consent, nil
}

// DisconnectBank revokes the consent and disconnects its accounts
func (s *Service) DisconnectBank(ctx context.Context, tenantID int64, bank string) error {
	revokeErr := s.bank.Revoke(ctx, tenantID, bank)
	if errors.Is(revokeErr, banking.ErrUnknownBank) {
		return revokeErr
	}
	if revokeErr != nil {
		s.log.WithError(revokeErr).WithFields(logrus.Fields{"tenant_id": tenantID, "bank": bank}).Warn("failed to revoke consent")
	}
	return errors.Join(revokeErr, s.Accounts.DisconnectConsent(ctx, tenantID, bank))
}

// Consents lists the tenant's bank connections
func (s *Service) Consents(ctx context.Context, tenantID int64) ([]models.Consent, error) {
	return s.store.ListConsents(ctx, tenantID)
}

// SyncBank runs an on-demand sync of one connected bank
func (s *Service) SyncBank(ctx context.Context, tenantID int64, bank string) (*SyncReport, error) {
	consent, err := s.store.GetConsent(ctx, tenantID, bank)
	if err != nil {
		return nil, err
	}
	if consent == nil {
		return nil, fmt.Errorf("%w: %s", banking.ErrConsentNotFound, bank)
	}
	if consent.Status != models.ConsentActive {
		return nil, fmt.Errorf("%w: consent is %s", banking.ErrReauthorizationRequired, consent.Status)
	}
	return s.Sync.SyncConsent(ctx, consent)
}

// ImportRecords stores records pushed by a client, e.g. manual entries
func (s *Service) ImportRecords(ctx context.Context, tenantID int64, source models.Source, records []models.RawTransaction, opts ImportOptions) (*models.ImportResult, error) {
	if !source.Valid() {
		return nil, fmt.Errorf("%w: unknown source %q", ErrInvalidInput, source)
	}
	if err := checkAccounts(ctx, s.store, tenantID, append(recordAccounts(records), opts.AccountID)...); err != nil {
		return nil, err
	}
	result := s.Importer.ImportWithDedupe(ctx, records, tenantID, source, opts)
	return &result, nil
}

// ErrInvalidInput marks requests rejected before any work is done
var ErrInvalidInput = errors.New("invalid input")
