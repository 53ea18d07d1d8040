package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/Dan9191/bank-feed/internal/models"
)

// accountTypes maps provider account type codes to local types
var accountTypes = map[string]models.AccountType{
	"CACC":        models.AccountChecking,
	"CURRENT":     models.AccountChecking,
	"TRANSACTION": models.AccountChecking,
	"SVGS":        models.AccountSavings,
	"SAVINGS":     models.AccountSavings,
	"CARD":        models.AccountCreditCard,
	"CREDIT_CARD": models.AccountCreditCard,
	"LOAN":        models.AccountLoan,
	"INVESTMENT":  models.AccountInvestment,
	"SECURITIES":  models.AccountInvestment,
}

// AccountTypeFor maps a provider type code; unknown codes are checking accounts
func AccountTypeFor(code string) models.AccountType {
	if t, ok := accountTypes[strings.ToUpper(strings.TrimSpace(code))]; ok {
		return t
	}
	return models.AccountChecking
}

// AccountSync mirrors the accounts a bank reports for a consent
type AccountSync struct {
	accounts AccountStore
	log      *logrus.Logger
}

// NewAccountSync creates an account sync service
func NewAccountSync(accounts AccountStore, log *logrus.Logger) *AccountSync {
	return &AccountSync{accounts: accounts, log: log}
}

// SyncAccountsFromConsent upserts every reported account and disconnects the
// previously active accounts of the same bank that were not reported again
func (s *AccountSync) SyncAccountsFromConsent(ctx context.Context, consent *models.Consent, reported []models.ProviderAccount) ([]models.Account, error) {
	logger := s.log.WithFields(logrus.Fields{"tenant_id": consent.TenantID, "bank": consent.BankCode})

	seen := make(map[string]bool, len(reported))
	synced := make([]models.Account, 0, len(reported))
	for _, pa := range reported {
		if strings.TrimSpace(pa.ExternalID) == "" {
			logger.WithField("iban", pa.IBAN).Warn("skipping account without external id")
			continue
		}
		acc := models.Account{
			TenantID:      consent.TenantID,
			ExternalID:    pa.ExternalID,
			IBAN:          pa.IBAN,
			AccountNumber: pa.AccountNumber,
			Name:          pa.Name,
			Currency:      strings.ToUpper(pa.Currency),
			BankCode:      consent.BankCode,
			BankName:      pa.BankName,
			Type:          AccountTypeFor(pa.TypeCode),
			Status:        models.AccountActive,
		}
		if err := s.accounts.UpsertAccount(ctx, &acc); err != nil {
			return nil, fmt.Errorf("failed to sync account %s: %w", pa.ExternalID, err)
		}
		seen[pa.ExternalID] = true
		synced = append(synced, acc)
	}

	existing, err := s.accounts.ListAccounts(ctx, consent.TenantID, consent.BankCode)
	if err != nil {
		return nil, err
	}
	byID := make(map[int64]models.Account, len(existing))
	for _, acc := range existing {
		byID[acc.ID] = acc
	}
	for i := range synced {
		synced[i].LastSyncedAt = byID[synced[i].ID].LastSyncedAt
	}
	for _, acc := range existing {
		if acc.Status != models.AccountActive || acc.ExternalID == "" || seen[acc.ExternalID] {
			continue
		}
		if err := s.accounts.SetAccountStatus(ctx, acc.TenantID, acc.ID, models.AccountDisconnected); err != nil {
			return nil, err
		}
		logger.WithField("account_id", acc.ID).Info("account no longer reported, disconnected")
	}

	logger.WithField("accounts", len(synced)).Info("accounts synced")
	return synced, nil
}

// DisconnectConsent disconnects every account of (tenant, bank)
func (s *AccountSync) DisconnectConsent(ctx context.Context, tenantID int64, bank string) error {
	accounts, err := s.accounts.ListAccounts(ctx, tenantID, bank)
	if err != nil {
		return err
	}
	for _, acc := range accounts {
		if acc.Status == models.AccountDisconnected {
			continue
		}
		if err := s.accounts.SetAccountStatus(ctx, tenantID, acc.ID, models.AccountDisconnected); err != nil {
			return err
		}
	}
	return nil
}

// List returns the tenant's accounts
func (s *AccountSync) List(ctx context.Context, tenantID int64) ([]models.Account, error) {
	return s.accounts.ListAccounts(ctx, tenantID, "")
}
