package service

import (
	"context"
	"time"

	"github.com/Dan9191/bank-feed/internal/models"
)

// TransactionStore persists canonical transactions
type TransactionStore interface {
	InsertIfAbsent(ctx context.Context, t *models.Transaction) (bool, error)
	ExistsFingerprint(ctx context.Context, tenantID int64, fingerprint string) (bool, error)
	GetTransactions(ctx context.Context, tenantID int64, ids []int64) ([]models.Transaction, error)
	ListRecentTransactions(ctx context.Context, tenantID int64, limit int) ([]models.Transaction, error)
	UpdateTransactionOutcome(ctx context.Context, t *models.Transaction) error
}

// AccountStore persists bank accounts
type AccountStore interface {
	UpsertAccount(ctx context.Context, a *models.Account) error
	ListAccounts(ctx context.Context, tenantID int64, bank string) ([]models.Account, error)
	SetAccountStatus(ctx context.Context, tenantID, id int64, status models.AccountStatus) error
	MarkAccountSynced(ctx context.Context, tenantID, id int64, at time.Time) error
}

// ImportLogStore persists import logs
type ImportLogStore interface {
	CreateImportLog(ctx context.Context, l *models.ImportLog) error
	FinishImportLog(ctx context.Context, l *models.ImportLog) error
	GetImportLog(ctx context.Context, tenantID int64, id string) (*models.ImportLog, error)
	ListImportLogs(ctx context.Context, tenantID int64, from, to time.Time) ([]models.ImportLog, error)
}

// RuleStore persists matching rules
type RuleStore interface {
	CreateRule(ctx context.Context, rule *models.MatchingRule) error
	GetRule(ctx context.Context, tenantID, id int64) (*models.MatchingRule, error)
	ListRules(ctx context.Context, tenantID int64) ([]models.MatchingRule, error)
	UpdateRule(ctx context.Context, rule *models.MatchingRule) error
	DeleteRule(ctx context.Context, tenantID, id int64) error
}

// ConsentLister enumerates consents eligible for scheduled sync
type ConsentLister interface {
	ListActiveConsents(ctx context.Context) ([]models.Consent, error)
}

// ImportNotifier is told about imports that failed entirely
type ImportNotifier interface {
	SendImportFailed(tenantID int64, fileName string, errs []string) error
}
