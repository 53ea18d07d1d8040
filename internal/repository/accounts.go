package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/Dan9191/bank-feed/internal/models"
)

const accountColumns = `id, tenant_id, external_id, iban, account_number, name, currency, bank_code, bank_name,
	type, status, last_synced_at, created_at, updated_at`

// UpsertAccount creates the account or updates the one with the same
// (tenant, external id). ID and CreatedAt are filled in.
func (r *Repository) UpsertAccount(ctx context.Context, a *models.Account) error {
	now := r.now()
	a.UpdatedAt = now
	query := `
		INSERT INTO accounts (tenant_id, external_id, iban, account_number, name, currency, bank_code, bank_name,
			type, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $11)
		ON CONFLICT (tenant_id, external_id) DO UPDATE SET
			iban = excluded.iban,
			account_number = excluded.account_number,
			name = excluded.name,
			currency = excluded.currency,
			bank_code = excluded.bank_code,
			bank_name = excluded.bank_name,
			type = excluded.type,
			status = excluded.status,
			updated_at = excluded.updated_at
		RETURNING id, created_at`
	err := r.db.QueryRowContext(ctx, query,
		a.TenantID, nullString(a.ExternalID), a.IBAN, a.AccountNumber, a.Name, a.Currency, a.BankCode, a.BankName,
		string(a.Type), string(a.Status), now,
	).Scan(&a.ID, &a.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert account: %w", err)
	}
	a.CreatedAt = a.CreatedAt.UTC()
	return nil
}

// GetAccount returns one account of the tenant
func (r *Repository) GetAccount(ctx context.Context, tenantID, id int64) (*models.Account, error) {
	accounts, err := r.queryAccounts(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE tenant_id = $1 AND id = $2`, tenantID, id)
	if err != nil {
		return nil, err
	}
	if len(accounts) == 0 {
		return nil, fmt.Errorf("account %d: %w", id, ErrNotFound)
	}
	return &accounts[0], nil
}

// ListAccounts returns the tenant's accounts, limited to bank when it is set
func (r *Repository) ListAccounts(ctx context.Context, tenantID int64, bank string) ([]models.Account, error) {
	if bank == "" {
		return r.queryAccounts(ctx,
			`SELECT `+accountColumns+` FROM accounts WHERE tenant_id = $1 ORDER BY id`, tenantID)
	}
	return r.queryAccounts(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE tenant_id = $1 AND bank_code = $2 ORDER BY id`, tenantID, bank)
}

// SetAccountStatus changes the connection state of an account
func (r *Repository) SetAccountStatus(ctx context.Context, tenantID, id int64, status models.AccountStatus) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE accounts SET status = $1, updated_at = $2 WHERE tenant_id = $3 AND id = $4`,
		string(status), r.now(), tenantID, id)
	if err != nil {
		return fmt.Errorf("failed to update account status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("account %d: %w", id, ErrNotFound)
	}
	return nil
}

// MarkAccountSynced records a successful transaction pull
func (r *Repository) MarkAccountSynced(ctx context.Context, tenantID, id int64, at time.Time) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE accounts SET last_synced_at = $1, updated_at = $1 WHERE tenant_id = $2 AND id = $3`,
		at.UTC(), tenantID, id)
	if err != nil {
		return fmt.Errorf("failed to mark account synced: %w", err)
	}
	return nil
}

func (r *Repository) queryAccounts(ctx context.Context, query string, args ...any) ([]models.Account, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query accounts: %w", err)
	}
	defer rows.Close()

	var out []models.Account
	for rows.Next() {
		var (
			a            models.Account
			externalID   sql.NullString
			typ, status  string
			lastSyncedAt sql.NullTime
		)
		if err := rows.Scan(&a.ID, &a.TenantID, &externalID, &a.IBAN, &a.AccountNumber, &a.Name, &a.Currency,
			&a.BankCode, &a.BankName, &typ, &status, &lastSyncedAt, &a.CreatedAt, &a.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan account: %w", err)
		}
		a.ExternalID = externalID.String
		a.Type = models.AccountType(typ)
		a.Status = models.AccountStatus(status)
		a.LastSyncedAt = timePtr(lastSyncedAt)
		a.CreatedAt = a.CreatedAt.UTC()
		a.UpdatedAt = a.UpdatedAt.UTC()
		out = append(out, a)
	}
	if err := rows.Err(); err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	return out, nil
}
