package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/Dan9191/bank-feed/internal/models"
)

const transactionColumns = `id, tenant_id, account_id, external_id, fingerprint, amount, currency, currency_id,
	direction, transaction_date, booking_date, value_date, description, remittance_info, reference,
	counterparty_name, counterparty_account, booking_status, status, category, matched_type, matched_ref,
	rule_id, source, raw_payload, import_id, created_at`

// InsertIfAbsent stores t unless the tenant already has its fingerprint.
// It returns inserted=false for duplicates, including the ones detected
// through a unique violation raised by a concurrent writer.
func (r *Repository) InsertIfAbsent(ctx context.Context, t *models.Transaction) (bool, error) {
	if t.CreatedAt.IsZero() {
		t.CreatedAt = r.now()
	}
	var raw sql.NullString
	if len(t.RawPayload) > 0 {
		raw = sql.NullString{String: string(t.RawPayload), Valid: true}
	}

	query := `
		INSERT INTO transactions (tenant_id, account_id, external_id, fingerprint, amount, currency, currency_id,
			direction, transaction_date, booking_date, value_date, description, remittance_info, reference,
			counterparty_name, counterparty_account, booking_status, status, category, source, raw_payload,
			import_id, created_at)
		VALUES (` + placeholders(1, 23) + `)
		ON CONFLICT (tenant_id, fingerprint) DO NOTHING
		RETURNING id`

	inserted := false
	err := r.withTx(ctx, func(tx *sql.Tx) error {
		err := tx.QueryRowContext(ctx, query,
			t.TenantID, nullInt(t.AccountID), t.ExternalID, t.Fingerprint, t.Amount, t.Currency, t.CurrencyID,
			string(t.Direction), t.TransactionDate.UTC(), nullTime(t.BookingDate), nullTime(t.ValueDate),
			t.Description, t.RemittanceInfo, t.Reference, t.CounterpartyName, t.CounterpartyAccount,
			string(t.BookingStatus), string(t.Status), t.Category, string(t.Source), raw,
			t.ImportID, t.CreatedAt.UTC(),
		).Scan(&t.ID)
		switch {
		case errors.Is(err, sql.ErrNoRows):
			return nil
		case err != nil:
			return err
		}
		inserted = true
		return nil
	})
	if err != nil {
		if isUniqueViolation(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to insert transaction: %w", err)
	}
	return inserted, nil
}

// ExistsFingerprint reports whether the tenant already stored fingerprint
func (r *Repository) ExistsFingerprint(ctx context.Context, tenantID int64, fingerprint string) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM transactions WHERE tenant_id = $1 AND fingerprint = $2)`,
		tenantID, fingerprint).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check fingerprint: %w", err)
	}
	return exists, nil
}

// GetTransactions returns the tenant's transactions with the given ids in id order
func (r *Repository) GetTransactions(ctx context.Context, tenantID int64, ids []int64) ([]models.Transaction, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	args := make([]any, 0, len(ids)+1)
	args = append(args, tenantID)
	for _, id := range ids {
		args = append(args, id)
	}
	query := `SELECT ` + transactionColumns + ` FROM transactions
		WHERE tenant_id = $1 AND id IN (` + placeholders(2, len(ids)) + `) ORDER BY id`
	return r.queryTransactions(ctx, query, args...)
}

// ListRecentTransactions returns the newest transactions of the tenant
func (r *Repository) ListRecentTransactions(ctx context.Context, tenantID int64, limit int) ([]models.Transaction, error) {
	query := `SELECT ` + transactionColumns + ` FROM transactions
		WHERE tenant_id = $1 ORDER BY created_at DESC, id DESC LIMIT $2`
	return r.queryTransactions(ctx, query, tenantID, limit)
}

// UpdateTransactionOutcome stores the processing result of a transaction
func (r *Repository) UpdateTransactionOutcome(ctx context.Context, t *models.Transaction) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE transactions
		SET status = $1, category = $2, matched_type = $3, matched_ref = $4, rule_id = $5
		WHERE tenant_id = $6 AND id = $7`,
		string(t.Status), t.Category, t.MatchedType, t.MatchedRef, nullInt(t.RuleID), t.TenantID, t.ID)
	if err != nil {
		return fmt.Errorf("failed to update transaction: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("transaction %d: %w", t.ID, ErrNotFound)
	}
	return nil
}

func (r *Repository) queryTransactions(ctx context.Context, query string, args ...any) ([]models.Transaction, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query transactions: %w", err)
	}
	defer rows.Close()

	var out []models.Transaction
	for rows.Next() {
		var (
			t                        models.Transaction
			accountID, ruleID        sql.NullInt64
			bookingDate, valueDate   sql.NullTime
			direction, bookingStatus string
			status, source           string
			raw                      []byte
		)
		if err := rows.Scan(&t.ID, &t.TenantID, &accountID, &t.ExternalID, &t.Fingerprint, &t.Amount,
			&t.Currency, &t.CurrencyID, &direction, &t.TransactionDate, &bookingDate, &valueDate,
			&t.Description, &t.RemittanceInfo, &t.Reference, &t.CounterpartyName, &t.CounterpartyAccount,
			&bookingStatus, &status, &t.Category, &t.MatchedType, &t.MatchedRef, &ruleID, &source, &raw,
			&t.ImportID, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan transaction: %w", err)
		}
		t.AccountID = intPtr(accountID)
		t.RuleID = intPtr(ruleID)
		t.BookingDate = timePtr(bookingDate)
		t.ValueDate = timePtr(valueDate)
		t.Direction = models.Direction(direction)
		t.BookingStatus = models.BookingStatus(bookingStatus)
		t.Status = models.ProcessingStatus(status)
		t.Source = models.Source(source)
		t.TransactionDate = t.TransactionDate.UTC()
		t.CreatedAt = t.CreatedAt.UTC()
		if len(raw) > 0 {
			t.RawPayload = raw
		}
		out = append(out, t)
	}
	return out, rows.Err()
}
