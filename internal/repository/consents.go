package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/Dan9191/bank-feed/internal/models"
)

const consentColumns = `tenant_id, bank_code, access_token, refresh_token, token_type, scope, granted_at,
	expires_at, status, updated_at`

// GetConsent returns the consent of (tenant, bank) with opened tokens, or
// nil when the tenant never connected the bank
func (r *Repository) GetConsent(ctx context.Context, tenantID int64, bank string) (*models.Consent, error) {
	consents, err := r.queryConsents(ctx,
		`SELECT `+consentColumns+` FROM consents WHERE tenant_id = $1 AND bank_code = $2`, tenantID, bank)
	if err != nil {
		return nil, err
	}
	if len(consents) == 0 {
		return nil, nil
	}
	return &consents[0], nil
}

// SaveConsent inserts or replaces the consent of (tenant, bank)
func (r *Repository) SaveConsent(ctx context.Context, c *models.Consent) error {
	access, err := r.sealer.Seal(c.AccessToken)
	if err != nil {
		return fmt.Errorf("failed to seal access token: %w", err)
	}
	refresh, err := r.sealer.Seal(c.RefreshToken)
	if err != nil {
		return fmt.Errorf("failed to seal refresh token: %w", err)
	}
	if c.UpdatedAt.IsZero() {
		c.UpdatedAt = r.now()
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO consents (`+consentColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (tenant_id, bank_code) DO UPDATE SET
			access_token = excluded.access_token,
			refresh_token = excluded.refresh_token,
			token_type = excluded.token_type,
			scope = excluded.scope,
			granted_at = excluded.granted_at,
			expires_at = excluded.expires_at,
			status = excluded.status,
			updated_at = excluded.updated_at`,
		c.TenantID, c.BankCode, access, refresh, c.TokenType, c.Scope, nullTime(c.GrantedAt),
		nullTime(c.ExpiresAt), string(c.Status), c.UpdatedAt.UTC())
	if err != nil {
		return fmt.Errorf("failed to save consent: %w", err)
	}
	return nil
}

// DeleteConsent removes the stored tokens of (tenant, bank)
func (r *Repository) DeleteConsent(ctx context.Context, tenantID int64, bank string) error {
	if _, err := r.db.ExecContext(ctx,
		`DELETE FROM consents WHERE tenant_id = $1 AND bank_code = $2`, tenantID, bank); err != nil {
		return fmt.Errorf("failed to delete consent: %w", err)
	}
	return nil
}

// ListActiveConsents returns every active consent across tenants
func (r *Repository) ListActiveConsents(ctx context.Context) ([]models.Consent, error) {
	return r.queryConsents(ctx,
		`SELECT `+consentColumns+` FROM consents WHERE status = $1 ORDER BY tenant_id, bank_code`,
		string(models.ConsentActive))
}

// ListConsents returns the consents of a tenant
func (r *Repository) ListConsents(ctx context.Context, tenantID int64) ([]models.Consent, error) {
	return r.queryConsents(ctx,
		`SELECT `+consentColumns+` FROM consents WHERE tenant_id = $1 ORDER BY bank_code`, tenantID)
}

func (r *Repository) queryConsents(ctx context.Context, query string, args ...any) ([]models.Consent, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query consents: %w", err)
	}
	defer rows.Close()

	var out []models.Consent
	for rows.Next() {
		var (
			c                    models.Consent
			access, refresh      string
			status               string
			grantedAt, expiresAt sql.NullTime
		)
		if err := rows.Scan(&c.TenantID, &c.BankCode, &access, &refresh, &c.TokenType, &c.Scope,
			&grantedAt, &expiresAt, &status, &c.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan consent: %w", err)
		}
		if c.AccessToken, err = r.sealer.Open(access); err != nil {
			return nil, fmt.Errorf("failed to open access token of tenant %d bank %s: %w", c.TenantID, c.BankCode, err)
		}
		if c.RefreshToken, err = r.sealer.Open(refresh); err != nil {
			return nil, fmt.Errorf("failed to open refresh token of tenant %d bank %s: %w", c.TenantID, c.BankCode, err)
		}
		c.Status = models.ConsentStatus(status)
		c.GrantedAt = timePtr(grantedAt)
		c.ExpiresAt = timePtr(expiresAt)
		c.UpdatedAt = c.UpdatedAt.UTC()
		out = append(out, c)
	}
	if err := rows.Err(); err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	return out, nil
}
