package models

import "time"

// ConsentStatus is the lifecycle state of a (tenant, bank) authorization
type ConsentStatus string

const (
	ConsentPending ConsentStatus = "pending"
	ConsentActive  ConsentStatus = "active"
	ConsentExpired ConsentStatus = "expired"
	ConsentRevoked ConsentStatus = "revoked"
)

// Consent holds the OAuth grant for one (tenant, bank) pair.
// AccessToken and RefreshToken are sensitive and must never be logged in full.
type Consent struct {
	TenantID     int64         `json:"tenant_id"`
	BankCode     string        `json:"bank_code"`
	AccessToken  string        `json:"-"`
	RefreshToken string        `json:"-"`
	TokenType    string        `json:"token_type"`
	Scope        string        `json:"scope"`
	GrantedAt    *time.Time    `json:"granted_at,omitempty"`
	ExpiresAt    *time.Time    `json:"expires_at,omitempty"`
	Status       ConsentStatus `json:"status"`
	UpdatedAt    time.Time     `json:"updated_at"`
}

// ExpiresWithin reports whether the access token expires before now+window.
// A consent without expiry never expires.
func (c *Consent) ExpiresWithin(now time.Time, window time.Duration) bool {
	if c.ExpiresAt == nil {
		return false
	}
	return !c.ExpiresAt.After(now.Add(window))
}
