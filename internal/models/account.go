package models

import "time"

// AccountType is the local, closed set of account kinds
type AccountType string

const (
	AccountChecking   AccountType = "checking"
	AccountSavings    AccountType = "savings"
	AccountCreditCard AccountType = "credit_card"
	AccountLoan       AccountType = "loan"
	AccountInvestment AccountType = "investment"
)

// AccountStatus is the connection state of a bank account
type AccountStatus string

const (
	AccountActive       AccountStatus = "active"
	AccountDisconnected AccountStatus = "disconnected"
)

// Account is a bank account known to a tenant
type Account struct {
	ID            int64         `json:"id"`
	TenantID      int64         `json:"tenant_id"`
	ExternalID    string        `json:"external_id,omitempty"`
	IBAN          string        `json:"iban,omitempty"`
	AccountNumber string        `json:"account_number,omitempty"`
	Name          string        `json:"name"`
	Currency      string        `json:"currency"`
	BankCode      string        `json:"bank_code"`
	BankName      string        `json:"bank_name,omitempty"`
	Type          AccountType   `json:"type"`
	Status        AccountStatus `json:"status"`
	LastSyncedAt  *time.Time    `json:"last_synced_at,omitempty"`
	CreatedAt     time.Time     `json:"created_at"`
	UpdatedAt     time.Time     `json:"updated_at"`
}

// ProviderAccount is an account as reported by a bank API
type ProviderAccount struct {
	ExternalID    string `json:"external_id"`
	IBAN          string `json:"iban,omitempty"`
	AccountNumber string `json:"account_number,omitempty"`
	Name          string `json:"name,omitempty"`
	Currency      string `json:"currency"`
	TypeCode      string `json:"type_code,omitempty"`
	BankName      string `json:"bank_name,omitempty"`
}
