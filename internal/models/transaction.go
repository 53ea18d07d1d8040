package models

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// Direction tells whether money entered or left the account
type Direction string

const (
	DirectionCredit Direction = "credit"
	DirectionDebit  Direction = "debit"
)

// BookingStatus is the bank-side settlement state of a transaction
type BookingStatus string

const (
	BookingPending BookingStatus = "pending"
	BookingBooked  BookingStatus = "booked"
)

// ProcessingStatus tracks what the rules engine or a user did with a transaction
type ProcessingStatus string

const (
	StatusUnprocessed ProcessingStatus = "unprocessed"
	StatusProcessed   ProcessingStatus = "processed"
	StatusIgnored     ProcessingStatus = "ignored"
)

// Source identifies the ingestion path of a transaction
type Source string

const (
	SourceAPI       Source = "api"
	SourceCSV       Source = "csv"
	SourceStatement Source = "statement"
	SourceManual    Source = "manual"
)

// Valid reports whether s is a known source
func (s Source) Valid() bool {
	switch s {
	case SourceAPI, SourceCSV, SourceStatement, SourceManual:
		return true
	}
	return false
}

// Transaction is the canonical persisted transaction.
// (TenantID, Fingerprint) is unique.
type Transaction struct {
	ID                  int64            `json:"id"`
	TenantID            int64            `json:"tenant_id"`
	AccountID           *int64           `json:"account_id,omitempty"`
	ExternalID          string           `json:"external_id,omitempty"`
	Fingerprint         string           `json:"fingerprint"`
	Amount              decimal.Decimal  `json:"amount"`
	Currency            string           `json:"currency"`
	CurrencyID          int64            `json:"currency_id,omitempty"`
	Direction           Direction        `json:"direction"`
	TransactionDate     time.Time        `json:"transaction_date"`
	BookingDate         *time.Time       `json:"booking_date,omitempty"`
	ValueDate           *time.Time       `json:"value_date,omitempty"`
	Description         string           `json:"description"`
	RemittanceInfo      string           `json:"remittance_info,omitempty"`
	Reference           string           `json:"reference,omitempty"`
	CounterpartyName    string           `json:"counterparty_name,omitempty"`
	CounterpartyAccount string           `json:"counterparty_account,omitempty"`
	BookingStatus       BookingStatus    `json:"booking_status"`
	Status              ProcessingStatus `json:"status"`
	Category            string           `json:"category,omitempty"`
	MatchedType         string           `json:"matched_type,omitempty"`
	MatchedRef          string           `json:"matched_ref,omitempty"`
	RuleID              *int64           `json:"rule_id,omitempty"`
	Source              Source           `json:"source"`
	RawPayload          json.RawMessage  `json:"raw_payload,omitempty"`
	ImportID            string           `json:"import_id,omitempty"`
	CreatedAt           time.Time        `json:"created_at"`
}

// RawTransaction is the normalized record emitted by every parser and bank
// provider before import. Date and amount keep the source text so that the
// import service decides how to interpret them.
type RawTransaction struct {
	ExternalID          string            `json:"external_id,omitempty"`
	Reference           string            `json:"reference,omitempty"`
	Amount              string            `json:"amount"`
	Currency            string            `json:"currency"`
	Direction           Direction         `json:"direction,omitempty"`
	Date                string            `json:"date"`
	BookingDate         string            `json:"booking_date,omitempty"`
	ValueDate           string            `json:"value_date,omitempty"`
	Description         string            `json:"description"`
	RemittanceInfo      string            `json:"remittance_info,omitempty"`
	CounterpartyName    string            `json:"counterparty_name,omitempty"`
	CounterpartyAccount string            `json:"counterparty_account,omitempty"`
	BookingStatus       BookingStatus     `json:"booking_status,omitempty"`
	AccountID           *int64            `json:"account_id,omitempty"`
	Raw                 map[string]string `json:"raw,omitempty"`
}

// Label returns a short identifier for error messages
func (r RawTransaction) Label() string {
	switch {
	case r.ExternalID != "":
		return r.ExternalID
	case r.Reference != "":
		return r.Reference
	default:
		return r.Date + " " + r.Amount
	}
}

// ImportResult summarizes a deduplicating import batch
type ImportResult struct {
	Created    int      `json:"created"`
	Duplicates int      `json:"duplicates"`
	Failed     int      `json:"failed"`
	Skipped    int      `json:"skipped,omitempty"`
	Errors     []string `json:"errors"`
	CreatedIDs []int64  `json:"created_ids"`
}
