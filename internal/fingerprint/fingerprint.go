// Package fingerprint derives the deduplication identity of a transaction.
//
// The same real-world transaction reported by a CSV export, an MT940 statement
// and a bank API must collapse to one fingerprint, so every field is reduced to
// a canonical text form before hashing.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/shopspring/decimal"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/unicode/norm"

	"github.com/Dan9191/bank-feed/internal/models"
)

const (
	separator         = "|"
	descriptionLength = 100
)

// Fields is the transaction-like input of Generate
type Fields struct {
	TenantID            int64
	AccountID           *int64
	ExternalID          string
	Date                string
	Amount              string
	Currency            string
	Direction           string
	Reference           string
	Description         string
	CounterpartyAccount string
}

// FromRaw maps an incoming record to fingerprint fields
func FromRaw(tenantID int64, accountID *int64, r models.RawTransaction) Fields {
	if accountID == nil {
		accountID = r.AccountID
	}
	return Fields{
		TenantID:            tenantID,
		AccountID:           accountID,
		ExternalID:          r.ExternalID,
		Date:                r.Date,
		Amount:              r.Amount,
		Currency:            r.Currency,
		Direction:           string(r.Direction),
		Reference:           r.Reference,
		Description:         r.Description,
		CounterpartyAccount: r.CounterpartyAccount,
	}
}

// FromTransaction maps a persisted transaction to fingerprint fields
func FromTransaction(t *models.Transaction) Fields {
	return Fields{
		TenantID:            t.TenantID,
		AccountID:           t.AccountID,
		ExternalID:          t.ExternalID,
		Date:                t.TransactionDate.Format("2006-01-02"),
		Amount:              t.Amount.String(),
		Currency:            t.Currency,
		Direction:           string(t.Direction),
		Reference:           t.Reference,
		Description:         t.Description,
		CounterpartyAccount: t.CounterpartyAccount,
	}
}

// Generate returns the 64 hex character SHA-256 fingerprint of f.
// A bank-assigned external id is authoritative and skips the composite key.
func Generate(f Fields) string {
	tenant := strconv.FormatInt(f.TenantID, 10)

	if id := strings.TrimSpace(f.ExternalID); id != "" {
		return hash(tenant + separator + id)
	}

	account := ""
	if f.AccountID != nil {
		account = strconv.FormatInt(*f.AccountID, 10)
	}

	parts := []string{
		tenant,
		account,
		NormalizeDate(f.Date),
		NormalizeAmount(f.Amount, f.Currency),
		strings.ToUpper(strings.TrimSpace(f.Currency)),
		strings.ToLower(strings.TrimSpace(f.Direction)),
		NormalizeText(f.Reference),
		truncate(NormalizeText(f.Description), descriptionLength),
		NormalizeText(f.CounterpartyAccount),
	}
	return hash(strings.Join(parts, separator))
}

func hash(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

// NormalizeText lowercases s (Unicode-aware) and drops everything that is not
// a letter or a digit in any script.
func NormalizeText(s string) string {
	if s == "" {
		return ""
	}
	// cases.Caser keeps state, one per call
	lowered := cases.Lower(language.Und).String(norm.NFKC.String(s))

	var b strings.Builder
	b.Grow(len(lowered))
	for _, r := range lowered {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}

// threeDecimalCurrencies have 1/1000 minor units (ISO 4217)
var threeDecimalCurrencies = map[string]bool{
	"BHD": true, "IQD": true, "JOD": true, "KWD": true,
	"LYD": true, "OMR": true, "TND": true,
}

// MinorUnits returns the number of decimals used for currency
func MinorUnits(currency string) int32 {
	if threeDecimalCurrencies[strings.ToUpper(strings.TrimSpace(currency))] {
		return 3
	}
	return 2
}

// NormalizeAmount returns the absolute value of amount as a fixed-point
// string with the currency's decimals. Unparsable input is returned trimmed.
func NormalizeAmount(amount, currency string) string {
	trimmed := strings.TrimSpace(amount)
	d, err := decimal.NewFromString(strings.TrimPrefix(trimmed, "+"))
	if err != nil {
		return trimmed
	}
	return d.Abs().StringFixed(MinorUnits(currency))
}

// dateLayouts are tried in order. Slash separated day-first dates are not
// accepted because they cannot be told apart from month-first ones.
var dateLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02T15:04:05.000",
	"20060102",
	"060102",
	"02.01.2006",
	"02.01.06",
	"2006/01/02",
	"01/02/2006",
	"02-01-2006",
}

// ParseDate parses s with every supported layout
func ParseDate(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// NormalizeDate renders s as YYYY-MM-DD, or returns it trimmed when it
// matches no known layout.
func NormalizeDate(s string) string {
	t, ok := ParseDate(s)
	if !ok {
		return strings.TrimSpace(s)
	}
	return t.Format("2006-01-02")
}
