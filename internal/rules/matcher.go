package rules

import (
	"regexp"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/Dan9191/bank-feed/internal/models"
)

// Matcher evaluates rules and caches compiled regular expressions. Use one
// per batch; it is not safe for concurrent use.
type Matcher struct {
	regexps map[string]*regexp.Regexp
}

// NewMatcher creates a matcher with an empty regex cache
func NewMatcher() *Matcher {
	return &Matcher{regexps: make(map[string]*regexp.Regexp)}
}

// Evaluate reports whether every condition of rule holds for t.
// A rule without conditions never matches.
func (m *Matcher) Evaluate(rule *models.MatchingRule, t *models.Transaction) bool {
	if len(rule.Conditions) == 0 {
		return false
	}
	for _, c := range rule.Conditions {
		if !m.condition(c, t) {
			return false
		}
	}
	return true
}

// FirstMatch returns the first active rule matching t in priority order, or nil.
// rules must already be sorted with SortRules.
func (m *Matcher) FirstMatch(rules []models.MatchingRule, t *models.Transaction) *models.MatchingRule {
	for i := range rules {
		if rules[i].Active && m.Evaluate(&rules[i], t) {
			return &rules[i]
		}
	}
	return nil
}

func (m *Matcher) condition(c models.Condition, t *models.Transaction) bool {
	kind, ok := fieldKinds[c.Field]
	if !ok {
		return false
	}
	switch kind {
	case KindString, KindEnum:
		return m.compareString(c, stringField(c.Field, t))
	case KindNumeric:
		return compareNumeric(c, numericField(c.Field, t))
	case KindDate:
		return compareDate(c, t.TransactionDate)
	}
	return false
}

func stringField(field string, t *models.Transaction) string {
	switch field {
	case "description":
		return t.Description
	case "reference":
		return t.Reference
	case "remittance_info":
		return t.RemittanceInfo
	case "counterparty_name":
		return t.CounterpartyName
	case "counterparty_account":
		return t.CounterpartyAccount
	case "currency":
		return t.Currency
	case "direction":
		return string(t.Direction)
	case "source":
		return string(t.Source)
	case "booking_status":
		return string(t.BookingStatus)
	}
	return ""
}

func numericField(field string, t *models.Transaction) decimal.Decimal {
	if field == "abs_amount" {
		return t.Amount.Abs()
	}
	return t.Amount
}

// compareString is case-insensitive except for regex, which uses the
// expression as written
func (m *Matcher) compareString(c models.Condition, value string) bool {
	v := strings.ToLower(value)
	operand := strings.ToLower(c.Value)
	switch c.Operator {
	case "equals":
		return v == operand
	case "not_equals":
		return v != operand
	case "contains":
		return strings.Contains(v, operand)
	case "not_contains":
		return !strings.Contains(v, operand)
	case "starts_with":
		return strings.HasPrefix(v, operand)
	case "ends_with":
		return strings.HasSuffix(v, operand)
	case "in":
		return inList(v, c.Values)
	case "not_in":
		return !inList(v, c.Values)
	case "regex":
		re := m.compiled(c.Value)
		return re != nil && re.MatchString(value)
	}
	return false
}

func inList(v string, values []string) bool {
	for _, candidate := range values {
		if v == strings.ToLower(candidate) {
			return true
		}
	}
	return false
}

func (m *Matcher) compiled(expr string) *regexp.Regexp {
	if re, ok := m.regexps[expr]; ok {
		return re
	}
	re, err := regexp.Compile(expr)
	if err != nil {
		re = nil
	}
	m.regexps[expr] = re
	return re
}

func compareNumeric(c models.Condition, value decimal.Decimal) bool {
	if c.Operator == "between" {
		if len(c.Values) != 2 {
			return false
		}
		low, errLow := decimal.NewFromString(strings.TrimSpace(c.Values[0]))
		high, errHigh := decimal.NewFromString(strings.TrimSpace(c.Values[1]))
		if errLow != nil || errHigh != nil {
			return false
		}
		return value.GreaterThanOrEqual(low) && value.LessThanOrEqual(high)
	}

	operand, err := decimal.NewFromString(strings.TrimSpace(c.Value))
	if err != nil {
		return false
	}
	switch c.Operator {
	case "eq":
		return value.Equal(operand)
	case "neq":
		return !value.Equal(operand)
	case "gt":
		return value.GreaterThan(operand)
	case "gte":
		return value.GreaterThanOrEqual(operand)
	case "lt":
		return value.LessThan(operand)
	case "lte":
		return value.LessThanOrEqual(operand)
	}
	return false
}

func compareDate(c models.Condition, value time.Time) bool {
	day := value.Format(dateLayout)
	if c.Operator == "between" {
		if len(c.Values) != 2 {
			return false
		}
		from, to := strings.TrimSpace(c.Values[0]), strings.TrimSpace(c.Values[1])
		return day >= from && day <= to
	}
	operand := strings.TrimSpace(c.Value)
	switch c.Operator {
	case "on":
		return day == operand
	case "before":
		return day < operand
	case "after":
		return day > operand
	}
	return false
}
