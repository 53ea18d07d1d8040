// Package rules validates and evaluates tenant matching rules against
// transactions.
package rules

import (
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/Dan9191/bank-feed/internal/models"
)

// Kind is the value type of a rule field
type Kind int

const (
	KindString Kind = iota
	KindNumeric
	KindEnum
	KindDate
)

// Action types
const (
	ActionCategorize = "categorize"
	ActionAutoMatch  = "auto_match"
	ActionIgnore     = "ignore"
)

const dateLayout = "2006-01-02"

// ErrInvalidRule wraps every validation failure
var ErrInvalidRule = errors.New("invalid rule")

var fieldKinds = map[string]Kind{
	"description":          KindString,
	"reference":            KindString,
	"remittance_info":      KindString,
	"counterparty_name":    KindString,
	"counterparty_account": KindString,
	"amount":               KindNumeric,
	"abs_amount":           KindNumeric,
	"currency":             KindEnum,
	"direction":            KindEnum,
	"source":               KindEnum,
	"booking_status":       KindEnum,
	"transaction_date":     KindDate,
}

var kindOperators = map[Kind]map[string]bool{
	KindString:  set("equals", "not_equals", "contains", "not_contains", "starts_with", "ends_with", "regex", "in", "not_in"),
	KindEnum:    set("equals", "not_equals", "in", "not_in"),
	KindNumeric: set("eq", "neq", "gt", "gte", "lt", "lte", "between"),
	KindDate:    set("on", "before", "after", "between"),
}

var actionParams = map[string]map[string][]string{
	ActionCategorize: {"category": nil},
	ActionAutoMatch:  {"target": {"invoice", "payment"}, "by": {"reference", "amount"}},
	ActionIgnore:     {},
}

func set(values ...string) map[string]bool {
	m := make(map[string]bool, len(values))
	for _, v := range values {
		m[v] = true
	}
	return m
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidRule, fmt.Sprintf(format, args...))
}

// FieldKind returns the kind of a rule field
func FieldKind(field string) (Kind, bool) {
	k, ok := fieldKinds[field]
	return k, ok
}

// Validate checks fields, operators, operand shapes, regular expressions and
// actions of rule
func Validate(rule *models.MatchingRule) error {
	if strings.TrimSpace(rule.Name) == "" {
		return invalid("name is required")
	}
	for i, c := range rule.Conditions {
		if err := validateCondition(c); err != nil {
			return fmt.Errorf("condition %d: %w", i+1, err)
		}
	}
	if len(rule.Actions) == 0 {
		return invalid("at least one action is required")
	}
	for i, a := range rule.Actions {
		if err := validateAction(a); err != nil {
			return fmt.Errorf("action %d: %w", i+1, err)
		}
	}
	return nil
}

func validateCondition(c models.Condition) error {
	kind, ok := fieldKinds[c.Field]
	if !ok {
		return invalid("unknown field %q", c.Field)
	}
	if !kindOperators[kind][c.Operator] {
		return invalid("operator %q is not valid for field %q", c.Operator, c.Field)
	}

	operands := []string{c.Value}
	switch c.Operator {
	case "between":
		if len(c.Values) != 2 {
			return invalid("between needs exactly two values")
		}
		operands = c.Values
	case "in", "not_in":
		if len(c.Values) == 0 {
			return invalid("%s needs at least one value", c.Operator)
		}
		operands = c.Values
	}

	for _, v := range operands {
		switch kind {
		case KindNumeric:
			if _, err := decimal.NewFromString(strings.TrimSpace(v)); err != nil {
				return invalid("%q is not a number", v)
			}
		case KindDate:
			if _, err := time.Parse(dateLayout, strings.TrimSpace(v)); err != nil {
				return invalid("%q is not a YYYY-MM-DD date", v)
			}
		}
	}
	if c.Operator == "regex" {
		if _, err := regexp.Compile(c.Value); err != nil {
			return invalid("bad regular expression: %v", err)
		}
	}
	return nil
}

func validateAction(a models.Action) error {
	allowed, ok := actionParams[a.Type]
	if !ok {
		return invalid("unknown action %q", a.Type)
	}
	for name := range a.Params {
		if _, ok := allowed[name]; !ok {
			return invalid("action %s does not take parameter %q", a.Type, name)
		}
	}
	for name, choices := range allowed {
		value, ok := a.Params[name]
		if !ok || strings.TrimSpace(value) == "" {
			return invalid("action %s needs parameter %q", a.Type, name)
		}
		if choices != nil && !contains(choices, value) {
			return invalid("action %s: %s must be one of %s", a.Type, name, strings.Join(choices, ", "))
		}
	}
	return nil
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

// SortRules orders rules by priority, then creation order
func SortRules(rules []models.MatchingRule) {
	sort.SliceStable(rules, func(i, j int) bool {
		a, b := rules[i], rules[j]
		if a.Priority != b.Priority {
			return a.Priority < b.Priority
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.ID < b.ID
	})
}
