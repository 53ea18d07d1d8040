package rules

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Dan9191/bank-feed/internal/models"
)

func cond(field, op, value string, values ...string) models.Condition {
	return models.Condition{Field: field, Operator: op, Value: value, Values: values}
}

func rule(name string, priority int, actions []models.Action, conditions ...models.Condition) models.MatchingRule {
	return models.MatchingRule{Name: name, Priority: priority, Active: true, Conditions: conditions, Actions: actions}
}

var categorize = []models.Action{{Type: ActionCategorize, Params: map[string]string{"category": "x"}}}

func sampleTransaction() *models.Transaction {
	return &models.Transaction{
		Amount:           decimal.RequireFromString("-850.00"),
		Currency:         "EUR",
		Direction:        models.DirectionDebit,
		TransactionDate:  time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
		Description:      "Miete März Wohnung 3B",
		Reference:        "INV-2024-031",
		CounterpartyName: "Hausverwaltung GmbH",
		BookingStatus:    models.BookingBooked,
		Source:           models.SourceCSV,
	}
}

func TestValidate(t *testing.T) {
	valid := rule("ok", 1, categorize, cond("description", "contains", "rent"))
	require.NoError(t, Validate(&valid))

	cases := map[string]models.MatchingRule{
		"no name":          rule("", 1, categorize),
		"no actions":       rule("r", 1, nil, cond("description", "contains", "x")),
		"unknown field":    rule("r", 1, categorize, cond("iban", "equals", "x")),
		"wrong operator":   rule("r", 1, categorize, cond("amount", "contains", "1")),
		"enum regex":       rule("r", 1, categorize, cond("currency", "regex", "EUR")),
		"bad number":       rule("r", 1, categorize, cond("amount", "gt", "ten")),
		"bad date":         rule("r", 1, categorize, cond("transaction_date", "after", "01.03.2024")),
		"between arity":    rule("r", 1, categorize, cond("amount", "between", "", "1")),
		"empty in":         rule("r", 1, categorize, cond("currency", "in", "")),
		"bad regex":        rule("r", 1, categorize, cond("description", "regex", "(")),
		"unknown action":   rule("r", 1, []models.Action{{Type: "delete"}}),
		"missing category": rule("r", 1, []models.Action{{Type: ActionCategorize}}),
		"extra param":      rule("r", 1, []models.Action{{Type: ActionIgnore, Params: map[string]string{"why": "x"}}}),
		"bad target": rule("r", 1, []models.Action{{Type: ActionAutoMatch,
			Params: map[string]string{"target": "order", "by": "reference"}}}),
	}
	for name, r := range cases {
		t.Run(name, func(t *testing.T) {
			assert.ErrorIs(t, Validate(&r), ErrInvalidRule)
		})
	}
}

func TestEvaluate(t *testing.T) {
	tx := sampleTransaction()
	cases := []struct {
		name string
		c    models.Condition
		want bool
	}{
		{"contains is case-insensitive", cond("description", "contains", "MIETE"), true},
		{"not_contains", cond("description", "not_contains", "gehalt"), true},
		{"starts_with", cond("reference", "starts_with", "inv-"), true},
		{"ends_with", cond("counterparty_name", "ends_with", "gmbh"), true},
		{"equals", cond("counterparty_name", "equals", "hausverwaltung gmbh"), true},
		{"not_equals", cond("counterparty_name", "not_equals", "other"), true},
		{"regex", cond("reference", "regex", `^INV-\d{4}-\d+$`), true},
		{"regex is case-sensitive", cond("reference", "regex", `^inv`), false},
		{"in", cond("currency", "in", "", "usd", "eur"), true},
		{"not_in", cond("currency", "not_in", "", "USD"), true},
		{"direction enum", cond("direction", "equals", "debit"), true},
		{"source enum", cond("source", "equals", "api"), false},
		{"amount lt", cond("amount", "lt", "0"), true},
		{"amount eq scale-independent", cond("amount", "eq", "-850"), true},
		{"abs_amount gte", cond("abs_amount", "gte", "850"), true},
		{"abs_amount between", cond("abs_amount", "between", "", "500", "1000"), true},
		{"amount between", cond("amount", "between", "", "500", "1000"), false},
		{"amount neq", cond("amount", "neq", "1"), true},
		{"date on", cond("transaction_date", "on", "2024-03-01"), true},
		{"date before", cond("transaction_date", "before", "2024-03-01"), false},
		{"date after", cond("transaction_date", "after", "2024-02-28"), true},
		{"date between", cond("transaction_date", "between", "", "2024-03-01", "2024-03-31"), true},
	}
	m := NewMatcher()
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r := rule("r", 1, categorize, tc.c)
			assert.Equal(t, tc.want, m.Evaluate(&r, tx))
		})
	}
}

func TestEvaluate_AllConditionsMustHold(t *testing.T) {
	m := NewMatcher()
	tx := sampleTransaction()

	both := rule("r", 1, categorize, cond("description", "contains", "miete"), cond("amount", "gt", "0"))
	assert.False(t, m.Evaluate(&both, tx))

	empty := rule("r", 1, categorize)
	assert.False(t, m.Evaluate(&empty, tx), "a rule without conditions never matches")
}

func TestFirstMatch(t *testing.T) {
	created := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	inactive := rule("inactive", 0, categorize, cond("description", "contains", "miete"))
	inactive.Active = false
	later := rule("later", 5, categorize, cond("description", "contains", "miete"))
	later.CreatedAt = created.Add(time.Hour)
	earlier := rule("earlier", 5, categorize, cond("description", "contains", "miete"))
	earlier.CreatedAt = created
	unrelated := rule("unrelated", 1, categorize, cond("description", "contains", "salary"))

	rs := []models.MatchingRule{later, inactive, unrelated, earlier}
	SortRules(rs)
	assert.Equal(t, []string{"inactive", "unrelated", "earlier", "later"},
		[]string{rs[0].Name, rs[1].Name, rs[2].Name, rs[3].Name})

	got := NewMatcher().FirstMatch(rs, sampleTransaction())
	require.NotNil(t, got)
	assert.Equal(t, "earlier", got.Name, "equal priority falls back to creation order")

	assert.Nil(t, NewMatcher().FirstMatch(rs[:2], sampleTransaction()))
}

func TestDefaultRuleSet(t *testing.T) {
	rs := DefaultRuleSet()
	require.NotEmpty(t, rs)
	for _, r := range rs {
		assert.NoError(t, Validate(&r), r.Name)
	}

	m := NewMatcher()
	SortRules(rs)
	got := m.FirstMatch(rs, sampleTransaction())
	require.NotNil(t, got)
	assert.Equal(t, "Rent", got.Name)
}

func TestLoadRuleSet_Invalid(t *testing.T) {
	_, err := LoadRuleSet([]byte("rules:\n  - name: x\n    actions: [{type: explode}]\n"))
	assert.ErrorIs(t, err, ErrInvalidRule)

	_, err = LoadRuleSet([]byte("rules: ["))
	assert.Error(t, err)
}
