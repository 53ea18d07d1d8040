package models

import "time"

// Condition compares one transaction field against a value.
// Values is used by the membership and range operators.
type Condition struct {
	Field    string   `json:"field" yaml:"field"`
	Operator string   `json:"operator" yaml:"operator"`
	Value    string   `json:"value,omitempty" yaml:"value,omitempty"`
	Values   []string `json:"values,omitempty" yaml:"values,omitempty"`
}

// Action is data interpreted by the caller once a rule matched
type Action struct {
	Type   string            `json:"type" yaml:"type"`
	Params map[string]string `json:"params,omitempty" yaml:"params,omitempty"`
}

// MatchingRule is a tenant-scoped, prioritized condition/action set.
// Lower priority values are evaluated first.
type MatchingRule struct {
	ID         int64       `json:"id" yaml:"-"`
	TenantID   int64       `json:"tenant_id" yaml:"-"`
	Name       string      `json:"name" yaml:"name"`
	Conditions []Condition `json:"conditions" yaml:"conditions"`
	Actions    []Action    `json:"actions" yaml:"actions"`
	Priority   int         `json:"priority" yaml:"priority"`
	Active     bool        `json:"active" yaml:"active"`
	CreatedAt  time.Time   `json:"created_at" yaml:"-"`
	UpdatedAt  time.Time   `json:"updated_at" yaml:"-"`
}

// RuleMatch is one dry-run hit
type RuleMatch struct {
	TransactionID int64    `json:"transaction_id"`
	Description   string   `json:"description"`
	Amount        string   `json:"amount"`
	Date          string   `json:"date"`
	Actions       []Action `json:"actions"`
}
