package service

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/Dan9191/bank-feed/internal/models"
	"github.com/Dan9191/bank-feed/internal/rules"
)

const (
	defaultTestLimit = 100
	maxTestLimit     = 1000
)

// Reconciler links a transaction to an invoice or payment of another system.
// It returns the matched reference, or ok=false when nothing matched.
type Reconciler interface {
	Reconcile(ctx context.Context, t *models.Transaction, target, by string) (ref string, ok bool, err error)
}

// ApplyResult summarizes a rule application run
type ApplyResult struct {
	Processed int `json:"processed"`
	Matched   int `json:"matched"`
	Ignored   int `json:"ignored"`
	Failed    int `json:"failed"`
}

// RuleService manages tenant rules and applies them to transactions
type RuleService struct {
	rules      RuleStore
	txs        TransactionStore
	reconciler Reconciler
	log        *logrus.Logger
}

// NewRuleService creates a rule service. reconciler may be nil, in which case
// auto_match actions are skipped.
func NewRuleService(store RuleStore, txs TransactionStore, reconciler Reconciler, log *logrus.Logger) *RuleService {
	return &RuleService{rules: store, txs: txs, reconciler: reconciler, log: log}
}

// Create validates and stores a rule for the tenant
func (s *RuleService) Create(ctx context.Context, tenantID int64, rule *models.MatchingRule) error {
	rule.TenantID = tenantID
	if err := rules.Validate(rule); err != nil {
		return err
	}
	return s.rules.CreateRule(ctx, rule)
}

// Get returns one rule of the tenant
func (s *RuleService) Get(ctx context.Context, tenantID, id int64) (*models.MatchingRule, error) {
	return s.rules.GetRule(ctx, tenantID, id)
}

// List returns the tenant's rules in evaluation order
func (s *RuleService) List(ctx context.Context, tenantID int64) ([]models.MatchingRule, error) {
	list, err := s.rules.ListRules(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	rules.SortRules(list)
	return list, nil
}

// Update validates and replaces a rule of the tenant
func (s *RuleService) Update(ctx context.Context, tenantID int64, rule *models.MatchingRule) error {
	rule.TenantID = tenantID
	if err := rules.Validate(rule); err != nil {
		return err
	}
	return s.rules.UpdateRule(ctx, rule)
}

// Delete removes a rule of the tenant
func (s *RuleService) Delete(ctx context.Context, tenantID, id int64) error {
	return s.rules.DeleteRule(ctx, tenantID, id)
}

// Seed stores a rule set for a tenant, e.g. rules.DefaultRuleSet()
func (s *RuleService) Seed(ctx context.Context, tenantID int64, set []models.MatchingRule) error {
	for i := range set {
		rule := set[i]
		if err := s.Create(ctx, tenantID, &rule); err != nil {
			return fmt.Errorf("failed to seed rule %q: %w", rule.Name, err)
		}
	}
	return nil
}

// Test evaluates rule against the tenant's most recent transactions without
// changing anything
func (s *RuleService) Test(ctx context.Context, tenantID int64, rule *models.MatchingRule, limit int) ([]models.RuleMatch, error) {
	if err := rules.Validate(rule); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = defaultTestLimit
	}
	if limit > maxTestLimit {
		limit = maxTestLimit
	}
	recent, err := s.txs.ListRecentTransactions(ctx, tenantID, limit)
	if err != nil {
		return nil, err
	}

	matcher := rules.NewMatcher()
	matches := []models.RuleMatch{}
	for i := range recent {
		t := &recent[i]
		if !matcher.Evaluate(rule, t) {
			continue
		}
		matches = append(matches, models.RuleMatch{
			TransactionID: t.ID,
			Description:   t.Description,
			Amount:        t.Amount.String(),
			Date:          t.TransactionDate.Format("2006-01-02"),
			Actions:       rule.Actions,
		})
	}
	return matches, nil
}

// Apply runs the tenant's active rules over the given transactions. The
// first matching rule's actions are applied and the transaction is marked
// processed, or ignored by an ignore action.
func (s *RuleService) Apply(ctx context.Context, tenantID int64, ids []int64) (ApplyResult, error) {
	var res ApplyResult
	list, err := s.List(ctx, tenantID)
	if err != nil {
		return res, err
	}
	txs, err := s.txs.GetTransactions(ctx, tenantID, ids)
	if err != nil {
		return res, err
	}

	matcher := rules.NewMatcher()
	for i := range txs {
		t := &txs[i]
		res.Processed++
		rule := matcher.FirstMatch(list, t)
		if rule == nil {
			continue
		}
		res.Matched++
		if err := s.applyActions(ctx, rule, t); err != nil {
			res.Failed++
			s.log.WithError(err).WithFields(logrus.Fields{"tenant_id": tenantID, "transaction_id": t.ID, "rule_id": rule.ID}).
				Warn("failed to apply rule")
			continue
		}
		if t.Status == models.StatusIgnored {
			res.Ignored++
		}
		if err := s.txs.UpdateTransactionOutcome(ctx, t); err != nil {
			return res, err
		}
	}
	return res, nil
}

func (s *RuleService) applyActions(ctx context.Context, rule *models.MatchingRule, t *models.Transaction) error {
	ruleID := rule.ID
	t.RuleID = &ruleID
	t.Status = models.StatusProcessed
	for _, a := range rule.Actions {
		switch a.Type {
		case rules.ActionCategorize:
			t.Category = a.Params["category"]
		case rules.ActionIgnore:
			t.Status = models.StatusIgnored
		case rules.ActionAutoMatch:
			if s.reconciler == nil {
				s.log.WithField("rule_id", rule.ID).Debug("no reconciler configured, auto_match skipped")
				continue
			}
			ref, ok, err := s.reconciler.Reconcile(ctx, t, a.Params["target"], a.Params["by"])
			if err != nil {
				return err
			}
			if ok {
				t.MatchedType = a.Params["target"]
				t.MatchedRef = ref
			}
		}
	}
	return nil
}
