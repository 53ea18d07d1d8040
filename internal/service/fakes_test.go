package service

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/Dan9191/bank-feed/internal/banking"
	"github.com/Dan9191/bank-feed/internal/models"
)

func testLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

// memStore is an in-memory Store keyed like the SQL schema
type memStore struct {
	mu        sync.Mutex
	nextID    int64
	txs       map[int64]*models.Transaction
	byFP      map[string]int64
	accounts  map[int64]*models.Account
	rules     map[int64]*models.MatchingRule
	logs      map[string]*models.ImportLog
	consents  map[string]*models.Consent
	insertErr error
}

func newMemStore() *memStore {
	return &memStore{
		txs:      make(map[int64]*models.Transaction),
		byFP:     make(map[string]int64),
		accounts: make(map[int64]*models.Account),
		rules:    make(map[int64]*models.MatchingRule),
		logs:     make(map[string]*models.ImportLog),
		consents: make(map[string]*models.Consent),
	}
}

func (m *memStore) id() int64 {
	m.nextID++
	return m.nextID
}

func fpKey(tenantID int64, fp string) string { return fmt.Sprintf("%d/%s", tenantID, fp) }

func (m *memStore) InsertIfAbsent(_ context.Context, t *models.Transaction) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.insertErr != nil {
		return false, m.insertErr
	}
	if _, ok := m.byFP[fpKey(t.TenantID, t.Fingerprint)]; ok {
		return false, nil
	}
	t.ID = m.id()
	t.CreatedAt = time.Now().UTC()
	cp := *t
	m.txs[t.ID] = &cp
	m.byFP[fpKey(t.TenantID, t.Fingerprint)] = t.ID
	return true, nil
}

func (m *memStore) ExistsFingerprint(_ context.Context, tenantID int64, fp string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.byFP[fpKey(tenantID, fp)]
	return ok, nil
}

func (m *memStore) GetTransactions(_ context.Context, tenantID int64, ids []int64) ([]models.Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Transaction
	for _, id := range ids {
		if t, ok := m.txs[id]; ok && t.TenantID == tenantID {
			out = append(out, *t)
		}
	}
	return out, nil
}

func (m *memStore) ListRecentTransactions(_ context.Context, tenantID int64, limit int) ([]models.Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Transaction
	for _, t := range m.txs {
		if t.TenantID == tenantID {
			out = append(out, *t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memStore) UpdateTransactionOutcome(_ context.Context, t *models.Transaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.txs[t.ID]
	if !ok || stored.TenantID != t.TenantID {
		return fmt.Errorf("transaction %d not found", t.ID)
	}
	stored.Status = t.Status
	stored.Category = t.Category
	stored.MatchedType = t.MatchedType
	stored.MatchedRef = t.MatchedRef
	stored.RuleID = t.RuleID
	return nil
}

func (m *memStore) transaction(id int64) models.Transaction {
	m.mu.Lock()
	defer m.mu.Unlock()
	return *m.txs[id]
}

func (m *memStore) UpsertAccount(_ context.Context, a *models.Account) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.accounts {
		if existing.TenantID == a.TenantID && existing.ExternalID == a.ExternalID {
			a.ID = existing.ID
			a.CreatedAt = existing.CreatedAt
			a.LastSyncedAt = existing.LastSyncedAt
			cp := *a
			m.accounts[a.ID] = &cp
			return nil
		}
	}
	a.ID = m.id()
	a.CreatedAt = time.Now().UTC()
	cp := *a
	m.accounts[a.ID] = &cp
	return nil
}

func (m *memStore) ListAccounts(_ context.Context, tenantID int64, bank string) ([]models.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Account
	for _, a := range m.accounts {
		if a.TenantID == tenantID && (bank == "" || a.BankCode == bank) {
			out = append(out, *a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *memStore) SetAccountStatus(_ context.Context, tenantID, id int64, status models.AccountStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.accounts[id]
	if !ok || a.TenantID != tenantID {
		return fmt.Errorf("account %d not found", id)
	}
	a.Status = status
	return nil
}

func (m *memStore) MarkAccountSynced(_ context.Context, tenantID, id int64, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if a, ok := m.accounts[id]; ok && a.TenantID == tenantID {
		a.LastSyncedAt = &at
	}
	return nil
}

func (m *memStore) account(id int64) models.Account {
	m.mu.Lock()
	defer m.mu.Unlock()
	return *m.accounts[id]
}

func (m *memStore) CreateImportLog(_ context.Context, l *models.ImportLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *l
	m.logs[l.ID] = &cp
	return nil
}

func (m *memStore) FinishImportLog(_ context.Context, l *models.ImportLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.logs[l.ID]
	if !ok || stored.Status != models.ImportPending {
		return fmt.Errorf("pending import log %s not found", l.ID)
	}
	cp := *l
	m.logs[l.ID] = &cp
	return nil
}

func (m *memStore) GetImportLog(_ context.Context, tenantID int64, id string) (*models.ImportLog, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.logs[id]
	if !ok || l.TenantID != tenantID {
		return nil, fmt.Errorf("import log %s not found", id)
	}
	cp := *l
	return &cp, nil
}

func (m *memStore) ListImportLogs(_ context.Context, tenantID int64, from, to time.Time) ([]models.ImportLog, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.ImportLog
	for _, l := range m.logs {
		if l.TenantID == tenantID && !l.StartedAt.Before(from) && l.StartedAt.Before(to) {
			out = append(out, *l)
		}
	}
	return out, nil
}

func (m *memStore) CreateRule(_ context.Context, rule *models.MatchingRule) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rule.ID = m.id()
	rule.CreatedAt = time.Now().UTC()
	cp := *rule
	m.rules[rule.ID] = &cp
	return nil
}

func (m *memStore) GetRule(_ context.Context, tenantID, id int64) (*models.MatchingRule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rules[id]
	if !ok || r.TenantID != tenantID {
		return nil, fmt.Errorf("rule %d not found", id)
	}
	cp := *r
	return &cp, nil
}

func (m *memStore) ListRules(_ context.Context, tenantID int64) ([]models.MatchingRule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.MatchingRule
	for _, r := range m.rules {
		if r.TenantID == tenantID {
			out = append(out, *r)
		}
	}
	return out, nil
}

func (m *memStore) UpdateRule(_ context.Context, rule *models.MatchingRule) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rules[rule.ID]
	if !ok || r.TenantID != rule.TenantID {
		return fmt.Errorf("rule %d not found", rule.ID)
	}
	cp := *rule
	cp.CreatedAt = r.CreatedAt
	m.rules[rule.ID] = &cp
	return nil
}

func (m *memStore) DeleteRule(_ context.Context, tenantID, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rules[id]
	if !ok || r.TenantID != tenantID {
		return fmt.Errorf("rule %d not found", id)
	}
	delete(m.rules, id)
	return nil
}

func consentKey(tenantID int64, bank string) string { return fmt.Sprintf("%d/%s", tenantID, bank) }

func (m *memStore) ListActiveConsents(_ context.Context) ([]models.Consent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Consent
	for _, c := range m.consents {
		if c.Status == models.ConsentActive {
			out = append(out, *c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TenantID < out[j].TenantID })
	return out, nil
}

func (m *memStore) GetConsent(_ context.Context, tenantID int64, bank string) (*models.Consent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.consents[consentKey(tenantID, bank)]
	if !ok {
		return nil, nil
	}
	cp := *c
	return &cp, nil
}

func (m *memStore) ListConsents(_ context.Context, tenantID int64) ([]models.Consent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Consent
	for _, c := range m.consents {
		if c.TenantID == tenantID {
			out = append(out, *c)
		}
	}
	return out, nil
}

func (m *memStore) putConsent(c models.Consent) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.consents[consentKey(c.TenantID, c.BankCode)] = &c
}

// fakeGateway serves canned bank data per (tenant, bank)
type fakeGateway struct {
	accounts    map[string][]models.ProviderAccount
	txs         map[string][]models.RawTransaction
	accountsErr error
	txErrs      map[string]error
	revokeErr   error
	revoked     []string
	callback    *models.Consent
}

func (g *fakeGateway) Banks() []string { return []string{"demo"} }

func (g *fakeGateway) AuthorizationURL(_ context.Context, tenantID int64, bank string) (string, error) {
	return fmt.Sprintf("https://bank.example/authorize?tenant=%d&bank=%s", tenantID, bank), nil
}

func (g *fakeGateway) HandleCallback(_ context.Context, query url.Values) (*models.Consent, error) {
	if query.Get("error") != "" {
		return nil, &banking.AuthorizationDeniedError{Code: query.Get("error")}
	}
	return g.callback, nil
}

func (g *fakeGateway) Revoke(_ context.Context, tenantID int64, bank string) error {
	g.revoked = append(g.revoked, consentKey(tenantID, bank))
	return g.revokeErr
}

func (g *fakeGateway) Accounts(_ context.Context, tenantID int64, bank string) ([]models.ProviderAccount, error) {
	if g.accountsErr != nil {
		return nil, g.accountsErr
	}
	return g.accounts[consentKey(tenantID, bank)], nil
}

func (g *fakeGateway) Transactions(_ context.Context, _ int64, _ string, accountID string, _, _ time.Time) ([]models.RawTransaction, error) {
	if err := g.txErrs[accountID]; err != nil {
		return nil, err
	}
	return g.txs[accountID], nil
}

type recordingNotifier struct {
	mu     sync.Mutex
	failed []string
}

func (n *recordingNotifier) SendImportFailed(_ int64, fileName string, _ []string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.failed = append(n.failed, fileName)
	return nil
}

type fakeReconciler struct {
	refs map[string]string
}

func (r *fakeReconciler) Reconcile(_ context.Context, t *models.Transaction, _, by string) (string, bool, error) {
	key := t.Reference
	if by == "amount" {
		key = t.Amount.String()
	}
	ref, ok := r.refs[key]
	return ref, ok, nil
}

type fakeDirectory map[string]int64

func (d fakeDirectory) Currencies(context.Context) (map[string]int64, error) { return d, nil }
