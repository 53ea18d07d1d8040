package handler

import (
	"fmt"
	"net/http"

	"github.com/Dan9191/bank-feed/internal/models"
	"github.com/Dan9191/bank-feed/internal/service"
)

// ListRules handles GET /rules
func (h *Handler) ListRules(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := tenant(w, r)
	if !ok {
		return
	}
	list, err := h.svc.Rules.List(r.Context(), tenantID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if list == nil {
		list = []models.MatchingRule{}
	}
	writeJSON(w, http.StatusOK, list)
}

// CreateRule handles POST /rules
func (h *Handler) CreateRule(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := tenant(w, r)
	if !ok {
		return
	}
	var rule models.MatchingRule
	if err := decodeJSON(r, &rule); err != nil {
		h.fail(w, r, err)
		return
	}
	rule.ID = 0
	if err := h.svc.Rules.Create(r.Context(), tenantID, &rule); err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, rule)
}

// GetRule handles GET /rules/{id}
func (h *Handler) GetRule(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := tenant(w, r)
	if !ok {
		return
	}
	id, err := pathID(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	rule, err := h.svc.Rules.Get(r.Context(), tenantID, id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rule)
}

// UpdateRule handles PUT /rules/{id}
func (h *Handler) UpdateRule(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := tenant(w, r)
	if !ok {
		return
	}
	id, err := pathID(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	var rule models.MatchingRule
	if err := decodeJSON(r, &rule); err != nil {
		h.fail(w, r, err)
		return
	}
	rule.ID = id
	if err := h.svc.Rules.Update(r.Context(), tenantID, &rule); err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rule)
}

// DeleteRule handles DELETE /rules/{id}
func (h *Handler) DeleteRule(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := tenant(w, r)
	if !ok {
		return
	}
	id, err := pathID(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if err := h.svc.Rules.Delete(r.Context(), tenantID, id); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type testRuleRequest struct {
	Rule  models.MatchingRule `json:"rule"`
	Limit int                 `json:"limit,omitempty"`
}

// TestRule handles POST /rules/test, a dry run over recent transactions
func (h *Handler) TestRule(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := tenant(w, r)
	if !ok {
		return
	}
	var req testRuleRequest
	if err := decodeJSON(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	matches, err := h.svc.Rules.Test(r.Context(), tenantID, &req.Rule, req.Limit)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"matches": matches, "count": len(matches)})
}

type applyRulesRequest struct {
	TransactionIDs []int64 `json:"transaction_ids"`
}

// ApplyRules handles POST /rules/apply
func (h *Handler) ApplyRules(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := tenant(w, r)
	if !ok {
		return
	}
	var req applyRulesRequest
	if err := decodeJSON(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	if len(req.TransactionIDs) == 0 {
		h.fail(w, r, fmt.Errorf("%w: transaction_ids is required", service.ErrInvalidInput))
		return
	}
	res, err := h.svc.Rules.Apply(r.Context(), tenantID, req.TransactionIDs)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}
