package handler

import (
	"net/http"

	"github.com/gorilla/mux"
)

// ListBanks handles GET /banks
func (h *Handler) ListBanks(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string][]string{"banks": h.svc.Banks()})
}

// ConnectBank handles POST /banks/{bank}/connect and returns the URL the
// user has to visit to grant consent
func (h *Handler) ConnectBank(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := tenant(w, r)
	if !ok {
		return
	}
	link, err := h.svc.ConnectBank(r.Context(), tenantID, mux.Vars(r)["bank"])
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"authorization_url": link})
}

// OAuthCallback handles the bank redirect. The signed state identifies the
// tenant, so no bearer token is needed.
func (h *Handler) OAuthCallback(w http.ResponseWriter, r *http.Request) {
	consent, err := h.svc.CompleteAuthorization(r.Context(), r.URL.Query())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, consent)
}

// DisconnectBank handles DELETE /banks/{bank}
func (h *Handler) DisconnectBank(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := tenant(w, r)
	if !ok {
		return
	}
	if err := h.svc.DisconnectBank(r.Context(), tenantID, mux.Vars(r)["bank"]); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// SyncBank handles POST /banks/{bank}/sync
func (h *Handler) SyncBank(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := tenant(w, r)
	if !ok {
		return
	}
	report, err := h.svc.SyncBank(r.Context(), tenantID, mux.Vars(r)["bank"])
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// ListConsents handles GET /consents
func (h *Handler) ListConsents(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := tenant(w, r)
	if !ok {
		return
	}
	consents, err := h.svc.Consents(r.Context(), tenantID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, consents)
}

// ListAccounts handles GET /accounts
func (h *Handler) ListAccounts(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := tenant(w, r)
	if !ok {
		return
	}
	accounts, err := h.svc.Accounts.List(r.Context(), tenantID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, accounts)
}
