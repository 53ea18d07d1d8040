package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/Dan9191/bank-feed/internal/banking"
	"github.com/Dan9191/bank-feed/internal/config"
	"github.com/Dan9191/bank-feed/internal/integrations/cbr"
	"github.com/Dan9191/bank-feed/internal/middleware"
	"github.com/Dan9191/bank-feed/internal/parser"
	"github.com/Dan9191/bank-feed/internal/repository"
	"github.com/Dan9191/bank-feed/internal/rules"
	"github.com/Dan9191/bank-feed/internal/service"
)

const (
	// maxUploadSize bounds statement uploads
	maxUploadSize = 32 << 20
	// maxFormOverhead leaves room for multipart headers and form fields
	maxFormOverhead = 1 << 20
)

type Handler struct {
	svc        *service.Service
	currencies cbr.Directory
	log        *logrus.Logger
}

func NewHandler(svc *service.Service, currencies cbr.Directory, log *logrus.Logger) *Handler {
	return &Handler{svc: svc, currencies: currencies, log: log}
}

// Router builds the API routes. Everything except health and the bank
// redirect requires a bearer token.
func (h *Handler) Router(cfg *config.Config) *mux.Router {
	r := mux.NewRouter()
	r.Use(middleware.RequestID, middleware.Logger(h.log))

	// Public routes
	r.HandleFunc("/health", h.Health).Methods(http.MethodGet)
	r.HandleFunc("/oauth/callback", h.OAuthCallback).Methods(http.MethodGet)

	// Protected routes
	api := r.PathPrefix("/").Subrouter()
	api.Use(middleware.AuthMiddleware(cfg))

	api.HandleFunc("/imports", h.ImportFile).Methods(http.MethodPost)
	api.HandleFunc("/imports/preview", h.PreviewFile).Methods(http.MethodPost)
	api.HandleFunc("/imports/stats", h.ImportStats).Methods(http.MethodGet)
	api.HandleFunc("/imports/{id}", h.GetImport).Methods(http.MethodGet)
	api.HandleFunc("/transactions", h.ImportRecords).Methods(http.MethodPost)

	api.HandleFunc("/banks", h.ListBanks).Methods(http.MethodGet)
	api.HandleFunc("/banks/{bank}/connect", h.ConnectBank).Methods(http.MethodPost)
	api.HandleFunc("/banks/{bank}/sync", h.SyncBank).Methods(http.MethodPost)
	api.HandleFunc("/banks/{bank}", h.DisconnectBank).Methods(http.MethodDelete)
	api.HandleFunc("/consents", h.ListConsents).Methods(http.MethodGet)
	api.HandleFunc("/accounts", h.ListAccounts).Methods(http.MethodGet)

	api.HandleFunc("/rules", h.ListRules).Methods(http.MethodGet)
	api.HandleFunc("/rules", h.CreateRule).Methods(http.MethodPost)
	api.HandleFunc("/rules/test", h.TestRule).Methods(http.MethodPost)
	api.HandleFunc("/rules/apply", h.ApplyRules).Methods(http.MethodPost)
	api.HandleFunc("/rules/{id:[0-9]+}", h.GetRule).Methods(http.MethodGet)
	api.HandleFunc("/rules/{id:[0-9]+}", h.UpdateRule).Methods(http.MethodPut)
	api.HandleFunc("/rules/{id:[0-9]+}", h.DeleteRule).Methods(http.MethodDelete)

	api.HandleFunc("/currencies", h.Currencies).Methods(http.MethodGet)
	return r
}

// Health reports liveness
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Currencies lists the currency directory
func (h *Handler) Currencies(w http.ResponseWriter, r *http.Request) {
	if h.currencies == nil {
		http.Error(w, "currency directory not configured", http.StatusServiceUnavailable)
		return
	}
	codes, err := h.currencies.Currencies(r.Context())
	if err != nil {
		http.Error(w, fmt.Sprintf("Failed to get currencies: %v", err), http.StatusBadGateway)
		return
	}
	writeJSON(w, http.StatusOK, codes)
}

func tenant(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, ok := middleware.TenantID(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
	}
	return id, ok
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: %v", service.ErrInvalidInput, err)
	}
	return nil
}

// statusFor maps service errors to HTTP status codes
func statusFor(err error) int {
	var denied *banking.AuthorizationDeniedError
	var provider *banking.ProviderError
	var api *banking.APIError
	var tooLarge *http.MaxBytesError
	switch {
	case errors.As(err, &tooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, service.ErrInvalidInput),
		errors.Is(err, rules.ErrInvalidRule),
		errors.Is(err, parser.ErrUnknownFormat),
		errors.Is(err, banking.ErrInvalidState):
		return http.StatusBadRequest
	case errors.Is(err, parser.ErrInvalidFile):
		return http.StatusUnprocessableEntity
	case errors.Is(err, repository.ErrNotFound),
		errors.Is(err, banking.ErrUnknownBank),
		errors.Is(err, banking.ErrConsentNotFound):
		return http.StatusNotFound
	case errors.Is(err, banking.ErrReauthorizationRequired):
		return http.StatusConflict
	case errors.As(err, &denied):
		return http.StatusForbidden
	case errors.As(err, &provider), errors.As(err, &api):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		h.log.WithError(err).WithField("request_id", middleware.GetRequestID(r.Context())).Error("request failed")
		msg = "internal error"
	}
	writeJSON(w, status, map[string]string{"error": msg})
}

func pathID(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: invalid id", service.ErrInvalidInput)
	}
	return id, nil
}

// parseRange reads from/to query dates; the default is the last 30 days
func parseRange(r *http.Request, now time.Time) (time.Time, time.Time, error) {
	to := now
	from := now.AddDate(0, 0, -30)
	if v := r.URL.Query().Get("from"); v != "" {
		t, err := time.Parse("2006-01-02", v)
		if err != nil {
			return from, to, fmt.Errorf("%w: from must be YYYY-MM-DD", service.ErrInvalidInput)
		}
		from = t
	}
	if v := r.URL.Query().Get("to"); v != "" {
		t, err := time.Parse("2006-01-02", v)
		if err != nil {
			return from, to, fmt.Errorf("%w: to must be YYYY-MM-DD", service.ErrInvalidInput)
		}
		to = t.AddDate(0, 0, 1)
	}
	if !from.Before(to) {
		return from, to, fmt.Errorf("%w: from must be before to", service.ErrInvalidInput)
	}
	return from, to, nil
}
