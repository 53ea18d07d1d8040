package handler

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/Dan9191/bank-feed/internal/models"
	"github.com/Dan9191/bank-feed/internal/service"
)

// readUpload reads the multipart "file" field and the import form options
func readUpload(w http.ResponseWriter, r *http.Request, tenantID int64) (service.FileImport, error) {
	f := service.FileImport{TenantID: tenantID}
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadSize+maxFormOverhead)
	if err := r.ParseMultipartForm(maxUploadSize); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return f, fmt.Errorf("upload exceeds %d bytes: %w", maxUploadSize, err)
		}
		return f, fmt.Errorf("%w: failed to parse form: %v", service.ErrInvalidInput, err)
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		return f, fmt.Errorf("%w: no file uploaded", service.ErrInvalidInput)
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, maxUploadSize+1))
	if err != nil {
		return f, fmt.Errorf("failed to read upload: %w", err)
	}
	if len(data) > maxUploadSize {
		return f, fmt.Errorf("%w: file exceeds %d bytes", service.ErrInvalidInput, maxUploadSize)
	}

	f.FileName = header.Filename
	f.Data = data
	f.Format = r.FormValue("format")
	if v := r.FormValue("account_id"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return f, fmt.Errorf("%w: invalid account_id", service.ErrInvalidInput)
		}
		f.AccountID = &id
	}
	if v := r.FormValue("apply_rules"); v != "" {
		apply, err := strconv.ParseBool(v)
		if err != nil {
			return f, fmt.Errorf("%w: invalid apply_rules", service.ErrInvalidInput)
		}
		f.ApplyRules = apply
	}
	return f, nil
}

type importResponse struct {
	Result *models.ImportResult `json:"result,omitempty"`
	Log    *models.ImportLog    `json:"import_log,omitempty"`
	Error  string               `json:"error,omitempty"`
}

// ImportFile handles POST /imports
func (h *Handler) ImportFile(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := tenant(w, r)
	if !ok {
		return
	}
	f, err := readUpload(w, r, tenantID)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	result, importLog, err := h.svc.Files.ImportFile(r.Context(), f)
	if err != nil {
		if importLog == nil {
			h.fail(w, r, err)
			return
		}
		// the rejected file still has a failed import log
		writeJSON(w, statusFor(err), importResponse{Log: importLog, Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusCreated, importResponse{Result: result, Log: importLog})
}

// PreviewFile handles POST /imports/preview
func (h *Handler) PreviewFile(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := tenant(w, r)
	if !ok {
		return
	}
	f, err := readUpload(w, r, tenantID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	preview, err := h.svc.Files.PreviewFile(r.Context(), f)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, preview)
}

// GetImport handles GET /imports/{id}
func (h *Handler) GetImport(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := tenant(w, r)
	if !ok {
		return
	}
	entry, err := h.svc.Logs.Get(r.Context(), tenantID, mux.Vars(r)["id"])
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

// ImportStats handles GET /imports/stats?from=YYYY-MM-DD&to=YYYY-MM-DD
func (h *Handler) ImportStats(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := tenant(w, r)
	if !ok {
		return
	}
	from, to, err := parseRange(r, time.Now().UTC())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	stats, err := h.svc.Logs.GetStats(r.Context(), tenantID, from, to)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

type recordsRequest struct {
	Source    models.Source           `json:"source"`
	AccountID *int64                  `json:"account_id,omitempty"`
	Records   []models.RawTransaction `json:"records"`
}

// ImportRecords handles POST /transactions with already normalized records
func (h *Handler) ImportRecords(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := tenant(w, r)
	if !ok {
		return
	}
	var req recordsRequest
	if err := decodeJSON(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	if req.Source == "" {
		req.Source = models.SourceManual
	}
	result, err := h.svc.ImportRecords(r.Context(), tenantID, req.Source, req.Records, service.ImportOptions{AccountID: req.AccountID})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}
