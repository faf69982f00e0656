package api

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/CleanExpo/Zenith-Fresh-sub002/internal/core/domain"
	"github.com/CleanExpo/Zenith-Fresh-sub002/internal/shell/store"
)

// Ledger names accepted by the verify endpoint.
const (
	LedgerConsent = "consent"
	LedgerAudit   = "audit"
)

// =============================================================================
// Compliance Handlers
// =============================================================================

func (h *Handler) handleDataLocation(w http.ResponseWriter, r *http.Request) {
	var req DataLocationRequest
	if !h.decode(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.DataType) == "" {
		h.writeFailure(w, r, "validate data location", domain.NewValidationError("data_type", "required"))
		return
	}
	if strings.TrimSpace(req.Region) == "" {
		h.writeFailure(w, r, "validate data location", domain.NewValidationError("region", "required"))
		return
	}

	h.writeJSON(w, http.StatusOK, h.compliance.ValidateDataLocation(req.DataType, req.Region))
}

func (h *Handler) handleEncryption(w http.ResponseWriter, r *http.Request) {
	var req EncryptionRequest
	if !h.decode(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.DataType) == "" {
		h.writeFailure(w, r, "validate encryption", domain.NewValidationError("data_type", "required"))
		return
	}
	if req.Level.Rank() < 0 {
		h.writeFailure(w, r, "validate encryption", domain.NewValidationError("level", "unknown encryption level "+string(req.Level)))
		return
	}

	h.writeJSON(w, http.StatusOK, h.compliance.ValidateEncryption(req.DataType, req.Level))
}

func (h *Handler) handleConsent(w http.ResponseWriter, r *http.Request) {
	var req ConsentRequest
	if !h.decode(w, r, &req) {
		return
	}

	result, err := h.compliance.ManageConsent(r.Context(), req.UserID, req.ConsentType, req.Action)
	if err != nil {
		h.writeFailure(w, r, "manage consent", err)
		return
	}
	h.writeJSON(w, http.StatusOK, result)
}

func (h *Handler) handleRunAudit(w http.ResponseWriter, r *http.Request) {
	var req AuditRequest
	if !h.decode(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Region) == "" {
		h.writeFailure(w, r, "run audit", domain.NewValidationError("region", "required"))
		return
	}
	if strings.TrimSpace(req.Regulation) == "" {
		h.writeFailure(w, r, "run audit", domain.NewValidationError("regulation", "required"))
		return
	}

	audits, err := h.compliance.AuditRegulation(r.Context(), req.Region, req.Regulation)
	if err != nil {
		h.writeFailure(w, r, "run audit", err)
		return
	}
	h.writeJSON(w, http.StatusCreated, nonNil(audits))
}

func (h *Handler) handleListAudits(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	opts := listOptions(r)

	audits, err := h.compliance.ListAudits(r.Context(), store.AuditFilter{
		Region:      q.Get("region"),
		Regulation:  q.Get("regulation"),
		ListOptions: opts,
	})
	if err != nil {
		h.writeFailure(w, r, "list audits", err)
		return
	}

	h.writeJSON(w, http.StatusOK, ListResponse[domain.ComplianceAudit]{
		Data:   nonNil(audits),
		Limit:  opts.Limit,
		Offset: opts.Offset,
	})
}

// handleVerifyLedger recomputes a hash chain. A broken chain is reported in
// the body with 200; only an unreadable ledger is an error.
func (h *Handler) handleVerifyLedger(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "ledger")

	var err error
	switch name {
	case LedgerConsent:
		err = h.compliance.VerifyConsentLedger(r.Context())
	case LedgerAudit:
		err = h.compliance.VerifyAuditLedger(r.Context())
	default:
		h.writeError(w, http.StatusNotFound, "unknown ledger "+name, "not_found")
		return
	}

	resp := LedgerResponse{Ledger: name, Valid: err == nil}
	if err != nil {
		resp.Error = err.Error()
		h.logger.Warn("ledger verification failed", "ledger", name, "error", err)
	}
	h.writeJSON(w, http.StatusOK, resp)
}
