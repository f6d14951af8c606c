package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	apperrors "github.com/gatepass/access-server/internal/errors"
	"github.com/gatepass/access-server/internal/middleware"
	"github.com/gatepass/access-server/internal/model"
	"github.com/gatepass/access-server/internal/service"
)

// AccessHandler serves the guard console: scans, manual entries and the
// organization's access ledger.
type AccessHandler struct {
	authorizer *service.AccessAuthorizer
	logs       *service.AccessLogRecorder
}

func NewAccessHandler(authorizer *service.AccessAuthorizer, logs *service.AccessLogRecorder) *AccessHandler {
	return &AccessHandler{authorizer: authorizer, logs: logs}
}

func (h *AccessHandler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Post("/scan", h.Scan)
	r.Post("/manual", h.ManualEntry)
	r.Get("/logs", h.Logs)

	return r
}

type scanRequest struct {
	Credential string             `json:"credential"`
	Method     model.AccessMethod `json:"method"`
	Direction  model.Direction    `json:"direction"`
	GateID     string             `json:"gate_id"`
}

// POST /v1/access/scan
// Denials are 200 responses with granted=false; the console branches on reason.
func (h *AccessHandler) Scan(w http.ResponseWriter, r *http.Request) {
	actor := middleware.GetActor(r.Context())
	if actor == nil {
		writeError(w, apperrors.Unauthorized("Unauthorized"))
		return
	}

	var req scanRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}

	result, err := h.authorizer.Authorize(r.Context(), actor, service.ScanInput{
		Credential: req.Credential,
		Method:     req.Method,
		Direction:  req.Direction,
		GateID:     req.GateID,
	})
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, result)
}

type manualEntryRequest struct {
	VisitorName   string             `json:"visitor_name"`
	UnitReference string             `json:"unit_reference"`
	Direction     model.Direction    `json:"direction"`
	Method        model.AccessMethod `json:"method"`
	Notes         *string            `json:"notes"`
	GateID        string             `json:"gate_id"`
}

// POST /v1/access/manual
func (h *AccessHandler) ManualEntry(w http.ResponseWriter, r *http.Request) {
	actor := middleware.GetActor(r.Context())
	if actor == nil {
		writeError(w, apperrors.Unauthorized("Unauthorized"))
		return
	}

	var req manualEntryRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}

	result, err := h.authorizer.ManualEntry(r.Context(), actor, service.ManualEntryInput{
		VisitorName:   req.VisitorName,
		UnitReference: req.UnitReference,
		Direction:     req.Direction,
		Method:        req.Method,
		Notes:         req.Notes,
		GateID:        req.GateID,
	})
	if err != nil {
		writeError(w, err)
		return
	}

	status := http.StatusCreated
	if !result.Granted {
		status = http.StatusOK
	}
	writeJSON(w, status, result)
}

// GET /v1/access/logs
func (h *AccessHandler) Logs(w http.ResponseWriter, r *http.Request) {
	actor := middleware.GetActor(r.Context())
	if actor == nil {
		writeError(w, apperrors.Unauthorized("Unauthorized"))
		return
	}
	if !actor.CanAuthorizeAccess() {
		writeError(w, apperrors.Forbidden("Only guards and admins can read the access ledger"))
		return
	}

	p := ParsePagination(r)
	entries, total, err := h.logs.ListByOrganization(r.Context(), actor.OrganizationID, p.Limit, p.Offset)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, paginated(formatAccessLogs(entries), total, p))
}
