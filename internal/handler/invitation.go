package handler

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/gatepass/access-server/internal/audit"
	"github.com/gatepass/access-server/internal/codec"
	apperrors "github.com/gatepass/access-server/internal/errors"
	"github.com/gatepass/access-server/internal/middleware"
	"github.com/gatepass/access-server/internal/model"
	"github.com/gatepass/access-server/internal/service"
)

type InvitationHandler struct {
	invitations *service.InvitationService
	logs        *service.AccessLogRecorder
	qrSize      int
}

func NewInvitationHandler(invitations *service.InvitationService, logs *service.AccessLogRecorder, qrSize int) *InvitationHandler {
	return &InvitationHandler{
		invitations: invitations,
		logs:        logs,
		qrSize:      qrSize,
	}
}

func (h *InvitationHandler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Post("/", h.Create)
	r.Get("/", h.List)
	r.Get("/{id}", h.Get)
	r.Patch("/{id}", h.Update)
	r.Post("/{id}/cancel", h.Cancel)
	r.Get("/{id}/qr.png", h.QRImage)
	r.Get("/{id}/access-logs", h.AccessLogs)

	return r
}

type createInvitationRequest struct {
	UnitID       string           `json:"unit_id"`
	VisitorName  string           `json:"visitor_name"`
	VisitorPhone *string          `json:"visitor_phone"`
	VisitorEmail *string          `json:"visitor_email"`
	Notes        *string          `json:"notes"`
	AccessType   model.AccessType `json:"access_type"`
	MaxUses      *int             `json:"max_uses"`
	ValidFrom    *time.Time       `json:"valid_from"`
	ValidUntil   *time.Time       `json:"valid_until"`
}

// POST /v1/invitations
func (h *InvitationHandler) Create(w http.ResponseWriter, r *http.Request) {
	actor := middleware.GetActor(r.Context())
	if actor == nil {
		writeError(w, apperrors.Unauthorized("Unauthorized"))
		return
	}

	var req createInvitationRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}

	inv, err := h.invitations.Create(r.Context(), actor, service.CreateInvitationInput{
		UnitID:       req.UnitID,
		VisitorName:  req.VisitorName,
		VisitorPhone: req.VisitorPhone,
		VisitorEmail: req.VisitorEmail,
		Notes:        req.Notes,
		AccessType:   req.AccessType,
		MaxUses:      req.MaxUses,
		ValidFrom:    req.ValidFrom,
		ValidUntil:   req.ValidUntil,
	})
	if err != nil {
		writeError(w, err)
		return
	}

	audit.LogFromRequest(r, audit.Event{
		Type:           audit.EventInvitationCreate,
		ActorID:        actor.ID,
		OrganizationID: actor.OrganizationID,
		Details: map[string]interface{}{
			"invitation_id": inv.ID,
			"unit_id":       inv.UnitID,
			"access_type":   string(inv.AccessType),
		},
	})

	writeJSON(w, http.StatusCreated, formatInvitation(inv, h.invitations.Now()))
}

// GET /v1/invitations?unit_id=
func (h *InvitationHandler) List(w http.ResponseWriter, r *http.Request) {
	actor := middleware.GetActor(r.Context())
	if actor == nil {
		writeError(w, apperrors.Unauthorized("Unauthorized"))
		return
	}

	p := ParsePagination(r)
	invitations, total, err := h.invitations.ListForUnit(r.Context(), actor, r.URL.Query().Get("unit_id"), p.Limit, p.Offset)
	if err != nil {
		writeError(w, err)
		return
	}

	now := h.invitations.Now()
	items := make([]map[string]any, 0, len(invitations))
	for i := range invitations {
		items = append(items, formatInvitation(&invitations[i], now))
	}

	writeJSON(w, http.StatusOK, paginated(items, total, p))
}

// GET /v1/invitations/{id}
func (h *InvitationHandler) Get(w http.ResponseWriter, r *http.Request) {
	actor := middleware.GetActor(r.Context())
	if actor == nil {
		writeError(w, apperrors.Unauthorized("Unauthorized"))
		return
	}

	inv, err := h.invitations.Get(r.Context(), actor, chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, formatInvitation(inv, h.invitations.Now()))
}

type updateInvitationRequest struct {
	VisitorName  *string `json:"visitor_name"`
	VisitorPhone *string `json:"visitor_phone"`
	VisitorEmail *string `json:"visitor_email"`
	Notes        *string `json:"notes"`
}

// PATCH /v1/invitations/{id}
// Only descriptive fields; anything that would change who may enter is
// rejected as an unknown field.
func (h *InvitationHandler) Update(w http.ResponseWriter, r *http.Request) {
	actor := middleware.GetActor(r.Context())
	if actor == nil {
		writeError(w, apperrors.Unauthorized("Unauthorized"))
		return
	}

	var req updateInvitationRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}

	inv, err := h.invitations.UpdateDetails(r.Context(), actor, chi.URLParam(r, "id"), model.UpdateInvitationDetailsParams{
		VisitorName:  req.VisitorName,
		VisitorPhone: req.VisitorPhone,
		VisitorEmail: req.VisitorEmail,
		Notes:        req.Notes,
	})
	if err != nil {
		writeError(w, err)
		return
	}

	audit.LogFromRequest(r, audit.Event{
		Type:           audit.EventInvitationUpdate,
		ActorID:        actor.ID,
		OrganizationID: actor.OrganizationID,
		Details:        map[string]interface{}{"invitation_id": inv.ID},
	})

	writeJSON(w, http.StatusOK, formatInvitation(inv, h.invitations.Now()))
}

// POST /v1/invitations/{id}/cancel
func (h *InvitationHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	actor := middleware.GetActor(r.Context())
	if actor == nil {
		writeError(w, apperrors.Unauthorized("Unauthorized"))
		return
	}

	inv, err := h.invitations.Cancel(r.Context(), actor, chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}

	audit.LogFromRequest(r, audit.Event{
		Type:           audit.EventInvitationCancel,
		ActorID:        actor.ID,
		OrganizationID: actor.OrganizationID,
		Details:        map[string]interface{}{"invitation_id": inv.ID},
	})

	writeJSON(w, http.StatusOK, formatInvitation(inv, h.invitations.Now()))
}

// GET /v1/invitations/{id}/qr.png?size=
func (h *InvitationHandler) QRImage(w http.ResponseWriter, r *http.Request) {
	actor := middleware.GetActor(r.Context())
	if actor == nil {
		writeError(w, apperrors.Unauthorized("Unauthorized"))
		return
	}

	inv, err := h.invitations.Get(r.Context(), actor, chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}

	size := h.qrSize
	if raw := r.URL.Query().Get("size"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			writeError(w, apperrors.InvalidInput("size", "must be an integer"))
			return
		}
		size = parsed
	}

	png, err := codec.RenderQR(inv.QRCode, size)
	if err != nil {
		writeError(w, apperrors.InvalidInput("size", err.Error()))
		return
	}

	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "private, no-store")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(png); err != nil {
		log.Debug().Err(err).Str("invitationId", inv.ID).Msg("failed to write qr image")
	}
}

// GET /v1/invitations/{id}/access-logs
func (h *InvitationHandler) AccessLogs(w http.ResponseWriter, r *http.Request) {
	actor := middleware.GetActor(r.Context())
	if actor == nil {
		writeError(w, apperrors.Unauthorized("Unauthorized"))
		return
	}

	inv, err := h.invitations.Get(r.Context(), actor, chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}

	p := ParsePagination(r)
	entries, err := h.logs.ListByInvitation(r.Context(), inv.ID, p.Limit, p.Offset)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"items":  formatAccessLogs(entries),
		"limit":  p.Limit,
		"offset": p.Offset,
	})
}
