package handler

import (
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/gatepass/access-server/internal/model"
	"github.com/gatepass/access-server/internal/repository"
)

func TestAccessHandler_Scan(t *testing.T) {
	t.Run("grants a valid short code", func(t *testing.T) {
		f := newFixture()
		h := NewAccessHandler(f.authorizer, f.recorder)

		f.invitations.On("FindByShortCode", mock.Anything, orgID, "ABCD-EFGH").Return(f.invitation(), nil)
		f.invitations.On("Consume", mock.Anything, invID).
			Return(&repository.ConsumeResult{CurrentUses: 1, Status: model.InvitationStatusUsed}, nil)
		f.logs.On("Append", mock.Anything, mock.MatchedBy(func(e *model.AccessLog) bool {
			return *e.InvitationID == invID && e.Method == model.AccessMethodManualCode && e.AuthorizedBy == "guard-1"
		})).Return(nil)

		rec := serve(h.Routes(), http.MethodPost, "/scan", `{"credential":"abcd efgh","direction":"entry"}`, guard())

		require.Equal(t, http.StatusOK, rec.Code)
		body := decodeBody(t, rec)
		assert.Equal(t, true, body["granted"])
		assert.Equal(t, float64(1), body["current_uses"])
		assert.NotEmpty(t, body["log_id"])
		assert.Nil(t, body["warning"])
		f.logs.AssertExpectations(t)
	})

	t.Run("denial is a 200 with a reason", func(t *testing.T) {
		f := newFixture()
		h := NewAccessHandler(f.authorizer, f.recorder)

		f.invitations.On("FindByShortCode", mock.Anything, orgID, "ZZZZ-ZZZZ").Return(nil, nil)

		rec := serve(h.Routes(), http.MethodPost, "/scan", `{"credential":"ZZZZ-ZZZZ","direction":"exit"}`, guard())

		require.Equal(t, http.StatusOK, rec.Code)
		body := decodeBody(t, rec)
		assert.Equal(t, false, body["granted"])
		assert.Equal(t, "NOT_FOUND", body["reason"])
	})

	t.Run("flags a failed ledger write", func(t *testing.T) {
		f := newFixture()
		h := NewAccessHandler(f.authorizer, f.recorder)

		f.invitations.On("FindByID", mock.Anything, invID).Return(f.invitation(), nil)
		f.invitations.On("Consume", mock.Anything, invID).
			Return(&repository.ConsumeResult{CurrentUses: 1, Status: model.InvitationStatusUsed}, nil)
		f.logs.On("Append", mock.Anything, mock.Anything).Return(errors.New("connection reset"))

		rec := serve(h.Routes(), http.MethodPost, "/scan",
			`{"credential":"`+f.codec.QRPayload(invID)+`","direction":"entry"}`, guard())

		require.Equal(t, http.StatusOK, rec.Code)
		body := decodeBody(t, rec)
		assert.Equal(t, true, body["granted"])
		assert.Equal(t, "LOG_WRITE_FAILED", body["warning"])
	})

	t.Run("residents cannot scan", func(t *testing.T) {
		f := newFixture()
		h := NewAccessHandler(f.authorizer, f.recorder)

		rec := serve(h.Routes(), http.MethodPost, "/scan", `{"credential":"ABCD-EFGH","direction":"entry"}`, resident())

		assert.Equal(t, http.StatusForbidden, rec.Code)
	})

	t.Run("rejects unknown direction", func(t *testing.T) {
		f := newFixture()
		h := NewAccessHandler(f.authorizer, f.recorder)

		rec := serve(h.Routes(), http.MethodPost, "/scan", `{"credential":"ABCD-EFGH","direction":"up"}`, guard())

		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Contains(t, rec.Body.String(), "direction")
	})
}

func TestAccessHandler_ManualEntry(t *testing.T) {
	t.Run("records the entry", func(t *testing.T) {
		f := newFixture()
		h := NewAccessHandler(f.authorizer, f.recorder)

		f.units.On("FindByNumber", mock.Anything, orgID, "4B").
			Return(&model.Unit{ID: unitID, OrganizationID: orgID, Number: "4B"}, nil)
		f.logs.On("Append", mock.Anything, mock.MatchedBy(func(e *model.AccessLog) bool {
			return e.InvitationID == nil && *e.UnitID == unitID && e.Method == model.AccessMethodManualEntry
		})).Return(nil)

		rec := serve(h.Routes(), http.MethodPost, "/manual",
			`{"visitor_name":"Courier","unit_reference":"4B","direction":"entry","notes":"parcel"}`, guard())

		require.Equal(t, http.StatusCreated, rec.Code)
		assert.NotEmpty(t, decodeBody(t, rec)["log_id"])
		f.logs.AssertExpectations(t)
	})

	t.Run("unknown unit", func(t *testing.T) {
		f := newFixture()
		h := NewAccessHandler(f.authorizer, f.recorder)

		f.units.On("FindByNumber", mock.Anything, orgID, "99Z").Return(nil, nil)

		rec := serve(h.Routes(), http.MethodPost, "/manual",
			`{"visitor_name":"Courier","unit_reference":"99Z","direction":"entry"}`, guard())

		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "UNIT_NOT_FOUND", decodeBody(t, rec)["reason"])
		f.logs.AssertNotCalled(t, "Append", mock.Anything, mock.Anything)
	})
}

func TestAccessHandler_Logs(t *testing.T) {
	t.Run("lists the organization ledger", func(t *testing.T) {
		f := newFixture()
		h := NewAccessHandler(f.authorizer, f.recorder)

		inv := invID
		f.logs.On("ListByOrganization", mock.Anything, orgID, 10, 20).Return([]model.AccessLog{{
			ID:             "log-1",
			OrganizationID: orgID,
			InvitationID:   &inv,
			VisitorName:    "Ana",
			Direction:      model.DirectionEntry,
			Method:         model.AccessMethodQRScan,
			AccessedAt:     time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC),
			AuthorizedBy:   "guard-1",
		}}, nil)
		f.logs.On("CountByOrganization", mock.Anything, orgID).Return(21, nil)

		rec := serve(h.Routes(), http.MethodGet, "/logs?limit=10&offset=20", "", guard())

		require.Equal(t, http.StatusOK, rec.Code)
		body := decodeBody(t, rec)
		assert.Equal(t, float64(21), body["total"])
		items := body["items"].([]any)
		require.Len(t, items, 1)
		assert.Equal(t, "2026-03-14T12:00:00Z", items[0].(map[string]any)["accessed_at"])
	})

	t.Run("residents cannot read the ledger", func(t *testing.T) {
		f := newFixture()
		h := NewAccessHandler(f.authorizer, f.recorder)

		rec := serve(h.Routes(), http.MethodGet, "/logs", "", resident())

		assert.Equal(t, http.StatusForbidden, rec.Code)
	})
}
