package handler

import (
	"encoding/json"
	"net/http"
	"time"

	apperrors "github.com/gatepass/access-server/internal/errors"
	"github.com/gatepass/access-server/internal/httputil"
	"github.com/gatepass/access-server/internal/model"
)

func writeJSON(w http.ResponseWriter, status int, data any) {
	httputil.WriteJSON(w, status, data)
}

func writeError(w http.ResponseWriter, err error) {
	httputil.WriteError(w, err)
}

func decodeJSON(r *http.Request, dst any) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil {
		return apperrors.ValidationError("Invalid request body")
	}
	return nil
}

func formatTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC().Format(time.RFC3339)
}

// formatInvitation renders an invitation with the status a guard would see
// at now.
func formatInvitation(inv *model.Invitation, now time.Time) map[string]any {
	return map[string]any{
		"id":               inv.ID,
		"unit_id":          inv.UnitID,
		"visitor_name":     inv.VisitorName,
		"visitor_phone":    inv.VisitorPhone,
		"visitor_email":    inv.VisitorEmail,
		"notes":            inv.Notes,
		"access_type":      inv.AccessType,
		"max_uses":         inv.MaxUses,
		"current_uses":     inv.CurrentUses,
		"remaining_uses":   inv.RemainingUses(),
		"valid_from":       formatTime(&inv.ValidFrom),
		"valid_until":      formatTime(inv.ValidUntil),
		"short_code":       inv.ShortCode,
		"qr_code":          inv.QRCode,
		"status":           inv.Status,
		"effective_status": model.DeriveStatus(inv, now),
		"created_by":       inv.CreatedBy,
		"cancelled_at":     formatTime(inv.CancelledAt),
		"created_at":       formatTime(&inv.CreatedAt),
	}
}

func formatAccessLog(entry model.AccessLog) map[string]any {
	return map[string]any{
		"id":            entry.ID,
		"unit_id":       entry.UnitID,
		"invitation_id": entry.InvitationID,
		"visitor_name":  entry.VisitorName,
		"direction":     entry.Direction,
		"method":        entry.Method,
		"accessed_at":   formatTime(&entry.AccessedAt),
		"authorized_by": entry.AuthorizedBy,
		"notes":         entry.Notes,
	}
}

func formatAccessLogs(entries []model.AccessLog) []map[string]any {
	out := make([]map[string]any, 0, len(entries))
	for _, entry := range entries {
		out = append(out, formatAccessLog(entry))
	}
	return out
}

func paginated(items any, total int, p PaginationParams) map[string]any {
	return map[string]any{
		"items":  items,
		"total":  total,
		"limit":  p.Limit,
		"offset": p.Offset,
	}
}
