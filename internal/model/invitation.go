package model

import (
	"time"
)

// Invitation is a visitor access authorization with a validity window and a
// usage budget.
type Invitation struct {
	ID             string           `db:"id" json:"id"`
	OrganizationID string           `db:"organization_id" json:"organization_id"`
	UnitID         string           `db:"unit_id" json:"unit_id"`
	VisitorName    string           `db:"visitor_name" json:"visitor_name"`
	VisitorPhone   *string          `db:"visitor_phone" json:"visitor_phone,omitempty"`
	VisitorEmail   *string          `db:"visitor_email" json:"visitor_email,omitempty"`
	Notes          *string          `db:"notes" json:"notes,omitempty"`
	AccessType     AccessType       `db:"access_type" json:"access_type"`
	MaxUses        *int             `db:"max_uses" json:"max_uses,omitempty"`
	CurrentUses    int              `db:"current_uses" json:"current_uses"`
	ValidFrom      time.Time        `db:"valid_from" json:"valid_from"`
	ValidUntil     *time.Time       `db:"valid_until" json:"valid_until,omitempty"`
	ShortCode      string           `db:"short_code" json:"short_code"`
	QRCode         string           `db:"qr_code" json:"qr_code"`
	Status         InvitationStatus `db:"status" json:"status"`
	CreatedBy      string           `db:"created_by" json:"created_by"`
	CancelledAt    *time.Time       `db:"cancelled_at" json:"cancelled_at,omitempty"`
	CancelledBy    *string          `db:"cancelled_by" json:"cancelled_by,omitempty"`
	CreatedAt      time.Time        `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time        `db:"updated_at" json:"updated_at"`
}

type CreateInvitationParams struct {
	ID             string
	OrganizationID string
	UnitID         string
	VisitorName    string
	VisitorPhone   *string
	VisitorEmail   *string
	Notes          *string
	AccessType     AccessType
	MaxUses        *int
	ValidFrom      time.Time
	ValidUntil     *time.Time
	ShortCode      string
	QRCode         string
	CreatedBy      string
}

// UpdateInvitationDetailsParams carries the descriptive fields that may
// change before the first use. Nil fields are left untouched.
type UpdateInvitationDetailsParams struct {
	VisitorName  *string
	VisitorPhone *string
	VisitorEmail *string
	Notes        *string
}

// DeriveStatus projects the presentable state of an invitation at now.
// Stored terminal flags win over time; expiry is computed, never persisted.
func DeriveStatus(inv *Invitation, now time.Time) InvitationStatus {
	switch {
	case inv.Status == InvitationStatusCancelled:
		return InvitationStatusCancelled
	case inv.Status == InvitationStatusUsed:
		return InvitationStatusUsed
	case inv.ValidUntil != nil && now.After(*inv.ValidUntil):
		return InvitationStatusExpired
	default:
		return InvitationStatusActive
	}
}

// EffectiveStatus is DeriveStatus bound to the invitation.
func (inv *Invitation) EffectiveStatus(now time.Time) InvitationStatus {
	return DeriveStatus(inv, now)
}

// NotYetValid reports whether now is before the start of the validity window.
func (inv *Invitation) NotYetValid(now time.Time) bool {
	return now.Before(inv.ValidFrom)
}

// RemainingUses returns nil for invitations without a consumption limit.
func (inv *Invitation) RemainingUses() *int {
	if inv.MaxUses == nil {
		return nil
	}
	remaining := *inv.MaxUses - inv.CurrentUses
	if remaining < 0 {
		remaining = 0
	}
	return &remaining
}
