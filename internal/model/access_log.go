package model

import (
	"time"
)

// AccessLog is an immutable record of one entry or exit at a checkpoint.
type AccessLog struct {
	ID             string       `db:"id" json:"id"`
	OrganizationID string       `db:"organization_id" json:"organization_id"`
	UnitID         *string      `db:"unit_id" json:"unit_id,omitempty"`
	InvitationID   *string      `db:"invitation_id" json:"invitation_id,omitempty"`
	VisitorName    string       `db:"visitor_name" json:"visitor_name"`
	Direction      Direction    `db:"direction" json:"direction"`
	Method         AccessMethod `db:"method" json:"method"`
	AccessedAt     time.Time    `db:"accessed_at" json:"accessed_at"`
	AuthorizedBy   string       `db:"authorized_by" json:"authorized_by"`
	Notes          *string      `db:"notes" json:"notes,omitempty"`
}
