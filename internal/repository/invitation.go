package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/gatepass/access-server/internal/database"
	"github.com/gatepass/access-server/internal/model"
)

// ConsumeResult is the state of an invitation right after a successful consume.
type ConsumeResult struct {
	CurrentUses int                    `db:"current_uses"`
	Status      model.InvitationStatus `db:"status"`
}

type InvitationRepository interface {
	Create(ctx context.Context, params model.CreateInvitationParams) (*model.Invitation, error)
	FindByID(ctx context.Context, id string) (*model.Invitation, error)
	FindByShortCode(ctx context.Context, orgID, code string) (*model.Invitation, error)
	ExistsByShortCode(ctx context.Context, orgID, code string) (bool, error)
	ListByUnit(ctx context.Context, orgID, unitID string, limit, offset int) ([]model.Invitation, error)
	CountByUnit(ctx context.Context, orgID, unitID string) (int, error)
	UpdateDetails(ctx context.Context, id string, params model.UpdateInvitationDetailsParams, now time.Time) (*model.Invitation, error)
	Cancel(ctx context.Context, id, cancelledBy string, now time.Time) (*model.Invitation, error)
	Consume(ctx context.Context, id string) (*ConsumeResult, error)
	// WithTx returns a new repository that uses the given transaction
	WithTx(tx *sqlx.Tx) InvitationRepository
}

type invitationRepo struct {
	db database.DBTX
}

func NewInvitationRepository(db *sqlx.DB) InvitationRepository {
	return &invitationRepo{db: db}
}

func (r *invitationRepo) WithTx(tx *sqlx.Tx) InvitationRepository {
	return &invitationRepo{db: tx}
}

func (r *invitationRepo) Create(ctx context.Context, params model.CreateInvitationParams) (*model.Invitation, error) {
	var inv model.Invitation
	err := r.db.GetContext(ctx, &inv, `
		INSERT INTO invitations (
			id, organization_id, unit_id, visitor_name, visitor_phone, visitor_email, notes,
			access_type, max_uses, valid_from, valid_until, short_code, qr_code, created_by
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		RETURNING *
	`, params.ID, params.OrganizationID, params.UnitID, params.VisitorName,
		params.VisitorPhone, params.VisitorEmail, params.Notes,
		params.AccessType, params.MaxUses, params.ValidFrom, params.ValidUntil,
		params.ShortCode, params.QRCode, params.CreatedBy)
	if err != nil {
		return nil, err
	}
	return &inv, nil
}

func (r *invitationRepo) FindByID(ctx context.Context, id string) (*model.Invitation, error) {
	var inv model.Invitation
	err := r.db.GetContext(ctx, &inv, `
		SELECT * FROM invitations WHERE id = $1
	`, id)
	return HandleNotFound(&inv, err)
}

// FindByShortCode expects the code in canonical upper-case form.
func (r *invitationRepo) FindByShortCode(ctx context.Context, orgID, code string) (*model.Invitation, error) {
	var inv model.Invitation
	err := r.db.GetContext(ctx, &inv, `
		SELECT * FROM invitations
		WHERE organization_id = $1 AND short_code = UPPER($2)
	`, orgID, code)
	return HandleNotFound(&inv, err)
}

func (r *invitationRepo) ExistsByShortCode(ctx context.Context, orgID, code string) (bool, error) {
	var exists bool
	err := r.db.GetContext(ctx, &exists, `
		SELECT EXISTS(SELECT 1 FROM invitations WHERE organization_id = $1 AND short_code = UPPER($2))
	`, orgID, code)
	return exists, err
}

func (r *invitationRepo) ListByUnit(ctx context.Context, orgID, unitID string, limit, offset int) ([]model.Invitation, error) {
	var invitations []model.Invitation
	err := r.db.SelectContext(ctx, &invitations, `
		SELECT * FROM invitations
		WHERE organization_id = $1 AND unit_id = $2
		ORDER BY created_at DESC
		LIMIT $3 OFFSET $4
	`, orgID, unitID, limit, offset)
	if err != nil {
		return nil, err
	}
	return invitations, nil
}

func (r *invitationRepo) CountByUnit(ctx context.Context, orgID, unitID string) (int, error) {
	var count int
	err := r.db.GetContext(ctx, &count, `
		SELECT COUNT(*) FROM invitations WHERE organization_id = $1 AND unit_id = $2
	`, orgID, unitID)
	return count, err
}

// UpdateDetails rewrites descriptive fields while the invitation is active
// and unused. It returns ErrNotActive once the invitation is locked.
func (r *invitationRepo) UpdateDetails(ctx context.Context, id string, params model.UpdateInvitationDetailsParams, now time.Time) (*model.Invitation, error) {
	var inv model.Invitation
	err := r.db.GetContext(ctx, &inv, `
		UPDATE invitations SET
			visitor_name = COALESCE($2, visitor_name),
			visitor_phone = COALESCE($3, visitor_phone),
			visitor_email = COALESCE($4, visitor_email),
			notes = COALESCE($5, notes),
			updated_at = $6
		WHERE id = $1
		AND status = 'active'
		AND current_uses = 0
		AND (valid_until IS NULL OR valid_until >= $6)
		RETURNING *
	`, id, params.VisitorName, params.VisitorPhone, params.VisitorEmail, params.Notes, now)
	found, err := HandleNotFound(&inv, err)
	if err != nil {
		return nil, err
	}
	if found == nil {
		return nil, r.missOrInactive(ctx, id)
	}
	return found, nil
}

// Cancel moves an active, unexpired invitation to cancelled. It returns
// ErrNotActive when the invitation is already used, cancelled or expired.
func (r *invitationRepo) Cancel(ctx context.Context, id, cancelledBy string, now time.Time) (*model.Invitation, error) {
	var inv model.Invitation
	err := r.db.GetContext(ctx, &inv, `
		UPDATE invitations SET
			status = 'cancelled',
			cancelled_at = $3,
			cancelled_by = $2,
			updated_at = $3
		WHERE id = $1
		AND status = 'active'
		AND (valid_until IS NULL OR valid_until >= $3)
		RETURNING *
	`, id, cancelledBy, now)
	found, err := HandleNotFound(&inv, err)
	if err != nil {
		return nil, err
	}
	if found == nil {
		return nil, r.missOrInactive(ctx, id)
	}
	return found, nil
}

// Consume takes one use in a single conditional statement. Concurrent
// callers racing for the last use see exactly one success; the others get
// ErrExhausted.
func (r *invitationRepo) Consume(ctx context.Context, id string) (*ConsumeResult, error) {
	var result ConsumeResult
	err := r.db.GetContext(ctx, &result, `
		UPDATE invitations SET
			current_uses = current_uses + 1,
			status = CASE
				WHEN max_uses IS NOT NULL AND current_uses + 1 >= max_uses THEN 'used'
				ELSE status
			END,
			updated_at = NOW()
		WHERE id = $1
		AND status = 'active'
		AND (max_uses IS NULL OR current_uses < max_uses)
		RETURNING current_uses, status
	`, id)
	found, err := HandleNotFound(&result, err)
	if err != nil {
		return nil, err
	}
	if found != nil {
		return found, nil
	}

	exists, err := r.exists(ctx, id)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, ErrNotFound
	}
	return nil, ErrExhausted
}

func (r *invitationRepo) exists(ctx context.Context, id string) (bool, error) {
	var exists bool
	if err := r.db.GetContext(ctx, &exists, `
		SELECT EXISTS(SELECT 1 FROM invitations WHERE id = $1)
	`, id); err != nil {
		return false, fmt.Errorf("probe invitation: %w", err)
	}
	return exists, nil
}

func (r *invitationRepo) missOrInactive(ctx context.Context, id string) error {
	exists, err := r.exists(ctx, id)
	if err != nil {
		return err
	}
	if !exists {
		return ErrNotFound
	}
	return ErrNotActive
}
