package repository

import (
	"context"

	"github.com/jmoiron/sqlx"

	"github.com/gatepass/access-server/internal/database"
	"github.com/gatepass/access-server/internal/model"
)

// AccessLogRepository is append-only: it exposes no update or delete and the
// table trigger rejects both.
type AccessLogRepository interface {
	Append(ctx context.Context, entry *model.AccessLog) error
	FindByID(ctx context.Context, id string) (*model.AccessLog, error)
	ListByOrganization(ctx context.Context, orgID string, limit, offset int) ([]model.AccessLog, error)
	CountByOrganization(ctx context.Context, orgID string) (int, error)
	ListByInvitation(ctx context.Context, invitationID string, limit, offset int) ([]model.AccessLog, error)
	WithTx(tx *sqlx.Tx) AccessLogRepository
}

type accessLogRepo struct {
	db database.DBTX
}

func NewAccessLogRepository(db *sqlx.DB) AccessLogRepository {
	return &accessLogRepo{db: db}
}

func (r *accessLogRepo) WithTx(tx *sqlx.Tx) AccessLogRepository {
	return &accessLogRepo{db: tx}
}

// Append inserts the entry. Replaying an entry with an existing id is a no-op.
func (r *accessLogRepo) Append(ctx context.Context, entry *model.AccessLog) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO access_logs (
			id, organization_id, unit_id, invitation_id, visitor_name,
			direction, method, accessed_at, authorized_by, notes
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO NOTHING
	`, entry.ID, entry.OrganizationID, entry.UnitID, entry.InvitationID, entry.VisitorName,
		entry.Direction, entry.Method, entry.AccessedAt, entry.AuthorizedBy, entry.Notes)
	return err
}

func (r *accessLogRepo) FindByID(ctx context.Context, id string) (*model.AccessLog, error) {
	var entry model.AccessLog
	err := r.db.GetContext(ctx, &entry, `
		SELECT * FROM access_logs WHERE id = $1
	`, id)
	return HandleNotFound(&entry, err)
}

func (r *accessLogRepo) ListByOrganization(ctx context.Context, orgID string, limit, offset int) ([]model.AccessLog, error) {
	var entries []model.AccessLog
	err := r.db.SelectContext(ctx, &entries, `
		SELECT * FROM access_logs
		WHERE organization_id = $1
		ORDER BY accessed_at DESC
		LIMIT $2 OFFSET $3
	`, orgID, limit, offset)
	if err != nil {
		return nil, err
	}
	return entries, nil
}

func (r *accessLogRepo) CountByOrganization(ctx context.Context, orgID string) (int, error) {
	var count int
	err := r.db.GetContext(ctx, &count, `
		SELECT COUNT(*) FROM access_logs WHERE organization_id = $1
	`, orgID)
	return count, err
}

func (r *accessLogRepo) ListByInvitation(ctx context.Context, invitationID string, limit, offset int) ([]model.AccessLog, error) {
	var entries []model.AccessLog
	err := r.db.SelectContext(ctx, &entries, `
		SELECT * FROM access_logs
		WHERE invitation_id = $1
		ORDER BY accessed_at DESC
		LIMIT $2 OFFSET $3
	`, invitationID, limit, offset)
	if err != nil {
		return nil, err
	}
	return entries, nil
}
