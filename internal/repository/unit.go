package repository

import (
	"context"

	"github.com/jmoiron/sqlx"

	"github.com/gatepass/access-server/internal/database"
	"github.com/gatepass/access-server/internal/model"
)

type UnitRepository interface {
	FindByID(ctx context.Context, id string) (*model.Unit, error)
	// FindByNumber matches the unit number case-insensitively within an organization.
	FindByNumber(ctx context.Context, orgID, number string) (*model.Unit, error)
}

type unitRepo struct {
	db database.DBTX
}

func NewUnitRepository(db *sqlx.DB) UnitRepository {
	return &unitRepo{db: db}
}

func (r *unitRepo) FindByID(ctx context.Context, id string) (*model.Unit, error) {
	var unit model.Unit
	err := r.db.GetContext(ctx, &unit, `
		SELECT * FROM units WHERE id = $1
	`, id)
	return HandleNotFound(&unit, err)
}

func (r *unitRepo) FindByNumber(ctx context.Context, orgID, number string) (*model.Unit, error) {
	var unit model.Unit
	err := r.db.GetContext(ctx, &unit, `
		SELECT * FROM units
		WHERE organization_id = $1 AND UPPER(number) = UPPER($2)
	`, orgID, number)
	return HandleNotFound(&unit, err)
}
