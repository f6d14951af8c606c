package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	apperrors "github.com/gatepass/access-server/internal/errors"
	"github.com/gatepass/access-server/internal/model"
	"github.com/gatepass/access-server/internal/repository"
)

// ErrLogWrite wraps storage failures while appending to the access ledger.
var ErrLogWrite = errors.New("access log write failed")

type RecordInput struct {
	OrganizationID string
	UnitID         *string
	InvitationID   *string
	VisitorName    string
	Direction      model.Direction
	Method         model.AccessMethod
	AuthorizedBy   string
	Notes          *string
}

// AccessLogRecorder appends immutable access records. Identifiers and
// timestamps are always assigned here, never taken from the caller.
type AccessLogRecorder struct {
	repo repository.AccessLogRepository
	now  func() time.Time
}

func NewAccessLogRecorder(repo repository.AccessLogRepository) *AccessLogRecorder {
	return &AccessLogRecorder{
		repo: repo,
		now:  time.Now,
	}
}

// NewEntry validates the input and stamps a fresh id and server time.
func (r *AccessLogRecorder) NewEntry(in RecordInput) (*model.AccessLog, error) {
	if !in.Direction.Valid() {
		return nil, apperrors.FieldValidation("direction", "must be entry or exit")
	}
	if !in.Method.Valid() {
		return nil, apperrors.FieldValidation("method", "is not a supported access method")
	}
	name := strings.TrimSpace(in.VisitorName)
	if name == "" {
		return nil, apperrors.FieldValidation("visitor_name", "must not be empty")
	}
	if in.OrganizationID == "" || in.AuthorizedBy == "" {
		return nil, apperrors.Internal("access log entry is missing its scope")
	}

	return &model.AccessLog{
		ID:             uuid.NewString(),
		OrganizationID: in.OrganizationID,
		UnitID:         in.UnitID,
		InvitationID:   in.InvitationID,
		VisitorName:    name,
		Direction:      in.Direction,
		Method:         in.Method,
		AccessedAt:     r.now().UTC(),
		AuthorizedBy:   in.AuthorizedBy,
		Notes:          trimOptional(in.Notes),
	}, nil
}

// Write persists a prepared entry. Writing the same entry twice stores it once.
func (r *AccessLogRecorder) Write(ctx context.Context, entry *model.AccessLog) error {
	if err := r.repo.Append(ctx, entry); err != nil {
		return fmt.Errorf("%w: %w", ErrLogWrite, err)
	}
	return nil
}

// Append validates, stamps and writes an entry, returning its id.
func (r *AccessLogRecorder) Append(ctx context.Context, in RecordInput) (string, error) {
	entry, err := r.NewEntry(in)
	if err != nil {
		return "", err
	}
	if err := r.Write(ctx, entry); err != nil {
		return "", err
	}
	return entry.ID, nil
}

func (r *AccessLogRecorder) ListByOrganization(ctx context.Context, organizationID string, limit, offset int) ([]model.AccessLog, int, error) {
	entries, err := r.repo.ListByOrganization(ctx, organizationID, limit, offset)
	if err != nil {
		return nil, 0, apperrors.Database(err)
	}
	total, err := r.repo.CountByOrganization(ctx, organizationID)
	if err != nil {
		return nil, 0, apperrors.Database(err)
	}
	return entries, total, nil
}

func (r *AccessLogRecorder) ListByInvitation(ctx context.Context, invitationID string, limit, offset int) ([]model.AccessLog, error) {
	entries, err := r.repo.ListByInvitation(ctx, invitationID, limit, offset)
	if err != nil {
		return nil, apperrors.Database(err)
	}
	return entries, nil
}
