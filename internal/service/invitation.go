package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/gatepass/access-server/internal/codec"
	"github.com/gatepass/access-server/internal/database"
	apperrors "github.com/gatepass/access-server/internal/errors"
	"github.com/gatepass/access-server/internal/model"
	"github.com/gatepass/access-server/internal/repository"
	"github.com/gatepass/access-server/internal/util"
)

const (
	shortCodeConstraint = "invitations_org_short_code_key"
	// createAttempts bounds inserts that lose a short code race to a
	// concurrent creation after the pre-check passed.
	createAttempts = 3
)

type CreateInvitationInput struct {
	UnitID       string
	VisitorName  string
	VisitorPhone *string
	VisitorEmail *string
	Notes        *string
	AccessType   model.AccessType
	MaxUses      *int
	ValidFrom    *time.Time
	ValidUntil   *time.Time
}

// InvitationService owns the invitation lifecycle: creation with credential
// derivation, lookup by credential, cancellation and consumption.
type InvitationService struct {
	repo  repository.InvitationRepository
	units repository.UnitRepository
	codec *codec.Codec
	now   func() time.Time
}

func NewInvitationService(
	repo repository.InvitationRepository,
	units repository.UnitRepository,
	c *codec.Codec,
) *InvitationService {
	return &InvitationService{
		repo:  repo,
		units: units,
		codec: c,
		now:   time.Now,
	}
}

func (s *InvitationService) Create(ctx context.Context, actor *model.Actor, in CreateInvitationInput) (*model.Invitation, error) {
	if !actor.CanCreateInvitations() {
		return nil, apperrors.Forbidden("Only residents and admins can create invitations")
	}

	now := s.now()
	params, appErr := validateCreateInput(in, now)
	if appErr != nil {
		return nil, appErr
	}

	unitID, err := s.resolveUnit(ctx, actor, in.UnitID)
	if err != nil {
		return nil, err
	}

	params.OrganizationID = actor.OrganizationID
	params.UnitID = unitID
	params.CreatedBy = actor.ID

	taken := func(ctx context.Context, code string) (bool, error) {
		return s.repo.ExistsByShortCode(ctx, actor.OrganizationID, code)
	}

	for attempt := 0; attempt < createAttempts; attempt++ {
		code, err := codec.GenerateShortCode(ctx, taken)
		if errors.Is(err, codec.ErrCodeGenerationExhausted) {
			log.Error().
				Str("organizationId", actor.OrganizationID).
				Msg("short code space exhausted")
			return nil, apperrors.CodeGenerationExhausted(err)
		}
		if err != nil {
			return nil, apperrors.Database(err)
		}

		params.ID = uuid.NewString()
		params.ShortCode = code
		params.QRCode = s.codec.QRPayload(params.ID)

		inv, err := s.repo.Create(ctx, params)
		if database.IsUniqueViolation(err, shortCodeConstraint) {
			log.Warn().
				Str("organizationId", actor.OrganizationID).
				Str("shortCode", util.MaskCode(code)).
				Int("attempt", attempt+1).
				Msg("short code taken concurrently, regenerating")
			continue
		}
		if err != nil {
			return nil, apperrors.Database(fmt.Errorf("create invitation: %w", err))
		}

		log.Info().
			Str("invitationId", inv.ID).
			Str("organizationId", inv.OrganizationID).
			Str("unitId", inv.UnitID).
			Str("accessType", string(inv.AccessType)).
			Str("shortCode", util.MaskCode(inv.ShortCode)).
			Msg("invitation created")

		return inv, nil
	}

	return nil, apperrors.CodeGenerationExhausted(codec.ErrCodeGenerationExhausted)
}

func validateCreateInput(in CreateInvitationInput, now time.Time) (model.CreateInvitationParams, *apperrors.AppError) {
	params := model.CreateInvitationParams{
		VisitorName:  strings.TrimSpace(in.VisitorName),
		VisitorPhone: trimOptional(in.VisitorPhone),
		VisitorEmail: trimOptional(in.VisitorEmail),
		Notes:        trimOptional(in.Notes),
		AccessType:   in.AccessType,
		ValidFrom:    now,
		ValidUntil:   in.ValidUntil,
	}

	if params.VisitorName == "" {
		return params, apperrors.FieldValidation("visitor_name", "must not be empty")
	}
	if params.VisitorEmail != nil && !util.IsValidEmail(*params.VisitorEmail) {
		return params, apperrors.FieldValidation("visitor_email", "is not a valid email address")
	}
	if !in.AccessType.Valid() {
		return params, apperrors.FieldValidation("access_type", "must be one of single, multiple, permanent, temporary")
	}
	if in.ValidFrom != nil {
		params.ValidFrom = *in.ValidFrom
	}

	switch in.AccessType {
	case model.AccessTypeSingle:
		if in.MaxUses != nil && *in.MaxUses != 1 {
			return params, apperrors.FieldValidation("max_uses", "must be 1 or omitted for single invitations")
		}
		one := 1
		params.MaxUses = &one
	case model.AccessTypeMultiple:
		if in.MaxUses == nil || *in.MaxUses < 1 {
			return params, apperrors.FieldValidation("max_uses", "must be at least 1 for multiple invitations")
		}
		params.MaxUses = in.MaxUses
	case model.AccessTypePermanent, model.AccessTypeTemporary:
		if in.MaxUses != nil {
			return params, apperrors.FieldValidation("max_uses", fmt.Sprintf("is not allowed for %s invitations", in.AccessType))
		}
	}

	if in.AccessType == model.AccessTypePermanent {
		if in.ValidUntil != nil {
			return params, apperrors.FieldValidation("valid_until", "is not allowed for permanent invitations")
		}
		return params, nil
	}

	if in.ValidUntil == nil {
		return params, apperrors.FieldValidation("valid_until", fmt.Sprintf("is required for %s invitations", in.AccessType))
	}
	if in.ValidUntil.Before(params.ValidFrom) {
		return params, apperrors.FieldValidation("valid_until", "must not be before valid_from")
	}

	return params, nil
}

func (s *InvitationService) resolveUnit(ctx context.Context, actor *model.Actor, requested string) (string, error) {
	if actor.Role == model.RoleResident {
		if actor.UnitID == "" {
			return "", apperrors.Forbidden("Resident is not assigned to a unit")
		}
		if requested != "" && requested != actor.UnitID {
			return "", apperrors.Forbidden("Residents can only invite to their own unit")
		}
		return actor.UnitID, nil
	}

	if requested == "" {
		return "", apperrors.FieldValidation("unit_id", "is required")
	}
	if !util.IsValidUUID(requested) {
		return "", apperrors.FieldValidation("unit_id", "must be a UUID")
	}

	unit, err := s.units.FindByID(ctx, requested)
	if err != nil {
		return "", apperrors.Database(err)
	}
	if unit == nil || unit.OrganizationID != actor.OrganizationID {
		return "", apperrors.NotFound("Unit")
	}
	return unit.ID, nil
}

// Get returns an invitation visible to the actor. Invitations of other
// organizations, or of other units for residents, are reported as not found.
func (s *InvitationService) Get(ctx context.Context, actor *model.Actor, id string) (*model.Invitation, error) {
	if !util.IsValidUUID(id) {
		return nil, apperrors.NotFound("Invitation")
	}

	inv, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, apperrors.Database(err)
	}
	if inv == nil || inv.OrganizationID != actor.OrganizationID {
		return nil, apperrors.NotFound("Invitation")
	}
	if actor.Role == model.RoleResident && !actor.CanManageUnit(inv.UnitID) {
		return nil, apperrors.NotFound("Invitation")
	}
	return inv, nil
}

// FindByCredential resolves a credential within an organization. QR
// payloads are verified first; decode failures are returned as
// codec.ErrMalformed or codec.ErrTampered. A miss yields repository.ErrNotFound.
func (s *InvitationService) FindByCredential(ctx context.Context, organizationID string, cred codec.Credential) (*model.Invitation, error) {
	var (
		inv *model.Invitation
		err error
	)

	switch cred.Kind {
	case codec.KindQR:
		id, decodeErr := s.codec.Decode(cred.Value)
		if decodeErr != nil {
			return nil, decodeErr
		}
		inv, err = s.repo.FindByID(ctx, id)
		if inv != nil && inv.OrganizationID != organizationID {
			inv = nil
		}
	case codec.KindShortCode:
		inv, err = s.repo.FindByShortCode(ctx, organizationID, cred.Value)
	default:
		return nil, fmt.Errorf("%w: unknown credential kind %q", codec.ErrMalformed, cred.Kind)
	}

	if err != nil {
		return nil, fmt.Errorf("find invitation by credential: %w", err)
	}
	if inv == nil {
		return nil, repository.ErrNotFound
	}
	return inv, nil
}

func (s *InvitationService) Cancel(ctx context.Context, actor *model.Actor, id string) (*model.Invitation, error) {
	inv, err := s.Get(ctx, actor, id)
	if err != nil {
		return nil, err
	}
	if !actor.CanManageUnit(inv.UnitID) {
		return nil, apperrors.Forbidden("Not allowed to cancel this invitation")
	}

	cancelled, err := s.repo.Cancel(ctx, inv.ID, actor.ID, s.now())
	switch {
	case errors.Is(err, repository.ErrNotActive):
		return nil, apperrors.AlreadyTerminal().WithDetails(map[string]string{
			"status": string(inv.EffectiveStatus(s.now())),
		})
	case errors.Is(err, repository.ErrNotFound):
		return nil, apperrors.NotFound("Invitation")
	case err != nil:
		return nil, apperrors.Database(fmt.Errorf("cancel invitation: %w", err))
	}

	log.Info().
		Str("invitationId", cancelled.ID).
		Str("actorId", actor.ID).
		Msg("invitation cancelled")

	return cancelled, nil
}

// Consume takes one use of the invitation. It returns repository.ErrExhausted
// when no use is left and repository.ErrNotFound when the invitation is gone.
func (s *InvitationService) Consume(ctx context.Context, id string) (*repository.ConsumeResult, error) {
	result, err := s.repo.Consume(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrExhausted) || errors.Is(err, repository.ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("consume invitation: %w", err)
	}
	return result, nil
}

func (s *InvitationService) UpdateDetails(ctx context.Context, actor *model.Actor, id string, params model.UpdateInvitationDetailsParams) (*model.Invitation, error) {
	inv, err := s.Get(ctx, actor, id)
	if err != nil {
		return nil, err
	}
	if !actor.CanManageUnit(inv.UnitID) {
		return nil, apperrors.Forbidden("Not allowed to edit this invitation")
	}

	if params.VisitorName != nil {
		name := strings.TrimSpace(*params.VisitorName)
		if name == "" {
			return nil, apperrors.FieldValidation("visitor_name", "must not be empty")
		}
		params.VisitorName = &name
	}
	params.VisitorPhone = trimOptional(params.VisitorPhone)
	params.VisitorEmail = trimOptional(params.VisitorEmail)
	params.Notes = trimOptional(params.Notes)
	if params.VisitorEmail != nil && !util.IsValidEmail(*params.VisitorEmail) {
		return nil, apperrors.FieldValidation("visitor_email", "is not a valid email address")
	}

	updated, err := s.repo.UpdateDetails(ctx, inv.ID, params, s.now())
	switch {
	case errors.Is(err, repository.ErrNotActive):
		return nil, apperrors.InvitationLocked()
	case errors.Is(err, repository.ErrNotFound):
		return nil, apperrors.NotFound("Invitation")
	case err != nil:
		return nil, apperrors.Database(fmt.Errorf("update invitation: %w", err))
	}
	return updated, nil
}

// ListForUnit pages through a unit's invitations, newest first. Residents
// always see their own unit.
func (s *InvitationService) ListForUnit(ctx context.Context, actor *model.Actor, unitID string, limit, offset int) ([]model.Invitation, int, error) {
	if actor.Role == model.RoleResident {
		unitID = actor.UnitID
	}
	if unitID == "" {
		return nil, 0, apperrors.FieldValidation("unit_id", "is required")
	}
	if !actor.CanManageUnit(unitID) && actor.Role != model.RoleGuard {
		return nil, 0, apperrors.Forbidden("Not allowed to list invitations of this unit")
	}

	invitations, err := s.repo.ListByUnit(ctx, actor.OrganizationID, unitID, limit, offset)
	if err != nil {
		return nil, 0, apperrors.Database(err)
	}
	total, err := s.repo.CountByUnit(ctx, actor.OrganizationID, unitID)
	if err != nil {
		return nil, 0, apperrors.Database(err)
	}
	return invitations, total, nil
}

// Now exposes the service clock so display code derives status at the same instant.
func (s *InvitationService) Now() time.Time {
	return s.now()
}

func trimOptional(v *string) *string {
	if v == nil {
		return nil
	}
	trimmed := strings.TrimSpace(*v)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}
