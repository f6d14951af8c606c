package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/gatepass/access-server/internal/audit"
	"github.com/gatepass/access-server/internal/codec"
	apperrors "github.com/gatepass/access-server/internal/errors"
	"github.com/gatepass/access-server/internal/gate"
	"github.com/gatepass/access-server/internal/model"
	"github.com/gatepass/access-server/internal/repository"
	"github.com/gatepass/access-server/internal/sse"
)

type DenialReason string

const (
	ReasonInvalidCredential DenialReason = "INVALID_CREDENTIAL"
	ReasonNotFound          DenialReason = "NOT_FOUND"
	ReasonNotActive         DenialReason = "INVITATION_NOT_ACTIVE"
	ReasonNotYetValid       DenialReason = "NOT_YET_VALID"
	ReasonAlreadyExhausted  DenialReason = "ALREADY_EXHAUSTED"
	ReasonUnitNotFound      DenialReason = "UNIT_NOT_FOUND"
	ReasonTimeout           DenialReason = "TIMEOUT"
)

// WarningLogWriteFailed marks a grant whose ledger entry is pending reconciliation.
const WarningLogWriteFailed = "LOG_WRITE_FAILED"

const sideEffectTimeout = 3 * time.Second

// AuthorizationResult is the outcome of a scan or manual entry. Denials are
// results, not errors.
type AuthorizationResult struct {
	Granted      bool                   `json:"granted"`
	Reason       DenialReason           `json:"reason,omitempty"`
	Status       model.InvitationStatus `json:"status,omitempty"`
	LogID        string                 `json:"log_id,omitempty"`
	InvitationID string                 `json:"invitation_id,omitempty"`
	VisitorName  string                 `json:"visitor_name,omitempty"`
	CurrentUses  *int                   `json:"current_uses,omitempty"`
	Warning      string                 `json:"warning,omitempty"`
}

func denied(reason DenialReason) *AuthorizationResult {
	return &AuthorizationResult{Granted: false, Reason: reason}
}

type ScanInput struct {
	Credential string
	// Method optionally forces how the credential is read (qr_scan or manual_code).
	Method    model.AccessMethod
	Direction model.Direction
	GateID    string
}

type ManualEntryInput struct {
	VisitorName   string
	UnitReference string
	Direction     model.Direction
	Method        model.AccessMethod
	Notes         *string
	GateID        string
}

// EventPublisher pushes live access decisions to connected guard consoles.
type EventPublisher interface {
	Publish(ctx context.Context, organizationID, eventType string, payload any) error
}

// AccessEvent is the live notification payload for a decision.
type AccessEvent struct {
	AuthorizationResult
	Direction model.Direction    `json:"direction"`
	Method    model.AccessMethod `json:"method,omitempty"`
	GuardID   string             `json:"guard_id"`
	GateID    string             `json:"gate_id,omitempty"`
	At        time.Time          `json:"at"`
}

// AccessAuthorizer decides whether a presented credential admits a visitor
// and records every grant in the access ledger.
type AccessAuthorizer struct {
	invitations *InvitationService
	units       repository.UnitRepository
	recorder    *AccessLogRecorder
	queue       LogQueue
	events      EventPublisher
	gate        gate.Opener
	timeout     time.Duration
	now         func() time.Time
}

func NewAccessAuthorizer(
	invitations *InvitationService,
	units repository.UnitRepository,
	recorder *AccessLogRecorder,
	queue LogQueue,
	events EventPublisher,
	opener gate.Opener,
	timeout time.Duration,
) *AccessAuthorizer {
	if opener == nil {
		opener = gate.NoopOpener{}
	}
	return &AccessAuthorizer{
		invitations: invitations,
		units:       units,
		recorder:    recorder,
		queue:       queue,
		events:      events,
		gate:        opener,
		timeout:     timeout,
		now:         time.Now,
	}
}

// Authorize validates a credential and, when it admits the visitor, consumes
// one use and appends the ledger entry. Entry and exit both consume a use.
func (a *AccessAuthorizer) Authorize(ctx context.Context, actor *model.Actor, in ScanInput) (*AuthorizationResult, error) {
	if !actor.CanAuthorizeAccess() {
		return nil, apperrors.Forbidden("Only guards and admins can authorize access")
	}
	if !in.Direction.Valid() {
		return nil, apperrors.FieldValidation("direction", "must be entry or exit")
	}
	if strings.TrimSpace(in.Credential) == "" {
		return nil, apperrors.FieldValidation("credential", "must not be empty")
	}

	scanCtx, cancel := a.withTimeout(ctx)
	defer cancel()

	method := model.AccessMethodQRScan
	result, err := a.authorize(scanCtx, actor, in, &method)
	if err != nil {
		if !isTimeout(err) && scanCtx.Err() == nil {
			if apperrors.IsAppError(err) {
				return nil, err
			}
			log.Error().Err(err).Str("actorId", actor.ID).Msg("access authorization failed")
			return nil, apperrors.Database(err)
		}
		log.Warn().Str("actorId", actor.ID).Msg("access authorization timed out")
		result = denied(ReasonTimeout)
	}

	a.announce(ctx, actor, result, in.Direction, method, in.GateID)
	return result, nil
}

func (a *AccessAuthorizer) authorize(ctx context.Context, actor *model.Actor, in ScanInput, method *model.AccessMethod) (*AuthorizationResult, error) {
	cred, err := codec.ParseCredential(in.Credential, in.Method)
	if err != nil {
		return denied(ReasonInvalidCredential), nil
	}
	*method = cred.Method()

	inv, err := a.invitations.FindByCredential(ctx, actor.OrganizationID, cred)
	switch {
	case errors.Is(err, codec.ErrMalformed), errors.Is(err, codec.ErrTampered):
		log.Warn().Err(err).Str("actorId", actor.ID).Msg("credential rejected")
		return denied(ReasonInvalidCredential), nil
	case errors.Is(err, repository.ErrNotFound):
		return denied(ReasonNotFound), nil
	case err != nil:
		return nil, err
	}

	now := a.now()
	if status := model.DeriveStatus(inv, now); status != model.InvitationStatusActive {
		reason := ReasonNotActive
		if status == model.InvitationStatusUsed {
			// A used invitation lost the consume race or ran out; both read
			// the same to the guard.
			reason = ReasonAlreadyExhausted
		}
		result := denied(reason)
		result.Status = status
		result.InvitationID = inv.ID
		result.VisitorName = inv.VisitorName
		return result, nil
	}
	if inv.NotYetValid(now) {
		result := denied(ReasonNotYetValid)
		result.InvitationID = inv.ID
		result.VisitorName = inv.VisitorName
		return result, nil
	}

	entry, err := a.recorder.NewEntry(RecordInput{
		OrganizationID: inv.OrganizationID,
		UnitID:         &inv.UnitID,
		InvitationID:   &inv.ID,
		VisitorName:    inv.VisitorName,
		Direction:      in.Direction,
		Method:         cred.Method(),
		AuthorizedBy:   actor.ID,
	})
	if err != nil {
		return nil, err
	}

	consumed, err := a.invitations.Consume(ctx, inv.ID)
	switch {
	case errors.Is(err, repository.ErrExhausted):
		result := denied(ReasonAlreadyExhausted)
		result.InvitationID = inv.ID
		result.VisitorName = inv.VisitorName
		return result, nil
	case errors.Is(err, repository.ErrNotFound):
		return denied(ReasonNotFound), nil
	case err != nil:
		return nil, err
	}

	uses := consumed.CurrentUses
	result := &AuthorizationResult{
		Granted:      true,
		Status:       consumed.Status,
		InvitationID: inv.ID,
		VisitorName:  inv.VisitorName,
		CurrentUses:  &uses,
	}

	// From here on the visitor is admitted whatever happens to the ledger.
	a.record(ctx, entry, result)
	return result, nil
}

// ManualEntry records a visitor admitted by hand. It has no invitation to
// validate; only the unit reference must resolve.
func (a *AccessAuthorizer) ManualEntry(ctx context.Context, actor *model.Actor, in ManualEntryInput) (*AuthorizationResult, error) {
	if !actor.CanAuthorizeAccess() {
		return nil, apperrors.Forbidden("Only guards and admins can record manual entries")
	}
	if !in.Direction.Valid() {
		return nil, apperrors.FieldValidation("direction", "must be entry or exit")
	}
	if strings.TrimSpace(in.VisitorName) == "" {
		return nil, apperrors.FieldValidation("visitor_name", "must not be empty")
	}
	if in.Method == "" {
		in.Method = model.AccessMethodManualEntry
	}
	if in.Method != model.AccessMethodManualEntry && in.Method != model.AccessMethodPlateRecognition {
		return nil, apperrors.FieldValidation("method", "must be manual_entry or plate_recognition")
	}
	if strings.TrimSpace(in.UnitReference) == "" {
		return nil, apperrors.FieldValidation("unit_reference", "must not be empty")
	}

	scanCtx, cancel := a.withTimeout(ctx)
	defer cancel()

	unit, err := a.units.FindByNumber(scanCtx, actor.OrganizationID, strings.TrimSpace(in.UnitReference))
	if err != nil {
		if isTimeout(err) || scanCtx.Err() != nil {
			result := denied(ReasonTimeout)
			a.announce(ctx, actor, result, in.Direction, in.Method, in.GateID)
			return result, nil
		}
		return nil, apperrors.Database(err)
	}
	if unit == nil {
		result := denied(ReasonUnitNotFound)
		a.announce(ctx, actor, result, in.Direction, in.Method, in.GateID)
		return result, nil
	}

	entry, err := a.recorder.NewEntry(RecordInput{
		OrganizationID: actor.OrganizationID,
		UnitID:         &unit.ID,
		VisitorName:    in.VisitorName,
		Direction:      in.Direction,
		Method:         in.Method,
		AuthorizedBy:   actor.ID,
		Notes:          in.Notes,
	})
	if err != nil {
		return nil, err
	}

	result := &AuthorizationResult{Granted: true, VisitorName: entry.VisitorName}
	a.record(scanCtx, entry, result)
	a.announce(ctx, actor, result, in.Direction, in.Method, in.GateID)
	return result, nil
}

// record writes the ledger entry of a grant. A failed write keeps the grant,
// flags it and parks the entry for replay.
func (a *AccessAuthorizer) record(ctx context.Context, entry *model.AccessLog, result *AuthorizationResult) {
	result.LogID = entry.ID

	err := a.recorder.Write(ctx, entry)
	if err == nil {
		return
	}

	result.Warning = WarningLogWriteFailed
	log.Error().
		Err(err).
		Str("logId", entry.ID).
		Str("organizationId", entry.OrganizationID).
		Msg("access granted but ledger write failed")

	audit.Log(ctx, audit.Event{
		Type:           audit.EventLogWriteFailure,
		ActorID:        entry.AuthorizedBy,
		OrganizationID: entry.OrganizationID,
		Details:        map[string]interface{}{"log_id": entry.ID},
	})

	if a.queue == nil {
		return
	}
	parkCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), sideEffectTimeout)
	defer cancel()
	if err := a.queue.Push(parkCtx, entry); err != nil {
		log.Error().Err(err).Str("logId", entry.ID).Msg("failed to park access log for reconciliation")
	}
}

// announce emits the audit event, the live event and, for grants at a known
// gate, the open command. All of it is best effort.
func (a *AccessAuthorizer) announce(ctx context.Context, actor *model.Actor, result *AuthorizationResult, direction model.Direction, method model.AccessMethod, gateID string) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), sideEffectTimeout)
	defer cancel()

	eventType := sse.EventAccessDenied
	auditType := audit.EventAccessDenied
	switch {
	case result.Granted && result.InvitationID == "":
		eventType = sse.EventManualEntry
		auditType = audit.EventManualEntry
	case result.Granted:
		eventType = sse.EventAccessGranted
		auditType = audit.EventAccessGranted
	}

	audit.Log(ctx, audit.Event{
		Type:           auditType,
		ActorID:        actor.ID,
		OrganizationID: actor.OrganizationID,
		Details: map[string]interface{}{
			"reason":        string(result.Reason),
			"invitation_id": result.InvitationID,
			"log_id":        result.LogID,
			"direction":     string(direction),
			"method":        string(method),
		},
	})

	if a.events != nil {
		event := AccessEvent{
			AuthorizationResult: *result,
			Direction:           direction,
			Method:              method,
			GuardID:             actor.ID,
			GateID:              gateID,
			At:                  a.now().UTC(),
		}
		if err := a.events.Publish(ctx, actor.OrganizationID, eventType, event); err != nil {
			log.Warn().Err(err).Str("organizationId", actor.OrganizationID).Msg("failed to publish access event")
		}
	}

	if !result.Granted || gateID == "" {
		return
	}
	if err := a.gate.Open(ctx, gate.OpenCommand{
		OrganizationID: actor.OrganizationID,
		GateID:         gateID,
		LogID:          result.LogID,
		Direction:      direction,
		Timestamp:      a.now().Unix(),
	}); err != nil {
		log.Error().Err(err).Str("gateId", gateID).Msg("failed to send gate open command")
	}
}

func (a *AccessAuthorizer) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if a.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, a.timeout)
}

func isTimeout(err error) bool {
	return errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled)
}
