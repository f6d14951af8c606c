package handler

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/mock"

	"github.com/gatepass/access-server/internal/codec"
	"github.com/gatepass/access-server/internal/model"
	"github.com/gatepass/access-server/internal/repository"
	"github.com/gatepass/access-server/internal/service"
)

const (
	orgID     = "org-1"
	unitID    = "5a6b7c8d-9e0f-4a1b-8c2d-3e4f5a6b7c8d"
	invID     = "4f3e2d1c-0b9a-4877-a665-544332211000"
	secretKey = "handler-test-credential-secret"
)

type mockInvitationRepo struct {
	mock.Mock
}

func (m *mockInvitationRepo) Create(ctx context.Context, params model.CreateInvitationParams) (*model.Invitation, error) {
	args := m.Called(ctx, params)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Invitation), args.Error(1)
}

func (m *mockInvitationRepo) FindByID(ctx context.Context, id string) (*model.Invitation, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Invitation), args.Error(1)
}

func (m *mockInvitationRepo) FindByShortCode(ctx context.Context, orgID, code string) (*model.Invitation, error) {
	args := m.Called(ctx, orgID, code)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Invitation), args.Error(1)
}

func (m *mockInvitationRepo) ExistsByShortCode(ctx context.Context, orgID, code string) (bool, error) {
	args := m.Called(ctx, orgID, code)
	return args.Bool(0), args.Error(1)
}

func (m *mockInvitationRepo) ListByUnit(ctx context.Context, orgID, unitID string, limit, offset int) ([]model.Invitation, error) {
	args := m.Called(ctx, orgID, unitID, limit, offset)
	return args.Get(0).([]model.Invitation), args.Error(1)
}

func (m *mockInvitationRepo) CountByUnit(ctx context.Context, orgID, unitID string) (int, error) {
	args := m.Called(ctx, orgID, unitID)
	return args.Int(0), args.Error(1)
}

func (m *mockInvitationRepo) UpdateDetails(ctx context.Context, id string, params model.UpdateInvitationDetailsParams, now time.Time) (*model.Invitation, error) {
	args := m.Called(ctx, id, params, now)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Invitation), args.Error(1)
}

func (m *mockInvitationRepo) Cancel(ctx context.Context, id, cancelledBy string, now time.Time) (*model.Invitation, error) {
	args := m.Called(ctx, id, cancelledBy, now)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Invitation), args.Error(1)
}

func (m *mockInvitationRepo) Consume(ctx context.Context, id string) (*repository.ConsumeResult, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*repository.ConsumeResult), args.Error(1)
}

func (m *mockInvitationRepo) WithTx(tx *sqlx.Tx) repository.InvitationRepository {
	return m
}

type mockUnitRepo struct {
	mock.Mock
}

func (m *mockUnitRepo) FindByID(ctx context.Context, id string) (*model.Unit, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Unit), args.Error(1)
}

func (m *mockUnitRepo) FindByNumber(ctx context.Context, orgID, number string) (*model.Unit, error) {
	args := m.Called(ctx, orgID, number)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Unit), args.Error(1)
}

type mockAccessLogRepo struct {
	mock.Mock
}

func (m *mockAccessLogRepo) Append(ctx context.Context, entry *model.AccessLog) error {
	args := m.Called(ctx, entry)
	return args.Error(0)
}

func (m *mockAccessLogRepo) FindByID(ctx context.Context, id string) (*model.AccessLog, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.AccessLog), args.Error(1)
}

func (m *mockAccessLogRepo) ListByOrganization(ctx context.Context, orgID string, limit, offset int) ([]model.AccessLog, error) {
	args := m.Called(ctx, orgID, limit, offset)
	return args.Get(0).([]model.AccessLog), args.Error(1)
}

func (m *mockAccessLogRepo) CountByOrganization(ctx context.Context, orgID string) (int, error) {
	args := m.Called(ctx, orgID)
	return args.Int(0), args.Error(1)
}

func (m *mockAccessLogRepo) ListByInvitation(ctx context.Context, invitationID string, limit, offset int) ([]model.AccessLog, error) {
	args := m.Called(ctx, invitationID, limit, offset)
	return args.Get(0).([]model.AccessLog), args.Error(1)
}

func (m *mockAccessLogRepo) WithTx(tx *sqlx.Tx) repository.AccessLogRepository {
	return m
}

type fixture struct {
	invitations *mockInvitationRepo
	units       *mockUnitRepo
	logs        *mockAccessLogRepo
	codec       *codec.Codec
	service     *service.InvitationService
	recorder    *service.AccessLogRecorder
	authorizer  *service.AccessAuthorizer
}

func newFixture() *fixture {
	f := &fixture{
		invitations: new(mockInvitationRepo),
		units:       new(mockUnitRepo),
		logs:        new(mockAccessLogRepo),
		codec:       codec.New(secretKey),
	}
	f.service = service.NewInvitationService(f.invitations, f.units, f.codec)
	f.recorder = service.NewAccessLogRecorder(f.logs)
	f.authorizer = service.NewAccessAuthorizer(f.service, f.units, f.recorder, nil, nil, nil, time.Second)
	return f
}

func resident() *model.Actor {
	return &model.Actor{ID: "resident-1", OrganizationID: orgID, Role: model.RoleResident, UnitID: unitID}
}

func guard() *model.Actor {
	return &model.Actor{ID: "guard-1", OrganizationID: orgID, Role: model.RoleGuard}
}

func (f *fixture) invitation(mutate ...func(*model.Invitation)) *model.Invitation {
	until := time.Now().Add(time.Hour)
	one := 1
	inv := &model.Invitation{
		ID:             invID,
		OrganizationID: orgID,
		UnitID:         unitID,
		VisitorName:    "Ana",
		AccessType:     model.AccessTypeSingle,
		MaxUses:        &one,
		ValidFrom:      time.Now().Add(-time.Minute),
		ValidUntil:     &until,
		ShortCode:      "ABCD-EFGH",
		QRCode:         f.codec.QRPayload(invID),
		Status:         model.InvitationStatusActive,
		CreatedBy:      "resident-1",
		CreatedAt:      time.Now(),
	}
	for _, fn := range mutate {
		fn(inv)
	}
	return inv
}
