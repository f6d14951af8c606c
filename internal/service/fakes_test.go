package service

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/mock"

	"github.com/gatepass/access-server/internal/gate"
	"github.com/gatepass/access-server/internal/model"
	"github.com/gatepass/access-server/internal/repository"
)

// memInvitationRepo mirrors the conditional statements of the SQL
// repository under a single mutex.
type memInvitationRepo struct {
	mu          sync.Mutex
	invitations map[string]*model.Invitation
	createErrs  []error
	takenCodes  map[string]bool
}

func newMemInvitationRepo() *memInvitationRepo {
	return &memInvitationRepo{
		invitations: make(map[string]*model.Invitation),
		takenCodes:  make(map[string]bool),
	}
}

func (r *memInvitationRepo) Create(ctx context.Context, p model.CreateInvitationParams) (*model.Invitation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.createErrs) > 0 {
		err := r.createErrs[0]
		r.createErrs = r.createErrs[1:]
		return nil, err
	}

	now := time.Now()
	inv := &model.Invitation{
		ID:             p.ID,
		OrganizationID: p.OrganizationID,
		UnitID:         p.UnitID,
		VisitorName:    p.VisitorName,
		VisitorPhone:   p.VisitorPhone,
		VisitorEmail:   p.VisitorEmail,
		Notes:          p.Notes,
		AccessType:     p.AccessType,
		MaxUses:        p.MaxUses,
		ValidFrom:      p.ValidFrom,
		ValidUntil:     p.ValidUntil,
		ShortCode:      p.ShortCode,
		QRCode:         p.QRCode,
		Status:         model.InvitationStatusActive,
		CreatedBy:      p.CreatedBy,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	r.invitations[inv.ID] = inv
	copied := *inv
	return &copied, nil
}

func (r *memInvitationRepo) FindByID(ctx context.Context, id string) (*model.Invitation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	inv, ok := r.invitations[id]
	if !ok {
		return nil, nil
	}
	copied := *inv
	return &copied, nil
}

func (r *memInvitationRepo) FindByShortCode(ctx context.Context, orgID, code string) (*model.Invitation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, inv := range r.invitations {
		if inv.OrganizationID == orgID && inv.ShortCode == code {
			copied := *inv
			return &copied, nil
		}
	}
	return nil, nil
}

func (r *memInvitationRepo) ExistsByShortCode(ctx context.Context, orgID, code string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.takenCodes[code] {
		return true, nil
	}
	for _, inv := range r.invitations {
		if inv.OrganizationID == orgID && inv.ShortCode == code {
			return true, nil
		}
	}
	return false, nil
}

func (r *memInvitationRepo) ListByUnit(ctx context.Context, orgID, unitID string, limit, offset int) ([]model.Invitation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var list []model.Invitation
	for _, inv := range r.invitations {
		if inv.OrganizationID == orgID && inv.UnitID == unitID {
			list = append(list, *inv)
		}
	}
	sort.Slice(list, func(i, j int) bool { return list[i].CreatedAt.After(list[j].CreatedAt) })
	if offset >= len(list) {
		return []model.Invitation{}, nil
	}
	end := offset + limit
	if end > len(list) {
		end = len(list)
	}
	return list[offset:end], nil
}

func (r *memInvitationRepo) CountByUnit(ctx context.Context, orgID, unitID string) (int, error) {
	list, _ := r.ListByUnit(ctx, orgID, unitID, 1<<30, 0)
	return len(list), nil
}

func (r *memInvitationRepo) UpdateDetails(ctx context.Context, id string, p model.UpdateInvitationDetailsParams, now time.Time) (*model.Invitation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	inv, ok := r.invitations[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	if inv.Status != model.InvitationStatusActive || inv.CurrentUses != 0 ||
		(inv.ValidUntil != nil && inv.ValidUntil.Before(now)) {
		return nil, repository.ErrNotActive
	}
	if p.VisitorName != nil {
		inv.VisitorName = *p.VisitorName
	}
	if p.VisitorPhone != nil {
		inv.VisitorPhone = p.VisitorPhone
	}
	if p.VisitorEmail != nil {
		inv.VisitorEmail = p.VisitorEmail
	}
	if p.Notes != nil {
		inv.Notes = p.Notes
	}
	inv.UpdatedAt = now
	copied := *inv
	return &copied, nil
}

func (r *memInvitationRepo) Cancel(ctx context.Context, id, cancelledBy string, now time.Time) (*model.Invitation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	inv, ok := r.invitations[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	if inv.Status != model.InvitationStatusActive || (inv.ValidUntil != nil && inv.ValidUntil.Before(now)) {
		return nil, repository.ErrNotActive
	}
	inv.Status = model.InvitationStatusCancelled
	inv.CancelledAt = &now
	inv.CancelledBy = &cancelledBy
	copied := *inv
	return &copied, nil
}

func (r *memInvitationRepo) Consume(ctx context.Context, id string) (*repository.ConsumeResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	inv, ok := r.invitations[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	if inv.Status != model.InvitationStatusActive || (inv.MaxUses != nil && inv.CurrentUses >= *inv.MaxUses) {
		return nil, repository.ErrExhausted
	}
	inv.CurrentUses++
	if inv.MaxUses != nil && inv.CurrentUses >= *inv.MaxUses {
		inv.Status = model.InvitationStatusUsed
	}
	return &repository.ConsumeResult{CurrentUses: inv.CurrentUses, Status: inv.Status}, nil
}

func (r *memInvitationRepo) WithTx(tx *sqlx.Tx) repository.InvitationRepository {
	return r
}

func (r *memInvitationRepo) get(id string) model.Invitation {
	r.mu.Lock()
	defer r.mu.Unlock()
	return *r.invitations[id]
}

type memUnitRepo struct {
	units []model.Unit
}

func (r *memUnitRepo) FindByID(ctx context.Context, id string) (*model.Unit, error) {
	for _, u := range r.units {
		if u.ID == id {
			unit := u
			return &unit, nil
		}
	}
	return nil, nil
}

func (r *memUnitRepo) FindByNumber(ctx context.Context, orgID, number string) (*model.Unit, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	for _, u := range r.units {
		if u.OrganizationID == orgID && strings.EqualFold(u.Number, number) {
			unit := u
			return &unit, nil
		}
	}
	return nil, nil
}

type memAccessLogRepo struct {
	mu      sync.Mutex
	entries map[string]model.AccessLog
	order   []string
	failing bool
}

func newMemAccessLogRepo() *memAccessLogRepo {
	return &memAccessLogRepo{entries: make(map[string]model.AccessLog)}
}

func (r *memAccessLogRepo) Append(ctx context.Context, entry *model.AccessLog) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.failing {
		return errors.New("connection refused")
	}
	if _, exists := r.entries[entry.ID]; exists {
		return nil
	}
	r.entries[entry.ID] = *entry
	r.order = append(r.order, entry.ID)
	return nil
}

func (r *memAccessLogRepo) FindByID(ctx context.Context, id string) (*model.AccessLog, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.entries[id]
	if !ok {
		return nil, nil
	}
	return &entry, nil
}

func (r *memAccessLogRepo) ListByOrganization(ctx context.Context, orgID string, limit, offset int) ([]model.AccessLog, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var list []model.AccessLog
	for i := len(r.order) - 1; i >= 0; i-- {
		if e := r.entries[r.order[i]]; e.OrganizationID == orgID {
			list = append(list, e)
		}
	}
	return list, nil
}

func (r *memAccessLogRepo) CountByOrganization(ctx context.Context, orgID string) (int, error) {
	list, _ := r.ListByOrganization(ctx, orgID, 0, 0)
	return len(list), nil
}

func (r *memAccessLogRepo) ListByInvitation(ctx context.Context, invitationID string, limit, offset int) ([]model.AccessLog, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var list []model.AccessLog
	for _, id := range r.order {
		if e := r.entries[id]; e.InvitationID != nil && *e.InvitationID == invitationID {
			list = append(list, e)
		}
	}
	return list, nil
}

func (r *memAccessLogRepo) WithTx(tx *sqlx.Tx) repository.AccessLogRepository {
	return r
}

func (r *memAccessLogRepo) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

func (r *memAccessLogRepo) setFailing(failing bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failing = failing
}

type memLogQueue struct {
	mu      sync.Mutex
	entries []*model.AccessLog
}

func (q *memLogQueue) Push(ctx context.Context, entry *model.AccessLog) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.entries = append(q.entries, entry)
	return nil
}

func (q *memLogQueue) Pop(ctx context.Context) (*model.AccessLog, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.entries) == 0 {
		return nil, nil
	}
	entry := q.entries[0]
	q.entries = q.entries[1:]
	return entry, nil
}

func (q *memLogQueue) Len(ctx context.Context) (int64, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return int64(len(q.entries)), nil
}

type mockPublisher struct {
	mock.Mock
}

func (m *mockPublisher) Publish(ctx context.Context, organizationID, eventType string, payload any) error {
	args := m.Called(ctx, organizationID, eventType, payload)
	return args.Error(0)
}

type mockOpener struct {
	mock.Mock
}

func (m *mockOpener) Open(ctx context.Context, cmd gate.OpenCommand) error {
	args := m.Called(ctx, cmd)
	return args.Error(0)
}
