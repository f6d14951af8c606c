package model

// Actor is the authenticated caller, resolved from the bearer token.
type Actor struct {
	ID             string
	OrganizationID string
	Role           Role
	UnitID         string // set for residents
}

func (a *Actor) CanCreateInvitations() bool {
	return a.Role == RoleResident || a.Role == RoleAdmin
}

func (a *Actor) CanAuthorizeAccess() bool {
	return a.Role == RoleGuard || a.Role == RoleAdmin
}

// CanManageUnit reports whether the actor may act on invitations of unitID.
func (a *Actor) CanManageUnit(unitID string) bool {
	if a.Role == RoleAdmin {
		return true
	}
	return a.Role == RoleResident && a.UnitID != "" && a.UnitID == unitID
}
