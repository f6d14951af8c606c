package model

type AccessType string

const (
	AccessTypeSingle    AccessType = "single"
	AccessTypeMultiple  AccessType = "multiple"
	AccessTypePermanent AccessType = "permanent"
	AccessTypeTemporary AccessType = "temporary"
)

func (t AccessType) Valid() bool {
	switch t {
	case AccessTypeSingle, AccessTypeMultiple, AccessTypePermanent, AccessTypeTemporary:
		return true
	}
	return false
}

// InvitationStatus is both the stored terminal flag and the derived,
// presentable state. Only active, used and cancelled are ever persisted.
type InvitationStatus string

const (
	InvitationStatusActive    InvitationStatus = "active"
	InvitationStatusUsed      InvitationStatus = "used"
	InvitationStatusExpired   InvitationStatus = "expired"
	InvitationStatusCancelled InvitationStatus = "cancelled"
)

type Direction string

const (
	DirectionEntry Direction = "entry"
	DirectionExit  Direction = "exit"
)

func (d Direction) Valid() bool {
	return d == DirectionEntry || d == DirectionExit
}

type AccessMethod string

const (
	AccessMethodQRScan           AccessMethod = "qr_scan"
	AccessMethodManualCode       AccessMethod = "manual_code"
	AccessMethodManualEntry      AccessMethod = "manual_entry"
	AccessMethodPlateRecognition AccessMethod = "plate_recognition"
)

func (m AccessMethod) Valid() bool {
	switch m {
	case AccessMethodQRScan, AccessMethodManualCode, AccessMethodManualEntry, AccessMethodPlateRecognition:
		return true
	}
	return false
}

type Role string

const (
	RoleResident Role = "resident"
	RoleGuard    Role = "guard"
	RoleAdmin    Role = "admin"
)
