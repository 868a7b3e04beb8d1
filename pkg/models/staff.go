package models

import (
	"time"

	"github.com/google/uuid"
)

// Role determines a staff member's privilege tier within their office.
type Role string

const (
	RoleOwner    Role = "owner"
	RoleManager  Role = "manager"
	RoleEmployee Role = "employee"
	// RoleAppAdmin is cross-tenant and carries no office membership.
	RoleAppAdmin Role = "app_admin"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	switch r {
	case RoleOwner, RoleManager, RoleEmployee, RoleAppAdmin:
		return true
	}
	return false
}

// Privileged reports whether the role may mutate office data directly.
// Employees go through the approval workflow instead.
func (r Role) Privileged() bool {
	return r == RoleOwner || r == RoleManager || r == RoleAppAdmin
}

// Staff is a user account scoped to one office. OfficeID is nil only for
// app_admin accounts.
type Staff struct {
	ID        uuid.UUID  `db:"id" json:"id"`
	OfficeID  *uuid.UUID `db:"office_id" json:"office_id,omitempty"`
	Name      string     `db:"name" json:"name"`
	Email     string     `db:"email" json:"email"`
	Role      Role       `db:"role" json:"role"`
	CreatedAt time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt time.Time  `db:"updated_at" json:"updated_at"`
	DeletedAt *time.Time `db:"deleted_at" json:"deleted_at,omitempty"`
}

// TableName returns the database table name
func (Staff) TableName() string {
	return "staff"
}

// Actor is the authenticated caller of a core operation. It is resolved
// once per request and passed explicitly; engines never consult ambient
// session state.
type Actor struct {
	StaffID  uuid.UUID
	OfficeID *uuid.UUID
	Role     Role
}

// ActorFromStaff builds an Actor from a staff row.
func ActorFromStaff(s *Staff) Actor {
	return Actor{
		StaffID:  s.ID,
		OfficeID: s.OfficeID,
		Role:     s.Role,
	}
}

// Privileged reports whether the actor may mutate directly.
func (a Actor) Privileged() bool {
	return a.Role.Privileged()
}

// MemberOf reports whether the actor belongs to the given office.
// app_admin is a member of no office.
func (a Actor) MemberOf(officeID uuid.UUID) bool {
	return a.OfficeID != nil && *a.OfficeID == officeID
}
