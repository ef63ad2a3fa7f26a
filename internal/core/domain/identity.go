package domain

import "time"

// Role enumerates the access levels recognised by the portal.
type Role string

const (
	RoleMember    Role = "member"
	RoleDonor     Role = "donor"
	RoleVolunteer Role = "volunteer"
	RoleAdmin     Role = "admin"
)

// Valid reports whether the role is one of the recognised values.
func (r Role) Valid() bool {
	switch r {
	case RoleMember, RoleDonor, RoleVolunteer, RoleAdmin:
		return true
	}
	return false
}

// User mirrors the persisted representation in the users table. Accounts
// are created implicitly on first successful code verification; only
// provisioning seeds rows with a CredentialHash (internal admin login).
type User struct {
	ID             string
	Email          string
	DisplayName    string
	Role           Role
	CredentialHash *string
	CreatedAt      time.Time
	LastLogin      *time.Time
}

// IsAdmin reports whether the user carries the admin role.
func (u User) IsAdmin() bool {
	return u.Role == RoleAdmin
}
