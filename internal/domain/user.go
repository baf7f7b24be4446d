package domain

import "time"

// UserRole enumerates the roles a user can act under.
type UserRole string

const (
	RoleRequester     UserRole = "requester"
	RoleHandler       UserRole = "handler"
	RoleDispatcher    UserRole = "dispatcher"
	RoleAdministrator UserRole = "administrator"
)

// IsStaff reports whether the role may be assigned tickets.
func (r UserRole) IsStaff() bool {
	return r == RoleHandler || r == RoleDispatcher || r == RoleAdministrator
}

// User is the domain model for everyone who touches tickets: requesters,
// handlers, dispatchers and administrators. Accounts created by the identity
// resolver from inbound mail carry no password hash and cannot authenticate.
type User struct {
	ID           string
	Name         string
	Email        string
	PasswordHash *string
	Role         UserRole
	Active       bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// CanAuthenticate reports whether the account holds a usable credential.
func (u *User) CanAuthenticate() bool {
	return u.Active && u.PasswordHash != nil && *u.PasswordHash != ""
}
