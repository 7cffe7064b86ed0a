package auth

import "errors"

// Role represents an authorisation tier.
type Role string

const (
	// RoleViewer can read state but cannot cause actuation.
	RoleViewer Role = "viewer"

	// RoleOperator can drive controllers and enforcers.
	RoleOperator Role = "operator"

	// RoleAdmin can additionally reload configuration.
	RoleAdmin Role = "admin"
)

// ValidRoles lists every role in ascending order of privilege.
var ValidRoles = []Role{RoleViewer, RoleOperator, RoleAdmin}

// IsValid reports whether r is a known role.
func (r Role) IsValid() bool {
	for _, v := range ValidRoles {
		if r == v {
			return true
		}
	}
	return false
}

// Auth errors.
var (
	ErrTokenInvalid = errors.New("invalid token")
	ErrInvalidRole  = errors.New("invalid role")
	ErrWeakSecret   = errors.New("jwt secret too short")
)
