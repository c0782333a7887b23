package auth

import "strings"

// Role is the closed set of platform roles carried by a bearer token.
type Role string

const (
	RoleUnknown Role = ""
	RoleDonor   Role = "DONOR"
	RoleNGO     Role = "NGO"
	RoleAdmin   Role = "ADMIN"
)

// Roles lists every valid role.
var Roles = []Role{RoleDonor, RoleNGO, RoleAdmin}

// ParseRole normalizes raw case-insensitively into the closed role set.
// Anything outside the set yields RoleUnknown.
func ParseRole(raw string) Role {
	switch Role(strings.ToUpper(strings.TrimSpace(raw))) {
	case RoleDonor:
		return RoleDonor
	case RoleNGO:
		return RoleNGO
	case RoleAdmin:
		return RoleAdmin
	default:
		return RoleUnknown
	}
}

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	return ParseRole(string(r)) == r && r != RoleUnknown
}

func (r Role) String() string {
	if r == RoleUnknown {
		return "unknown"
	}
	return string(r)
}

// Wire returns the lowercase form the backend stores and embeds in tokens.
func (r Role) Wire() string {
	return strings.ToLower(string(r))
}
