package access

import "strings"

// Role is a rung in the authorization hierarchy.
type Role string

const (
	RoleAdmin     Role = "admin"
	RoleModerator Role = "moderator"
	RoleOwner     Role = "owner"
)

// rank orders the hierarchy: admin < moderator < owner. Unknown roles rank
// as zero, below every real role.
func (r Role) rank() int {
	switch Role(strings.ToLower(string(r))) {
	case RoleAdmin:
		return 1
	case RoleModerator:
		return 2
	case RoleOwner:
		return 3
	default:
		return 0
	}
}

// Valid reports whether r names a known role.
func (r Role) Valid() bool { return r.rank() > 0 }

// HasRole reports whether actual ranks at least as high as minimum.
func HasRole(actual, minimum Role) bool {
	return actual.rank() >= minimum.rank() && minimum.rank() > 0
}

// CanGrant reports whether an actor with the given role may grant target.
// Moderator grants require the owner; admin grants require at least moderator.
func CanGrant(actor, target Role) bool {
	switch target {
	case RoleModerator:
		return actor == RoleOwner
	case RoleAdmin:
		return HasRole(actor, RoleModerator)
	default:
		return false
	}
}
