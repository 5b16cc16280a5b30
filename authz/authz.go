// Package authz resolves role- and permission-based authorization
// decisions against a request's resolved identity. It is pure: every
// check runs over the in-memory identity record, never over a store.
package authz

// PermissionWildcard grants every permission to its holder.
const PermissionWildcard = "*"

// Identity is the ephemeral, request-scoped projection of an
// authenticated caller. Built by the gateway per request, never
// persisted.
type Identity struct {
	UserID         string
	Email          string
	Role           Role
	Permissions    []string
	OrganizationID string
	SessionID      string
}

// Anonymous returns the identity of an unauthenticated caller: no user,
// no role, no permissions.
func Anonymous() Identity {
	return Identity{}
}

// IsAnonymous reports whether the identity carries no authenticated
// user.
func (i Identity) IsAnonymous() bool {
	return i.UserID == ""
}

// HasRole reports whether the identity holds exactly the given role.
func HasRole(identity Identity, role Role) bool {
	return identity.Role == role
}

// HasAtLeast reports whether the identity's role ranks at or above the
// given role.
func HasAtLeast(identity Identity, role Role) bool {
	if !identity.Role.Valid() {
		return false
	}
	return identity.Role.Rank() >= role.Rank()
}

// HasPermission reports whether the identity may perform the action
// named by permission ("resource:action"). True when the permission is
// present verbatim, when the identity holds the wildcard, or when the
// identity is an admin. The optional resource identifies a specific
// object for future per-object ACLs; the base rule ignores it.
func HasPermission(identity Identity, permission string, resource ...string) bool {
	if identity.Role == RoleAdmin {
		return true
	}
	for _, p := range identity.Permissions {
		if p == PermissionWildcard || p == permission {
			return true
		}
	}
	return false
}

// CanManageUser reports whether actor may perform a management action
// on target. Management requires strictly higher rank within the same
// organization; nobody manages a peer, and organizations are sealed off
// from each other.
func CanManageUser(actor, target Identity, action string) bool {
	if actor.IsAnonymous() || target.UserID == "" {
		return false
	}
	if actor.OrganizationID == "" || actor.OrganizationID != target.OrganizationID {
		return false
	}
	return actor.Role.Rank() > target.Role.Rank()
}
