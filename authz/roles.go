package authz

import (
	"strings"

	autherrors "github.com/rankforge/go-identity-server/internal/errors"
)

// Role is the single coarse authority level a user carries. Each role
// has an implicit numeric rank so "manager and above" checks are a
// single comparison. The api role ranks below member: service
// credentials never manage humans.
type Role string

const (
	RoleAdmin   Role = "admin"
	RoleManager Role = "manager"
	RoleMember  Role = "member"
	RoleAPI     Role = "api"
	RoleViewer  Role = "viewer"
)

var roleRanks = map[Role]int{
	RoleAdmin:   50,
	RoleManager: 40,
	RoleMember:  30,
	RoleAPI:     20,
	RoleViewer:  10,
}

// Rank returns the role's numeric authority level. Unknown roles rank
// zero, below every defined role.
func (r Role) Rank() int {
	return roleRanks[r]
}

func (r Role) Valid() bool {
	_, ok := roleRanks[r]
	return ok
}

// ParseRole normalizes and validates a role string.
func ParseRole(s string) (Role, error) {
	r := Role(strings.ToLower(strings.TrimSpace(s)))
	if !r.Valid() {
		return "", autherrors.Wrapf(autherrors.ErrForbidden, "unknown role %q", s)
	}
	return r, nil
}
