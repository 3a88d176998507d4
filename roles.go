package sessions

// Role is the closed set of actor roles a membership can grant.
type Role string

const (
	// RoleGuest is an unauthenticated-adjacent role with read-only reach.
	RoleGuest Role = "guest"
	// RoleMember is a regular account holder.
	RoleMember Role = "member"
	// RoleAdmin is an administrative role; requires a verified email.
	RoleAdmin Role = "admin"
	// RoleSystemAdmin is the platform operator role; requires a verified email.
	RoleSystemAdmin Role = "system-admin"
)

// roleAliases maps legacy claim spellings onto the closed enumeration.
var roleAliases = map[string]Role{
	"todoUser":    RoleMember,
	"user":        RoleMember,
	"systemAdmin": RoleSystemAdmin,
}

// IsValid checks if the role is one of the predefined valid roles
func (r Role) IsValid() bool {
	switch r {
	case RoleGuest, RoleMember, RoleAdmin, RoleSystemAdmin:
		return true
	default:
		return false
	}
}

// Privileged reports whether memberships for this role additionally require
// the owning identity's email to be verified.
func (r Role) Privileged() bool {
	switch r {
	case RoleAdmin, RoleSystemAdmin:
		return true
	default:
		return false
	}
}

// IsAtLeast checks if this role meets the minimum required level
func (r Role) IsAtLeast(minRole Role) bool {
	roleHierarchy := map[Role]int{
		RoleGuest:       0,
		RoleMember:      1,
		RoleAdmin:       2,
		RoleSystemAdmin: 3,
	}

	currentLevel, exists := roleHierarchy[r]
	if !exists {
		return false
	}

	minLevel, exists := roleHierarchy[minRole]
	if !exists {
		return false
	}

	return currentLevel >= minLevel
}

// AllRoles returns the predefined roles in hierarchical order.
func AllRoles() []Role {
	return []Role{
		RoleGuest,
		RoleMember,
		RoleAdmin,
		RoleSystemAdmin,
	}
}

// ParseRole safely parses a claim string into a Role, resolving legacy
// aliases. The boolean is false for anything outside the closed set.
func ParseRole(roleStr string) (Role, bool) {
	if alias, ok := roleAliases[roleStr]; ok {
		return alias, true
	}
	role := Role(roleStr)
	return role, role.IsValid()
}
