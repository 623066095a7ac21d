package auth

import "strings"

// Role represents a user role.
type Role string

const (
	// RoleViewer may read vocabulary, topics and mappings.
	RoleViewer Role = "viewer"
	// RoleEditor may change content and mappings.
	RoleEditor Role = "editor"
	// RoleAdmin may run repairs, bulk deletes and cache maintenance.
	RoleAdmin Role = "admin"
)

// NormalizeRole validates and normalizes a role string.
func NormalizeRole(value string) (Role, bool) {
	switch role := Role(strings.ToLower(strings.TrimSpace(value))); role {
	case RoleViewer, RoleEditor, RoleAdmin:
		return role, true
	default:
		return "", false
	}
}

// RoleAtLeast returns true when role satisfies required role.
func RoleAtLeast(role Role, required Role) bool {
	return roleRank(role) >= roleRank(required)
}

func roleRank(role Role) int {
	switch role {
	case RoleViewer:
		return 1
	case RoleEditor:
		return 2
	case RoleAdmin:
		return 3
	default:
		return 0
	}
}
