package auth

import "strings"

// Role represents a user role.
type Role string

const (
	RoleViewer   Role = "viewer"
	RoleOperator Role = "operator"
	RoleAdmin    Role = "admin"
	// RoleIngest is carried by machine credentials; it grants no API access.
	RoleIngest Role = "ingest"
)

var roleRanks = map[Role]int{
	RoleViewer:   1,
	RoleOperator: 2,
	RoleAdmin:    3,
}

// NormalizeRole validates and normalizes a role string.
func NormalizeRole(value string) (Role, bool) {
	role := Role(strings.ToLower(strings.TrimSpace(value)))
	if _, ok := roleRanks[role]; ok {
		return role, true
	}
	if role == RoleIngest {
		return role, true
	}
	return "", false
}

// RoleAtLeast returns true when role satisfies required role.
func RoleAtLeast(role Role, required Role) bool {
	return roleRanks[role] >= roleRanks[required] && roleRanks[role] > 0
}
