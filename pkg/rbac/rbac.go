// Package rbac maps account capability flags onto the closed set of portal
// roles and their permission lists.
//
// Resolve is the only place a role is derived. Both the auth service and the
// client SDK call it, so the priority order below is the single source of
// truth for "which role wins" when an account carries several flags.
package rbac

import "slices"

type Role string

const (
	RoleSystemAdmin        Role = "SYSTEM_ADMIN"
	RoleInstitutionManager Role = "INSTITUTION_MANAGER"
	RoleCoordinator        Role = "COORDINATOR"
	RoleGuardian           Role = "GUARDIAN"
	RoleTeacher            Role = "TEACHER"
	RoleStudent            Role = "STUDENT"

	// DefaultRole is assigned when no capability flag is set.
	DefaultRole = RoleStudent
)

// Flags are the boolean capability columns carried by an account record.
type Flags struct {
	Administrator      bool `json:"is_admin"`
	InstitutionManager bool `json:"is_institution_manager"`
	Coordinator        bool `json:"is_coordinator"`
	Guardian           bool `json:"is_guardian"`
	Teacher            bool `json:"is_teacher"`
	Student            bool `json:"is_student"`
}

// RolePermissionSet is the derived authorization profile for an account.
type RolePermissionSet struct {
	Role        Role     `json:"role"`
	Permissions []string `json:"permissions"`
}

// priority is evaluated top to bottom, first set flag wins.
var priority = []struct {
	role Role
	set  func(Flags) bool
}{
	{RoleSystemAdmin, func(f Flags) bool { return f.Administrator }},
	{RoleInstitutionManager, func(f Flags) bool { return f.InstitutionManager }},
	{RoleCoordinator, func(f Flags) bool { return f.Coordinator }},
	{RoleGuardian, func(f Flags) bool { return f.Guardian }},
	{RoleTeacher, func(f Flags) bool { return f.Teacher }},
	{RoleStudent, func(f Flags) bool { return f.Student }},
}

// Resolve derives the role and permission list for the given flags. It is
// total: an account with no flags resolves to DefaultRole.
func Resolve(f Flags) RolePermissionSet {
	role := DefaultRole
	for _, p := range priority {
		if p.set(f) {
			role = p.role
			break
		}
	}

	return RolePermissionSet{
		Role:        role,
		Permissions: PermissionsFor(role),
	}
}

// Priority returns the roles from highest to lowest precedence.
func Priority() []Role {
	out := make([]Role, 0, len(priority))
	for _, p := range priority {
		out = append(out, p.role)
	}
	return out
}

// ParseRole reports whether s names one of the known roles.
func ParseRole(s string) (Role, bool) {
	r := Role(s)
	if _, ok := rolePermissions[r]; ok {
		return r, true
	}
	return "", false
}

// Has reports whether the set grants perm.
func (s RolePermissionSet) Has(perm string) bool {
	return slices.Contains(s.Permissions, perm)
}

// HasAny reports whether have contains at least one of want. An empty want
// list is satisfied trivially.
func HasAny(have []string, want ...string) bool {
	if len(want) == 0 {
		return true
	}
	for _, w := range want {
		if slices.Contains(have, w) {
			return true
		}
	}
	return false
}

// HasAll reports whether have contains every entry of want.
func HasAll(have []string, want ...string) bool {
	for _, w := range want {
		if !slices.Contains(have, w) {
			return false
		}
	}
	return true
}
