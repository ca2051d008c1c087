package rbac

// crud expands a resource into its create/read/update/delete permissions.
func crud(resources ...string) []string {
	out := make([]string, 0, len(resources)*4)
	for _, r := range resources {
		out = append(out, r+":create", r+":read", r+":update", r+":delete")
	}
	return out
}

func concat(parts ...[]string) []string {
	var out []string
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}

// rolePermissions is the static permission table keyed by role. Order within
// a list is stable and is what ends up in issued tokens.
var rolePermissions = map[Role][]string{
	RoleSystemAdmin: concat(
		[]string{"system:admin"},
		crud(
			"users", "institutions", "courses", "content", "teachers", "students",
			"assignments", "grades", "reports", "settings", "roles", "permissions",
			"groups", "notifications", "attendance", "modules", "lessons", "books",
			"videos", "collections", "forum", "chats", "quizzes", "certificates",
		),
		[]string{
			"analytics:read",
			"system:settings",
			"logs:read",
			"profile:read", "profile:update",
			"backup:create", "backup:read", "backup:restore",
			"maintenance:read", "maintenance:update",
			"monitoring:read",
			"security:read", "security:update",
		},
	),
	RoleInstitutionManager: {
		"institution:admin",
		"users:create", "users:read", "users:update",
		"courses:create", "courses:read", "courses:update",
		"content:create", "content:read", "content:update",
		"teachers:read", "teachers:update",
		"students:read", "students:update",
		"analytics:read",
		"reports:read",
		"settings:read", "settings:update",
	},
	RoleCoordinator: {
		"courses:read", "courses:update",
		"content:read", "content:update",
		"students:read", "students:update",
		"teachers:read",
		"assignments:read", "assignments:update",
		"grades:read",
		"reports:read",
		"analytics:read",
	},
	RoleGuardian: {
		"students:read",
		"courses:read",
		"content:read",
		"assignments:read",
		"grades:read",
		"attendance:read",
		"reports:read",
		"profile:read", "profile:update",
		"notifications:read",
	},
	RoleTeacher: {
		"courses:create", "courses:read", "courses:update",
		"content:create", "content:read", "content:update",
		"students:read", "students:update",
		"assignments:create", "assignments:read", "assignments:update",
		"grades:create", "grades:read", "grades:update",
	},
	RoleStudent: {
		"courses:read",
		"content:read",
		"assignments:read", "assignments:submit",
		"grades:read",
		"profile:read", "profile:update",
	},
}

// PermissionsFor returns a copy of the permission list for role. Unknown
// roles get the default role's permissions.
func PermissionsFor(role Role) []string {
	perms, ok := rolePermissions[role]
	if !ok {
		perms = rolePermissions[DefaultRole]
	}
	out := make([]string, len(perms))
	copy(out, perms)
	return out
}
