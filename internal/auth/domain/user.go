package domain

import "github.com/edportal/sessionauth/pkg/rbac"

// Identity is the account record read from the portal's user directory. The
// auth core never writes it.
type Identity struct {
	ID            string
	Email         string
	Name          string
	InstitutionID string
	PasswordHash  string // argon2id or legacy bcrypt
	Flags         rbac.Flags

	Enabled bool
	Locked  bool
	Expired bool
}

// Active reports whether the account may authenticate.
func (i Identity) Active() bool {
	return i.Enabled && !i.Locked && !i.Expired
}

// UserSummary is the identity shape returned to clients after login.
type UserSummary struct {
	ID            string    `json:"id"`
	Email         string    `json:"email"`
	Name          string    `json:"name"`
	Role          rbac.Role `json:"role"`
	Permissions   []string  `json:"permissions"`
	InstitutionID string    `json:"institutionId,omitempty"`
}

// Summarize combines an identity with its resolved role.
func Summarize(i Identity, rp rbac.RolePermissionSet) UserSummary {
	return UserSummary{
		ID:            i.ID,
		Email:         i.Email,
		Name:          i.Name,
		Role:          rp.Role,
		Permissions:   rp.Permissions,
		InstitutionID: i.InstitutionID,
	}
}
