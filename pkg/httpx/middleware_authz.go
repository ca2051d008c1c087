package httpx

import (
	"net/http"
	"slices"
	"strings"

	"github.com/edportal/sessionauth/pkg/rbac"
	"github.com/edportal/sessionauth/pkg/slogx"
)

// RequireRole admits callers whose token role is one of roles. It must run
// after AuthnMiddleware.
func RequireRole(roles ...rbac.Role) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims, ok := ClaimsFromContext(r.Context())
			if !ok {
				writeUnauthorized(w, "missing access token")
				return
			}

			if !slices.Contains(roles, rbac.Role(claims.Role)) {
				slogx.FromContext(r.Context()).Info("role check failed", "want", roles)
				writeForbidden(w, "requires role "+joinRoles(roles))
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// RequireAnyPermission admits callers holding at least one of perms.
func RequireAnyPermission(perms ...string) Middleware {
	return requirePermissions(rbac.HasAny, perms)
}

// RequireAllPermissions admits callers holding every one of perms.
func RequireAllPermissions(perms ...string) Middleware {
	return requirePermissions(rbac.HasAll, perms)
}

func requirePermissions(check func(have []string, want ...string) bool, perms []string) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims, ok := ClaimsFromContext(r.Context())
			if !ok {
				writeUnauthorized(w, "missing access token")
				return
			}

			if !check(claims.Permissions, perms...) {
				slogx.FromContext(r.Context()).Info("permission check failed", "want", perms)
				writeForbidden(w, "requires permission "+strings.Join(perms, " "))
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func joinRoles(roles []rbac.Role) string {
	parts := make([]string, len(roles))
	for i, r := range roles {
		parts[i] = string(r)
	}
	return strings.Join(parts, " ")
}

func writeForbidden(w http.ResponseWriter, desc string) {
	WriteError(w, http.StatusForbidden, ErrorCodeForbidden, desc)
}
