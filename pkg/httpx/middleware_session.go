package httpx

import (
	"context"
	"net/http"

	"github.com/edportal/sessionauth/pkg/slogx"
)

// SessionChecker reports whether the session behind an access token is still
// on record.
type SessionChecker interface {
	SessionActive(ctx context.Context, sessionID, userID string) (bool, error)
}

// RequireLiveSession rejects tokens whose session has been revoked. Routes
// that cannot tolerate the access-token propagation delay opt into it. A
// store failure is treated as a revoked session.
func RequireLiveSession(sc SessionChecker) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			claims, ok := ClaimsFromContext(ctx)
			if !ok || claims.SID == "" {
				writeUnauthorized(w, "token is not bound to a session")
				return
			}

			active, err := sc.SessionActive(ctx, claims.SID, claims.Subject)
			if err != nil {
				slogx.FromContext(ctx).Warn("session lookup failed, treating as revoked", "err", err)
				writeUnauthorized(w, "session revoked")
				return
			}
			if !active {
				writeUnauthorized(w, "session revoked")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
