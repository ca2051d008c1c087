package httpx

import (
	"errors"
	"net/http"
	"strings"

	"github.com/edportal/sessionauth/pkg/jwtx"
	"github.com/edportal/sessionauth/pkg/slogx"
)

// AuthnMiddleware verifies the access token from the Authorization header, or
// the auth_token cookie when no header is sent, and attaches its claims to
// the request context. It never consults the session store, so a revoked
// session stays usable until its access token expires.
func AuthnMiddleware(v jwtx.Verifier) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			log := slogx.FromContext(ctx)

			raw, ok := bearerToken(r)
			if !ok {
				writeUnauthorized(w, "missing access token")
				return
			}

			claims, err := v.VerifyAccess(raw)
			if err != nil {
				desc := "token verification failed"
				switch {
				case errors.Is(err, jwtx.ErrExpired):
					desc = "token expired"
				case errors.Is(err, jwtx.ErrWrongTokenType):
					desc = "refresh token presented as access token"
				}
				log.Warn("access token rejected", "err", err)
				writeUnauthorized(w, desc)
				return
			}

			ctx = contextWithAuth(ctx, claims)
			ctx = slogx.WithAuth(ctx, claims.Subject, claims.SID, claims.Role)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func bearerToken(r *http.Request) (string, bool) {
	if authz := r.Header.Get("Authorization"); authz != "" {
		scheme, token, found := strings.Cut(authz, " ")
		if !found || !strings.EqualFold(scheme, "Bearer") {
			return "", false
		}
		token = strings.TrimSpace(token)
		return token, token != ""
	}

	if c, err := r.Cookie(CookieAccessToken); err == nil && c.Value != "" {
		return c.Value, true
	}
	return "", false
}

// RFC 6750 style challenge with a JSON body.
func writeUnauthorized(w http.ResponseWriter, desc string) {
	w.Header().Set("WWW-Authenticate", `Bearer error="invalid_token", error_description="`+desc+`"`)
	WriteError(w, http.StatusUnauthorized, ErrorCodeUnauthorized, desc)
}
