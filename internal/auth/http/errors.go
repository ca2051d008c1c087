package http

import (
	"errors"
	"net/http"

	"github.com/edportal/sessionauth/internal/auth/service"
	"github.com/edportal/sessionauth/pkg/authsdk"
	"github.com/edportal/sessionauth/pkg/slogx"
)

// writeServiceError maps service errors onto stable API errors. Anything
// unrecognised is logged and reported as server_error.
func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, service.ErrInvalidRequest):
		authsdk.ErrInvalidRequest.WriteError(w)
	case errors.Is(err, service.ErrInvalidCredentials):
		authsdk.ErrInvalidCredentials.WriteError(w)
	case errors.Is(err, service.ErrAccountDisabled):
		authsdk.ErrAccountDisabled.WriteError(w)
	case errors.Is(err, service.ErrInvalidRefreshToken):
		authsdk.ErrInvalidRefreshToken.WriteError(w)
	case errors.Is(err, service.ErrSessionRevoked):
		authsdk.ErrSessionRevoked.WriteError(w)
	case errors.Is(err, service.ErrSessionNotFound):
		authsdk.ErrSessionNotFound.WriteError(w)
	case errors.Is(err, service.ErrStoreUnavailable):
		w.Header().Set("Retry-After", "5")
		authsdk.ErrStoreUnavailable.WriteError(w)
	default:
		slogx.FromContext(r.Context()).Error("request failed", "err", err)
		authsdk.ErrServerError.WriteError(w)
	}
}
