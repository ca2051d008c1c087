package http

import (
	"net/http"

	"github.com/edportal/sessionauth/internal/auth/service"
	"github.com/edportal/sessionauth/pkg/authsdk"
	"github.com/edportal/sessionauth/pkg/httpx"
)

// ActivityHandler serves POST /auth/activity.
type ActivityHandler struct {
	Auth *service.AuthService
}

// ServeHTTP godoc
//
//	@Summary		Record session activity
//	@Description	Updates the session's last activity time. Never extends the session lifetime.
//	@Tags			Sessions
//	@Security		BearerAuth
//	@Success		204
//	@Failure		401	{object}	authsdk.APIError	"unauthorized or session_revoked"
//	@Router			/auth/activity [post].
func (h *ActivityHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	claims, _ := httpx.ClaimsFromContext(r.Context())

	if err := h.Auth.Touch(r.Context(), claims.SID); err != nil {
		writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleMe godoc
//
//	@Summary		Current identity
//	@Description	Returns the identity carried by the access token.
//	@Tags			Auth
//	@Produce		json
//	@Security		BearerAuth
//	@Success		200	{object}	authsdk.MeResponse
//	@Failure		401	{object}	authsdk.APIError	"unauthorized"
//	@Router			/auth/me [get].
func HandleMe(w http.ResponseWriter, r *http.Request) {
	claims, _ := httpx.ClaimsFromContext(r.Context())

	httpx.WriteJSON(w, http.StatusOK, authsdk.MeResponse{
		User: authsdk.UserInfo{
			ID:            claims.Subject,
			Email:         claims.Email,
			Name:          claims.Name,
			Role:          claims.Role,
			Permissions:   claims.Permissions,
			InstitutionID: claims.InstitutionID,
		},
		SessionID: claims.SID,
		ExpiresAt: claims.ExpiresAtTime(),
	})
}
