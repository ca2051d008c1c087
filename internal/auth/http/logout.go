package http

import (
	"net/http"

	"github.com/edportal/sessionauth/internal/auth/service"
	"github.com/edportal/sessionauth/pkg/authsdk"
	"github.com/edportal/sessionauth/pkg/httpx"
)

// LogoutHandler serves POST /auth/logout and POST /auth/logout-all.
type LogoutHandler struct {
	Auth    *service.AuthService
	Cookies httpx.CookieConfig
}

// HandleLogout godoc
//
//	@Summary		Log out of the current session
//	@Description	Revokes the session named by the access token. Idempotent.
//	@Tags			Auth
//	@Produce		json
//	@Security		BearerAuth
//	@Success		200	{object}	authsdk.StatusResponse
//	@Failure		401	{object}	authsdk.APIError	"unauthorized"
//	@Failure		503	{object}	authsdk.APIError	"store_unavailable"
//	@Router			/auth/logout [post].
func (h *LogoutHandler) HandleLogout(w http.ResponseWriter, r *http.Request) {
	claims, _ := httpx.ClaimsFromContext(r.Context())

	if err := h.Auth.Logout(r.Context(), claims.SID); err != nil {
		writeServiceError(w, r, err)
		return
	}

	httpx.ClearSessionCookies(w, h.Cookies)
	httpx.WriteJSON(w, http.StatusOK, authsdk.StatusResponse{Status: "logged_out"})
}

// HandleLogoutAll godoc
//
//	@Summary		Log out everywhere
//	@Description	Revokes every session of the caller on every device.
//	@Tags			Auth
//	@Produce		json
//	@Security		BearerAuth
//	@Success		200	{object}	authsdk.LogoutAllResponse
//	@Failure		401	{object}	authsdk.APIError	"unauthorized"
//	@Failure		503	{object}	authsdk.APIError	"store_unavailable"
//	@Router			/auth/logout-all [post].
func (h *LogoutHandler) HandleLogoutAll(w http.ResponseWriter, r *http.Request) {
	claims, _ := httpx.ClaimsFromContext(r.Context())

	n, err := h.Auth.LogoutAll(r.Context(), claims.Subject)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	httpx.ClearSessionCookies(w, h.Cookies)
	httpx.WriteJSON(w, http.StatusOK, authsdk.LogoutAllResponse{Revoked: n})
}
