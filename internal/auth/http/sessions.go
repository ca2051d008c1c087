package http

import (
	"net/http"

	"github.com/edportal/sessionauth/internal/auth/domain"
	"github.com/edportal/sessionauth/internal/auth/service"
	"github.com/edportal/sessionauth/pkg/authsdk"
	"github.com/edportal/sessionauth/pkg/httpx"
)

// SessionsHandler serves the device session endpoints.
type SessionsHandler struct {
	Auth    *service.AuthService
	Cookies httpx.CookieConfig
}

// HandleList godoc
//
//	@Summary		List my sessions
//	@Description	Lists the caller's live sessions, most recently active first. The session used for the request is marked current.
//	@Tags			Sessions
//	@Produce		json
//	@Security		BearerAuth
//	@Success		200	{object}	authsdk.SessionListResponse
//	@Failure		401	{object}	authsdk.APIError	"unauthorized"
//	@Failure		503	{object}	authsdk.APIError	"store_unavailable"
//	@Router			/auth/sessions [get].
func (h *SessionsHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	claims, _ := httpx.ClaimsFromContext(r.Context())
	h.list(w, r, claims.Subject, claims.SID)
}

// HandleRevoke godoc
//
//	@Summary		Revoke one of my sessions
//	@Description	Logs out one device. Sessions of other users are reported as not found.
//	@Tags			Sessions
//	@Security		BearerAuth
//	@Param			id	path	string	true	"Session ID"
//	@Success		204
//	@Failure		401	{object}	authsdk.APIError	"unauthorized"
//	@Failure		404	{object}	authsdk.APIError	"session_not_found"
//	@Router			/auth/sessions/{id} [delete].
func (h *SessionsHandler) HandleRevoke(w http.ResponseWriter, r *http.Request) {
	claims, _ := httpx.ClaimsFromContext(r.Context())
	sid := r.PathValue("id")

	if err := h.Auth.RevokeOwnSession(r.Context(), claims.Subject, sid); err != nil {
		writeServiceError(w, r, err)
		return
	}

	if sid == claims.SID {
		httpx.ClearSessionCookies(w, h.Cookies)
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleAdminList godoc
//
//	@Summary		List a user's sessions
//	@Tags			Admin
//	@Produce		json
//	@Security		BearerAuth
//	@Param			userId	path		string	true	"User ID"
//	@Success		200		{object}	authsdk.SessionListResponse
//	@Failure		403		{object}	authsdk.APIError	"forbidden"
//	@Router			/auth/admin/sessions/{userId} [get].
func (h *SessionsHandler) HandleAdminList(w http.ResponseWriter, r *http.Request) {
	claims, _ := httpx.ClaimsFromContext(r.Context())
	h.list(w, r, r.PathValue("userId"), claims.SID)
}

// HandleAdminRevokeAll godoc
//
//	@Summary		Log a user out everywhere
//	@Tags			Admin
//	@Produce		json
//	@Security		BearerAuth
//	@Param			userId	path		string	true	"User ID"
//	@Success		200		{object}	authsdk.LogoutAllResponse
//	@Failure		403		{object}	authsdk.APIError	"forbidden"
//	@Router			/auth/admin/sessions/{userId} [delete].
func (h *SessionsHandler) HandleAdminRevokeAll(w http.ResponseWriter, r *http.Request) {
	n, err := h.Auth.RevokeUserSessions(r.Context(), r.PathValue("userId"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, authsdk.LogoutAllResponse{Revoked: n})
}

func (h *SessionsHandler) list(w http.ResponseWriter, r *http.Request, userID, currentSID string) {
	sessions, err := h.Auth.ListSessions(r.Context(), userID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	out := make([]authsdk.SessionInfo, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, toSessionInfo(s, currentSID))
	}
	httpx.WriteJSON(w, http.StatusOK, authsdk.SessionListResponse{Sessions: out})
}

func toSessionInfo(s domain.SessionRecord, currentSID string) authsdk.SessionInfo {
	return authsdk.SessionInfo{
		ID:             s.ID,
		IssuedAt:       s.IssuedAt,
		LastActivityAt: s.LastActivityAt,
		ExpiresAt:      s.ExpiresAt,
		RememberMe:     s.RememberMe,
		DeviceType:     string(s.Device.Type),
		UserAgent:      s.Device.UserAgent,
		IP:             s.Device.IP,
		Current:        s.ID == currentSID,
	}
}
