package http

import (
	"errors"
	"net/http"
	"strings"

	"github.com/edportal/sessionauth/internal/auth/service"
	"github.com/edportal/sessionauth/pkg/authsdk"
	"github.com/edportal/sessionauth/pkg/httpx"
)

// RefreshHandler serves POST /auth/refresh.
type RefreshHandler struct {
	Auth    *service.AuthService
	Cookies httpx.CookieConfig
}

// ServeHTTP godoc
//
//	@Summary		Rotate a refresh token
//	@Description	Exchanges a refresh token (JSON body or refresh_token cookie) for a new pair.
//	@Description	The presented token is invalid afterwards; presenting it again revokes every session of the user.
//	@Tags			Auth
//	@Accept			json
//	@Produce		json
//	@Param			request	body		authsdk.RefreshRequest	false	"Refresh token, optional when the cookie is sent"
//	@Success		200		{object}	authsdk.TokenResponse
//	@Failure		400		{object}	authsdk.APIError	"invalid_request"
//	@Failure		401		{object}	authsdk.APIError	"invalid_refresh_token or session_revoked"
//	@Failure		503		{object}	authsdk.APIError	"store_unavailable"
//	@Router			/auth/refresh [post].
func (h *RefreshHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var req authsdk.RefreshRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		authsdk.ErrInvalidRequest.WriteError(w)
		return
	}

	token := strings.TrimSpace(req.RefreshToken)
	if token == "" {
		if c, err := r.Cookie(httpx.CookieRefreshToken); err == nil {
			token = c.Value
		}
	}

	res, err := h.Auth.Refresh(r.Context(), token)
	if err != nil {
		if errors.Is(err, service.ErrInvalidRefreshToken) || errors.Is(err, service.ErrSessionRevoked) {
			httpx.ClearSessionCookies(w, h.Cookies)
		}
		writeServiceError(w, r, err)
		return
	}

	writeTokens(w, h.Cookies, res.Tokens, res.SessionID, res.User)
}
