package http

import (
	"net/http"

	"github.com/edportal/sessionauth/internal/auth/domain"
	"github.com/edportal/sessionauth/internal/auth/service"
	"github.com/edportal/sessionauth/pkg/authsdk"
	"github.com/edportal/sessionauth/pkg/httpx"
	"github.com/edportal/sessionauth/pkg/slogx"
)

// LoginHandler serves POST /auth/login.
type LoginHandler struct {
	Auth    *service.AuthService
	Cookies httpx.CookieConfig
}

// ServeHTTP godoc
//
//	@Summary		Log in with email and password
//	@Description	Verifies credentials, creates a device session and returns a token pair.
//	@Description	The tokens are also set as httpOnly cookies. rememberMe extends both lifetimes.
//	@Tags			Auth
//	@Accept			json
//	@Produce		json
//	@Param			request	body		authsdk.LoginRequest	true	"Credentials"
//	@Success		200		{object}	authsdk.TokenResponse
//	@Failure		400		{object}	authsdk.APIError	"invalid_request"
//	@Failure		401		{object}	authsdk.APIError	"invalid_credentials"
//	@Failure		403		{object}	authsdk.APIError	"account_disabled"
//	@Failure		429		{object}	authsdk.APIError	"rate_limit_exceeded"
//	@Failure		503		{object}	authsdk.APIError	"store_unavailable"
//	@Router			/auth/login [post].
func (h *LoginHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var req authsdk.LoginRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		slogx.FromContext(r.Context()).Debug("login body rejected", "err", err)
		authsdk.ErrInvalidRequest.WriteError(w)
		return
	}

	res, err := h.Auth.Login(r.Context(), service.LoginRequest{
		Email:      req.Email,
		Password:   req.Password,
		RememberMe: req.RememberMe,
		Device:     domain.NewDeviceInfo(r.UserAgent(), httpx.IPKeyExtractor(r)),
	})
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	writeTokens(w, h.Cookies, res.Tokens, res.SessionID, res.User)
}

// writeTokens mirrors the pair into cookies and writes the JSON body.
func writeTokens(w http.ResponseWriter, cookies httpx.CookieConfig, pair domain.TokenPair, sid string, user domain.UserSummary) {
	httpx.SetSessionCookies(w, cookies, httpx.SessionCookies{
		AccessToken:  pair.AccessToken,
		AccessTTL:    pair.AccessTTL,
		RefreshToken: pair.RefreshToken,
		RefreshTTL:   pair.RefreshTTL,
		SessionID:    sid,
		Role:         string(user.Role),
	})

	httpx.WriteJSON(w, http.StatusOK, authsdk.TokenResponse{
		AccessToken:      pair.AccessToken,
		RefreshToken:     pair.RefreshToken,
		ExpiresIn:        int(pair.AccessTTL.Seconds()),
		RefreshExpiresIn: int(pair.RefreshTTL.Seconds()),
		SessionID:        sid,
		User:             toUserInfo(user),
	})
}

func toUserInfo(u domain.UserSummary) authsdk.UserInfo {
	return authsdk.UserInfo{
		ID:            u.ID,
		Email:         u.Email,
		Name:          u.Name,
		Role:          string(u.Role),
		Permissions:   u.Permissions,
		InstitutionID: u.InstitutionID,
	}
}
