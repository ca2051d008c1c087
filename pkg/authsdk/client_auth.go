package authsdk

import (
	"context"
	"net/http"
)

// Login exchanges credentials for a token pair.
func (c *SDKClient) Login(ctx context.Context, req LoginRequest) (*TokenResponse, error) {
	resp, err := c.doRequest(ctx, http.MethodPost, "/auth/login", "", req)
	if err != nil {
		return nil, err
	}

	var tokenResp TokenResponse
	if err := decodeJSON(resp, &tokenResp, http.StatusOK); err != nil {
		return nil, err
	}
	return &tokenResp, nil
}

// Refresh rotates refreshToken. The token must not be used again after this
// call returns, whatever the outcome: a second use revokes every session of
// the account.
func (c *SDKClient) Refresh(ctx context.Context, refreshToken string) (*TokenResponse, error) {
	resp, err := c.doRequest(ctx, http.MethodPost, "/auth/refresh", "", RefreshRequest{RefreshToken: refreshToken})
	if err != nil {
		return nil, err
	}

	var tokenResp TokenResponse
	if err := decodeJSON(resp, &tokenResp, http.StatusOK); err != nil {
		return nil, err
	}
	return &tokenResp, nil
}

// Logout revokes the session the access token belongs to.
func (c *SDKClient) Logout(ctx context.Context, accessToken string) error {
	resp, err := c.doRequest(ctx, http.MethodPost, "/auth/logout", accessToken, nil)
	if err != nil {
		return err
	}
	return checkStatus(resp, http.StatusOK)
}

// LogoutAll revokes every session of the caller and returns how many were
// live.
func (c *SDKClient) LogoutAll(ctx context.Context, accessToken string) (int, error) {
	resp, err := c.doRequest(ctx, http.MethodPost, "/auth/logout-all", accessToken, nil)
	if err != nil {
		return 0, err
	}

	var out LogoutAllResponse
	if err := decodeJSON(resp, &out, http.StatusOK); err != nil {
		return 0, err
	}
	return out.Revoked, nil
}

// Activity records activity on the current session.
func (c *SDKClient) Activity(ctx context.Context, accessToken string) error {
	resp, err := c.doRequest(ctx, http.MethodPost, "/auth/activity", accessToken, nil)
	if err != nil {
		return err
	}
	return checkStatus(resp, http.StatusNoContent)
}

// Me returns the identity carried by the access token.
func (c *SDKClient) Me(ctx context.Context, accessToken string) (*MeResponse, error) {
	resp, err := c.doRequest(ctx, http.MethodGet, "/auth/me", accessToken, nil)
	if err != nil {
		return nil, err
	}

	var me MeResponse
	if err := decodeJSON(resp, &me, http.StatusOK); err != nil {
		return nil, err
	}
	return &me, nil
}
