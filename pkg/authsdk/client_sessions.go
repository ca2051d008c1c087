package authsdk

import (
	"context"
	"net/http"
	"net/url"
)

// ListSessions returns the caller's live sessions.
func (c *SDKClient) ListSessions(ctx context.Context, accessToken string) ([]SessionInfo, error) {
	return c.listSessions(ctx, accessToken, "/auth/sessions")
}

// RevokeSession logs out one of the caller's devices.
func (c *SDKClient) RevokeSession(ctx context.Context, accessToken, sessionID string) error {
	resp, err := c.doRequest(ctx, http.MethodDelete, "/auth/sessions/"+url.PathEscape(sessionID), accessToken, nil)
	if err != nil {
		return err
	}
	return checkStatus(resp, http.StatusNoContent)
}

// ListUserSessions returns another user's sessions. Requires users:read.
func (c *SDKClient) ListUserSessions(ctx context.Context, accessToken, userID string) ([]SessionInfo, error) {
	return c.listSessions(ctx, accessToken, "/auth/admin/sessions/"+url.PathEscape(userID))
}

// RevokeUserSessions logs a user out everywhere. Requires SYSTEM_ADMIN.
func (c *SDKClient) RevokeUserSessions(ctx context.Context, accessToken, userID string) (int, error) {
	resp, err := c.doRequest(ctx, http.MethodDelete, "/auth/admin/sessions/"+url.PathEscape(userID), accessToken, nil)
	if err != nil {
		return 0, err
	}

	var out LogoutAllResponse
	if err := decodeJSON(resp, &out, http.StatusOK); err != nil {
		return 0, err
	}
	return out.Revoked, nil
}

func (c *SDKClient) listSessions(ctx context.Context, accessToken, path string) ([]SessionInfo, error) {
	resp, err := c.doRequest(ctx, http.MethodGet, path, accessToken, nil)
	if err != nil {
		return nil, err
	}

	var out SessionListResponse
	if err := decodeJSON(resp, &out, http.StatusOK); err != nil {
		return nil, err
	}
	return out.Sessions, nil
}
