package authsdk

import (
	"net/http"
	"strings"
	"time"
)

// HeaderClientInstance identifies the Manager instance (one per tab or
// process) that sent a request. The server only logs it.
const HeaderClientInstance = "X-Client-Instance"

// SDKClient is a thin HTTP client for the session service. It holds no
// tokens; callers pass the access token to authenticated calls. Manager
// builds on it to keep a session alive.
type SDKClient struct {
	BaseURL    string
	HTTPClient *http.Client

	// InstanceID is sent as X-Client-Instance when set.
	InstanceID string
}

// NewSDKClient creates a new client for the service at baseURL.
func NewSDKClient(baseURL string) *SDKClient {
	return &SDKClient{
		BaseURL: strings.TrimSuffix(baseURL, "/"),
		HTTPClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}
