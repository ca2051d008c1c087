/*
Package authsdk is the client side of the portal session service.

# SDKClient

SDKClient is a thin typed wrapper over the HTTP endpoints. It keeps no
state; authenticated calls take the access token explicitly.

	client := authsdk.NewSDKClient("https://auth.portal.example")

	pair, err := client.Login(ctx, authsdk.LoginRequest{Email: email, Password: pw})
	if errors.Is(err, authsdk.ErrInvalidCredentials) {
		// show the login form again
	}

	sessions, err := client.ListSessions(ctx, pair.AccessToken)

Errors returned by the service decode to *APIError and match the predefined
values with errors.Is.

# Manager

Manager keeps one session alive for an application:

	mgr, err := authsdk.NewManager(authsdk.ManagerConfig{
		Client:  client,
		Durable: fileBackend, // used when rememberMe is set
		OnLogout: func(ev authsdk.ForcedLogout) {
			redirectToLogin(ev.ReturnTo)
		},
	})
	if err := mgr.Start(ctx); err != nil { ... }
	defer mgr.Close()

	user, err := mgr.Login(ctx, email, pw, rememberMe)
	token, ok := mgr.CurrentToken()

The states are Anonymous, Authenticated, Refreshing and Expired. Login moves
to Authenticated; the access token is refreshed RefreshMargin before it
expires. A failed refresh is retried with exponential backoff; after
RetryPolicy.MaxAttempts consecutive failures, or when the server reports
the session revoked, the Manager clears its keys, moves to Expired and calls
OnLogout.

# Storage

A Manager stores everything under its namespace in a Backend and never
touches other keys. MemoryBackend is process-local; FileBackend is a JSON
file watched with fsnotify so several processes can share a session.

Managers sharing storage cooperate: a refresh first checks whether another
instance already rotated the pair and adopts it, and a short lease in the
storage keeps two instances from presenting the same refresh token; the
server treats a second use as theft and revokes every session of the
account. If the keys are removed by something other than a sign-out, the
Manager writes them back.
*/
package authsdk
