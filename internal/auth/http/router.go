package http

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/edportal/sessionauth/internal/auth/service"
	"github.com/edportal/sessionauth/pkg/httpx"
	"github.com/edportal/sessionauth/pkg/jwtx"
	"github.com/edportal/sessionauth/pkg/rbac"
	"github.com/edportal/sessionauth/pkg/slogx"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	_ "github.com/edportal/sessionauth/api/auth" // Swagger docs
	httpSwagger "github.com/swaggo/http-swagger"
)

// Router holds shared dependencies for HTTP handlers.
type Router struct {
	Mux         *http.ServeMux
	middlewares []httpx.Middleware

	verifier     jwtx.Verifier
	buildVersion string
	startTime    time.Time
	logger       *slog.Logger

	Auth    *service.AuthService
	Cookies httpx.CookieConfig

	// Gatherer serves /metrics when set.
	Gatherer prometheus.Gatherer
}

func NewRouter(
	verifier jwtx.Verifier,
	buildVersion string,
	auth *service.AuthService,
	logger *slog.Logger,
) *Router {
	r := &Router{
		Mux:          http.NewServeMux(),
		verifier:     verifier,
		buildVersion: buildVersion,
		startTime:    time.Now(),
		Auth:         auth,
		logger:       logger,
	}

	// Set default middleware chain
	r.middlewares = []httpx.Middleware{
		slogx.HTTPMiddleware(r.logger),
	}

	return r
}

func (r *Router) ApplyRoutes() {
	r.registerAuth()
	r.registerSessions()
	r.registerAdmin()
	r.registerSystem()

	r.Mux.Handle("/swagger/", httpSwagger.Handler())
}

// ServeHTTP implements http.Handler for Router and applies the global middleware chain.
//
//	@title			EdPortal Session Service API
//	@version		0.1.0
//	@description	Credential login, refresh token rotation and device session management for the portal.
//	@description
//	@description				Access tokens are HS256 JWTs carrying the resolved role and permissions.
//
//	@host						localhost:8080
//	@BasePath					/
//
//	@schemes					http https
//
//	@securityDefinitions.apikey	BearerAuth
//	@in							header
//	@name						Authorization
//	@description				JWT access token. Format: "Bearer {token}".
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	httpx.Chain(r.Mux, r.middlewares...).ServeHTTP(w, req)
}

// authed verifies the access token and rate limits by user.
func (r *Router) authed(h http.Handler, extra ...httpx.Middleware) http.Handler {
	mws := append([]httpx.Middleware{httpx.AuthnMiddleware(r.verifier)}, extra...)
	mws = append(mws, httpx.RateLimitByUser(httpx.SessionLimit))
	return httpx.Chain(h, mws...)
}

func (r *Router) registerAuth() {
	login := &LoginHandler{Auth: r.Auth, Cookies: r.Cookies}
	refresh := &RefreshHandler{Auth: r.Auth, Cookies: r.Cookies}
	logout := &LogoutHandler{Auth: r.Auth, Cookies: r.Cookies}

	// POST /auth/login - strict limit per IP and email (credential guessing)
	r.Mux.Handle("POST /auth/login",
		httpx.Chain(login,
			httpx.RateLimitByIPAndJSONField(httpx.LoginLimit, "email"),
		),
	)

	// POST /auth/refresh - no access token needed, it may have expired
	r.Mux.Handle("POST /auth/refresh",
		httpx.Chain(refresh,
			httpx.RateLimitByIP(httpx.RefreshLimit),
		),
	)

	r.Mux.Handle("POST /auth/logout", r.authed(http.HandlerFunc(logout.HandleLogout)))
	r.Mux.Handle("POST /auth/logout-all", r.authed(http.HandlerFunc(logout.HandleLogoutAll)))
	r.Mux.Handle("POST /auth/activity", r.authed(&ActivityHandler{Auth: r.Auth}))
	r.Mux.Handle("GET /auth/me", r.authed(http.HandlerFunc(HandleMe)))
}

func (r *Router) registerSessions() {
	h := &SessionsHandler{Auth: r.Auth, Cookies: r.Cookies}

	// Session management also checks the store so a revoked device cannot
	// revoke others with its remaining access token lifetime.
	live := httpx.RequireLiveSession(r.Auth)

	r.Mux.Handle("GET /auth/sessions", r.authed(http.HandlerFunc(h.HandleList), live))
	r.Mux.Handle("DELETE /auth/sessions/{id}", r.authed(http.HandlerFunc(h.HandleRevoke), live))
}

func (r *Router) registerAdmin() {
	h := &SessionsHandler{Auth: r.Auth, Cookies: r.Cookies}

	r.Mux.Handle("GET /auth/admin/sessions/{userId}",
		r.authed(http.HandlerFunc(h.HandleAdminList),
			httpx.RequireAnyPermission("users:read"),
		),
	)
	r.Mux.Handle("DELETE /auth/admin/sessions/{userId}",
		r.authed(http.HandlerFunc(h.HandleAdminRevokeAll),
			httpx.RequireRole(rbac.RoleSystemAdmin),
		),
	)
}

func (r *Router) registerSystem() {
	// Health check endpoints - lenient rate limits (monitoring systems may poll frequently)
	r.Mux.Handle("GET /livez",
		httpx.Chain(LivezHandler(r.startTime, r.buildVersion),
			httpx.RateLimitByIP(httpx.SessionLimit),
		),
	)
	r.Mux.Handle("GET /readyz",
		httpx.Chain(ReadyzHandler(r.startTime, r.buildVersion, r.Auth.Sessions, r.Auth.Directory),
			httpx.RateLimitByIP(httpx.SessionLimit),
		),
	)

	if r.Gatherer != nil {
		r.Mux.Handle("GET /metrics", promhttp.HandlerFor(r.Gatherer, promhttp.HandlerOpts{}))
	}
}
