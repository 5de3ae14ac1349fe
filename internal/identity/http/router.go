package http

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/cobaltline/identity/internal/identity/service"
	"github.com/cobaltline/identity/internal/identity/store"
	"github.com/cobaltline/identity/pkg/httpx"
	"github.com/cobaltline/identity/pkg/slogx"
)

// Router holds shared dependencies for HTTP handlers.
type Router struct {
	Mux         *http.ServeMux
	middlewares []httpx.Middleware

	buildVersion string
	startTime    time.Time
	logger       *slog.Logger

	store             store.Store
	AuthService       *service.AuthService
	TokenService      *service.TokenService
	SessionService    *service.SessionService
	MFAService        *service.MFAService
	PermissionService *service.PermissionService
}

func NewRouter(
	buildVersion string,
	st store.Store,
	logger *slog.Logger,
) *Router {
	r := &Router{
		Mux:          http.NewServeMux(),
		buildVersion: buildVersion,
		startTime:    time.Now(),
		store:        st,
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
	r.registerMFA()
	r.registerSessions()
	r.registerPermissions()
	r.registerSystem()
}

// ServeHTTP implements http.Handler for Router and applies the global
// middleware chain.
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	httpx.Chain(r.Mux, r.middlewares...).ServeHTTP(w, req)
}

func (r *Router) registerAuth() {
	authHandler := &AuthHandler{
		AuthService:  r.AuthService,
		TokenService: r.TokenService,
	}

	// POST /login - strict rate limit (authentication attempts)
	r.Mux.Handle("POST /v1/auth/login",
		httpx.Chain(http.HandlerFunc(authHandler.HandleLogin),
			httpx.RateLimitMiddleware(httpx.StrictLimit, httpx.IPKeyExtractor),
		),
	)

	// POST /refresh - strict rate limit by IP (token rotation)
	r.Mux.Handle("POST /v1/auth/refresh",
		httpx.Chain(http.HandlerFunc(authHandler.HandleRefresh),
			httpx.RateLimitMiddleware(httpx.StrictLimit, httpx.IPKeyExtractor),
		),
	)

	// POST /logout - moderate rate limit, idempotent
	r.Mux.Handle("POST /v1/auth/logout",
		httpx.Chain(http.HandlerFunc(authHandler.HandleLogout),
			httpx.RateLimitMiddleware(httpx.ModerateLimit, httpx.IPKeyExtractor),
		),
	)

	// POST /password - requires an authenticated session
	r.Mux.Handle("POST /v1/auth/password",
		httpx.Chain(http.HandlerFunc(authHandler.HandleChangePassword),
			r.authn(),
			httpx.RateLimitMiddleware(httpx.StrictLimit, httpx.IPKeyExtractor),
		),
	)
}

func (r *Router) registerMFA() {
	mfaHandler := &MFAHandler{
		MFAService:     r.MFAService,
		SessionService: r.SessionService,
	}

	r.Mux.Handle("POST /v1/mfa/enroll",
		httpx.Chain(http.HandlerFunc(mfaHandler.HandleEnroll),
			r.authn(),
			httpx.RateLimitMiddleware(httpx.ModerateLimit, httpx.IPKeyExtractor),
		),
	)

	r.Mux.Handle("POST /v1/mfa/confirm",
		httpx.Chain(http.HandlerFunc(mfaHandler.HandleConfirm),
			r.authn(),
			httpx.RateLimitMiddleware(httpx.StrictLimit, httpx.IPKeyExtractor),
		),
	)

	r.Mux.Handle("POST /v1/mfa/verify",
		httpx.Chain(http.HandlerFunc(mfaHandler.HandleVerify),
			r.authn(),
			httpx.RateLimitMiddleware(httpx.StrictLimit, httpx.IPKeyExtractor),
		),
	)

	r.Mux.Handle("DELETE /v1/mfa",
		httpx.Chain(http.HandlerFunc(mfaHandler.HandleDisable),
			r.authn(),
			httpx.RateLimitMiddleware(httpx.StrictLimit, httpx.IPKeyExtractor),
		),
	)

	r.Mux.Handle("GET /v1/mfa/backup-codes",
		httpx.Chain(http.HandlerFunc(mfaHandler.HandleBackupCodesRemaining),
			r.authn(),
			httpx.RateLimitMiddleware(httpx.LenientLimit, httpx.IPKeyExtractor),
		),
	)
}

func (r *Router) registerSessions() {
	sessionHandler := &SessionHandler{SessionService: r.SessionService}

	r.Mux.Handle("GET /v1/sessions",
		httpx.Chain(http.HandlerFunc(sessionHandler.HandleList),
			r.authn(),
			httpx.RateLimitMiddleware(httpx.LenientLimit, httpx.IPKeyExtractor),
		),
	)

	r.Mux.Handle("DELETE /v1/sessions/{id}",
		httpx.Chain(http.HandlerFunc(sessionHandler.HandleTerminate),
			r.authn(),
			httpx.RateLimitMiddleware(httpx.ModerateLimit, httpx.IPKeyExtractor),
		),
	)

	// Revokes every session of the caller except the current one.
	r.Mux.Handle("DELETE /v1/sessions",
		httpx.Chain(http.HandlerFunc(sessionHandler.HandleTerminateOthers),
			r.authn(),
			httpx.RateLimitMiddleware(httpx.ModerateLimit, httpx.IPKeyExtractor),
		),
	)

	r.Mux.Handle("POST /v1/devices/trust",
		httpx.Chain(http.HandlerFunc(sessionHandler.HandleTrustDevice),
			r.authn(),
			httpx.RateLimitMiddleware(httpx.ModerateLimit, httpx.IPKeyExtractor),
		),
	)

	r.Mux.Handle("POST /v1/devices/block",
		httpx.Chain(http.HandlerFunc(sessionHandler.HandleBlockDevice),
			r.authn(),
			httpx.RateLimitMiddleware(httpx.ModerateLimit, httpx.IPKeyExtractor),
		),
	)
}

func (r *Router) registerPermissions() {
	permHandler := &PermissionHandler{PermissionService: r.PermissionService}

	r.Mux.Handle("GET /v1/permissions",
		httpx.Chain(http.HandlerFunc(permHandler.HandleList),
			r.authn(),
			httpx.RateLimitMiddleware(httpx.LenientLimit, httpx.IPKeyExtractor),
		),
	)

	r.Mux.Handle("GET /v1/permissions/check",
		httpx.Chain(http.HandlerFunc(permHandler.HandleCheck),
			r.authn(),
			httpx.RateLimitMiddleware(httpx.LenientLimit, httpx.IPKeyExtractor),
		),
	)
}

func (r *Router) registerSystem() {
	r.Mux.Handle("GET /livez", LivezHandler(r.startTime, r.buildVersion))
	r.Mux.Handle("GET /readyz", ReadyzHandler(r.startTime, r.buildVersion, r.store))
}

func (r *Router) authn() httpx.Middleware {
	return AuthnMiddleware(r.TokenService, r.SessionService)
}
