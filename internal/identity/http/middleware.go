package http

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/cobaltline/identity/internal/identity/service"
	"github.com/cobaltline/identity/pkg/httpx"
	"github.com/cobaltline/identity/pkg/jwtx"
	"github.com/cobaltline/identity/pkg/slogx"
)

type ctxKey string

const (
	ctxKeyUserID    ctxKey = "user_id"
	ctxKeySessionID ctxKey = "session_id"
	ctxKeyClaims    ctxKey = "claims"
)

// AuthnMiddleware verifies the Bearer access token and checks that its bound
// session is still live. The session check is what makes revocation and
// timeouts effective before the JWT itself expires.
func AuthnMiddleware(tokens *service.TokenService, sessions *service.SessionService) httpx.Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			log := slogx.FromContext(ctx)

			authz := r.Header.Get("Authorization")
			if authz == "" || !strings.HasPrefix(authz, "Bearer ") {
				writeBearerError(w, "missing bearer token")
				return
			}
			raw := strings.TrimSpace(strings.TrimPrefix(authz, "Bearer"))

			claims, err := tokens.VerifyAccess(raw)
			if err != nil {
				log.Warn("jwt verify failed", "err", err)
				writeBearerError(w, "token verification failed")
				return
			}

			if claims.SID == "" {
				writeBearerError(w, "token has no session binding")
				return
			}

			_, err = sessions.Validate(ctx, claims.SID, clientIP(r), r.UserAgent())
			if err != nil {
				switch {
				case errors.Is(err, service.ErrSessionNotFound),
					errors.Is(err, service.ErrSessionRevoked),
					errors.Is(err, service.ErrSessionExpired):
					writeBearerError(w, "session no longer valid")
				default:
					log.Error("session validation failed", "session_id", claims.SID, "err", err)
					httpx.WriteError(w, http.StatusInternalServerError, "server_error", "internal server error")
				}
				return
			}

			ctx = contextWithAuth(ctx, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func contextWithAuth(ctx context.Context, c jwtx.Claims) context.Context {
	ctx = context.WithValue(ctx, ctxKeyUserID, c.Subject)
	ctx = context.WithValue(ctx, ctxKeySessionID, c.SID)
	ctx = context.WithValue(ctx, ctxKeyClaims, c)
	return ctx
}

func userIDFromCtx(ctx context.Context) string {
	v, _ := ctx.Value(ctxKeyUserID).(string)
	return v
}

func sessionIDFromCtx(ctx context.Context) string {
	v, _ := ctx.Value(ctxKeySessionID).(string)
	return v
}

// RFC 6750-compliant error response for bearer auth.
func writeBearerError(w http.ResponseWriter, desc string) {
	w.Header().Set("WWW-Authenticate", `Bearer error="invalid_token", error_description="`+desc+`"`)
	httpx.WriteError(w, http.StatusUnauthorized, "invalid_token", desc)
}

// clientIP resolves the originating address, honouring proxy headers.
func clientIP(r *http.Request) string {
	return httpx.IPKeyExtractor(r)
}
