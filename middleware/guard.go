package middleware

import (
	"context"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/zerovault/authcore"
	"github.com/zerovault/authcore/jwt"
)

// CredentialParser verifies a bearer credential and returns its claims.
// [jwt.Manager] satisfies this.
type CredentialParser interface {
	Parse(token string) (*jwt.SessionClaims, error)
}

// Principal is the authenticated identity injected into the request context
// by a passing guard.
type Principal struct {
	SubjectID string
	SessionID string
	ExpiresAt time.Time
}

type principalContextKey struct{}

// PrincipalFromContext returns the [Principal] injected by a guard.
func PrincipalFromContext(ctx context.Context) (*Principal, bool) {
	p, ok := ctx.Value(principalContextKey{}).(*Principal)
	return p, ok
}

// RequireCredential returns middleware that verifies the bearer credential's
// signature and temporal claims only. No session-store call is made, so a
// terminated session passes until its credential expires.
func RequireCredential(parser CredentialParser) func(http.Handler) http.Handler {
	return guard(nil, parser)
}

// RequireLive returns middleware that verifies the bearer credential and then
// checks the session is still active and unexpired in the store.
func RequireLive(engine *authcore.Engine, parser CredentialParser) func(http.Handler) http.Handler {
	return guard(engine, parser)
}

func guard(engine *authcore.Engine, parser CredentialParser) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if parser == nil {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			token, ok := bearerToken(r.Header.Get("Authorization"))
			if !ok {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			claims, err := parser.Parse(token)
			if err != nil {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			ctx := RequestContext(r)

			if engine != nil {
				result, err := engine.Validate(ctx, claims.Subject, claims.SID)
				if err != nil {
					if retryAfter, blocked := authcore.AsBlocked(err); blocked {
						if retryAfter > 0 {
							w.Header().Set("Retry-After", strconv.Itoa(int(retryAfter.Seconds())+1))
						}
						http.Error(w, "too many requests", http.StatusTooManyRequests)
						return
					}
					http.Error(w, "unauthorized", http.StatusUnauthorized)
					return
				}
				if !result.Valid {
					http.Error(w, "unauthorized", http.StatusUnauthorized)
					return
				}
			}

			principal := &Principal{
				SubjectID: claims.Subject,
				SessionID: claims.SID,
			}
			if claims.ExpiresAt != nil {
				principal.ExpiresAt = claims.ExpiresAt.Time
			}

			ctx = context.WithValue(ctx, principalContextKey{}, principal)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequestContext attaches the caller's network identity so the engine's
// admission layer and audit trail see the right origin.
func RequestContext(r *http.Request) context.Context {
	ctx := r.Context()

	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil && host != "" {
		ctx = authcore.WithClientIP(ctx, host)
	}
	if ua := r.UserAgent(); ua != "" {
		ctx = authcore.WithUserAgent(ctx, ua)
	}

	return ctx
}

func bearerToken(value string) (string, bool) {
	const bearer = "Bearer "
	if !strings.HasPrefix(value, bearer) {
		return "", false
	}

	token := value[len(bearer):]
	if token == "" {
		return "", false
	}

	return token, true
}
