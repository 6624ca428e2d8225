package auth

import (
	"context"
	"net/http"
	"strings"

	"github.com/jonboulle/clockwork"
	"github.com/md-rashed-zaman/recipeshare/libs/httpx"
)

type ctxKey struct{}

func ClaimsFromContext(ctx context.Context) (*Claims, bool) {
	c, ok := ctx.Value(ctxKey{}).(*Claims)
	return c, ok
}

// RequireRole admits requests bearing a valid HS256 token whose role is one
// of roles. Missing or bad tokens get 401, the wrong role gets 403.
func RequireRole(secret string, clock clockwork.Clock, roles ...string) httpx.Middleware {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw, ok := bearerToken(r)
			if !ok {
				httpx.WriteError(w, r, http.StatusUnauthorized, "missing bearer token")
				return
			}
			claims, err := ParseAndVerifyHS256(raw, secret, clock.Now())
			if err != nil {
				httpx.WriteError(w, r, http.StatusUnauthorized, "invalid token")
				return
			}
			if !hasRole(claims.Role, roles) {
				httpx.WriteError(w, r, http.StatusForbidden, "insufficient role")
				return
			}
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ctxKey{}, claims)))
		})
	}
}

func bearerToken(r *http.Request) (string, bool) {
	scheme, token, ok := strings.Cut(r.Header.Get("Authorization"), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

func hasRole(role string, allowed []string) bool {
	for _, a := range allowed {
		if role == a {
			return true
		}
	}
	return false
}
