package middleware

import (
	"context"
	"net/http"
	"strings"

	authgate "github.com/halcyonlabs/authgate"
)

type accessResultContextKey struct{}

// AccessFromContext returns the validated access result injected by [Guard],
// or false when the request did not pass through a guard.
func AccessFromContext(ctx context.Context) (*authgate.AccessResult, bool) {
	res, ok := ctx.Value(accessResultContextKey{}).(*authgate.AccessResult)
	return res, ok
}

// Guard returns middleware that validates the bearer token of each request
// against the engine's session registry and injects the result into the
// request context.
func Guard(engine *authgate.Engine) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if engine == nil {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			token, ok := bearerToken(r.Header.Get("Authorization"))
			if !ok {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			res, err := engine.ValidateAccess(r.Context(), token)
			if err != nil {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			ctx := context.WithValue(r.Context(), accessResultContextKey{}, res)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
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
