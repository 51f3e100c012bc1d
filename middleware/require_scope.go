package middleware

import (
	"net/http"

	authgate "github.com/halcyonlabs/authgate"
)

// RequireScope returns middleware that rejects requests whose validated
// access result does not carry the given scope. It must wrap a handler
// already behind [Guard].
func RequireScope(engine *authgate.Engine, scope string) func(http.Handler) http.Handler {
	guard := Guard(engine)
	return func(next http.Handler) http.Handler {
		return guard(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			res, ok := AccessFromContext(r.Context())
			if !ok || !hasScope(res.Scopes, scope) {
				http.Error(w, "forbidden", http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r)
		}))
	}
}

func hasScope(scopes []string, want string) bool {
	for _, s := range scopes {
		if s == want {
			return true
		}
	}
	return false
}
