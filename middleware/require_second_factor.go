package middleware

import (
	"net/http"

	authgate "github.com/halcyonlabs/authgate"
)

// RequireSecondFactor returns middleware that only admits sessions
// established with a second factor or an equivalent strong method.
// Password-only sessions get 403 so callers can prompt for step-up.
func RequireSecondFactor(engine *authgate.Engine) func(http.Handler) http.Handler {
	guard := Guard(engine)
	return func(next http.Handler) http.Handler {
		return guard(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			res, ok := AccessFromContext(r.Context())
			if !ok || (res.SecondFactor == "" && res.Method != authgate.MethodWebAuthn) {
				http.Error(w, "forbidden", http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r)
		}))
	}
}
