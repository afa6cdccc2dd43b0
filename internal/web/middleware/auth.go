package middleware

import (
	"net/http"

	"github.com/znz-systems/mailpilot/internal/auth"
)

// RequireAdmin enforces HTTP basic auth against the configured admin. When
// no admin is configured every request passes.
func RequireAdmin(admin *auth.Admin) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if !admin.Enabled() {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user, pass, ok := r.BasicAuth()
			if !ok || !admin.Verify(user, pass) {
				w.Header().Set("WWW-Authenticate", `Basic realm="mailpilot", charset="UTF-8"`)
				writeJSONError(w, http.StatusUnauthorized, "authentication required", "unauthorized")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
