package middleware

import (
	"log/slog"
	"net/http"
)

// CORSValidation logs a warning once, on the first request it sees,
// when a wildcard origin is configured, flagging a deployment misconfiguration without blocking
// the request (the CORS middleware itself enforces the policy).
func CORSValidation(allowedOrigins []string, log *slog.Logger) func(http.Handler) http.Handler {
	warned := false
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !warned {
				for _, origin := range allowedOrigins {
					if origin == "*" {
						log.Warn("CORS wildcard origin configured",
							"risk", "any origin may call the dispatch API",
							"recommendation", "set ALLOWED_ORIGINS to explicit origins in production")
						warned = true
						break
					}
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}
