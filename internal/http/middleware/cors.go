package middleware

import (
	"net/http"
	"strings"
)

const (
	corsAllowHeaders  = "Authorization, Content-Type, X-Request-Id"
	corsAllowMethods  = "GET, POST, PUT, DELETE, OPTIONS"
	corsExposeHeaders = "Retry-After, X-Request-Id"
)

// CORS allows browser calls from the configured origins. "*" echoes any
// origin back. Origins compare case-insensitively and ignore a trailing slash.
// A preflight from an origin outside the list is refused with 403.
func CORS(allowedOrigins []string) func(http.Handler) http.Handler {
	allowAny := false
	allow := make(map[string]struct{}, len(allowedOrigins))
	for _, origin := range allowedOrigins {
		origin = normalizeOrigin(origin)
		switch origin {
		case "":
		case "*":
			allowAny = true
		default:
			allow[origin] = struct{}{}
		}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := strings.TrimSpace(r.Header.Get("Origin"))
			preflight := r.Method == http.MethodOptions && origin != "" &&
				r.Header.Get("Access-Control-Request-Method") != ""

			if origin == "" {
				next.ServeHTTP(w, r)
				return
			}
			_, listed := allow[normalizeOrigin(origin)]
			if !allowAny && !listed {
				if preflight {
					w.WriteHeader(http.StatusForbidden)
					return
				}
				next.ServeHTTP(w, r)
				return
			}

			h := w.Header()
			h.Set("Access-Control-Allow-Origin", origin)
			h.Add("Vary", "Origin")
			h.Set("Access-Control-Expose-Headers", corsExposeHeaders)
			if preflight {
				h.Set("Access-Control-Allow-Headers", corsAllowHeaders)
				h.Set("Access-Control-Allow-Methods", corsAllowMethods)
				h.Set("Access-Control-Max-Age", "600")
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func normalizeOrigin(origin string) string {
	return strings.ToLower(strings.TrimSuffix(strings.TrimSpace(origin), "/"))
}
