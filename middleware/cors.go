package middleware

import (
	"net/http"
	"strconv"
)

// CORSConfig controls cross-origin access to the HTTP surface.
// Browser frontends consume both the unary operations and the
// event stream, so the defaults admit PUT (field writes) and the
// Last-Event-ID request header (stream resume).
type CORSConfig struct {
	// AllowOrigins lists origins allowed to call the API. "*" allows
	// any origin. Default: ["*"].
	AllowOrigins []string

	// AllowCredentials permits requests with cookies or auth headers.
	AllowCredentials bool

	// MaxAge is the preflight cache lifetime in seconds. Zero leaves
	// the header unset.
	MaxAge int
}

const (
	corsMethods = "GET, POST, PUT, OPTIONS"
	corsHeaders = "Content-Type, Authorization, Last-Event-ID"
)

// CORS returns an HTTP middleware that answers preflight requests and
// sets cross-origin headers on responses. A nil config allows all
// origins without credentials.
func CORS(cfg *CORSConfig) func(http.Handler) http.Handler {
	if cfg == nil {
		cfg = &CORSConfig{}
	}
	origins := cfg.AllowOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	wildcard := false
	for _, o := range origins {
		if o == "*" {
			wildcard = true
		}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")

			allowed := wildcard
			if !allowed && origin != "" {
				for _, o := range origins {
					if o == origin {
						allowed = true
						break
					}
				}
			}

			if allowed {
				switch {
				case wildcard && !cfg.AllowCredentials:
					w.Header().Set("Access-Control-Allow-Origin", "*")
				case origin != "":
					// Credentials forbid a literal "*", so echo the
					// requesting origin.
					w.Header().Set("Access-Control-Allow-Origin", origin)
				}
				if cfg.AllowCredentials {
					w.Header().Set("Access-Control-Allow-Credentials", "true")
				}
				if !wildcard {
					w.Header().Add("Vary", "Origin")
				}
			}

			if r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != "" {
				w.Header().Set("Access-Control-Allow-Methods", corsMethods)
				w.Header().Set("Access-Control-Allow-Headers", corsHeaders)
				if cfg.MaxAge > 0 {
					w.Header().Set("Access-Control-Max-Age", strconv.Itoa(cfg.MaxAge))
				}
				w.WriteHeader(http.StatusNoContent)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
