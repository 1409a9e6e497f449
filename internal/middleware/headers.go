package middleware

import (
	"fmt"
	"net/http"
	"strings"
	"time"
)

// Chain wraps h with mws, the first being outermost.
func Chain(h http.Handler, mws ...func(http.Handler) http.Handler) http.Handler {
	for i := len(mws) - 1; i >= 0; i-- {
		h = mws[i](h)
	}
	return h
}

// SecureHeaders adds standard security headers.
func SecureHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("Referrer-Policy", "strict-origin-when-cross-origin")
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("X-Frame-Options", "DENY")
		h.Set("Permissions-Policy", "camera=(), microphone=(), geolocation=()")
		next.ServeHTTP(w, r)
	})
}

// CORS lets a survey frontend on another origin call the API. origins is a
// comma separated allow list; "*" or empty allows any origin. OPTIONS
// preflights are answered here.
func CORS(origins string) func(http.Handler) http.Handler {
	allowed := map[string]bool{}
	for _, o := range strings.Split(origins, ",") {
		if o = strings.TrimRight(strings.TrimSpace(o), "/"); o != "" {
			allowed[o] = true
		}
	}
	anyOrigin := len(allowed) == 0 || allowed["*"]

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			h := w.Header()
			h.Add("Vary", "Origin")
			switch origin := r.Header.Get("Origin"); {
			case anyOrigin:
				// No credentials with a wildcard origin.
				h.Set("Access-Control-Allow-Origin", "*")
			case allowed[origin]:
				h.Set("Access-Control-Allow-Origin", origin)
			}
			h.Set("Access-Control-Allow-Methods", "GET,POST,PUT,OPTIONS")
			h.Set("Access-Control-Allow-Headers", "Content-Type, Authorization, Accept-Language")
			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// CachePolicy keeps API answers out of every cache so a replayed
// acknowledgement can never stand in for a real one. Anything outside /api/
// and the probes is a static asset and may be cached for staticMaxAge.
func CachePolicy(staticMaxAge time.Duration) func(http.Handler) http.Handler {
	static := "no-cache"
	if staticMaxAge > 0 {
		static = fmt.Sprintf("public, max-age=%d", int(staticMaxAge/time.Second))
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			h := w.Header()
			if isDynamic(r.URL.Path) {
				h.Set("Cache-Control", "no-store, no-cache, must-revalidate, max-age=0")
				h.Set("Pragma", "no-cache")
				h.Set("Expires", "0")
			} else {
				h.Set("Cache-Control", static)
			}
			next.ServeHTTP(w, r)
		})
	}
}

func isDynamic(path string) bool {
	return strings.HasPrefix(path, "/api/") || path == "/health" || path == "/version"
}
