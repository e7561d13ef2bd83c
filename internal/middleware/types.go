package middleware

import (
	"net/http"
	"time"

	"github.com/actionpipe/actionpipe/internal/logging"
)

// Logging logs each request with its method, path, and duration.
//
// The response writer is passed through unwrapped because the stream
// endpoint hijacks the connection for the websocket upgrade.
func Logging(logger logging.Logger) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			next.ServeHTTP(w, r)

			logger.Debug(r.Context(), "http request",
				"method", r.Method,
				"path", r.URL.Path,
				"duration", time.Since(start),
			)
		})
	}
}

// CORS sets cross-origin response headers for allowed origins and answers
// preflight requests. Outside development, requests from unlisted origins
// get no CORS headers.
func CORS(origins OriginValidator, environment string) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")

			if origin != "" && origins != nil && origins.IsAllowedOrigin(origin) {
				w.Header().Set("Access-Control-Allow-Origin", origin)
			} else if environment == "development" {
				// Only allow wildcard in development
				w.Header().Set("Access-Control-Allow-Origin", "*")
			}

			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

			// Handle preflight requests
			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusOK)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
