package handler

import (
	"net/http"

	"github.com/rs/cors"
)

// preflightMaxAge is how long browsers may cache a preflight response, in seconds
const preflightMaxAge = 24 * 60 * 60

// CORS lets any origin GET images, and read the given response headers
func CORS(exposedHeaders []string, next http.Handler) http.Handler {
	return cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet},
		AllowedHeaders: []string{"*"},
		ExposedHeaders: exposedHeaders,
		MaxAge:         preflightMaxAge,
	}).Handler(next)
}
