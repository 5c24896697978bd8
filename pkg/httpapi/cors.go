package httpapi

import (
	"net/http"

	chicors "github.com/go-chi/cors"
)

// CORSOptions mirrors the cross-origin policy the router enforces. It is a
// thin, config-driven wrapper over go-chi/cors: the teacher repo's own CORS
// integration (test/unit/http/cors, test/integration/gateway/cors_test.go)
// is built the same way, options in, chi middleware out.
type CORSOptions struct {
	AllowedOrigins   []string
	AllowedMethods   []string
	AllowedHeaders   []string
	ExposedHeaders   []string
	AllowCredentials bool
	MaxAge           int
}

// defaultCORSOptions matches the development-friendly defaults the teacher
// falls back to when no origins are configured.
func defaultCORSOptions() CORSOptions {
	return CORSOptions{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", "Authorization", "X-API-Key"},
		ExposedHeaders:   []string{"X-RateLimit-Limit-Hour", "X-RateLimit-Remaining-Hour", "X-RateLimit-Limit-Day", "X-RateLimit-Remaining-Day", "Retry-After"},
		AllowCredentials: false,
		MaxAge:           300,
	}
}

// corsOptionsFromConfig builds CORSOptions from the configured origin list,
// falling back to the development defaults when none are set.
func corsOptionsFromConfig(origins []string) CORSOptions {
	opts := defaultCORSOptions()
	if len(origins) > 0 {
		opts.AllowedOrigins = origins
	}
	return opts
}

// IsProduction reports whether this policy is safe for a production
// deployment: no wildcard, and at least one explicit origin.
func (o CORSOptions) IsProduction() bool {
	if len(o.AllowedOrigins) == 0 {
		return false
	}
	for _, origin := range o.AllowedOrigins {
		if origin == "*" {
			return false
		}
	}
	return true
}

// corsMiddleware builds the go-chi/cors handler for opts.
func corsMiddleware(opts CORSOptions) func(http.Handler) http.Handler {
	return chicors.Handler(chicors.Options{
		AllowedOrigins:   opts.AllowedOrigins,
		AllowedMethods:   opts.AllowedMethods,
		AllowedHeaders:   opts.AllowedHeaders,
		ExposedHeaders:   opts.ExposedHeaders,
		AllowCredentials: opts.AllowCredentials,
		MaxAge:           opts.MaxAge,
	})
}
