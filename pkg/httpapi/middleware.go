package httpapi

import (
	"net/http"
	"strconv"
	"strings"

	apperrors "github.com/fluxcode/transcoder/internal/errors"
	"github.com/fluxcode/transcoder/pkg/ratelimit"
)

// securityHeaders sets the baseline response hardening headers on every
// response, authenticated or not.
func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("X-Frame-Options", "DENY")
		h.Set("X-XSS-Protection", "0")
		h.Set("Referrer-Policy", "no-referrer")
		next.ServeHTTP(w, r)
	})
}

// maxBodySizeMiddleware caps the request body at the configured limit
// (spec §6 max_body_size, default 100 MiB), so a submission's JSON payload
// can never exhaust server memory.
func (s *Server) maxBodySizeMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, s.maxBodySize)
		next.ServeHTTP(w, r)
	})
}

// ipAllowMiddleware rejects requests from a client address outside the
// configured allow-list (spec §4.L).
func (s *Server) ipAllowMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.ipAllow.Empty() {
			next.ServeHTTP(w, r)
			return
		}
		if !s.ipAllow.Allowed(clientIP(r.RemoteAddr)) {
			s.writeError(w, apperrors.NewSecurityError("client address is not permitted"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

// extractToken pulls the token from the dedicated header first, then the
// bearer scheme, per spec §6's authentication headers.
func extractToken(r *http.Request) string {
	if key := r.Header.Get("X-API-Key"); key != "" {
		return key
	}
	auth := r.Header.Get("Authorization")
	if strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimPrefix(auth, "Bearer ")
	}
	return ""
}

// authenticate resolves the caller's credential and stores it on the
// request context for downstream handlers and the rate limiter.
func (s *Server) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := extractToken(r)
		if token == "" {
			s.writeError(w, apperrors.NewAuthError("missing credential"))
			return
		}
		cred, err := s.credentials.Resolve(r.Context(), token)
		if err != nil {
			s.writeError(w, err)
			return
		}
		next.ServeHTTP(w, r.WithContext(withCredential(r.Context(), cred)))
	})
}

// requireAdmin rejects a request whose credential lacks the admin flag
// (spec §4.L "Admin endpoints require the credential's admin flag").
func (s *Server) requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cred := credentialFromContext(r.Context())
		if cred == nil || !cred.Admin {
			s.writeError(w, apperrors.New(apperrors.KindAuthorization, "admin privileges required"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

// rateLimitMiddleware enforces the tiered quota and sets the standard
// X-RateLimit-* headers on every response, per spec §4.D/§6.
func (s *Server) rateLimitMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.rateLimitOn {
			next.ServeHTTP(w, r)
			return
		}
		cred := credentialFromContext(r.Context())
		tier := ratelimit.TierFree
		identifier := clientIP(r.RemoteAddr)
		if cred != nil {
			tier = cred.Tier
			identifier = cred.ID
		}

		result := s.limiter.Check(r.Context(), identifier, tier)
		h := w.Header()
		h.Set("X-RateLimit-Limit-Hour", strconv.FormatInt(result.LimitHour, 10))
		h.Set("X-RateLimit-Remaining-Hour", strconv.FormatInt(result.RemainingHour, 10))
		h.Set("X-RateLimit-Limit-Day", strconv.FormatInt(result.LimitDay, 10))
		h.Set("X-RateLimit-Remaining-Day", strconv.FormatInt(result.RemainingDay, 10))

		if !result.Allowed {
			h.Set("Retry-After", strconv.FormatInt(result.RetryAfterSecs, 10))
			s.writeError(w, apperrors.NewRateLimitError("rate limit exceeded"))
			return
		}
		next.ServeHTTP(w, r)
	})
}
