package ratelimit

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/jwtauth/v5"
	"github.com/go-chi/render"
)

// RequestLimiter is chi middleware that caps request rates per client IP
// and, for authenticated requests, per user. It sits in front of the
// verification endpoints so code guessing is throttled before it reaches
// the service.
type RequestLimiter struct {
	perIP   *KeyedBuckets
	perUser *KeyedBuckets
}

// NewRequestLimiter creates the middleware. Capacity is the allowed burst;
// refillRate is sustained requests per second for each key.
func NewRequestLimiter(capacity int, refillRate float64) *RequestLimiter {
	return &RequestLimiter{
		perIP:   NewKeyedBuckets(capacity, refillRate, DefaultWindow),
		perUser: NewKeyedBuckets(capacity, refillRate, DefaultWindow),
	}
}

// Handler wraps next with the rate check.
func (m *RequestLimiter) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := clientIP(r)
		if ip != "" && !m.perIP.Allow(ip) {
			m.reject(w, r, "ip")
			return
		}

		if userID := subjectFromToken(r); userID != "" && !m.perUser.Allow(userID) {
			m.reject(w, r, "user")
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (m *RequestLimiter) reject(w http.ResponseWriter, r *http.Request, limitType string) {
	slog.Warn("Rate limit exceeded",
		"type", limitType,
		"path", r.URL.Path,
		"method", r.Method,
	)

	w.Header().Set("Retry-After", "60")
	render.Status(r, http.StatusTooManyRequests)
	render.JSON(w, r, map[string]string{
		"error":   "rate_limit_exceeded",
		"message": "Too many requests. Please try again later.",
	})
}

// clientIP extracts the client address, preferring proxy headers.
func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		parts := strings.Split(xff, ",")
		return strings.TrimSpace(parts[0])
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return strings.TrimSpace(xri)
	}
	addr := r.RemoteAddr
	if idx := strings.LastIndex(addr, ":"); idx != -1 {
		return addr[:idx]
	}
	return addr
}

// subjectFromToken pulls the user ID from a verified JWT, if the request
// carries one.
func subjectFromToken(r *http.Request) string {
	_, claims, err := jwtauth.FromContext(r.Context())
	if err != nil || claims == nil {
		return ""
	}
	if sub, ok := claims["sub"].(string); ok {
		return sub
	}
	return ""
}
