package auth

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/flowmetric/telemetry-engine/pkg/audit"
	"github.com/flowmetric/telemetry-engine/pkg/models"
)

// Middleware provides HTTP principal classification middleware.
// It is thin and delegates authentication logic to AuthService.
type Middleware struct {
	authService AuthService
	security    *audit.SecurityAuditor
	logger      *zap.Logger
}

// NewMiddleware creates a new auth middleware with the given AuthService.
func NewMiddleware(authService AuthService, security *audit.SecurityAuditor, logger *zap.Logger) *Middleware {
	return &Middleware{
		authService: authService,
		security:    security,
		logger:      logger,
	}
}

// Classify binds a principal to the request context for ingestion endpoints.
// A request without credentials is classified as the anonymous submitter; a
// request that presents credentials must validate, and a bad token is
// rejected rather than downgraded to anonymous.
func (m *Middleware) Classify(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ip := clientIP(r)

		if !m.authService.HasCredentials(r) {
			ctx := models.WithPrincipal(r.Context(), models.Anonymous(ip))
			next(w, r.WithContext(ctx))
			return
		}

		claims, token, err := m.authService.ValidateRequest(r)
		if err != nil {
			m.security.LogPermissionDenied(r.URL.Path, r.RemoteAddr, "invalid token")
			m.unauthorized(w, "Invalid credentials")
			return
		}

		ctx := r.Context()
		if err := m.authService.RequireAdminRole(claims); err == nil {
			ctx = models.WithPrincipal(ctx, models.Principal{
				Role:      models.RolePrivileged,
				Subject:   claims.Subject,
				IPAddress: ip,
			})
		} else {
			// Valid token without the operator role: still just a submitter.
			ctx = models.WithPrincipal(ctx, models.Anonymous(ip))
		}
		ctx = context.WithValue(ctx, ClaimsKey, claims)
		ctx = context.WithValue(ctx, TokenKey, token)
		next(w, r.WithContext(ctx))
	}
}

// RequirePrivileged validates the JWT and requires the operator role.
// Use for the admin surface; anonymous callers are rejected outright.
func (m *Middleware) RequirePrivileged(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims, token, err := m.authService.ValidateRequest(r)
		if err != nil {
			m.security.LogPermissionDenied(r.URL.Path, r.RemoteAddr, "missing or invalid token")
			m.unauthorized(w, "Authentication required")
			return
		}

		if err := m.authService.RequireAdminRole(claims); err != nil {
			m.logger.Warn("Operator role missing on admin surface",
				zap.String("subject", claims.Subject),
				zap.String("path", r.URL.Path))
			m.security.LogPermissionDenied(r.URL.Path, r.RemoteAddr, "missing admin role")
			m.forbidden(w, "Operator authorization required")
			return
		}

		ctx := models.WithPrincipal(r.Context(), models.Principal{
			Role:      models.RolePrivileged,
			Subject:   claims.Subject,
			IPAddress: clientIP(r),
		})
		ctx = context.WithValue(ctx, ClaimsKey, claims)
		ctx = context.WithValue(ctx, TokenKey, token)
		next(w, r.WithContext(ctx))
	}
}

// clientIP extracts the caller address, preferring the X-Forwarded-For header
// set by the ingress proxy. The header may carry a proxy chain; the first
// element is the originating client.
func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		return strings.TrimSpace(first)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// unauthorized returns a 401 response with JSON error body.
func (m *Middleware) unauthorized(w http.ResponseWriter, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"error":   "unauthorized",
		"message": message,
	})
}

// forbidden returns a 403 response with JSON error body.
func (m *Middleware) forbidden(w http.ResponseWriter, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusForbidden)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"error":   "forbidden",
		"message": message,
	})
}
