package auth

import (
	"errors"
	"net/http"
	"strings"

	"go.uber.org/zap"
)

// Common authentication errors.
var (
	ErrMissingAuthorization = errors.New("missing authorization")
	ErrInvalidAuthFormat    = errors.New("invalid authorization header format")
	ErrMissingAdminRole     = errors.New("missing admin role in token")
)

// AuthService defines the interface for authentication operations.
// This abstraction enables clean separation between HTTP handling
// and authentication logic, making both easier to test.
type AuthService interface {
	// HasCredentials reports whether the request carries an Authorization
	// header at all. A request without one is an anonymous submission and is
	// never challenged for a token.
	HasCredentials(r *http.Request) bool

	// ValidateRequest extracts and validates a JWT from the request's
	// Authorization header ("Bearer" scheme). Returns the validated claims,
	// the raw token string, or an error.
	ValidateRequest(r *http.Request) (*Claims, string, error)

	// RequireAdminRole validates that the claims grant the operator role.
	RequireAdminRole(claims *Claims) error
}

// authService implements AuthService.
type authService struct {
	verifier  TokenVerifier
	adminRole string
	logger    *zap.Logger
}

// NewAuthService creates a new AuthService with the given token verifier,
// required admin role name, and logger.
func NewAuthService(verifier TokenVerifier, adminRole string, logger *zap.Logger) AuthService {
	return &authService{
		verifier:  verifier,
		adminRole: adminRole,
		logger:    logger,
	}
}

// HasCredentials reports whether an Authorization header is present.
func (s *authService) HasCredentials(r *http.Request) bool {
	return r.Header.Get("Authorization") != ""
}

// ValidateRequest extracts and validates a JWT from the request.
func (s *authService) ValidateRequest(r *http.Request) (*Claims, string, error) {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		s.logger.Debug("No JWT found in request",
			zap.String("path", r.URL.Path),
			zap.String("method", r.Method))
		return nil, "", ErrMissingAuthorization
	}

	parts := strings.Split(authHeader, " ")
	if len(parts) != 2 || parts[0] != "Bearer" {
		s.logger.Debug("Invalid Authorization header format",
			zap.String("path", r.URL.Path))
		return nil, "", ErrInvalidAuthFormat
	}

	claims, err := s.verifier.Verify(parts[1])
	if err != nil {
		s.logger.Debug("JWT validation failed",
			zap.Error(err),
			zap.String("path", r.URL.Path))
		return nil, "", err
	}

	return claims, parts[1], nil
}

// RequireAdminRole validates that the claims grant the operator role.
func (s *authService) RequireAdminRole(claims *Claims) error {
	if !claims.HasRole(s.adminRole) {
		return ErrMissingAdminRole
	}
	return nil
}

// Ensure authService implements AuthService at compile time.
var _ AuthService = (*authService)(nil)
