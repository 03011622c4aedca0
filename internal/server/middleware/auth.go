// Package middleware provides HTTP middleware for the control plane's
// REST API: JWT bearer authentication and leader-only write gating.
package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/arinc653/partitiond/internal/domain"
	"github.com/arinc653/partitiond/internal/services/auth"
)

// ContextKey is the type for context keys this package installs.
type ContextKey string

const (
	// ClaimsKey is the context key for JWT claims.
	ClaimsKey ContextKey = "claims"
	// UserIDKey is the context key for the authenticated user ID.
	UserIDKey ContextKey = "user_id"
	// RoleKey is the context key for the user's role.
	RoleKey ContextKey = "role"
)

// ErrNotAuthenticated is returned by RequireRole/RequirePermission when
// the context carries no claims.
var ErrNotAuthenticated = errors.New("not authenticated")

// ErrInsufficientPermissions is returned when an authenticated caller
// lacks the role or permission a handler requires.
var ErrInsufficientPermissions = errors.New("insufficient permissions")

// publicPaths lists REST paths reachable without a bearer token.
var publicPaths = []string{
	"/healthz",
	"/api/v1/auth/login",
	"/api/v1/auth/refresh",
}

func isPublicPath(path string) bool {
	for _, p := range publicPaths {
		if path == p {
			return true
		}
	}
	return false
}

// Auth returns an http.Handler middleware that validates the
// Authorization: Bearer <token> header on every request except the
// paths in publicPaths, and stores the parsed claims in the request
// context for downstream handlers. Verification goes through
// auth.Service.VerifySession rather than the bare JWTManager so a
// session Logout revokes access immediately instead of waiting for
// the token's own expiry.
func Auth(authService *auth.Service, logger *zap.Logger) func(http.Handler) http.Handler {
	log := logger.With(zap.String("middleware", "auth"))

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if isPublicPath(r.URL.Path) {
				next.ServeHTTP(w, r)
				return
			}

			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				log.Debug("missing authorization header", zap.String("path", r.URL.Path))
				writeUnauthorized(w, "missing authorization header")
				return
			}

			tokenString := strings.TrimPrefix(authHeader, "Bearer ")
			if tokenString == authHeader {
				writeUnauthorized(w, "invalid authorization format, expected 'Bearer <token>'")
				return
			}

			claims, err := authService.VerifySession(r.Context(), tokenString)
			if err != nil {
				log.Debug("token verification failed", zap.Error(err))
				writeUnauthorized(w, "invalid or expired token")
				return
			}

			ctx := r.Context()
			ctx = context.WithValue(ctx, ClaimsKey, claims)
			ctx = context.WithValue(ctx, UserIDKey, claims.UserID)
			ctx = context.WithValue(ctx, RoleKey, claims.Role)

			log.Debug("request authenticated",
				zap.String("user_id", claims.UserID),
				zap.String("role", string(claims.Role)),
				zap.String("path", r.URL.Path),
			)

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// LeaderChecker reports whether this replica currently holds the etcd
// leader election.
type LeaderChecker interface {
	IsLeader() bool
}

// LeaderGate returns middleware that rejects mutating requests
// (anything but GET/HEAD/OPTIONS) with 503 Service Unavailable unless
// this replica is the etcd-elected leader. Reads are always allowed:
// every replica serves GET requests itself, but only the leader may
// call InstallSchedule or SetDomainParams, so writes never race
// between replicas.
func LeaderGate(leader LeaderChecker, logger *zap.Logger) func(http.Handler) http.Handler {
	log := logger.With(zap.String("middleware", "leader_gate"))

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if leader == nil || isReadOnly(r.Method) || leader.IsLeader() {
				next.ServeHTTP(w, r)
				return
			}

			log.Debug("rejecting write on non-leader replica", zap.String("path", r.URL.Path))
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"error":"not_leader","message":"this replica is not the current leader"}`))
		})
	}
}

func isReadOnly(method string) bool {
	return method == http.MethodGet || method == http.MethodHead || method == http.MethodOptions
}

func writeUnauthorized(w http.ResponseWriter, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_, _ = w.Write([]byte(`{"error":"unauthenticated","message":"` + message + `"}`))
}

// GetClaims extracts JWT claims from the context.
func GetClaims(ctx context.Context) (*auth.Claims, bool) {
	claims, ok := ctx.Value(ClaimsKey).(*auth.Claims)
	return claims, ok
}

// GetUserID extracts the user ID from the context.
func GetUserID(ctx context.Context) (string, bool) {
	userID, ok := ctx.Value(UserIDKey).(string)
	return userID, ok
}

// GetRole extracts the user's role from the context.
func GetRole(ctx context.Context) (domain.Role, bool) {
	role, ok := ctx.Value(RoleKey).(domain.Role)
	return role, ok
}

// RequireRole returns an error if the context's caller doesn't hold
// one of the required roles.
func RequireRole(ctx context.Context, requiredRoles ...domain.Role) error {
	role, ok := GetRole(ctx)
	if !ok {
		return ErrNotAuthenticated
	}
	for _, r := range requiredRoles {
		if role == r {
			return nil
		}
	}
	return ErrInsufficientPermissions
}

// RequirePermission returns an error if the context's caller lacks
// the given permission.
func RequirePermission(ctx context.Context, permission domain.Permission) error {
	role, ok := GetRole(ctx)
	if !ok {
		return ErrNotAuthenticated
	}
	if !domain.HasPermission(role, permission) {
		return ErrInsufficientPermissions
	}
	return nil
}
