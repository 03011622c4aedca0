package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/arinc653/partitiond/internal/domain"
	"github.com/arinc653/partitiond/internal/partition"
	"github.com/arinc653/partitiond/internal/server/middleware"
	"github.com/arinc653/partitiond/internal/services/auth"
)

// ctxClaims returns the authenticated caller's JWT claims, if any.
func ctxClaims(r *http.Request) (*auth.Claims, bool) {
	return middleware.GetClaims(r.Context())
}

// ctxUserID returns the authenticated caller's user ID, if any.
func ctxUserID(r *http.Request) (string, bool) {
	return middleware.GetUserID(r.Context())
}

// writeJSON writes data as a JSON response body with the given status.
func writeJSON(logger *zap.Logger, w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logger.Error("failed to write JSON response", zap.Error(err))
	}
}

// writeError writes a JSON error response body.
func writeError(logger *zap.Logger, w http.ResponseWriter, status int, code, message string) {
	logger.Warn("api error", zap.Int("status", status), zap.String("code", code), zap.String("message", message))
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"code":    code,
		"message": message,
	})
}

// handleCoreError maps a sentinel error from internal/partition or
// internal/domain to an HTTP status and writes the response. This
// server has no Connect-RPC codes to translate, unlike the teacher's
// own handleConnectError: errors here are plain sentinels, so this is
// a straight switch on the error value.
func handleCoreError(logger *zap.Logger, w http.ResponseWriter, err error) {
	status, code := http.StatusInternalServerError, "internal"

	switch {
	case errors.Is(err, partition.ErrInvalidArgument), errors.Is(err, domain.ErrInvalidArgument):
		status, code = http.StatusBadRequest, "invalid_argument"
	case errors.Is(err, partition.ErrNotFound), errors.Is(err, domain.ErrNotFound):
		status, code = http.StatusNotFound, "not_found"
	case errors.Is(err, partition.ErrAlreadyExists), errors.Is(err, domain.ErrAlreadyExists):
		status, code = http.StatusConflict, "already_exists"
	case errors.Is(err, partition.ErrUnavailable), errors.Is(err, domain.ErrUnavailable):
		status, code = http.StatusServiceUnavailable, "unavailable"
	case errors.Is(err, domain.ErrPermissionDenied):
		status, code = http.StatusForbidden, "permission_denied"
	case errors.Is(err, domain.ErrConflict):
		status, code = http.StatusConflict, "conflict"
	case errors.Is(err, domain.ErrResourceExhausted):
		status, code = http.StatusTooManyRequests, "resource_exhausted"
	case errors.Is(err, domain.ErrOperationFailed):
		status, code = http.StatusInternalServerError, "operation_failed"
	}

	writeError(logger, w, status, code, err.Error())
}
