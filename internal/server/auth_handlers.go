package server

import (
	"encoding/json"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/arinc653/partitiond/internal/services/auth"
)

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresAt    string `json:"expires_at"`
	TokenType    string `json:"token_type"`
	SessionID    string `json:"session_id,omitempty"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type logoutRequest struct {
	SessionID string `json:"session_id"`
}

// AuthRestHandler serves /api/v1/auth/{login,refresh,logout}.
type AuthRestHandler struct {
	server *Server
	logger *zap.Logger
}

// NewAuthRestHandler creates an auth REST handler.
func NewAuthRestHandler(s *Server) *AuthRestHandler {
	return &AuthRestHandler{server: s, logger: s.logger.Named("auth-rest")}
}

func (h *AuthRestHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	svc := h.server.authService
	if svc == nil {
		writeError(h.logger, w, http.StatusServiceUnavailable, "unavailable", "authentication requires PostgreSQL, which is not configured")
		return
	}

	action := strings.TrimPrefix(r.URL.Path, "/api/v1/auth/")

	if r.Method != http.MethodPost {
		writeError(h.logger, w, http.StatusMethodNotAllowed, "method_not_allowed", "expected POST")
		return
	}

	switch action {
	case "login":
		h.handleLogin(svc, w, r)
	case "refresh":
		h.handleRefresh(svc, w, r)
	case "logout":
		h.handleLogout(svc, w, r)
	default:
		writeError(h.logger, w, http.StatusNotFound, "not_found", "unknown auth action: "+action)
	}
}

func (h *AuthRestHandler) handleLogin(svc *auth.Service, w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(h.logger, w, http.StatusBadRequest, "invalid_body", "could not decode request: "+err.Error())
		return
	}

	resp, err := svc.Login(r.Context(), &auth.LoginRequest{
		Username:  req.Username,
		Password:  req.Password,
		IPAddress: r.RemoteAddr,
		UserAgent: r.UserAgent(),
	})
	if err != nil {
		writeError(h.logger, w, http.StatusUnauthorized, "invalid_credentials", err.Error())
		return
	}

	writeJSON(h.logger, w, http.StatusOK, tokenResponse{
		AccessToken:  resp.Tokens.AccessToken,
		RefreshToken: resp.Tokens.RefreshToken,
		ExpiresAt:    resp.Tokens.ExpiresAt.Format("2006-01-02T15:04:05Z07:00"),
		TokenType:    resp.Tokens.TokenType,
		SessionID:    resp.SessionID,
	})
}

func (h *AuthRestHandler) handleRefresh(svc *auth.Service, w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(h.logger, w, http.StatusBadRequest, "invalid_body", "could not decode request: "+err.Error())
		return
	}

	tokens, err := svc.RefreshTokens(r.Context(), req.RefreshToken)
	if err != nil {
		writeError(h.logger, w, http.StatusUnauthorized, "invalid_refresh_token", err.Error())
		return
	}

	writeJSON(h.logger, w, http.StatusOK, tokenResponse{
		AccessToken:  tokens.AccessToken,
		RefreshToken: tokens.RefreshToken,
		ExpiresAt:    tokens.ExpiresAt.Format("2006-01-02T15:04:05Z07:00"),
		TokenType:    tokens.TokenType,
	})
}

func (h *AuthRestHandler) handleLogout(svc *auth.Service, w http.ResponseWriter, r *http.Request) {
	var req logoutRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(h.logger, w, http.StatusBadRequest, "invalid_body", "could not decode request: "+err.Error())
		return
	}

	userID, _ := ctxUserID(r)
	if err := svc.Logout(r.Context(), req.SessionID, userID); err != nil {
		handleCoreError(h.logger, w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
