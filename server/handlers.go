package server

import (
	"encoding/json"
	stderrors "errors"
	"net/http"
	"time"

	autherrors "github.com/rankforge/go-identity-server/internal/errors"
)

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type tokenResponse struct {
	AccessToken      string    `json:"access_token"`
	RefreshToken     string    `json:"refresh_token"`
	TokenType        string    `json:"token_type"`
	AccessExpiresAt  time.Time `json:"access_expires_at"`
	RefreshExpiresAt time.Time `json:"refresh_expires_at"`
}

type identityResponse struct {
	UserID         string   `json:"user_id"`
	Email          string   `json:"email,omitempty"`
	Role           string   `json:"role"`
	Permissions    []string `json:"permissions,omitempty"`
	OrganizationID string   `json:"organization_id,omitempty"`
	SessionID      string   `json:"session_id,omitempty"`
}

type errorResponse struct {
	Error       string `json:"error"`
	Description string `json:"error_description,omitempty"`
}

func (s *Server) LoginHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req loginRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request", "malformed JSON body")
			return
		}
		result, err := s.gateway.Login(r.Context(), req.Email, req.Password, deviceFromRequest(r))
		if err != nil {
			if stderrors.Is(err, autherrors.ErrTooManyAttempts) {
				writeError(w, http.StatusTooManyRequests, "too_many_attempts", "try again later")
				return
			}
			if stderrors.Is(err, autherrors.ErrUnauthenticated) {
				writeError(w, http.StatusUnauthorized, "invalid_credentials", "email or password is incorrect")
				return
			}
			s.logger.Error().Err(err).Msg("login failed")
			writeError(w, http.StatusInternalServerError, "internal_error", "internal server error")
			return
		}
		writeJSON(w, http.StatusOK, tokenResponse{
			AccessToken:      result.AccessToken,
			RefreshToken:     result.RefreshToken,
			TokenType:        "Bearer",
			AccessExpiresAt:  result.AccessExpiresAt,
			RefreshExpiresAt: result.RefreshExpiresAt,
		})
	}
}

func (s *Server) RefreshHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req refreshRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.RefreshToken == "" {
			writeError(w, http.StatusBadRequest, "invalid_request", "refresh_token is required")
			return
		}
		result, err := s.gateway.Refresh(r.Context(), req.RefreshToken, deviceFromRequest(r))
		if err != nil {
			if stderrors.Is(err, autherrors.ErrUnauthenticated) {
				writeError(w, http.StatusUnauthorized, "invalid_token", "refresh token is not valid")
				return
			}
			s.logger.Error().Err(err).Msg("refresh failed")
			writeError(w, http.StatusInternalServerError, "internal_error", "internal server error")
			return
		}
		writeJSON(w, http.StatusOK, tokenResponse{
			AccessToken:      result.AccessToken,
			RefreshToken:     result.RefreshToken,
			TokenType:        "Bearer",
			AccessExpiresAt:  result.AccessExpiresAt,
			RefreshExpiresAt: result.RefreshExpiresAt,
		})
	}
}

// LogoutHandler tears down the caller's session. It answers 204 even
// for dead tokens; logout is idempotent from the client's view.
func (s *Server) LogoutHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token, ok := bearerToken(r)
		if !ok {
			writeError(w, http.StatusUnauthorized, "unauthorized", "missing or malformed Authorization header")
			return
		}
		if err := s.gateway.Logout(r.Context(), token, deviceFromRequest(r)); err != nil {
			s.logger.Debug().Err(err).Msg("logout with dead token")
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// LogoutAllHandler revokes every credential the caller holds except the
// session making the request.
func (s *Server) LogoutAllHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		identity := IdentityFromContext(r.Context())
		if err := s.gateway.LogoutAll(r.Context(), identity.UserID, identity.SessionID); err != nil {
			s.logger.Error().Err(err).Str("user_id", identity.UserID).Msg("logout-all failed")
			writeError(w, http.StatusInternalServerError, "internal_error", "internal server error")
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func (s *Server) MeHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		identity := IdentityFromContext(r.Context())
		writeJSON(w, http.StatusOK, identityResponse{
			UserID:         identity.UserID,
			Email:          identity.Email,
			Role:           string(identity.Role),
			Permissions:    identity.Permissions,
			OrganizationID: identity.OrganizationID,
			SessionID:      identity.SessionID,
		})
	}
}

func (s *Server) HealthHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := s.health(); err != nil {
			writeError(w, http.StatusServiceUnavailable, "unhealthy", err.Error())
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, code, description string) {
	writeJSON(w, status, errorResponse{Error: code, Description: description})
}
