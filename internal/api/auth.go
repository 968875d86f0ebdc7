package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/nerrad567/balancer-core/internal/auth"
)

// decodeJSON decodes the request body into v, writing a 400 on failure.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeBadRequest(w, r, "invalid JSON body")
		return false
	}
	return true
}

// handleRegister creates a user account and returns its access token.
func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req auth.Credentials
	if !decodeJSON(w, r, &req) {
		return
	}

	user, token, err := s.auth.Register(r.Context(), req)
	if err != nil {
		if errors.Is(err, auth.ErrWeakPassword) {
			writeError(w, r, http.StatusBadRequest, ErrCodeValidation, err.Error())
			return
		}
		s.writeDomainError(w, r, err, "failed to register user")
		return
	}

	s.logger.Info("user registered", "user_id", user.ID)
	writeJSON(w, http.StatusOK, auth.TokenResponse{Token: token})
}

// handleLogin authenticates an account and returns its access token.
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req auth.Credentials
	if !decodeJSON(w, r, &req) {
		return
	}

	user, token, err := s.auth.Login(r.Context(), req)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidCredentials) {
			writeUnauthorized(w, r, "invalid credentials")
			return
		}
		s.writeDomainError(w, r, err, "failed to log in")
		return
	}

	s.logger.Debug("user logged in", "user_id", user.ID, "role", user.Role)
	writeJSON(w, http.StatusOK, auth.TokenResponse{Token: token})
}

// handleWSTicket issues a single-use websocket ticket for the caller.
// The client uses this ticket to authenticate the WebSocket connection
// without exposing the JWT in the URL.
func (s *Server) handleWSTicket(w http.ResponseWriter, r *http.Request) {
	ticket, err := s.tickets.Issue(claimsFromContext(r.Context()))
	if err != nil {
		s.writeDomainError(w, r, err, "failed to issue ticket")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"ticket":     ticket,
		"expires_in": int(auth.TicketTTL.Seconds()),
	})
}
