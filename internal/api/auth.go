package api

import (
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"time"

	"github.com/nerrad567/edgehub-core/internal/auth"
)

// authTokenRequest is the body of POST /auth/token.
type authTokenRequest struct {
	AdminKey string `json:"admin_key"`
}

// authTokenResponse returns a short-lived operator access token.
type authTokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int    `json:"expires_in"`
}

// handleAuthToken exchanges the admin key for an operator JWT.
func (s *Server) handleAuthToken(w http.ResponseWriter, r *http.Request) {
	var req authTokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	if s.secCfg.AdminKey == "" {
		writeUnauthorized(w, "operator access is not configured")
		return
	}
	if subtle.ConstantTimeCompare([]byte(req.AdminKey), []byte(s.secCfg.AdminKey)) != 1 {
		s.logger.Warn("rejected operator token request", "remote", r.RemoteAddr)
		writeUnauthorized(w, "invalid admin key")
		return
	}

	// AccessTokenTTL is configured in minutes; expires_in is reported in
	// seconds per the usual OAuth convention.
	ttlMinutes := s.secCfg.JWT.AccessTokenTTL
	if ttlMinutes <= 0 {
		ttlMinutes = 15
	}
	token, err := auth.GenerateAccessToken("operator", s.secCfg.JWT.Secret, time.Duration(ttlMinutes)*time.Minute)
	if err != nil {
		s.logger.Error("generating access token", "error", err)
		writeInternalError(w, "failed to generate token")
		return
	}

	writeJSON(w, http.StatusOK, authTokenResponse{
		AccessToken: token,
		TokenType:   "Bearer",
		ExpiresIn:   ttlMinutes * 60,
	})
}
