package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/edgehub-core/internal/auth"
)

// handleListTokens returns all registration tokens. Only hashes are stored,
// so the raw token values are never listed.
func (s *Server) handleListTokens(w http.ResponseWriter, r *http.Request) {
	tokens, err := s.tokens.List(r.Context())
	if err != nil {
		writeInternalError(w, "failed to list tokens")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"tokens": tokens, "count": len(tokens)})
}

// createTokenRequest is the body of POST /tokens.
type createTokenRequest struct {
	HardwareKey string `json:"hardware_key,omitempty"` // empty binds to no specific device
	Group       string `json:"group,omitempty"`
	Location    string `json:"location,omitempty"`
	TTLSeconds  int    `json:"ttl_seconds,omitempty"` // 0 means no expiry
}

// createTokenResponse carries the raw token. It is shown exactly once; only
// its hash is stored.
type createTokenResponse struct {
	ID        string     `json:"id"`
	Token     string     `json:"token"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

// handleCreateToken mints a single-use registration token.
func (s *Server) handleCreateToken(w http.ResponseWriter, r *http.Request) {
	var req createTokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if req.TTLSeconds < 0 {
		writeBadRequest(w, "ttl_seconds must not be negative")
		return
	}

	raw, err := auth.GenerateToken()
	if err != nil {
		s.logger.Error("generating registration token", "error", err)
		writeInternalError(w, "failed to generate token")
		return
	}

	token := &auth.RegistrationToken{
		TokenHash:   auth.HashToken(raw),
		HardwareKey: req.HardwareKey,
		Group:       req.Group,
		Location:    req.Location,
	}
	if req.TTLSeconds > 0 {
		expires := time.Now().UTC().Add(time.Duration(req.TTLSeconds) * time.Second)
		token.ExpiresAt = &expires
	}

	if err := s.tokens.Create(r.Context(), token); err != nil {
		writeInternalError(w, "failed to store token")
		return
	}

	s.logger.Info("registration token created", "id", token.ID, "hardware_key", token.HardwareKey)

	writeJSON(w, http.StatusCreated, createTokenResponse{
		ID:        token.ID,
		Token:     raw,
		ExpiresAt: token.ExpiresAt,
	})
}

// handleDeleteToken revokes an unconsumed registration token.
func (s *Server) handleDeleteToken(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if err := s.tokens.Delete(r.Context(), id); err != nil {
		if errors.Is(err, auth.ErrTokenNotFound) {
			writeNotFound(w, "token not found")
			return
		}
		writeInternalError(w, "failed to delete token")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
