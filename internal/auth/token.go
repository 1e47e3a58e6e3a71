package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"
)

const rawTokenBytes = 32 // 256-bit tokens

// RegistrationToken is a single-use credential authorising a device to
// register. HardwareKey empty means the token is valid for any device.
type RegistrationToken struct {
	ID          string     `json:"id"`
	TokenHash   string     `json:"-"`
	HardwareKey string     `json:"hardware_key,omitempty"`
	Group       string     `json:"group,omitempty"`
	Location    string     `json:"location,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	ExpiresAt   *time.Time `json:"expires_at,omitempty"`
	ConsumedAt  *time.Time `json:"consumed_at,omitempty"`
	ConsumedBy  string     `json:"consumed_by,omitempty"`
}

// Consumed reports whether the token has been used.
func (t *RegistrationToken) Consumed() bool {
	return t.ConsumedAt != nil
}

// Expired reports whether the token is past its expiry at the given time.
// Tokens without an expiry never expire.
func (t *RegistrationToken) Expired(now time.Time) bool {
	return t.ExpiresAt != nil && !now.Before(*t.ExpiresAt)
}

// GenerateToken creates a cryptographically random raw token (256-bit).
// The raw token is shown to the operator once; only its hash is stored.
func GenerateToken() (string, error) {
	b := make([]byte, rawTokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generating registration token: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// HashToken computes the SHA-256 hash of a raw token string for storage.
// Raw tokens are never stored — only their hashes.
func HashToken(raw string) string {
	h := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(h[:])
}
