package refresh

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
)

// credentialLength is the number of random bytes in a refresh credential (256 bits).
const credentialLength = 32

// NewRefreshID returns a fresh base64url encoded refresh credential.
func NewRefreshID() (string, error) {
	b := make([]byte, credentialLength)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate refresh credential: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// HashRefreshID returns the hex SHA-256 of a refresh credential. Only the hash is ever stored.
func HashRefreshID(refreshID string) string {
	sum := sha256.Sum256([]byte(refreshID))
	return hex.EncodeToString(sum[:])
}

// ShortHash trims a hash for log output.
func ShortHash(hash string) string {
	if len(hash) <= 8 {
		return hash
	}
	return hash[:8]
}
