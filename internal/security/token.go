package security

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// AdminTokenPrefix marks tokens issued by GenerateAdminToken.
const AdminTokenPrefix = "esp_"

// GenerateAdminToken creates a new admin token with the format esp_<random>.
// The token is shown once; only its hash belongs in the configuration.
func GenerateAdminToken() (token, hash string, err error) {
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return "", "", err
	}
	token = AdminTokenPrefix + hex.EncodeToString(raw)
	return token, HashToken(token), nil
}

// HashToken returns the hex SHA-256 of a token.
func HashToken(token string) string {
	h := sha256.Sum256([]byte(strings.TrimSpace(token)))
	return hex.EncodeToString(h[:])
}
