package security

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"math/big"
)

// GenerateNumericCode returns a uniformly random fixed-width numeric string
// of the given length, leading zeros preserved. Uniformity matters here:
// verification codes must not be biased toward any digit range.
func GenerateNumericCode(length int) (string, error) {
	if length <= 0 || length > 18 {
		return "", fmt.Errorf("length must be between 1 and 18")
	}

	bound := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(length)), nil)
	n, err := rand.Int(rand.Reader, bound)
	if err != nil {
		return "", fmt.Errorf("generate code: %w", err)
	}

	return fmt.Sprintf("%0*d", length, n), nil
}

// GenerateSecureToken returns a base64 URL-safe random string using the
// specified number of random bytes.
func GenerateSecureToken(byteLength int) (string, error) {
	if byteLength <= 0 {
		return "", fmt.Errorf("length must be positive")
	}

	buf := make([]byte, byteLength)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate token: %w", err)
	}

	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// HashToken calculates a SHA-256 hash of the provided value, hex encoded.
// Verification codes and session tokens are persisted only in this form.
func HashToken(value string) string {
	sum := sha256.Sum256([]byte(value))
	return hex.EncodeToString(sum[:])
}

// ConstantTimeEquals compares two hash strings without leaking a timing
// signal about where they diverge.
func ConstantTimeEquals(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
