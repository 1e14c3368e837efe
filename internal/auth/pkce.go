package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"

	"github.com/blush-labs/socialauth/internal/registry"
)

// PKCECodes holds a PKCE code verifier and its derived challenge.
type PKCECodes struct {
	CodeVerifier  string
	CodeChallenge string
}

// GeneratePKCECodes generates a PKCE code verifier and challenge pair
// following RFC 7636. The challenge is the SHA-256 digest of the verifier,
// encoded per the platform quirk: URL-safe base64 without padding by default,
// or raw lowercase hex for platforms that require it.
func GeneratePKCECodes(encoding string) (*PKCECodes, error) {
	codeVerifier, err := generateCodeVerifier()
	if err != nil {
		return nil, fmt.Errorf("failed to generate code verifier: %w", err)
	}
	return &PKCECodes{
		CodeVerifier:  codeVerifier,
		CodeChallenge: deriveCodeChallenge(codeVerifier, encoding),
	}, nil
}

// generateCodeVerifier creates a cryptographically random string of
// 128 characters using URL-safe base64 encoding, the maximum length
// RFC 7636 allows.
func generateCodeVerifier() (string, error) {
	bytes := make([]byte, 96)
	if _, err := rand.Read(bytes); err != nil {
		return "", fmt.Errorf("failed to generate random bytes: %w", err)
	}
	return base64.URLEncoding.WithPadding(base64.NoPadding).EncodeToString(bytes), nil
}

// deriveCodeChallenge hashes the verifier with SHA-256 and encodes the digest
// per the requested encoding.
func deriveCodeChallenge(codeVerifier, encoding string) string {
	hash := sha256.Sum256([]byte(codeVerifier))
	if encoding == registry.ChallengeHex {
		return hex.EncodeToString(hash[:])
	}
	return base64.URLEncoding.WithPadding(base64.NoPadding).EncodeToString(hash[:])
}
