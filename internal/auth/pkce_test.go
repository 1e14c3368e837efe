package auth

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"testing"

	"github.com/blush-labs/socialauth/internal/registry"
)

func TestGeneratePKCECodesBase64URL(t *testing.T) {
	t.Parallel()
	codes, err := GeneratePKCECodes(registry.ChallengeBase64URL)
	if err != nil {
		t.Fatalf("GeneratePKCECodes() error = %v", err)
	}

	if got := len(codes.CodeVerifier); got < 43 || got > 128 {
		t.Errorf("verifier length = %d, want 43..128", got)
	}

	hash := sha256.Sum256([]byte(codes.CodeVerifier))
	want := base64.URLEncoding.WithPadding(base64.NoPadding).EncodeToString(hash[:])
	if codes.CodeChallenge != want {
		t.Errorf("challenge = %q, want base64url SHA-256 of verifier", codes.CodeChallenge)
	}
}

func TestGeneratePKCECodesHex(t *testing.T) {
	t.Parallel()
	codes, err := GeneratePKCECodes(registry.ChallengeHex)
	if err != nil {
		t.Fatalf("GeneratePKCECodes() error = %v", err)
	}

	hash := sha256.Sum256([]byte(codes.CodeVerifier))
	if want := hex.EncodeToString(hash[:]); codes.CodeChallenge != want {
		t.Errorf("challenge = %q, want lowercase hex SHA-256 of verifier", codes.CodeChallenge)
	}
}

func TestGeneratePKCECodesUnique(t *testing.T) {
	t.Parallel()
	first, err := GeneratePKCECodes(registry.ChallengeBase64URL)
	if err != nil {
		t.Fatalf("GeneratePKCECodes() error = %v", err)
	}
	second, err := GeneratePKCECodes(registry.ChallengeBase64URL)
	if err != nil {
		t.Fatalf("GeneratePKCECodes() error = %v", err)
	}
	if first.CodeVerifier == second.CodeVerifier {
		t.Error("consecutive verifiers should differ")
	}
}
