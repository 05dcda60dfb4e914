package auth_test

import (
	"errors"
	"strings"
	"testing"

	"golang.org/x/crypto/bcrypt"

	"warden.dev/internal/auth"
)

func TestBcryptHasherLongInput(t *testing.T) {
	h := auth.BcryptHasher{Cost: bcrypt.MinCost}
	pw := strings.Repeat("p", 100)

	hash, err := h.Hash(pw)
	if err != nil {
		t.Fatalf("Hash: %v", err)
	}
	if err := h.Verify(hash, pw); err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if err := h.Verify(hash, strings.Repeat("p", 99)+"q"); !errors.Is(err, auth.ErrInvalidCredentials) {
		t.Fatalf("Verify mismatch = %v", err)
	}
	if _, err := h.Hash(""); err == nil {
		t.Fatalf("expected error for empty password")
	}
}
