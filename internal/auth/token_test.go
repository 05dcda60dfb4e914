package auth_test

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"warden.dev/internal/auth"
)

func TestTokenRoundTrip(t *testing.T) {
	codec, err := auth.NewTokenCodec(testSecret, auth.WithIssuer("test-issuer"))
	if err != nil {
		t.Fatalf("NewTokenCodec: %v", err)
	}
	for _, kind := range []auth.TokenKind{auth.AccessToken, auth.RefreshToken} {
		token, err := codec.Issue("user@example.com", kind)
		if err != nil {
			t.Fatalf("Issue %s: %v", kind, err)
		}
		claims, err := codec.VerifyKind(token, kind)
		if err != nil {
			t.Fatalf("VerifyKind %s: %v", kind, err)
		}
		if claims.Subject != "user@example.com" || claims.Issuer != "test-issuer" {
			t.Fatalf("unexpected claims %+v", claims.RegisteredClaims)
		}
		if claims.ID == "" {
			t.Fatalf("missing jti")
		}
	}
	if codec.ExpirationSeconds() != int64(auth.DefaultAccessTTL/time.Second) {
		t.Fatalf("ExpirationSeconds = %d", codec.ExpirationSeconds())
	}
}

func TestTokenExpiry(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	codec, err := auth.NewTokenCodec(testSecret,
		auth.WithAccessTTL(30*time.Minute),
		auth.WithTokenClock(func() time.Time { return now }))
	if err != nil {
		t.Fatalf("NewTokenCodec: %v", err)
	}
	token, err := codec.Issue("user@example.com", auth.AccessToken)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	now = now.Add(29 * time.Minute)
	if _, err := codec.Verify(token); err != nil {
		t.Fatalf("Verify before expiry: %v", err)
	}
	now = now.Add(2 * time.Minute)
	if _, err := codec.Verify(token); !errors.Is(err, auth.ErrInvalidToken) {
		t.Fatalf("Verify after expiry = %v, want ErrInvalidToken", err)
	}
	if _, err := codec.ExtractSubject(token); err == nil {
		t.Fatalf("ExtractSubject accepted an expired token")
	}
}

func TestTokenRejections(t *testing.T) {
	codec, err := auth.NewTokenCodec(testSecret)
	if err != nil {
		t.Fatalf("NewTokenCodec: %v", err)
	}
	other, err := auth.NewTokenCodec("another-secret-that-is-long-enough!!")
	if err != nil {
		t.Fatalf("NewTokenCodec: %v", err)
	}
	foreignIssuer, err := auth.NewTokenCodec(testSecret, auth.WithIssuer("someone-else"))
	if err != nil {
		t.Fatalf("NewTokenCodec: %v", err)
	}

	token, _ := codec.Issue("user@example.com", auth.AccessToken)
	wrongKey, _ := other.Issue("user@example.com", auth.AccessToken)
	wrongIssuer, _ := foreignIssuer.Issue("user@example.com", auth.AccessToken)
	none, _ := jwt.NewWithClaims(jwt.SigningMethodNone, auth.Claims{
		Kind: auth.AccessToken,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "user@example.com",
			Issuer:    auth.DefaultIssuer,
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}).SignedString(jwt.UnsafeAllowNoneSignatureType)

	parts := strings.Split(token, ".")
	tampered := parts[0] + "." + parts[1] + "x." + parts[2]

	cases := map[string]string{
		"empty":        "",
		"garbage":      "not-a-token",
		"wrong key":    wrongKey,
		"wrong issuer": wrongIssuer,
		"alg none":     none,
		"tampered":     tampered,
	}
	for name, tok := range cases {
		if _, err := codec.Verify(tok); !errors.Is(err, auth.ErrInvalidToken) {
			t.Fatalf("%s: Verify = %v, want ErrInvalidToken", name, err)
		}
	}
	if _, err := codec.VerifyKind(token, auth.RefreshToken); !errors.Is(err, auth.ErrInvalidToken) {
		t.Fatalf("VerifyKind with wrong kind = %v", err)
	}
}

func TestNewTokenCodecRequiresSecret(t *testing.T) {
	if _, err := auth.NewTokenCodec("   "); err == nil {
		t.Fatalf("expected error for empty secret")
	}
	if _, err := auth.NewTokenCodec(testSecret, auth.WithAccessTTL(0)); err == nil {
		t.Fatalf("expected error for zero ttl")
	}
	codec, _ := auth.NewTokenCodec(testSecret)
	if _, err := codec.Issue("", auth.AccessToken); err == nil {
		t.Fatalf("expected error for empty subject")
	}
}
