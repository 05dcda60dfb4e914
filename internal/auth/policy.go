package auth

import (
	"crypto/rand"
	"math/big"
	"strings"
	"unicode"
	"unicode/utf8"
)

const (
	MinPasswordLength = 8
	MaxPasswordLength = 128

	policySpecials = `!@#$%^&*()_+-=[]{};':"\|,.<>/?`

	genUpper   = "ABCDEFGHIJKLMNOPQRSTUVWXYZ"
	genLower   = "abcdefghijklmnopqrstuvwxyz"
	genDigits  = "0123456789"
	genSpecial = `!@#$%^&*()_+-=[]{}|;':",./<>?`
)

// PolicyError lists every rule a password broke.
type PolicyError struct {
	Violations []string
}

func (e *PolicyError) Error() string {
	return "password policy: " + strings.Join(e.Violations, "; ")
}

func (e *PolicyError) Unwrap() error { return ErrValidation }

// ValidatePassword checks length and character classes.
func ValidatePassword(password string) error {
	var violations []string
	n := utf8.RuneCountInString(password)
	switch {
	case n < MinPasswordLength:
		violations = append(violations, "must be at least 8 characters")
	case n > MaxPasswordLength:
		violations = append(violations, "must be at most 128 characters")
	}

	var upper, lower, digit, special bool
	for _, r := range password {
		switch {
		case unicode.IsUpper(r):
			upper = true
		case unicode.IsLower(r):
			lower = true
		case unicode.IsDigit(r):
			digit = true
		case strings.ContainsRune(policySpecials, r):
			special = true
		}
	}
	if !upper {
		violations = append(violations, "must contain an uppercase letter")
	}
	if !lower {
		violations = append(violations, "must contain a lowercase letter")
	}
	if !digit {
		violations = append(violations, "must contain a digit")
	}
	if !special {
		violations = append(violations, "must contain a special character")
	}
	if len(violations) > 0 {
		return &PolicyError{Violations: violations}
	}
	return nil
}

// IsStrongPassword reports whether password satisfies ValidatePassword.
func IsStrongPassword(password string) bool {
	return ValidatePassword(password) == nil
}

// GenerateRandomPassword returns a password of length runes with at least one character of
// every required class, shuffled with crypto/rand.
func GenerateRandomPassword(length int) (string, error) {
	if length < MinPasswordLength {
		return "", invalidf("password length must be at least %d", MinPasswordLength)
	}
	if length > MaxPasswordLength {
		return "", invalidf("password length must be at most %d", MaxPasswordLength)
	}
	all := genUpper + genLower + genDigits + genSpecial

	out := make([]byte, 0, length)
	for _, class := range []string{genUpper, genLower, genDigits, genSpecial} {
		c, err := pick(class)
		if err != nil {
			return "", err
		}
		out = append(out, c)
	}
	for len(out) < length {
		c, err := pick(all)
		if err != nil {
			return "", err
		}
		out = append(out, c)
	}
	for i := len(out) - 1; i > 0; i-- {
		j, err := randIndex(i + 1)
		if err != nil {
			return "", err
		}
		out[i], out[j] = out[j], out[i]
	}
	return string(out), nil
}

func pick(alphabet string) (byte, error) {
	i, err := randIndex(len(alphabet))
	if err != nil {
		return 0, err
	}
	return alphabet[i], nil
}

func randIndex(n int) (int, error) {
	v, err := rand.Int(rand.Reader, big.NewInt(int64(n)))
	if err != nil {
		return 0, err
	}
	return int(v.Int64()), nil
}
