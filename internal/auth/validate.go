package auth

import (
	"net/mail"
	"regexp"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"
)

const (
	maxEmailLength     = 100
	minUsernameLength  = 3
	maxUsernameLength  = 50
	maxNameLength      = 50
	maxRoleNameLength  = 50
	maxRoleDescLength  = 255
	maxPermNameLength  = 100
	maxPermFieldLength = 50
)

var usernamePattern = regexp.MustCompile(`^[A-Za-z0-9_.-]+$`)

// NormalizeEmail trims and lower-cases an address. Stored emails are always normalized.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func normalizeText(s string) string {
	return strings.TrimSpace(norm.NFC.String(s))
}

func validateEmail(email string) error {
	if email == "" {
		return invalidf("email is required")
	}
	if len(email) > maxEmailLength {
		return invalidf("email must be at most %d characters", maxEmailLength)
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email || !strings.Contains(email[strings.LastIndex(email, "@")+1:], ".") {
		return invalidf("email should be valid")
	}
	return nil
}

func validateUsername(username string) error {
	n := utf8.RuneCountInString(username)
	if n < minUsernameLength || n > maxUsernameLength {
		return invalidf("username must be between %d and %d characters", minUsernameLength, maxUsernameLength)
	}
	if !usernamePattern.MatchString(username) {
		return invalidf("username may only contain letters, digits, '.', '_' and '-'")
	}
	return nil
}

func requireText(field, value string, max int) error {
	if value == "" {
		return invalidf("%s is required", field)
	}
	if utf8.RuneCountInString(value) > max {
		return invalidf("%s must be at most %d characters", field, max)
	}
	return nil
}
