package auth

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidCredentials = errors.New("auth: invalid credentials")
	ErrAccountNotActive   = errors.New("auth: account not active")
	ErrDuplicate          = errors.New("auth: already exists")
	ErrNotFound           = errors.New("auth: not found")
	ErrValidation         = errors.New("auth: invalid input")
	ErrForbidden          = errors.New("auth: forbidden")
)

// ErrInvalidToken indicates the token failed validation. The codec never says which check failed.
var ErrInvalidToken = errors.New("invalid token")

// entityNotFound names the missing entity while matching ErrNotFound.
type entityNotFound string

func (e entityNotFound) Error() string        { return "auth: " + string(e) + " not found" }
func (e entityNotFound) Is(target error) bool { return target == ErrNotFound }

var (
	ErrUserNotFound    error = entityNotFound("user")
	ErrSessionNotFound error = entityNotFound("session")
	ErrRoleNotFound    error = entityNotFound("role")
	ErrPermNotFound    error = entityNotFound("permission")
)

func invalidf(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{ErrValidation}, args...)...)
}

func duplicatef(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{ErrDuplicate}, args...)...)
}
