package services

import (
	"errors"
	"strings"
)

var (
	// ErrValidation marks malformed or missing input.
	ErrValidation = errors.New("validation failed")

	// ErrConflict is returned when the email is already registered.
	ErrConflict = errors.New("user already exists")

	// ErrInvalidCredentials is deliberately the same for an unknown email
	// and a wrong password.
	ErrInvalidCredentials = errors.New("invalid credentials")

	// ErrSessionUserGone is returned when a valid token names a user that
	// no longer exists.
	ErrSessionUserGone = errors.New("user not found")

	// ErrForbidden is returned when the caller lacks the required role.
	ErrForbidden = errors.New("forbidden")

	// ErrUserNotFound is returned by lookups addressed by id.
	ErrUserNotFound = errors.New("user not found")
)

// ValidationError lists every failed field rule of a request.
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	if len(e.Problems) == 0 {
		return ErrValidation.Error()
	}
	return ErrValidation.Error() + ": " + strings.Join(e.Problems, "; ")
}

func (e *ValidationError) Unwrap() error {
	return ErrValidation
}

type problems []string

func (p *problems) add(msg string) {
	*p = append(*p, msg)
}

func (p problems) err() error {
	if len(p) == 0 {
		return nil
	}
	return &ValidationError{Problems: p}
}
