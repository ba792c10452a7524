// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

package auth

import (
	"errors"

	"codeberg.org/oliverandrich/account-service/internal/services/password"
	"codeberg.org/oliverandrich/account-service/internal/services/session"
)

var (
	ErrMissingFields          = errors.New("all fields are required")
	ErrInvalidEmail           = errors.New("invalid email format")
	ErrEmailAlreadyRegistered = errors.New("user already exists")
	ErrMissingToken           = errors.New("token is required")
	ErrInvalidOrExpiredToken  = errors.New("invalid or expired token")
	ErrMissingCredentials     = errors.New("email and password are required")
	ErrInvalidCredentials     = errors.New("invalid credentials")
	ErrUserNotFound           = errors.New("user not found")
	ErrMissingEmail           = errors.New("email is required")
	ErrUnknownEmail           = errors.New("unknown email")
	ErrAlreadyVerified        = errors.New("user already verified")
	ErrMailDelivery           = errors.New("email delivery failed")
)

// Kind groups workflow errors by how a caller should react to them.
type Kind int

const (
	KindInternal Kind = iota
	KindValidation
	KindConflict
	KindAuth
	KindNotFound
	KindDependency
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindConflict:
		return "conflict"
	case KindAuth:
		return "auth"
	case KindNotFound:
		return "not_found"
	case KindDependency:
		return "dependency"
	default:
		return "internal"
	}
}

// KindOf classifies err. Errors this package does not know are internal.
func KindOf(err error) Kind {
	var verr *password.ValidationError
	switch {
	case err == nil:
		return KindInternal
	case errors.As(err, &verr),
		errors.Is(err, ErrMissingFields),
		errors.Is(err, ErrInvalidEmail),
		errors.Is(err, ErrMissingToken),
		errors.Is(err, ErrMissingCredentials),
		errors.Is(err, ErrMissingEmail),
		errors.Is(err, ErrUnknownEmail),
		errors.Is(err, ErrAlreadyVerified):
		return KindValidation
	case errors.Is(err, ErrEmailAlreadyRegistered):
		return KindConflict
	case errors.Is(err, ErrInvalidOrExpiredToken),
		errors.Is(err, ErrInvalidCredentials),
		errors.Is(err, session.ErrNoSession),
		errors.Is(err, session.ErrInvalidSession):
		return KindAuth
	case errors.Is(err, ErrUserNotFound):
		return KindNotFound
	case errors.Is(err, ErrMailDelivery):
		return KindDependency
	default:
		return KindInternal
	}
}
