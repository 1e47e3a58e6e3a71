package auth

import "errors"

// Domain errors for the auth package.
var (
	// ErrTokenNotFound is returned when no registration token matches the
	// presented value.
	ErrTokenNotFound = errors.New("auth: token not found")

	// ErrTokenConsumed is returned when a registration token has already
	// been used.
	ErrTokenConsumed = errors.New("auth: token already consumed")

	// ErrTokenExpired is returned when a registration token is past its
	// expiry time.
	ErrTokenExpired = errors.New("auth: token expired")

	// ErrTokenMismatch is returned when a registration token is bound to a
	// different hardware key.
	ErrTokenMismatch = errors.New("auth: token bound to different hardware key")

	// ErrTokenInvalid is returned when an operator access token fails
	// signature or claim validation.
	ErrTokenInvalid = errors.New("auth: invalid access token")

	// ErrBadCredentials is returned when the presented admin key is wrong.
	ErrBadCredentials = errors.New("auth: bad credentials")
)
