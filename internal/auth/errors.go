package auth

import "errors"

var (
	ErrInvalidToken   = errors.New("auth: invalid token")
	ErrMissingSecret  = errors.New("auth: secret is not configured")
	ErrUnauthorized   = errors.New("auth: unauthorized")
	ErrPasswordLength = errors.New("auth: password must be at least 6 characters")
)
