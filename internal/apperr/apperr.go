// Package apperr defines the error taxonomy shared by the session, registration,
// sync and moderation layers.
package apperr

import (
	"errors"
)

// Kind classifies an error for propagation and user messaging.
type Kind string

const (
	KindInvalidCredentials  Kind = "invalid_credentials"
	KindValidation          Kind = "validation"
	KindOtpInvalid          Kind = "otp_invalid"
	KindOtpRejected         Kind = "otp_rejected"
	KindForbidden           Kind = "forbidden"
	KindNetwork             Kind = "network_failure"
	KindStaleRole           Kind = "stale_role"
	KindInvalidUser         Kind = "invalid_user"
	KindInvalidSecurityCode Kind = "invalid_security_code"
	KindInFlight            Kind = "in_flight"
	KindRestartRequired     Kind = "restart_required"
	KindConflict            Kind = "conflict"
	KindNotFound            Kind = "not_found"
	KindServer              Kind = "server"
)

// Error is the typed error carried across package boundaries.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Message == "" {
		return string(e.Kind)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches by kind so sentinels below work with errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// Sentinels for errors.Is matching.
var (
	ErrInvalidCredentials  = &Error{Kind: KindInvalidCredentials}
	ErrValidation          = &Error{Kind: KindValidation}
	ErrOtpInvalid          = &Error{Kind: KindOtpInvalid}
	ErrOtpRejected         = &Error{Kind: KindOtpRejected}
	ErrForbidden           = &Error{Kind: KindForbidden}
	ErrNetwork             = &Error{Kind: KindNetwork}
	ErrStaleRole           = &Error{Kind: KindStaleRole}
	ErrInvalidUser         = &Error{Kind: KindInvalidUser}
	ErrInvalidSecurityCode = &Error{Kind: KindInvalidSecurityCode}
	ErrInFlight            = &Error{Kind: KindInFlight}
	ErrRestartRequired     = &Error{Kind: KindRestartRequired}
	ErrConflict            = &Error{Kind: KindConflict}
	ErrNotFound            = &Error{Kind: KindNotFound}
	ErrServer              = &Error{Kind: KindServer}
)

// New creates an error of the given kind.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap creates an error of the given kind around an underlying cause.
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// KindOf returns the kind of the first *Error in the chain, or KindServer for foreign errors.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindServer
}

// Retryable reports whether the caller should offer a retry rather than treat
// the failure as a definitive rejection.
func Retryable(err error) bool {
	return KindOf(err) == KindNetwork
}

const (
	networkMessage      = "Network error. Please check your connection and try again."
	securityCodeMessage = "Invalid security code"
	serverMessage       = "Something went wrong. Please try again."
	inFlightMessage     = "Please wait for the current request to finish."
	restartMessage      = "Your registration session has expired. Please start again."
)

// UserMessage returns the text shown to the user for err.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}
	var e *Error
	if !errors.As(err, &e) {
		return serverMessage
	}
	switch e.Kind {
	case KindNetwork:
		return networkMessage
	case KindInvalidSecurityCode:
		return securityCodeMessage
	case KindInFlight:
		return inFlightMessage
	case KindRestartRequired:
		return restartMessage
	case KindServer:
		if e.Message != "" {
			return e.Message
		}
		return serverMessage
	}
	if e.Message != "" {
		return e.Message
	}
	return serverMessage
}
