package api

import (
	"errors"
	"net/http"
	"strings"

	"donorlink.org/internal/apperr"
)

// op names the collaborator call so a status code can be mapped in context.
type op string

const (
	opLogin         op = "login"
	opRegister      op = "register"
	opVerify        op = "verify_otp"
	opAdminRegister op = "admin_register"
	opAdminVerify   op = "admin_verify_otp"
	opModerate      op = "moderate"
	opRead          op = "read"
)

func (o op) verify() bool { return o == opVerify || o == opAdminVerify }

func (o op) admin() bool { return o == opAdminRegister || o == opAdminVerify }

// mapStatus converts a non-2xx response into the error taxonomy.
func mapStatus(o op, code int, message string) error {
	message = strings.TrimSpace(message)
	if message == "" {
		message = http.StatusText(code)
	}
	switch {
	case code == http.StatusRequestTimeout, code == http.StatusTooManyRequests,
		code == http.StatusBadGateway, code == http.StatusServiceUnavailable, code == http.StatusGatewayTimeout:
		return apperr.New(apperr.KindNetwork, message)
	case code == http.StatusUnauthorized && o == opLogin:
		return apperr.New(apperr.KindInvalidCredentials, message)
	case code == http.StatusUnauthorized:
		return apperr.New(apperr.KindForbidden, message)
	case code == http.StatusForbidden && o.admin() && mentionsSecurityCode(message):
		return apperr.New(apperr.KindInvalidSecurityCode, message)
	case code == http.StatusForbidden:
		return apperr.New(apperr.KindForbidden, message)
	case (code == http.StatusBadRequest || code == http.StatusUnprocessableEntity) && o.verify():
		return apperr.New(apperr.KindOtpRejected, message)
	case code == http.StatusBadRequest, code == http.StatusUnprocessableEntity:
		return apperr.New(apperr.KindValidation, message)
	case code == http.StatusNotFound:
		return apperr.New(apperr.KindNotFound, message)
	case code == http.StatusConflict:
		return apperr.New(apperr.KindConflict, message)
	default:
		return apperr.New(apperr.KindServer, message)
	}
}

func mentionsSecurityCode(message string) bool {
	m := strings.ToLower(message)
	return strings.Contains(m, "security code") || strings.Contains(m, "securitycode")
}

// transportError wraps failures below HTTP (dial, TLS, timeout, reset).
func transportError(err error) error {
	var appErr *apperr.Error
	if errors.As(err, &appErr) {
		return err
	}
	return apperr.Wrap(apperr.KindNetwork, "network request failed", err)
}
