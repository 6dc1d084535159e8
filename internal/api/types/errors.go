package types

import (
	"errors"
	"net/http"

	appErr "github.com/sbt-vault/engine/pkg/errors"
)

// FromAppError converts an error chain into the envelope error. Errors that
// carry no AppError are reported as internal without leaking their text.
func FromAppError(err error) *APIError {
	if err == nil {
		return nil
	}
	var ae *appErr.AppError
	if !errors.As(err, &ae) {
		return &APIError{Code: string(appErr.CodeInternal), Message: "internal server error"}
	}
	out := &APIError{Code: string(ae.Code), Message: ae.Message}
	if fields, ok := ae.Meta["fields"]; ok {
		out.Details = fields
	}
	return out
}

// StatusFor maps an error code to its HTTP status.
func StatusFor(code appErr.Code) int {
	switch code {
	case appErr.CodeInvalid:
		return http.StatusBadRequest
	case appErr.CodeUnauthorized:
		return http.StatusUnauthorized
	case appErr.CodeForbidden, appErr.CodeAnonymizedNetwork:
		return http.StatusForbidden
	case appErr.CodeNotFound:
		return http.StatusNotFound
	case appErr.CodeConflict, appErr.CodeAlreadyMinted, appErr.CodeInvalidTransition:
		return http.StatusConflict
	case appErr.CodeUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
