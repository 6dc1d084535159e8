package types

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	appErr "github.com/sbt-vault/engine/pkg/errors"
	"github.com/stretchr/testify/require"
)

func TestFromAppErrorUnwraps(t *testing.T) {
	err := fmt.Errorf("assign: %w", appErr.New(appErr.CodeAlreadyMinted, "artifact already minted"))
	got := FromAppError(err)
	require.Equal(t, "already_minted", got.Code)
	require.Equal(t, "artifact already minted", got.Message)
}

func TestFromAppErrorHidesPlainErrors(t *testing.T) {
	got := FromAppError(errors.New("pq: connection refused"))
	require.Equal(t, "internal", got.Code)
	require.NotContains(t, got.Message, "pq")
}

func TestFromAppErrorCarriesFieldDetails(t *testing.T) {
	got := FromAppError(appErr.Validation(map[string]string{"email": "Email is required"}))
	require.Equal(t, map[string]string{"email": "Email is required"}, got.Details)
}

func TestStatusFor(t *testing.T) {
	require.Equal(t, http.StatusForbidden, StatusFor(appErr.CodeAnonymizedNetwork))
	require.Equal(t, http.StatusConflict, StatusFor(appErr.CodeInvalidTransition))
	require.Equal(t, http.StatusServiceUnavailable, StatusFor(appErr.CodeUnavailable))
	require.Equal(t, http.StatusInternalServerError, StatusFor(appErr.CodeUnknown))
}

func TestStatusForEveryCode(t *testing.T) {
	cases := map[appErr.Code]int{
		appErr.CodeUnknown:           http.StatusInternalServerError,
		appErr.CodeInvalid:           http.StatusBadRequest,
		appErr.CodeNotFound:          http.StatusNotFound,
		appErr.CodeConflict:          http.StatusConflict,
		appErr.CodeUnauthorized:      http.StatusUnauthorized,
		appErr.CodeForbidden:         http.StatusForbidden,
		appErr.CodeInternal:          http.StatusInternalServerError,
		appErr.CodeUnavailable:       http.StatusServiceUnavailable,
		appErr.CodeAlreadyMinted:     http.StatusConflict,
		appErr.CodeInvalidTransition: http.StatusConflict,
		appErr.CodeAnonymizedNetwork: http.StatusForbidden,
	}
	for code, want := range cases {
		require.Equal(t, want, StatusFor(code), string(code))
	}
}
