package errors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestError_IsMatchesByCode(t *testing.T) {
	err := fmt.Errorf("wrapping: %w", ErrValidation.WithMessage("id is required"))

	assert.True(t, errors.Is(err, ErrValidation))
	assert.False(t, errors.Is(err, ErrInternal))
	assert.True(t, IsValidation(err))
}

func TestError_WithDetailDoesNotMutateSentinel(t *testing.T) {
	_ = ErrValidation.WithDetail("message", "changed")

	_, ok := ErrValidation.Details["message"]
	assert.False(t, ok)
}

func TestToHTTPStatus(t *testing.T) {
	assert.Equal(t, http.StatusBadRequest, ToHTTPStatus(ErrValidation))
	assert.Equal(t, http.StatusTooManyRequests, ToHTTPStatus(ErrRateLimited))
	assert.Equal(t, http.StatusInternalServerError, ToHTTPStatus(errors.New("boom")))
}

func TestToErrorResponse(t *testing.T) {
	resp := ToErrorResponse(ErrValidation.WithMessage("id is required"))
	assert.Equal(t, "id is required", resp["error"])
	assert.Equal(t, "VALIDATION_ERROR", resp["error_code"])

	resp = ToErrorResponse(errors.New("plain"))
	assert.Equal(t, "INTERNAL_ERROR", resp["error_code"])
	assert.Equal(t, "plain", resp["cause"])
}

func TestRecoverPanic(t *testing.T) {
	assert.Nil(t, RecoverPanic(nil))

	err := RecoverPanic("kaboom")
	require.Error(t, err)

	var appErr *Error
	require.True(t, errors.As(err, &appErr))
	assert.True(t, appErr.IsFatal())
	assert.Equal(t, true, appErr.Details["panic"])
	assert.Contains(t, err.Error(), "kaboom")
}
