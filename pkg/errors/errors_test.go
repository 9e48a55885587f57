package errors

import (
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCodeOfWrapped(t *testing.T) {
	err := fmt.Errorf("pair device: %w", Conflict(ReasonAlreadyPaired, "device already paired", nil))

	assert.Equal(t, ErrConflict, CodeOf(err))
	assert.Equal(t, ReasonAlreadyPaired, ReasonOf(err))
	assert.Equal(t, http.StatusConflict, CodeOf(err).HTTPStatus())
}

func TestCodeOfPlainError(t *testing.T) {
	err := fmt.Errorf("boom")

	assert.Equal(t, ErrInternal, CodeOf(err))
	assert.Equal(t, Reason(""), ReasonOf(err))
}

func TestIsMatchesReason(t *testing.T) {
	err := fmt.Errorf("wrapped: %w", Forbidden(ReasonForeignOrg, ""))

	assert.True(t, Is(err, Forbidden(ReasonForeignOrg, "")))
	assert.True(t, Is(err, &AppError{Code: ErrForbidden}))
	assert.False(t, Is(err, Forbidden(ReasonNotSelf, "")))
}

func TestHTTPStatusMapping(t *testing.T) {
	cases := map[ErrorCode]int{
		ErrBadRequest:   http.StatusBadRequest,
		ErrUnauthorized: http.StatusUnauthorized,
		ErrForbidden:    http.StatusForbidden,
		ErrNotFound:     http.StatusNotFound,
		ErrConflict:     http.StatusConflict,
		ErrTransient:    http.StatusServiceUnavailable,
		ErrInternal:     http.StatusInternalServerError,
	}
	for code, status := range cases {
		assert.Equal(t, status, code.HTTPStatus(), code.String())
	}
}
