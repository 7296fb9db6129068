package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHTTPStatus(t *testing.T) {
	tests := []struct {
		code Code
		want int
	}{
		{CodeInvalidRequest, http.StatusBadRequest},
		{CodeUnauthorized, http.StatusUnauthorized},
		{CodeForbidden, http.StatusForbidden},
		{CodeNotFound, http.StatusNotFound},
		{CodeUnsupportedFileType, http.StatusBadRequest},
		{CodeEmptyDocument, http.StatusBadRequest},
		{CodeNoChunksGenerated, http.StatusBadRequest},
		{CodeProviderUnavailable, http.StatusInternalServerError},
		{CodePartialCleanupFailure, http.StatusOK},
		{CodeRateLimited, http.StatusTooManyRequests},
		{CodeInternal, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(string(tt.code), func(t *testing.T) {
			assert.Equal(t, tt.want, HTTPStatus(E(tt.code, "op", "msg", nil)))
		})
	}
	assert.Equal(t, http.StatusInternalServerError, HTTPStatus(errors.New("plain")))
}

func TestCodeSurvivesWrapping(t *testing.T) {
	base := E(CodeNotFound, "SessionService.Get", "session not found", nil)
	wrapped := fmt.Errorf("handler: %w", base)

	assert.True(t, IsCode(wrapped, CodeNotFound))
	assert.Equal(t, CodeNotFound, CodeOf(wrapped))
	assert.False(t, IsCode(nil, CodeNotFound))
}

func TestSafeMessageHidesProviderDetail(t *testing.T) {
	err := E(CodeProviderUnavailable, "Embed", "embedding failed: dial tcp 10.0.0.1:443", errors.New("boom"))
	assert.NotContains(t, SafeMessage(err), "10.0.0.1")

	err = E(CodeEmptyDocument, "Processor.Process", "Empty or unreadable file", nil)
	assert.Equal(t, "Empty or unreadable file", SafeMessage(err))
	assert.Equal(t, "internal server error", SafeMessage(errors.New("raw")))
}

func TestErrorString(t *testing.T) {
	err := E(CodeNotFound, "op", "missing", errors.New("cause"))
	assert.Equal(t, "op: missing: cause", err.Error())
	assert.ErrorIs(t, err, errors.Unwrap(err))
}
