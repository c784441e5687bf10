package usecase

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestError_UserMessageHidesInternals(t *testing.T) {
	codes := []ErrorCode{
		ErrorInvalidInput, ErrorConfiguration, ErrorTimeout, ErrorRateLimited,
		ErrorUpstream, ErrorUnparseable, ErrorNotFound, ErrorForbidden,
		ErrorConflict, ErrorInternal,
	}
	for _, code := range codes {
		t.Run(string(code), func(t *testing.T) {
			e := newError(code, "some_reason", errors.New("secret token sk-123 rejected"))
			msg := e.UserMessage()
			require.NotEmpty(t, msg)
			require.NotContains(t, msg, "sk-123")
			require.NotContains(t, msg, "some_reason")
		})
	}
}

func TestError_FormattingAndUnwrap(t *testing.T) {
	cause := errors.New("boom")
	e := newError(ErrorInternal, "store_write_error", cause)
	require.Equal(t, "usecase: INTERNAL_ERROR (store_write_error): boom", e.Error())
	require.ErrorIs(t, e, cause)

	require.Equal(t, "usecase: NOT_FOUND (record_not_found)", newError(ErrorNotFound, "record_not_found", nil).Error())

	var nilErr *Error
	require.Empty(t, nilErr.Error())
	require.Empty(t, nilErr.UserMessage())
	require.NoError(t, nilErr.Unwrap())
}

func TestCodeOf(t *testing.T) {
	require.Equal(t, ErrorCode(""), CodeOf(nil))
	require.Equal(t, ErrorInternal, CodeOf(errors.New("plain")))
	wrapped := fmt.Errorf("handler: %w", newError(ErrorConflict, "concurrent_edit", nil))
	require.Equal(t, ErrorConflict, CodeOf(wrapped))
}
