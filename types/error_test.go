package types

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestError_ChainingAndHelpers(t *testing.T) {
	t.Parallel()

	root := errors.New("root")
	err := NewError(ErrCallbackFailed, "callback failed").
		WithCause(root).
		WithHTTPStatus(http.StatusBadGateway).
		WithRetryable(true).
		WithAgentType("agent/v2/chat")

	if GetErrorCode(err) != ErrCallbackFailed {
		t.Fatalf("expected code %s, got %s", ErrCallbackFailed, GetErrorCode(err))
	}
	if !IsRetryable(err) {
		t.Fatalf("expected retryable")
	}
	if !errors.Is(err, root) {
		t.Fatalf("expected errors.Is unwrap to root")
	}
	if got := err.Error(); got == "" {
		t.Fatalf("expected non-empty error string")
	}
	assert.Equal(t, http.StatusBadGateway, err.Status())
	assert.Equal(t, "agent/v2/chat", err.AgentType)
}

func TestError_WrappedLookup(t *testing.T) {
	t.Parallel()

	inner := Errorf(ErrTraceNotFound, "trace %q not found", "abc")
	wrapped := fmt.Errorf("materialize: %w", inner)

	assert.True(t, IsErrorCode(wrapped, ErrTraceNotFound))
	assert.False(t, IsErrorCode(wrapped, ErrCallbackFailed))
	assert.Equal(t, ErrTraceNotFound, GetErrorCode(wrapped))
	assert.Equal(t, ErrorCode(""), GetErrorCode(errors.New("plain")))
	assert.False(t, IsRetryable(errors.New("plain")))
}

func TestStatusForCode(t *testing.T) {
	t.Parallel()

	tests := []struct {
		code ErrorCode
		want int
	}{
		{ErrMalformedBody, http.StatusBadRequest},
		{ErrInvalidParameters, http.StatusBadRequest},
		{ErrServerMisconfigured, http.StatusInternalServerError},
		{ErrCallbackFailed, http.StatusInternalServerError},
		{ErrUnsupportedResult, http.StatusInternalServerError},
		{ErrTraceNotFound, http.StatusNotFound},
		{ErrRateLimited, http.StatusTooManyRequests},
		{ErrServiceUnavailable, http.StatusServiceUnavailable},
	}

	for _, tt := range tests {
		t.Run(string(tt.code), func(t *testing.T) {
			assert.Equal(t, tt.want, StatusForCode(tt.code))
			assert.Equal(t, tt.want, NewError(tt.code, "x").Status())
		})
	}
}

func TestError_Detail(t *testing.T) {
	t.Parallel()

	cause := errors.New("messages: required field is missing")
	err := NewError(ErrInvalidParameters, "Invalid parameters for agent/v1/chat").WithCause(cause)
	assert.Equal(t, "Invalid parameters for agent/v1/chat: messages: required field is missing", err.Detail())
	assert.Equal(t, "[INVALID_PARAMETERS] "+err.Detail(), err.Error())

	boom := errors.New("boom")
	same := NewError(ErrCallbackFailed, boom.Error()).WithCause(boom)
	assert.Equal(t, "boom", same.Detail())
}
