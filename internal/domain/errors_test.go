package domain

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAPIError_Error(t *testing.T) {
	err := NewAPIError(ErrInvalidOrder, "stop must be below entry")
	assert.Equal(t, "invalid_order: stop must be below entry", err.Error())

	cause := errors.New("connection reset")
	wrapped := &APIError{Kind: ErrNetwork, Message: "request failed", Cause: cause}
	assert.Contains(t, wrapped.Error(), "network")
	assert.Contains(t, wrapped.Error(), "connection reset")
}

func TestAPIError_Unwrap(t *testing.T) {
	cause := errors.New("timeout")
	err := &APIError{Kind: ErrNetwork, Cause: cause}
	assert.ErrorIs(t, err, cause)
}

func TestNewRetryableAPIError(t *testing.T) {
	err := NewRetryableAPIError(ErrRateLimited, "too many requests")
	assert.True(t, err.Retryable)
	assert.Equal(t, ErrRateLimited, err.Kind)
}

func TestNewAPIError_NotRetryableByDefault(t *testing.T) {
	err := NewAPIError(ErrAuth, "bad credentials")
	assert.False(t, err.Retryable)
}
