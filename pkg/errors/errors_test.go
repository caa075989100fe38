package errors

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWrapPreservesCause(t *testing.T) {
	cause := fmt.Errorf("connection reset")
	err := Wrap(cause, ErrorTypeTransport, "fetch failed")

	assert.Equal(t, ErrorTypeTransport, TypeOf(err))
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "fetch failed")
	assert.Contains(t, err.Error(), "connection reset")
}

func TestWrapNil(t *testing.T) {
	assert.Nil(t, Wrap(nil, ErrorTypeTransport, "x"))
	assert.Nil(t, Wrapf(nil, ErrorTypeTransport, "x %d", 1))
}

func TestDetails(t *testing.T) {
	err := New(ErrorTypeTransport, "status").WithDetail("status", 503).WithDetail("key", "q")

	v, ok := err.Detail("status")
	require.True(t, ok)
	assert.Equal(t, 503, v)
	_, ok = err.Detail("absent")
	assert.False(t, ok)
}

func TestIsRetryable(t *testing.T) {
	assert.True(t, IsRetryable(New(ErrorTypeTransport, "503")))
	assert.True(t, IsRetryable(New(ErrorTypeTimeout, "deadline")))
	assert.False(t, IsRetryable(New(ErrorTypeTransport, "404").WithDetail("retryable", false)))
	assert.False(t, IsRetryable(New(ErrorTypeStructuralParse, "layout changed")))
	assert.False(t, IsRetryable(New(ErrorTypeRecord, "bad token")))
	assert.False(t, IsRetryable(fmt.Errorf("plain error")))
}

func TestIsFatal(t *testing.T) {
	assert.True(t, IsFatal(New(ErrorTypeConfig, "unknown loader")))
	assert.True(t, IsFatal(New(ErrorTypeValidation, "invalid key selection")))
	assert.True(t, IsFatal(New(ErrorTypeFailureCeiling, "5 consecutive failed keys")))
	assert.False(t, IsFatal(New(ErrorTypeTransport, "reset")))
	assert.False(t, IsFatal(New(ErrorTypeSink, "write failed")))
}

func TestIsTypeWalksChain(t *testing.T) {
	inner := New(ErrorTypeTimeout, "attempt timed out")
	outer := Wrap(inner, ErrorTypeTransport, "fetch failed")

	assert.True(t, IsType(outer, ErrorTypeTransport))
	assert.True(t, IsType(outer, ErrorTypeTimeout))
	assert.False(t, IsType(outer, ErrorTypeSink))
}
