package errors

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSentinelErrors(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		wantMsg string
	}{
		{"ErrStopped", ErrStopped, "cmdflow: client in stopped state"},
		{"ErrTimeout", ErrTimeout, "cmdflow: operation timed out"},
		{"ErrEngineRequired", ErrEngineRequired, "cmdflow: protocol engine is required"},
		{"ErrStateRequired", ErrStateRequired, "cmdflow: connection state machine is required"},
		{"ErrNilRequest", ErrNilRequest, "cmdflow: request is required"},
		{"ErrConfigRequired", ErrConfigRequired, "cmdflow: configuration is required"},
		{"ErrTopicRequired", ErrTopicRequired, "cmdflow: destination topic is required"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.wantMsg {
				t.Errorf("Error() = %q, want %q", got, tt.wantMsg)
			}
		})
	}
}

func TestTypedErrorsMatchSentinels(t *testing.T) {
	assert.ErrorIs(t, &StoppedError{}, ErrStopped)
	assert.ErrorIs(t, &StoppedError{Message: "client in stopped state"}, ErrStopped)
	assert.ErrorIs(t, &TimeoutError{Message: "command timeout has expired"}, ErrTimeout)
	assert.NotErrorIs(t, &InternalError{Message: "boom"}, ErrTimeout)
}

func TestErrorMessages(t *testing.T) {
	assert.Equal(t, "cmdflow: send failed - message was rejected", (&ValidationError{Description: "send failed - message was rejected"}).Error())
	assert.Equal(t, "cmdflow: send failed - unknown status 42", NewInternalError("send failed - unknown status %d", 42).Error())
	assert.Equal(t, "cmdflow: internal error: boom", (&InternalError{Err: errors.New("boom")}).Error())
	assert.Equal(t, "cmdflow: link: boom", (&InternalError{Message: "link", Err: errors.New("boom")}).Error())
	assert.Equal(t, `cmdflow: already subscribed to "orders"`, (&SubscribedError{Topic: "orders"}).Error())
	assert.Equal(t, `cmdflow: not subscribed to "orders"`, (&UnsubscribedError{Topic: "orders"}).Error())
	assert.Equal(t, "cmdflow: unsupported option: qos", (&UnsupportedError{Option: "qos"}).Error())
}

func TestClassification(t *testing.T) {
	inner := errors.New("connection reset")

	assert.True(t, IsRetryable(NewNetworkError(inner)))
	assert.False(t, IsRetryable(inner))
	assert.Nil(t, NewNetworkError(nil))
	assert.ErrorIs(t, NewNetworkError(inner), inner)

	assert.True(t, IsProtocolState(&ProtocolStateError{Err: inner}))
	assert.False(t, IsProtocolState(&NetworkError{Err: inner}))

	assert.True(t, IsTyped(&ValidationError{}))
	assert.True(t, IsTyped(&SecurityError{Err: inner}))
	assert.False(t, IsTyped(inner))
	assert.False(t, IsTyped(&NetworkError{Err: inner}))
}

func TestWrapInternal(t *testing.T) {
	assert.Nil(t, WrapInternal(nil))

	typed := &ValidationError{Description: "rejected"}
	assert.Same(t, typed, WrapInternal(typed))

	raw := errors.New("engine exploded")
	wrapped := WrapInternal(raw)
	var internal *InternalError
	assert.ErrorAs(t, wrapped, &internal)
	assert.ErrorIs(t, wrapped, raw)
}

func TestConfigValidationError(t *testing.T) {
	inner := errors.New("invalid port")
	err := ConfigValidationError{Err: inner}

	want := "cmdflow: invalid configuration: invalid port"
	if got := err.Error(); got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
	if unwrapped := err.Unwrap(); unwrapped != inner {
		t.Errorf("Unwrap() = %v, want %v", unwrapped, inner)
	}

	t.Run("nil error returns nil", func(t *testing.T) {
		if err := NewConfigValidationError(nil); err != nil {
			t.Errorf("NewConfigValidationError(nil) = %v, want nil", err)
		}
	})

	t.Run("errors.Is works with wrapped error", func(t *testing.T) {
		if !errors.Is(NewConfigValidationError(inner), inner) {
			t.Error("errors.Is should match wrapped error")
		}
	})
}
