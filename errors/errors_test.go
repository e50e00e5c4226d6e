package errors

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDefaultCategory(t *testing.T) {
	tests := []struct {
		code ErrorCode
		want ErrorCategory
	}{
		{ErrCodeTimeout, CategoryTransient},
		{ErrCodeUnavailable, CategoryTransient},
		{ErrCodeNotFound, CategoryPermanent},
		{ErrCodeInvalidInput, CategoryPermanent},
		{ErrCodeInvalidTransition, CategoryInternal},
		{ErrorCode("SOMETHING_ELSE"), CategoryInternal},
	}

	for _, tt := range tests {
		t.Run(string(tt.code), func(t *testing.T) {
			require.Equal(t, tt.want, tt.code.DefaultCategory())
		})
	}
}

func TestInvalidTransition(t *testing.T) {
	err := InvalidTransition("task_1", "T_ATTEMPT_SUCCEEDED", "NEW")

	require.True(t, Is(err, ErrCodeInvalidTransition))
	require.Equal(t, CategoryInternal, err.Category())
	require.False(t, err.Retryable())
	require.Equal(t, "task_1", err.TaskID())
	require.Equal(t, "NEW", err.Metadata()["state"])
	require.Contains(t, err.Error(), "T_ATTEMPT_SUCCEEDED")
}

func TestWrapKeepsCode(t *testing.T) {
	base := New(ErrCodeNotFound, "no such task", WithTaskID("task_9"))
	wrapped := fmt.Errorf("router: %w", Wrap(base, "dispatch"))

	require.True(t, Is(wrapped, ErrCodeNotFound))
	require.Equal(t, ErrCodeNotFound, Code(wrapped))

	var se *Error
	require.True(t, stderrors.As(wrapped, &se))
	require.Equal(t, "task_9", se.TaskID())
}

func TestWrapPlainError(t *testing.T) {
	require.Nil(t, Wrap(nil, "nothing"))

	err := Wrap(stderrors.New("boom"), "handler")
	require.Equal(t, ErrCodeInternal, err.Code())
	require.Equal(t, "handler: boom", err.Error())
	require.False(t, IsRetryable(stderrors.New("plain")))
}

func TestJSONRoundTrip(t *testing.T) {
	orig := New(ErrCodeUnavailable, "bus down",
		WithAttemptID("attempt_1"),
		WithCause(stderrors.New("connection refused")))

	data, err := json.Marshal(orig)
	require.NoError(t, err)

	var decoded Error
	require.NoError(t, json.Unmarshal(data, &decoded))
	require.Equal(t, ErrCodeUnavailable, decoded.Code())
	require.Equal(t, "attempt_1", decoded.AttemptID())
	require.True(t, decoded.Retryable())
	require.Equal(t, "bus down: connection refused", decoded.Error())
}
