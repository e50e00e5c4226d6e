package errors

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Error is a structured error carrying a code, a category and the task
// and attempt it relates to.
type Error struct {
	code      ErrorCode
	category  ErrorCategory
	message   string
	cause     error
	metadata  map[string]string
	taskID    string
	attemptID string
}

var (
	_ error            = (*Error)(nil)
	_ json.Marshaler   = (*Error)(nil)
	_ json.Unmarshaler = (*Error)(nil)
)

// Error returns the error message.
func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.message, e.cause)
	}
	return e.message
}

// Code returns the error code.
func (e *Error) Code() ErrorCode {
	return e.code
}

// Category returns the error category.
func (e *Error) Category() ErrorCategory {
	return e.category
}

// Retryable reports whether the operation may succeed on retry.
func (e *Error) Retryable() bool {
	return e.category.IsRetryable()
}

// Metadata returns a copy of the error metadata.
func (e *Error) Metadata() map[string]string {
	result := make(map[string]string, len(e.metadata))
	for k, v := range e.metadata {
		result[k] = v
	}
	return result
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.cause
}

// TaskID returns the related task ID, if set.
func (e *Error) TaskID() string {
	return e.taskID
}

// AttemptID returns the related attempt ID, if set.
func (e *Error) AttemptID() string {
	return e.attemptID
}

type errorJSON struct {
	Code      ErrorCode         `json:"code"`
	Category  ErrorCategory     `json:"category"`
	Message   string            `json:"message"`
	Cause     string            `json:"cause,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	TaskID    string            `json:"task_id,omitempty"`
	AttemptID string            `json:"attempt_id,omitempty"`
}

// MarshalJSON implements json.Marshaler.
func (e *Error) MarshalJSON() ([]byte, error) {
	j := errorJSON{
		Code:      e.code,
		Category:  e.category,
		Message:   e.message,
		Metadata:  e.metadata,
		TaskID:    e.taskID,
		AttemptID: e.attemptID,
	}
	if e.cause != nil {
		j.Cause = e.cause.Error()
	}
	return json.Marshal(j)
}

// UnmarshalJSON implements json.Unmarshaler.
func (e *Error) UnmarshalJSON(data []byte) error {
	var j errorJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return err
	}
	e.code = j.Code
	e.category = j.Category
	e.message = j.Message
	e.metadata = j.Metadata
	e.taskID = j.TaskID
	e.attemptID = j.AttemptID
	if j.Cause != "" {
		e.cause = errors.New(j.Cause)
	}
	return nil
}

// Option is a functional option for configuring an Error.
type Option func(*Error)

// WithCategory overrides the default category.
func WithCategory(cat ErrorCategory) Option {
	return func(e *Error) {
		e.category = cat
	}
}

// WithMetadata adds a metadata key-value pair.
func WithMetadata(key, value string) Option {
	return func(e *Error) {
		if e.metadata == nil {
			e.metadata = make(map[string]string)
		}
		e.metadata[key] = value
	}
}

// WithTaskID sets the related task.
func WithTaskID(id string) Option {
	return func(e *Error) {
		e.taskID = id
	}
}

// WithAttemptID sets the related attempt.
func WithAttemptID(id string) Option {
	return func(e *Error) {
		e.attemptID = id
	}
}

// WithCause sets the underlying cause.
func WithCause(cause error) Option {
	return func(e *Error) {
		e.cause = cause
	}
}

// New creates an error with the given code and message.
func New(code ErrorCode, message string, opts ...Option) *Error {
	e := &Error{
		code:     code,
		category: code.DefaultCategory(),
		message:  message,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Newf creates an error with a formatted message.
func Newf(code ErrorCode, format string, args ...interface{}) *Error {
	return New(code, fmt.Sprintf(format, args...))
}

// InvalidTransition reports an event that the task cannot apply in its
// current state.
func InvalidTransition(taskID, event, state string) *Error {
	return New(ErrCodeInvalidTransition,
		fmt.Sprintf("invalid event %s on task %s in state %s", event, taskID, state),
		WithTaskID(taskID),
		WithMetadata("event", event),
		WithMetadata("state", state))
}

// Wrap wraps err with a message. Structured errors keep their code; other
// errors become internal errors.
func Wrap(err error, message string, opts ...Option) *Error {
	if err == nil {
		return nil
	}
	var se *Error
	if errors.As(err, &se) {
		wrapped := &Error{
			code:      se.code,
			category:  se.category,
			message:   message,
			cause:     err,
			metadata:  se.Metadata(),
			taskID:    se.taskID,
			attemptID: se.attemptID,
		}
		for _, opt := range opts {
			opt(wrapped)
		}
		return wrapped
	}
	return New(ErrCodeInternal, message, append(opts, WithCause(err))...)
}

// Is reports whether any error in the chain has the given code.
func Is(err error, code ErrorCode) bool {
	var se *Error
	if errors.As(err, &se) {
		return se.code == code
	}
	return false
}

// Code extracts the error code from an error, or "" if it is not structured.
func Code(err error) ErrorCode {
	var se *Error
	if errors.As(err, &se) {
		return se.code
	}
	return ""
}

// IsRetryable reports whether the error is retryable. Unstructured errors
// are not.
func IsRetryable(err error) bool {
	var se *Error
	if errors.As(err, &se) {
		return se.Retryable()
	}
	return false
}
