package errors

// ErrorCategory classifies errors by their nature and retry semantics.
type ErrorCategory string

// Error categories define how errors should be handled.
const (
	// CategoryTransient indicates temporary failures where retry may succeed.
	// Examples: bus disconnects, store timeouts.
	CategoryTransient ErrorCategory = "transient"

	// CategoryPermanent indicates failures where retry will not help.
	// Examples: invalid configuration, unknown task, malformed identity.
	CategoryPermanent ErrorCategory = "permanent"

	// CategoryInternal indicates unexpected events or corrupted state.
	// Examples: an event that is not valid in the task's current state.
	CategoryInternal ErrorCategory = "internal"
)

// String returns the string representation of the category.
func (c ErrorCategory) String() string {
	return string(c)
}

// IsRetryable returns true if errors in this category may succeed on retry.
func (c ErrorCategory) IsRetryable() bool {
	return c == CategoryTransient
}

// ErrorCode identifies specific error types within categories.
type ErrorCode string

// Error codes for the task lifecycle core.
const (
	// Transient errors
	ErrCodeTimeout     ErrorCode = "TIMEOUT"     // Operation timed out
	ErrCodeUnavailable ErrorCode = "UNAVAILABLE" // Bus or store temporarily unavailable

	// Permanent errors
	ErrCodeNotFound      ErrorCode = "NOT_FOUND"      // Task, attempt or key does not exist
	ErrCodeInvalidInput  ErrorCode = "INVALID_INPUT"  // Malformed identity or configuration
	ErrCodeAlreadyExists ErrorCode = "ALREADY_EXISTS" // Task already registered
	ErrCodeCanceled      ErrorCode = "CANCELED"       // Operation was canceled

	// Internal errors
	ErrCodeInternal          ErrorCode = "INTERNAL"           // Unexpected internal error
	ErrCodeInvalidTransition ErrorCode = "INVALID_TRANSITION" // Event not valid in current state
	ErrCodePanic             ErrorCode = "PANIC"              // Recovered from panic in a handler
)

// String returns the string representation of the error code.
func (c ErrorCode) String() string {
	return string(c)
}

// DefaultCategory returns the default category for an error code.
func (c ErrorCode) DefaultCategory() ErrorCategory {
	switch c {
	case ErrCodeTimeout, ErrCodeUnavailable:
		return CategoryTransient
	case ErrCodeNotFound, ErrCodeInvalidInput, ErrCodeAlreadyExists, ErrCodeCanceled:
		return CategoryPermanent
	default:
		return CategoryInternal
	}
}

var codeDescriptions = map[ErrorCode]string{
	ErrCodeTimeout:           "operation timed out",
	ErrCodeUnavailable:       "service temporarily unavailable",
	ErrCodeNotFound:          "resource not found",
	ErrCodeInvalidInput:      "invalid input provided",
	ErrCodeAlreadyExists:     "resource already exists",
	ErrCodeCanceled:          "operation canceled",
	ErrCodeInternal:          "internal error",
	ErrCodeInvalidTransition: "invalid state transition",
	ErrCodePanic:             "recovered from panic",
}

// Description returns a human-readable description for the error code.
func (c ErrorCode) Description() string {
	if desc, ok := codeDescriptions[c]; ok {
		return desc
	}
	return "unknown error"
}
