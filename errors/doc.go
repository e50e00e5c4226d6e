// Package errors provides the structured error taxonomy used across taskkit.
//
// # Error Categories
//
//   - Transient: the bus or state store is temporarily unavailable
//   - Permanent: invalid input, unknown task, duplicate registration
//   - Internal: events that are invalid for a task's current state
//
// The task state machine never aborts the process. An invalid transition is
// published to the owning job as a diagnostic and returned to the caller as
// an Error with code INVALID_TRANSITION so the job layer can decide whether
// it is fatal.
//
// # Usage
//
//	err := errors.InvalidTransition(taskID, "T_ATTEMPT_SUCCEEDED", "NEW")
//	if errors.Is(err, errors.ErrCodeInvalidTransition) {
//	    // escalate
//	}
//
// Errors serialize to JSON so they can be exported over the bus.
package errors
