// Package errors provides coded domain errors shared by the pairing service.
package errors

import "net/http"

// Code is a machine-readable error code.
type Code string

const (
	// CodeUnknown represents an unknown error.
	CodeUnknown Code = "UNKNOWN"

	// Input errors
	CodeInvalidArgument   Code = "INVALID_ARGUMENT"
	CodeInvalidEvent      Code = "INVALID_EVENT"
	CodeUnsupportedEvent  Code = "UNSUPPORTED_EVENT"
	CodeUnknownCheckpoint Code = "UNKNOWN_CHECKPOINT"
	CodePayloadTooLarge   Code = "PAYLOAD_TOO_LARGE"

	// Pairing errors
	CodeNotRegistered       Code = "NOT_REGISTERED"
	CodeCounterpartAbsent   Code = "COUNTERPART_ABSENT"
	CodeCheckpointMismatch  Code = "CHECKPOINT_MISMATCH"
	CodeRateLimited         Code = "RATE_LIMITED"
	CodeConnectionSaturated Code = "CONNECTION_SATURATED"

	// Session errors
	CodeNoImagesAvailable       Code = "NO_IMAGES_AVAILABLE"
	CodeSessionNotFound         Code = "SESSION_NOT_FOUND"
	CodeSessionAlreadyCompleted Code = "SESSION_ALREADY_COMPLETED"
	CodeSessionAlreadyActive    Code = "SESSION_ALREADY_ACTIVE"
	CodeImageOutOfOrder         Code = "IMAGE_OUT_OF_ORDER"

	// Storage errors
	CodeNotFound         Code = "NOT_FOUND"
	CodeAlreadyProcessed Code = "ALREADY_PROCESSED"
	CodeUnavailable      Code = "UNAVAILABLE"
)

// HTTPStatus maps domain codes to HTTP status codes.
func (c Code) HTTPStatus() int {
	switch c {
	// BadRequest - validation failures, bad input
	case CodeInvalidArgument,
		CodeInvalidEvent,
		CodeUnsupportedEvent,
		CodeCheckpointMismatch,
		CodeAlreadyProcessed:
		return http.StatusBadRequest

	case CodeUnknownCheckpoint,
		CodeNotRegistered:
		return http.StatusForbidden

	// NotFound - resource doesn't exist
	case CodeNotFound,
		CodeNoImagesAvailable,
		CodeSessionNotFound:
		return http.StatusNotFound

	// Conflict - state doesn't allow operation
	case CodeSessionAlreadyActive,
		CodeSessionAlreadyCompleted,
		CodeImageOutOfOrder,
		CodeCounterpartAbsent:
		return http.StatusConflict

	case CodePayloadTooLarge:
		return http.StatusRequestEntityTooLarge

	case CodeRateLimited,
		CodeConnectionSaturated:
		return http.StatusTooManyRequests

	case CodeUnavailable:
		return http.StatusServiceUnavailable

	default:
		return http.StatusInternalServerError
	}
}

// Retryable reports whether a client may reasonably retry the same request.
func (c Code) Retryable() bool {
	switch c {
	case CodeCounterpartAbsent, CodeRateLimited, CodeUnavailable:
		return true
	default:
		return false
	}
}
