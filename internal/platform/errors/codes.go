// Package errors provides structured error handling with transport status mapping.
package errors

import "net/http"

// Code is a machine-readable error code.
type Code string

const (
	// CodeUnknown represents an unknown error.
	CodeUnknown Code = "UNKNOWN"

	// Registry errors
	CodeInvalidCaller   Code = "INVALID_CALLER"
	CodeInvalidArgument Code = "INVALID_ARGUMENT"
	CodeMalformedInput  Code = "MALFORMED_INPUT"

	// Dispatch errors
	CodeNotFound           Code = "NOT_FOUND"
	CodeAlreadyExists      Code = "ALREADY_EXISTS"
	CodeFailedPrecondition Code = "FAILED_PRECONDITION"

	// Transport errors
	CodeUnauthenticated Code = "UNAUTHENTICATED"
	CodeUnavailable     Code = "UNAVAILABLE"
	CodeInternal        Code = "INTERNAL"
)

// HTTPStatus maps domain codes to HTTP status codes.
func (c Code) HTTPStatus() int {
	switch c {
	case CodeInvalidArgument,
		CodeMalformedInput:
		return http.StatusBadRequest

	case CodeUnauthenticated:
		return http.StatusUnauthorized

	case CodeInvalidCaller:
		return http.StatusForbidden

	case CodeNotFound:
		return http.StatusNotFound

	case CodeAlreadyExists,
		CodeFailedPrecondition:
		return http.StatusConflict

	case CodeUnavailable:
		return http.StatusServiceUnavailable

	default:
		return http.StatusInternalServerError
	}
}
