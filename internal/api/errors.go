package api

import "net/http"

type APIErrorCode string

const (
	ErrorCodeBadRequest     APIErrorCode = "bad_request"
	ErrorCodeInvalidJob     APIErrorCode = "invalid_job"
	ErrorCodeTagInFlight    APIErrorCode = "tag_in_flight"
	ErrorCodeEnqueueing     APIErrorCode = "enqueueing_error"
	ErrorCodeNotFound       APIErrorCode = "not_found"
	ErrorCodeUnknownRequest APIErrorCode = "unknown_request"
	ErrorCodeNotReady       APIErrorCode = "not_ready"
	ErrorCodeInternal       APIErrorCode = "internal_error"
)

// APIError represents a custom error with a code and description
type APIError struct {
	Code        APIErrorCode
	Description string
}

// Implement the error interface for APIError
func (e *APIError) Error() string {
	if e.Description != "" {
		return string(e.Code) + ": " + e.Description
	}

	return string(e.Code)
}

func (e *APIError) Status() int {
	switch e.Code {
	case ErrorCodeBadRequest, ErrorCodeInvalidJob:
		return http.StatusBadRequest
	case ErrorCodeTagInFlight:
		return http.StatusConflict
	case ErrorCodeNotFound, ErrorCodeUnknownRequest:
		return http.StatusNotFound
	case ErrorCodeNotReady, ErrorCodeEnqueueing:
		return http.StatusServiceUnavailable
	}

	return http.StatusInternalServerError
}
