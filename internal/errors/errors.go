package errors

import (
	"fmt"

	"github.com/openbuilders/batch-submitter/internal/types"
)

type ErrorCode string

const (
	CodeBuild                  ErrorCode = "build_error"
	CodeUserRejected           ErrorCode = "user_rejected"
	CodeSign                   ErrorCode = "sign_error"
	CodeSubmit                 ErrorCode = "submit_error"
	CodeTransactionFailed      ErrorCode = "transaction_failed"
	CodeMaxRetriesExceeded     ErrorCode = "max_retries_exceeded"
	CodeExpiredNoResignHandler ErrorCode = "expired_no_resign_handler"
	CodePollingTimeout         ErrorCode = "polling_timeout"
)

// Sentinels for errors.Is. Only the code is compared.
var (
	ErrBuild                  = ServiceError{Code: CodeBuild, Message: "build failed"}
	ErrUserRejected           = ServiceError{Code: CodeUserRejected, Message: "user rejected transaction"}
	ErrSign                   = ServiceError{Code: CodeSign, Message: "signing failed"}
	ErrSubmit                 = ServiceError{Code: CodeSubmit, Message: "submission failed"}
	ErrTransactionFailed      = ServiceError{Code: CodeTransactionFailed, Message: "transaction failed"}
	ErrMaxRetriesExceeded     = ServiceError{Code: CodeMaxRetriesExceeded, Message: "max retries exceeded for expired transaction"}
	ErrExpiredNoResignHandler = ServiceError{Code: CodeExpiredNoResignHandler, Message: "transaction expired and no retry handler provided"}
	ErrPollingTimeout         = ServiceError{Code: CodePollingTimeout, Message: "transaction polling timeout"}
)

type ServiceError struct {
	Code    ErrorCode
	Message string
	Err     error
	// Tag and BatchID correlate the failure with the submission.
	Tag     string
	BatchID string
	// Status is the terminal batch status the backend reported, if any.
	Status types.BatchStatus
	// Signatures already reported by the backend, e.g. the landed part of a
	// partial batch.
	Signatures []string
}

func (se ServiceError) Error() string {
	msg := se.Message
	if se.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, se.Err)
	}

	switch {
	case se.Tag != "" && se.BatchID != "":
		return fmt.Sprintf("%s (tag=%s batch=%s)", msg, se.Tag, se.BatchID)
	case se.Tag != "":
		return fmt.Sprintf("%s (tag=%s)", msg, se.Tag)
	case se.BatchID != "":
		return fmt.Sprintf("%s (batch=%s)", msg, se.BatchID)
	}

	return msg
}

func (se ServiceError) Unwrap() error {
	return se.Err
}

// Is matches any ServiceError carrying the same code.
func (se ServiceError) Is(target error) bool {
	switch t := target.(type) {
	case ServiceError:
		return t.Code == se.Code
	case *ServiceError:
		return t != nil && t.Code == se.Code
	}

	return false
}

// New returns a ServiceError with the default message of the code.
func New(code ErrorCode, err error) ServiceError {
	return ServiceError{Code: code, Message: defaultMessage(code), Err: err}
}

// WithBatch returns a copy of the error annotated with correlation data.
func (se ServiceError) WithBatch(tag, batchID string) ServiceError {
	se.Tag = tag
	se.BatchID = batchID
	return se
}

func defaultMessage(code ErrorCode) string {
	for _, e := range []ServiceError{
		ErrBuild, ErrUserRejected, ErrSign, ErrSubmit, ErrTransactionFailed,
		ErrMaxRetriesExceeded, ErrExpiredNoResignHandler, ErrPollingTimeout,
	} {
		if e.Code == code {
			return e.Message
		}
	}

	return string(code)
}

// ChunkError wraps a failure of one chunk of a multi-batch submission.
type ChunkError struct {
	Index int
	Err   error
}

func (ce ChunkError) Error() string {
	return fmt.Sprintf("chunk %d: %v", ce.Index, ce.Err)
}

func (ce ChunkError) Unwrap() error {
	return ce.Err
}

// CodeOf extracts the code of the first ServiceError in the chain.
func CodeOf(err error) (ErrorCode, bool) {
	for err != nil {
		switch e := err.(type) {
		case ServiceError:
			return e.Code, true
		case *ServiceError:
			return e.Code, true
		}

		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return "", false
		}
		err = u.Unwrap()
	}

	return "", false
}

// IsQuiet reports whether the error is a normal negative outcome that
// should not be surfaced as a failure.
func IsQuiet(err error) bool {
	code, ok := CodeOf(err)
	return ok && code == CodeUserRejected
}
