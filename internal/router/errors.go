package router

import (
	"errors"
	"fmt"
)

const (
	CodeUnknownVerb             = "UNKNOWN_VERB"
	CodeCrossSessionNotAllowed  = "CROSS_SESSION_NOT_ALLOWED"
	CodeUnknownExtensionContext = "UNKNOWN_EXTENSION_CONTEXT"
	CodeUnknownExtension        = "UNKNOWN_EXTENSION"
	CodeNoParentWindow          = "NO_PARENT_WINDOW"
	CodeNotImplemented          = "NOT_IMPLEMENTED"
	CodeInvalidAdapterResult    = "INVALID_ADAPTER_RESULT"
	CodeValidation              = "VALIDATION"
	CodeHandlerFailure          = "HANDLER_FAILURE"
)

// CodedError is a typed error used for stable mapping across the transport
// and the admin API.
type CodedError struct {
	Code    string
	Message string
	Cause   error
}

func (e *CodedError) Error() string {
	if e.Cause == nil {
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
}

func (e *CodedError) Unwrap() error { return e.Cause }

// NewError builds a CodedError. Exported because store and extapi raise
// errors from the same taxonomy.
func NewError(code, msg string, cause error) error {
	return &CodedError{Code: code, Message: msg, Cause: cause}
}

// ErrorCode extracts the stable code from err, or empty string if err is
// not a CodedError.
func ErrorCode(err error) string {
	var coded *CodedError
	if errors.As(err, &coded) {
		return coded.Code
	}
	return ""
}
