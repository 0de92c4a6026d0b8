// Package odataerrors defines the protocol error taxonomy and its mapping to
// HTTP status codes.
package odataerrors

import (
	"errors"
	"fmt"
	"net/http"
)

// Code identifies a protocol error kind on the wire.
type Code string

const (
	NotSpecified Code = "NotSpecified"

	// Request errors recorded while parsing the URI.
	InvalidTopParameter              Code = "InvalidTopParameter"
	NegativeTopParameter             Code = "NegativeTopParameter"
	InvalidSkipParameter             Code = "InvalidSkipParameter"
	NegativeSkipParameter            Code = "NegativeSkipParameter"
	InvalidOrderByParameter          Code = "InvalidOrderByParameter"
	InvalidOrderByDirectionParameter Code = "InvalidOrderByDirectionParameter"
	InvalidInlineCountParameter      Code = "InvalidInlineCountParameter"
	InvalidFormatParameter           Code = "InvalidFormatParameter"
	InvalidFilterParameter           Code = "InvalidFilterParameter"
	InvalidSelectParameter           Code = "InvalidSelectParameter"
	InvalidExpandParameter           Code = "InvalidExpandParameter"
	InvalidMetadataParameter         Code = "InvalidMetadataParameter"
	InvalidID                        Code = "InvalidId"
	InvalidBody                      Code = "InvalidBody"

	ResourceNotFound     Code = "ResourceNotFound"
	OperationNotFound    Code = "OperationNotFound"
	AmbiguousMatch       Code = "AmbiguousMatch"
	SecurityDenied       Code = "SecurityDenied"
	InvalidContentAction Code = "InvalidContentAction"
	IllegalInvoke        Code = "IllegalInvoke"
	ContentAlreadyExists Code = "ContentAlreadyExists"
	MethodNotAllowed     Code = "MethodNotAllowed"
)

// Reason qualifies an InvalidContentAction error.
type Reason string

const (
	ReasonForbidden         Reason = "Forbidden"
	ReasonNotCheckedOut     Reason = "NotCheckedOut"
	ReasonCheckedOutByOther Reason = "CheckedOutByOther"
)

var statusByCode = map[Code]int{
	NotSpecified:                     http.StatusInternalServerError,
	InvalidTopParameter:              http.StatusBadRequest,
	NegativeTopParameter:             http.StatusBadRequest,
	InvalidSkipParameter:             http.StatusBadRequest,
	NegativeSkipParameter:            http.StatusBadRequest,
	InvalidOrderByParameter:          http.StatusBadRequest,
	InvalidOrderByDirectionParameter: http.StatusBadRequest,
	InvalidInlineCountParameter:      http.StatusBadRequest,
	InvalidFormatParameter:           http.StatusBadRequest,
	InvalidFilterParameter:           http.StatusBadRequest,
	InvalidSelectParameter:           http.StatusBadRequest,
	InvalidExpandParameter:           http.StatusBadRequest,
	InvalidMetadataParameter:         http.StatusBadRequest,
	InvalidID:                        http.StatusBadRequest,
	InvalidBody:                      http.StatusBadRequest,
	ResourceNotFound:                 http.StatusNotFound,
	OperationNotFound:                http.StatusNotFound,
	AmbiguousMatch:                   http.StatusInternalServerError,
	SecurityDenied:                   http.StatusForbidden,
	InvalidContentAction:             http.StatusBadRequest,
	IllegalInvoke:                    http.StatusMethodNotAllowed,
	ContentAlreadyExists:             http.StatusConflict,
	MethodNotAllowed:                 http.StatusMethodNotAllowed,
}

// Error is a protocol error carrying a wire code and an optional cause.
type Error struct {
	Code    Code
	Message string
	// Reason is set for InvalidContentAction.
	Reason Reason
	// Candidates lists the signatures involved in an AmbiguousMatch.
	Candidates []string
	Err        error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// StatusCode returns the HTTP status for the error's code.
func (e *Error) StatusCode() int {
	return StatusFor(e.Code)
}

// IsRequestError reports whether the code belongs to the malformed-request family.
func (e *Error) IsRequestError() bool {
	return StatusFor(e.Code) == http.StatusBadRequest && e.Code != InvalidContentAction
}

// StatusFor maps a code to its HTTP status. Unknown codes map to 500.
func StatusFor(code Code) int {
	if status, ok := statusByCode[code]; ok {
		return status
	}
	return http.StatusInternalServerError
}

// New creates an error with a formatted message.
func New(code Code, format string, args ...interface{}) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap creates an error that keeps err as its cause.
func Wrap(code Code, err error, message string) *Error {
	return &Error{Code: code, Message: message, Err: err}
}

// NotFound reports a path or id that does not resolve to content.
func NotFound(target string) *Error {
	return &Error{Code: ResourceNotFound, Message: fmt.Sprintf("Content not found: %s", target)}
}

// Denied reports an authorization failure.
func Denied(format string, args ...interface{}) *Error {
	return &Error{Code: SecurityDenied, Message: fmt.Sprintf(format, args...)}
}

// InvalidAction reports a forbidden or misused content action.
func InvalidAction(reason Reason, action string) *Error {
	return &Error{
		Code:    InvalidContentAction,
		Reason:  reason,
		Message: fmt.Sprintf("Action %q cannot be executed: %s", action, reason),
	}
}

// As extracts an *Error from err.
func As(err error) (*Error, bool) {
	var target *Error
	if errors.As(err, &target) {
		return target, true
	}
	return nil, false
}

// HasCode reports whether err is an *Error with the given code.
func HasCode(err error, code Code) bool {
	e, ok := As(err)
	return ok && e.Code == code
}
