package apperr

import (
	"context"
	"errors"
	"net"
	"net/http"
)

// Kind is the coarse category of a failure.
type Kind int

// Error kinds.
const (
	KindUnknown Kind = iota
	KindConflict
	KindInvalidTransition
	KindNotFound
	KindTransient
	KindValidation
	KindForbidden
)

func (k Kind) String() string {
	switch k {
	case KindConflict:
		return "conflict"
	case KindInvalidTransition:
		return "invalid_transition"
	case KindNotFound:
		return "not_found"
	case KindTransient:
		return "transient"
	case KindValidation:
		return "validation"
	case KindForbidden:
		return "forbidden"
	}
	return "unknown"
}

// Wire codes returned by the backend.
const (
	CodeAlreadyAssigned   = "already_assigned"
	CodeNotReady          = "not_ready"
	CodeNotEligible       = "not_eligible"
	CodeNotFound          = "not_found"
	CodeCannotCancel      = "cannot_cancel"
	CodeInvalidTransition = "invalid_transition"
	CodeAlreadyResolved   = "already_resolved"
	CodeReasonRequired    = "reason_required"
	CodeForbidden         = "forbidden"
	CodeConflict          = "conflict"
	CodeBadRequest        = "bad_request"
	CodeUnavailable       = "unavailable"
)

// Error carries a kind, a wire code and a retry hint.
type Error struct {
	Kind      Kind
	Code      string
	Message   string
	Retryable bool
	Err       error
}

func (e *Error) Error() string {
	if e.Err != nil && e.Message == "" {
		return e.Err.Error()
	}
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches errors of the same kind and code, so sentinels compare with errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind && e.Code == t.Code
}

// New creates an error for a wire code.
func New(code, message string) *Error {
	kind := KindForCode(code)
	return &Error{Kind: kind, Code: code, Message: message, Retryable: kind == KindTransient}
}

// Wrap attaches kind information to err.
func Wrap(kind Kind, code string, err error) *Error {
	return &Error{Kind: kind, Code: code, Err: err, Retryable: kind == KindTransient}
}

// KindForCode maps backend codes onto kinds.
func KindForCode(code string) Kind {
	switch code {
	case CodeAlreadyAssigned, CodeConflict, CodeAlreadyResolved:
		return KindConflict
	case CodeNotReady, CodeNotEligible, CodeInvalidTransition, CodeCannotCancel:
		return KindInvalidTransition
	case CodeNotFound:
		return KindNotFound
	case CodeReasonRequired, CodeBadRequest:
		return KindValidation
	case CodeForbidden:
		return KindForbidden
	case CodeUnavailable:
		return KindTransient
	}
	return KindUnknown
}

// KindForStatus is the fallback when a response carries no code.
func KindForStatus(status int) Kind {
	switch {
	case status == http.StatusConflict:
		return KindConflict
	case status == http.StatusNotFound:
		return KindNotFound
	case status == http.StatusUnprocessableEntity:
		return KindInvalidTransition
	case status == http.StatusForbidden || status == http.StatusUnauthorized:
		return KindForbidden
	case status == http.StatusBadRequest:
		return KindValidation
	case status == http.StatusTooManyRequests || status >= 500:
		return KindTransient
	}
	return KindUnknown
}

// StatusFor returns the HTTP status used to report a kind.
func StatusFor(kind Kind) int {
	switch kind {
	case KindConflict:
		return http.StatusConflict
	case KindInvalidTransition:
		return http.StatusUnprocessableEntity
	case KindNotFound:
		return http.StatusNotFound
	case KindValidation:
		return http.StatusBadRequest
	case KindForbidden:
		return http.StatusForbidden
	case KindTransient:
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

// KindOf classifies any error.
func KindOf(err error) Kind {
	if err == nil {
		return KindUnknown
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTransient
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return KindTransient
	}
	return KindUnknown
}

// CodeOf returns the wire code of err, if any.
func CodeOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// Is reports whether err is of the given kind.
func Is(err error, kind Kind) bool { return err != nil && KindOf(err) == kind }

// Retryable reports whether offering a retry makes sense. Only transient
// failures are retryable and retries are always user triggered.
func Retryable(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Retryable || e.Kind == KindTransient
	}
	return KindOf(err) == KindTransient
}

var codeMessages = map[string]string{
	CodeAlreadyAssigned:   "Another shipper already took this order.",
	CodeNotReady:          "The order is not ready for pickup yet.",
	CodeNotEligible:       "You cannot take this order.",
	CodeNotFound:          "The order no longer exists.",
	CodeCannotCancel:      "The order can no longer be canceled directly. Send a cancellation request instead.",
	CodeInvalidTransition: "This status change is not allowed right now.",
	CodeAlreadyResolved:   "This request was already resolved.",
	CodeReasonRequired:    "Please provide a reason.",
	CodeForbidden:         "You are not allowed to do that.",
	CodeConflict:          "The order changed in the meantime.",
}

// UserMessage returns a short human readable message for err.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}
	if msg, ok := codeMessages[CodeOf(err)]; ok {
		return msg
	}
	switch KindOf(err) {
	case KindTransient:
		return "Network problem. Please try again."
	case KindNotFound:
		return codeMessages[CodeNotFound]
	case KindConflict:
		return codeMessages[CodeConflict]
	case KindInvalidTransition:
		return codeMessages[CodeInvalidTransition]
	case KindValidation:
		return "Some of the data is invalid."
	case KindForbidden:
		return codeMessages[CodeForbidden]
	}
	return "Something went wrong."
}
