package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"strings"
)

// Kind classifies pipeline failures. Workflow and validation kinds are returned to the
// caller synchronously; adapter and delivery kinds are retried by their owning queue.
type Kind string

const (
	KindInvalidTransition  Kind = "INVALID_TRANSITION"
	KindApprovalNotPending Kind = "APPROVAL_NOT_PENDING"
	KindNotApproved        Kind = "NOT_APPROVED"
	KindPastSchedule       Kind = "PAST_SCHEDULE"
	KindValidation         Kind = "VALIDATION_ERROR"
	KindAdapter            Kind = "ADAPTER_ERROR"
	KindTimeout            Kind = "TIMEOUT"
	KindDeliveryFailure    Kind = "DELIVERY_FAILURE"
	KindNotFound           Kind = "NOT_FOUND"
)

// FieldError is a field-level validation problem.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

type Error struct {
	Kind    Kind
	Message string
	Fields  []FieldError
	Err     error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = strings.ToLower(strings.ReplaceAll(string(e.Kind), "_", " "))
	}
	if len(e.Fields) > 0 {
		parts := make([]string, 0, len(e.Fields))
		for _, f := range e.Fields {
			parts = append(parts, f.Field+": "+f.Message)
		}
		msg += " (" + strings.Join(parts, "; ") + ")"
	}
	if e.Err != nil {
		return msg + ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches on kind so callers can write errors.Is(err, errors.ErrInvalidTransition).
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// Retryable reports whether the failure should be retried by a queue.
func (e *Error) Retryable() bool {
	return e.Kind == KindAdapter || e.Kind == KindTimeout || e.Kind == KindDeliveryFailure
}

var (
	ErrInvalidTransition  = &Error{Kind: KindInvalidTransition}
	ErrApprovalNotPending = &Error{Kind: KindApprovalNotPending}
	ErrNotApproved        = &Error{Kind: KindNotApproved}
	ErrPastSchedule       = &Error{Kind: KindPastSchedule}
	ErrValidation         = &Error{Kind: KindValidation}
	ErrAdapter            = &Error{Kind: KindAdapter}
	ErrTimeout            = &Error{Kind: KindTimeout}
	ErrDeliveryFailure    = &Error{Kind: KindDeliveryFailure}
	ErrNotFound           = &Error{Kind: KindNotFound}
)

func New(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

func Wrap(kind Kind, err error, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Err: err}
}

func InvalidTransition(from, to string) *Error {
	return New(KindInvalidTransition, "cannot move post from %s to %s", from, to)
}

func Validation(fields []FieldError) *Error {
	return &Error{Kind: KindValidation, Message: "validation failed", Fields: fields}
}

func NotFound(entity, id string) *Error {
	return New(KindNotFound, "%s %s not found", entity, id)
}

// KindOf returns the kind of the first *Error in the chain, or "" for foreign errors.
func KindOf(err error) Kind {
	var e *Error
	if stderrors.As(err, &e) {
		return e.Kind
	}
	return ""
}

func FieldsOf(err error) []FieldError {
	var e *Error
	if stderrors.As(err, &e) {
		return e.Fields
	}
	return nil
}

// IsRetryable treats unknown errors from external calls as transient.
func IsRetryable(err error) bool {
	var e *Error
	if stderrors.As(err, &e) {
		return e.Retryable()
	}
	return true
}

func HTTPStatus(kind Kind) int {
	switch kind {
	case KindInvalidTransition, KindApprovalNotPending, KindNotApproved:
		return http.StatusConflict
	case KindPastSchedule, KindValidation:
		return http.StatusUnprocessableEntity
	case KindNotFound:
		return http.StatusNotFound
	case KindAdapter, KindTimeout, KindDeliveryFailure:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
