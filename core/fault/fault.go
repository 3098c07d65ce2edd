// Package fault defines the error taxonomy shared by the upload and
// retrieval paths. Every error that can reach a caller carries a Kind;
// the gateway maps kinds to HTTP statuses and response envelopes.
package fault

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies an error for callers.
type Kind string

const (
	KindValidation         Kind = "ValidationError"
	KindFileTooLarge       Kind = "FileTooLarge"
	KindInvalidFormat      Kind = "InvalidFormat"
	KindTooDeep            Kind = "TooDeep"
	KindTooManyFields      Kind = "TooManyFields"
	KindAuthMissing        Kind = "AuthMissing"
	KindAuthInvalid        Kind = "AuthInvalid"
	KindNotFound           Kind = "NotFound"
	KindRateLimited        Kind = "RateLimited"
	KindDecryptionFailed   Kind = "DecryptionFailed"
	KindStorageCorrupt     Kind = "StorageCorrupt"
	KindStorageUnavailable Kind = "StorageUnavailable"
	KindInternal           Kind = "InternalError"
)

// Error is a classified error.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Msg, e.Err)
	}
	return e.Msg
}

func (e *Error) Unwrap() error { return e.Err }

// New constructs a classified error.
func New(kind Kind, msg string) error {
	return &Error{Kind: kind, Msg: msg}
}

// Newf constructs a classified error with a formatted message.
func Newf(kind Kind, format string, args ...any) error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// Wrap attaches a kind and message to an underlying error.
func Wrap(kind Kind, msg string, err error) error {
	return &Error{Kind: kind, Msg: msg, Err: err}
}

// KindOf returns the kind of err, or KindInternal for unclassified errors.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return KindInternal
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// HTTPStatus maps a kind to the HTTP status the gateway responds with.
func HTTPStatus(kind Kind) int {
	switch kind {
	case KindValidation, KindInvalidFormat, KindTooDeep, KindTooManyFields:
		return http.StatusBadRequest
	case KindFileTooLarge:
		return http.StatusRequestEntityTooLarge
	case KindAuthMissing, KindAuthInvalid:
		return http.StatusUnauthorized
	case KindNotFound:
		return http.StatusNotFound
	case KindRateLimited:
		return http.StatusTooManyRequests
	case KindDecryptionFailed, KindStorageCorrupt, KindStorageUnavailable, KindInternal:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}
