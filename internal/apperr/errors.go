// Package apperr holds the closed set of domain error kinds and their
// translation to HTTP responses at the handler boundary.
package apperr

import (
	"errors"
	"fmt"
	"net/http"

	log "github.com/sirupsen/logrus"

	"github.com/2beens/blogsrv/pkg"
)

type Kind int

const (
	KindStore Kind = iota
	KindValidation
	KindDuplicateIdentity
	KindInvalidCredentials
	KindUnauthorized
	KindForbidden
	KindNotFound
	KindUploadRejected
	KindFileTooLarge
	KindNoActiveSession
)

func (k Kind) String() string {
	switch k {
	case KindStore:
		return "StoreError"
	case KindValidation:
		return "ValidationError"
	case KindDuplicateIdentity:
		return "DuplicateIdentity"
	case KindInvalidCredentials:
		return "InvalidCredentials"
	case KindUnauthorized:
		return "Unauthorized"
	case KindForbidden:
		return "Forbidden"
	case KindNotFound:
		return "NotFound"
	case KindUploadRejected:
		return "UploadRejected"
	case KindFileTooLarge:
		return "FileTooLarge"
	case KindNoActiveSession:
		return "NoActiveSession"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %s", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is makes errors.Is(err, &Error{Kind: k}) match on kind only.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Message == "" && t.Err == nil && t.Kind == e.Kind
}

func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

func Wrap(kind Kind, err error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Err: err}
}

func Validation(format string, args ...any) *Error {
	return New(KindValidation, format, args...)
}

func NotFound(format string, args ...any) *Error {
	return New(KindNotFound, format, args...)
}

func Store(err error, format string, args ...any) *Error {
	return Wrap(KindStore, err, format, args...)
}

var (
	ErrUnauthorized       = New(KindUnauthorized, "please log in")
	ErrForbidden          = New(KindForbidden, "you are not allowed to modify this resource")
	ErrInvalidCredentials = New(KindInvalidCredentials, "invalid credentials")
	ErrNoActiveSession    = New(KindNoActiveSession, "no active session")
)

// KindOf reports the kind of err. Anything outside the taxonomy is a store failure.
func KindOf(err error) Kind {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Kind
	}
	return KindStore
}

func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

func HTTPStatus(kind Kind) int {
	switch kind {
	case KindValidation, KindUploadRejected, KindFileTooLarge:
		return http.StatusBadRequest
	case KindDuplicateIdentity:
		return http.StatusConflict
	case KindInvalidCredentials, KindUnauthorized, KindNoActiveSession:
		return http.StatusUnauthorized
	case KindForbidden:
		return http.StatusForbidden
	case KindNotFound:
		return http.StatusNotFound
	case KindStore:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

type ErrorResponse struct {
	Message string `json:"message"`
	Error   string `json:"error"`
}

// WriteHTTP converts err into a JSON error body. Store errors are logged and
// answered with an opaque message.
func WriteHTTP(w http.ResponseWriter, message string, err error) {
	kind := KindOf(err)
	resp := ErrorResponse{
		Message: message,
		Error:   kind.String(),
	}

	var appErr *Error
	if kind == KindStore {
		log.Errorf("%s: %s", message, err)
		resp.Error = "internal server error"
	} else if errors.As(err, &appErr) {
		resp.Error = appErr.Message
	}

	pkg.WriteJSON(w, HTTPStatus(kind), resp)
}
