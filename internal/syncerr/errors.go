// Package syncerr defines the error taxonomy shared by the sync engine.
//
// Every failure the engine observes is classified into one of four codes.
// Callers branch on the code with the Is* predicates, which use errors.As
// and therefore see through wrapping.
package syncerr

import (
	"errors"
	"fmt"
)

// Code categorizes sync errors.
type Code string

const (
	// CodeTransientNetwork covers transport failures and timeouts. Always retried.
	CodeTransientNetwork Code = "TRANSIENT_NETWORK"

	// CodeAuthExpired is a 401 from the remote service.
	CodeAuthExpired Code = "AUTH_EXPIRED"

	// CodeLocalStorage is a failure of the persistence backend.
	CodeLocalStorage Code = "LOCAL_STORAGE"

	// CodeRemoteService is any non-401 4xx or 5xx response.
	CodeRemoteService Code = "REMOTE_SERVICE"
)

// Error is a classified sync failure.
type Error struct {
	// Code identifies the error category.
	Code Code

	// Op names the operation that failed (e.g. "PUT /items/1", "outbox.persist").
	Op string

	// Status is the HTTP status for remote errors, zero otherwise.
	Status int

	// Err is the underlying cause, if any.
	Err error
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := string(e.Code)
	if e.Op != "" {
		msg += ": " + e.Op
	}
	if e.Status != 0 {
		msg += fmt.Sprintf(" (status %d)", e.Status)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// Transient creates a TRANSIENT_NETWORK error.
func Transient(op string, err error) *Error {
	return &Error{Code: CodeTransientNetwork, Op: op, Err: err}
}

// AuthExpired creates an AUTH_EXPIRED error.
func AuthExpired(op string) *Error {
	return &Error{Code: CodeAuthExpired, Op: op, Status: 401}
}

// RemoteService creates a REMOTE_SERVICE error for the given status.
func RemoteService(op string, status int, err error) *Error {
	return &Error{Code: CodeRemoteService, Op: op, Status: status, Err: err}
}

// LocalStorage creates a LOCAL_STORAGE error.
func LocalStorage(op string, err error) *Error {
	return &Error{Code: CodeLocalStorage, Op: op, Err: err}
}

// CodeOf returns the code of the first *Error in err's chain, or "".
func CodeOf(err error) Code {
	var se *Error
	if errors.As(err, &se) {
		return se.Code
	}
	return ""
}

// StatusOf returns the HTTP status carried by err, or 0.
func StatusOf(err error) int {
	var se *Error
	if errors.As(err, &se) {
		return se.Status
	}
	return 0
}

// IsTransient reports whether err is a TRANSIENT_NETWORK error.
func IsTransient(err error) bool {
	return CodeOf(err) == CodeTransientNetwork
}

// IsAuthExpired reports whether err is an AUTH_EXPIRED error.
func IsAuthExpired(err error) bool {
	return CodeOf(err) == CodeAuthExpired
}

// IsLocalStorage reports whether err is a LOCAL_STORAGE error.
func IsLocalStorage(err error) bool {
	return CodeOf(err) == CodeLocalStorage
}

// IsRemoteService reports whether err is a REMOTE_SERVICE error.
func IsRemoteService(err error) bool {
	return CodeOf(err) == CodeRemoteService
}
