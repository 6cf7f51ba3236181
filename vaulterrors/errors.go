// Package vaulterrors provides the shared error taxonomy used across
// cruxvault's components. Error kinds are string-based, mirroring the
// way category errors are classified elsewhere in the codebase, so
// they stay debuggable and trivially serializable.
package vaulterrors

import (
	"errors"
	"fmt"
)

// Kind classifies an error into one of the categories the store and
// engine can raise. CipherError and IOError abort the in-flight
// transaction; NotFound and Conflict surface cleanly for translation
// into CLI exit codes by the (out-of-scope) command layer.
type Kind string

const (
	// Cipher indicates an invalid key length or a decryption/tag failure.
	Cipher Kind = "CIPHER_ERROR"

	// NotFound indicates a path, version, branch, or commit is absent.
	NotFound Kind = "NOT_FOUND"

	// Conflict indicates a branch name collision, a protected-branch
	// delete, or a self-merge attempt.
	Conflict Kind = "CONFLICT"

	// IO indicates an underlying storage or file failure.
	IO Kind = "IO_ERROR"

	// Config is reserved for the external configuration collaborator;
	// nothing in this module produces it.
	Config Kind = "CONFIG_ERROR"
)

// Error wraps an underlying cause with a Kind and a human-readable
// message. It supports errors.Is/errors.As through Unwrap.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap returns the wrapped cause, if any, for error chain traversal.
func (e *Error) Unwrap() error {
	return e.Err
}

// New creates a bare Error of the given kind with no wrapped cause.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Newf creates a bare Error of the given kind with a formatted message.
func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap wraps err with the given kind and message. Returns nil if err is nil.
func Wrap(err error, kind Kind, message string) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Message: message, Err: err}
}

// Wrapf wraps err with the given kind and a formatted message.
func Wrapf(err error, kind Kind, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Err: err}
}

// Is reports whether err (or any error in its chain) is a *Error of
// the given kind.
func Is(err error, kind Kind) bool {
	var ve *Error
	if !errors.As(err, &ve) {
		return false
	}
	return ve.Kind == kind
}
