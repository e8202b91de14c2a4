// Package errors provides error types and error codes for the object/file
// store. This is a leaf package with no internal dependencies, designed to
// be imported by the acl package, the backend implementations and the store
// itself without causing circular imports.
package errors

import (
	"errors"
	"fmt"
)

// ErrorCode represents the type of error that occurred.
type ErrorCode int

const (
	// ErrNotFound indicates the requested object, file, design document or
	// view does not exist.
	ErrNotFound ErrorCode = iota + 1

	// ErrPermissionDenied indicates an ACL check failed.
	ErrPermissionDenied

	// ErrInvalidID indicates a malformed or reserved id was used in a
	// mutating call.
	ErrInvalidID

	// ErrInvalidParameter indicates a required option was missing or
	// malformed (e.g. chmod without a mode).
	ErrInvalidParameter

	// ErrDBUnavailable indicates the backend connection is not ready or
	// has been closed.
	ErrDBUnavailable

	// ErrParse indicates a stored payload was not valid JSON. Reads treat
	// this as absence after logging; protected-field comparisons treat it
	// as a hard failure.
	ErrParse

	// ErrProtectedField indicates a password mismatch on a non-editable
	// block.
	ErrProtectedField

	// ErrUnsupportedView indicates a view map function did not match any
	// recognized declarative shape.
	ErrUnsupportedView

	// ErrNotSupported indicates the backend does not implement the
	// requested primitive (e.g. server-side scripts on the memory backend).
	ErrNotSupported
)

// String returns a human-readable name for the error code.
func (e ErrorCode) String() string {
	switch e {
	case ErrNotFound:
		return "NotFound"
	case ErrPermissionDenied:
		return "PermissionDenied"
	case ErrInvalidID:
		return "InvalidID"
	case ErrInvalidParameter:
		return "InvalidParameter"
	case ErrDBUnavailable:
		return "DBUnavailable"
	case ErrParse:
		return "ParseError"
	case ErrProtectedField:
		return "ProtectedFieldViolation"
	case ErrUnsupportedView:
		return "UnsupportedView"
	case ErrNotSupported:
		return "NotSupported"
	default:
		return fmt.Sprintf("Unknown(%d)", int(e))
	}
}

// StoreError represents an object/file store error with an error code and
// the id or path it relates to.
type StoreError struct {
	Code    ErrorCode
	Message string
	ID      string
}

// Error implements the error interface.
func (e *StoreError) Error() string {
	if e.ID != "" {
		return fmt.Sprintf("%s: %s (id: %s)", e.Code, e.Message, e.ID)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// NewNotFound creates a NotFound error.
func NewNotFound(id string) *StoreError {
	return &StoreError{Code: ErrNotFound, Message: "not found", ID: id}
}

// NewPermissionDenied creates a PermissionDenied error.
func NewPermissionDenied(id string) *StoreError {
	return &StoreError{Code: ErrPermissionDenied, Message: "permission denied", ID: id}
}

// NewInvalidID creates an InvalidID error.
func NewInvalidID(id string) *StoreError {
	return &StoreError{Code: ErrInvalidID, Message: "invalid id", ID: id}
}

// NewInvalidParameter creates an InvalidParameter error.
func NewInvalidParameter(message string) *StoreError {
	return &StoreError{Code: ErrInvalidParameter, Message: message}
}

// NewDBUnavailable creates a DBUnavailable error.
func NewDBUnavailable() *StoreError {
	return &StoreError{Code: ErrDBUnavailable, Message: "database connection not ready"}
}

// NewParse creates a ParseError for a stored payload.
func NewParse(id string, cause error) *StoreError {
	return &StoreError{Code: ErrParse, Message: fmt.Sprintf("cannot parse stored payload: %v", cause), ID: id}
}

// NewProtectedField creates a ProtectedFieldViolation error.
func NewProtectedField(id string) *StoreError {
	return &StoreError{Code: ErrProtectedField, Message: "invalid password for update of protected fields", ID: id}
}

// NewUnsupportedView creates an UnsupportedView error.
func NewUnsupportedView(detail string) *StoreError {
	return &StoreError{Code: ErrUnsupportedView, Message: fmt.Sprintf("unsupported view: %s", detail)}
}

// NewNotSupported creates a NotSupported error.
func NewNotSupported(op string) *StoreError {
	return &StoreError{Code: ErrNotSupported, Message: fmt.Sprintf("operation not supported: %s", op)}
}

// CodeOf extracts the ErrorCode from an error, or 0 if it is not a
// StoreError.
func CodeOf(err error) ErrorCode {
	var storeErr *StoreError
	if errors.As(err, &storeErr) {
		return storeErr.Code
	}
	return 0
}

// IsNotFound returns true if the error is a NotFound error.
func IsNotFound(err error) bool {
	return CodeOf(err) == ErrNotFound
}

// IsPermissionDenied returns true if the error is a PermissionDenied error.
func IsPermissionDenied(err error) bool {
	return CodeOf(err) == ErrPermissionDenied
}

// IsProtectedField returns true if the error is a ProtectedFieldViolation.
func IsProtectedField(err error) bool {
	return CodeOf(err) == ErrProtectedField
}

// IsDBUnavailable returns true if the error indicates a closed or not yet
// ready backend connection.
func IsDBUnavailable(err error) bool {
	return CodeOf(err) == ErrDBUnavailable
}
