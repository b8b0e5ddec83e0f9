package ingest

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidInput      = errors.New("invalid input")
	ErrDuplicateDocument = errors.New("duplicate document")
	ErrStorageFailure    = errors.New("storage failure")
	ErrCatalogFailure    = errors.New("catalog failure")
	ErrMatterNotFound    = errors.New("matter not found")
	ErrDocumentNotFound  = errors.New("document not found")
	// ErrIndexInProgress is returned by Reindex while another indexing run holds the document.
	ErrIndexInProgress = errors.New("indexing already in progress")
)

// Code is the machine readable reason reported to clients.
type Code string

const (
	CodeInvalidMIME   Code = "invalid_mime"
	CodeTooLarge      Code = "too_large"
	CodeInvalidInput  Code = "invalid_input"
	CodeDuplicate     Code = "duplicate"
	CodeStorageFailed Code = "storage_failed"
	CodeCatalogFailed Code = "catalog_failed"
	CodeNotFound      Code = "not_found"
)

// Error is returned by Ingest and Reindex. It matches its sentinel and its cause with errors.Is.
type Error struct {
	Code         Code
	Message      string
	ExistingFile string

	kind  error
	cause error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.cause)
	}
	return e.Message
}

func (e *Error) Unwrap() []error {
	errs := make([]error, 0, 2)
	if e.kind != nil {
		errs = append(errs, e.kind)
	}
	if e.cause != nil {
		errs = append(errs, e.cause)
	}
	return errs
}

func invalid(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...), kind: ErrInvalidInput}
}

func duplicate(existing string) *Error {
	return &Error{
		Code:         CodeDuplicate,
		Message:      fmt.Sprintf("this file was already uploaded as %q", existing),
		ExistingFile: existing,
		kind:         ErrDuplicateDocument,
	}
}

func storageFailure(cause error) *Error {
	return &Error{Code: CodeStorageFailed, Message: "failed to store file", kind: ErrStorageFailure, cause: cause}
}

func catalogFailure(cause error) *Error {
	return &Error{Code: CodeCatalogFailed, Message: "failed to record document", kind: ErrCatalogFailure, cause: cause}
}

func notFound(kind error, message string) *Error {
	return &Error{Code: CodeNotFound, Message: message, kind: kind}
}
