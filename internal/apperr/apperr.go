// Package apperr defines the tagged error kinds returned at the ledger boundary.
//
// Callers (the Connect service, the REST API, the idempotency replay path)
// branch on the Kind, never on message text:
//
//	KindValidation  business rejection, nothing was written; fix the input and retry
//	KindNotFound    referenced group or entity does not exist
//	KindForbidden   actor is not allowed to act on the group
//	KindConflict    idempotency key reused with a different payload
//	KindProcessing  identical request still in flight; retry later with the same key
//	KindPersistence storage failure, the transaction was rolled back; safe to retry verbatim
//	KindInternal    invariant violation or programming error
package apperr

import (
	"errors"
	"fmt"
)

// Kind classifies an error.
type Kind int

const (
	KindInternal Kind = iota
	KindValidation
	KindNotFound
	KindForbidden
	KindConflict
	KindProcessing
	KindPersistence
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindNotFound:
		return "not_found"
	case KindForbidden:
		return "forbidden"
	case KindConflict:
		return "conflict"
	case KindProcessing:
		return "processing"
	case KindPersistence:
		return "persistence"
	default:
		return "internal"
	}
}

// Error is an error tagged with a Kind.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	switch {
	case e.Msg != "" && e.Err != nil:
		return e.Msg + ": " + e.Err.Error()
	case e.Msg != "":
		return e.Msg
	case e.Err != nil:
		return e.Err.Error()
	default:
		return e.Kind.String()
	}
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches another *Error by kind, so errors.Is(err, apperr.ErrConflict) works.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Msg == "" && t.Err == nil && t.Kind == e.Kind
}

// Kind-only sentinels for errors.Is.
var (
	ErrValidation  = &Error{Kind: KindValidation}
	ErrNotFound    = &Error{Kind: KindNotFound}
	ErrForbidden   = &Error{Kind: KindForbidden}
	ErrConflict    = &Error{Kind: KindConflict}
	ErrProcessing  = &Error{Kind: KindProcessing}
	ErrPersistence = &Error{Kind: KindPersistence}
	ErrInternal    = &Error{Kind: KindInternal}
)

func Validation(format string, args ...any) error {
	return &Error{Kind: KindValidation, Msg: fmt.Sprintf(format, args...)}
}

func NotFound(format string, args ...any) error {
	return &Error{Kind: KindNotFound, Msg: fmt.Sprintf(format, args...)}
}

func Forbidden(format string, args ...any) error {
	return &Error{Kind: KindForbidden, Msg: fmt.Sprintf(format, args...)}
}

func Conflict(format string, args ...any) error {
	return &Error{Kind: KindConflict, Msg: fmt.Sprintf(format, args...)}
}

func Processing(format string, args ...any) error {
	return &Error{Kind: KindProcessing, Msg: fmt.Sprintf(format, args...)}
}

func Internal(format string, args ...any) error {
	return &Error{Kind: KindInternal, Msg: fmt.Sprintf(format, args...)}
}

// Persistence wraps a storage failure. A nil err returns nil.
func Persistence(err error, msg string) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: KindPersistence, Msg: msg, Err: err}
}

// KindOf returns the kind of the first *Error in err's chain.
// Untagged errors are reported as KindInternal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// Tagged reports whether err already carries a kind.
func Tagged(err error) bool {
	var e *Error
	return errors.As(err, &e)
}
