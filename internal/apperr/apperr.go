// Package apperr defines the stable error kinds the engine returns to
// callers. Every rejected operation carries a kind plus a reason string
// suitable for direct display.
package apperr

import "errors"

type Kind int

const (
	// KindNotFound: referenced entity is absent or soft-deleted.
	KindNotFound Kind = iota
	// KindForbidden: authenticated but not authorized for this resource.
	KindForbidden
	// KindConflict: state already satisfies the requested uniqueness
	// (duplicate reaction, duplicate participant, direct-pair limit).
	KindConflict
	// KindValidation: malformed input (empty/oversized content, bad emoji).
	KindValidation
	// KindInvalidOperation: operation not permitted in the entity's current
	// state (edit window elapsed, updating a direct conversation).
	KindInvalidOperation
)

func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "not_found"
	case KindForbidden:
		return "forbidden"
	case KindConflict:
		return "conflict"
	case KindValidation:
		return "validation"
	case KindInvalidOperation:
		return "invalid_operation"
	}
	return "unknown"
}

// Error is the engine's user-facing error: a kind plus display reason.
type Error struct {
	Kind   Kind
	Reason string
}

func (e *Error) Error() string { return e.Reason }

func NotFound(reason string) *Error         { return &Error{Kind: KindNotFound, Reason: reason} }
func Forbidden(reason string) *Error        { return &Error{Kind: KindForbidden, Reason: reason} }
func Conflict(reason string) *Error         { return &Error{Kind: KindConflict, Reason: reason} }
func Validation(reason string) *Error       { return &Error{Kind: KindValidation, Reason: reason} }
func InvalidOperation(reason string) *Error { return &Error{Kind: KindInvalidOperation, Reason: reason} }

// KindOf returns the kind of err and true when err (or anything it wraps)
// is an engine error.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return 0, false
}

func IsNotFound(err error) bool  { k, ok := KindOf(err); return ok && k == KindNotFound }
func IsForbidden(err error) bool { k, ok := KindOf(err); return ok && k == KindForbidden }
func IsConflict(err error) bool  { k, ok := KindOf(err); return ok && k == KindConflict }
func IsValidation(err error) bool {
	k, ok := KindOf(err)
	return ok && k == KindValidation
}
func IsInvalidOperation(err error) bool {
	k, ok := KindOf(err)
	return ok && k == KindInvalidOperation
}
