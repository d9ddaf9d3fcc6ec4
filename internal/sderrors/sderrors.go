// Package sderrors implements the storage daemon's closed error taxonomy
// (see spec.md §7): each error kind carries its own recovery policy and
// its own presentation to the director, rather than being distinguished
// by ad hoc string matching.
package sderrors

import (
	"fmt"

	"github.com/juju/errors"
)

// Kind discriminates the taxonomy rows in spec.md §7.
type Kind int

const (
	// KindTransientBusy is EBUSY on a device read/write; retried locally.
	KindTransientBusy Kind = iota
	// KindEndOfMedium is ENOSPC or a short write; transparent to the record loop.
	KindEndOfMedium
	// KindDataIntegrity is a checksum mismatch or bad magic.
	KindDataIntegrity
	// KindLabelMismatch is a volume label differing from the expected one.
	KindLabelMismatch
	// KindPositionDiscrepancy is an OS tape position disagreeing with the catalog.
	KindPositionDiscrepancy
	// KindReservationFailure is no matching device after retries.
	KindReservationFailure
	// KindAuthentication is a peer failing the credential exchange.
	KindAuthentication
	// KindCancellation is an operator/director cancellation.
	KindCancellation
	// KindConfiguration is a missing resource or a capability conflict at startup.
	KindConfiguration
)

func (k Kind) String() string {
	switch k {
	case KindTransientBusy:
		return "transient-busy"
	case KindEndOfMedium:
		return "end-of-medium"
	case KindDataIntegrity:
		return "data-integrity"
	case KindLabelMismatch:
		return "label-mismatch"
	case KindPositionDiscrepancy:
		return "position-discrepancy"
	case KindReservationFailure:
		return "reservation-failure"
	case KindAuthentication:
		return "authentication"
	case KindCancellation:
		return "cancellation"
	case KindConfiguration:
		return "configuration"
	default:
		return "unknown"
	}
}

// Error is a taxonomy-tagged error. It wraps a cause (possibly nil) and
// carries the Kind so callers can branch on recovery policy without
// string-matching messages.
type Error struct {
	Kind  Kind
	msg   string
	cause error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.msg, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.msg)
}

// Unwrap exposes the cause so errors.Is/errors.As keep working through the
// standard library and through github.com/juju/errors alike.
func (e *Error) Unwrap() error { return e.cause }

// New builds a taxonomy error with no cause.
func New(kind Kind, msg string) error {
	return &Error{Kind: kind, msg: msg}
}

// Annotate wraps cause with a taxonomy Kind and a juju/errors annotation,
// used at the propagation boundaries named in spec.md §7 (record engine
// -> session loop, mount engine -> operator escalation).
func Annotate(kind Kind, cause error, msg string) error {
	if cause == nil {
		return New(kind, msg)
	}
	return &Error{Kind: kind, msg: msg, cause: errors.Annotate(cause, msg)}
}

// Annotatef is Annotate with a formatted message.
func Annotatef(kind Kind, cause error, format string, args ...any) error {
	return Annotate(kind, cause, fmt.Sprintf(format, args...))
}

// Is reports whether err (or something it wraps) carries the given Kind.
func Is(err error, kind Kind) bool {
	var e *Error
	for err != nil {
		if as, ok := err.(*Error); ok {
			e = as
			if e.Kind == kind {
				return true
			}
			err = e.cause
			continue
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}

// Fatal reports whether the kind is one the operator cannot fix locally:
// data loss (KindDataIntegrity) or a startup configuration error
// (KindConfiguration) (spec.md §7 propagation policy). KindPositionDiscrepancy
// is never reported as fatal: the kind alone does not say whether writers
// are active.
func Fatal(kind Kind) bool {
	switch kind {
	case KindDataIntegrity, KindConfiguration:
		return true
	default:
		return false
	}
}
