// Package errs defines the error-kind sum type from the core's error
// handling design: every failure surfaced by ingest, retention, or flake
// detection is one of a small number of kinds, each with its own retry
// policy. Callers should classify with OfError(err), not string matching.
package errs

import (
	"context"
	"errors"
	"net"

	"github.com/jackc/pgconn"
)

// Kind identifies which policy applies to a failure.
type Kind int

const (
	// Unknown covers errors that did not originate in this package.
	Unknown Kind = iota
	// TransientDB is a network/connection timeout or serialization/deadlock
	// retry signal from the database. Policy: retry the whole operation with
	// backoff (see internal/dbretry); surface to the caller on exhaustion.
	TransientDB
	// ConstraintViolation is an FK or uniqueness conflict the protocol did
	// not expect. Policy: rollback and surface; indicates an invariant bug.
	ConstraintViolation
	// CorruptPayload is a stored result_spec whose length is not of the
	// form 1+8k. Policy: fatal to the current operation.
	CorruptPayload
	// MemberMismatch is raised by the flake detector when a run's members
	// don't match what's expected under its blueprint_id. Fatal.
	MemberMismatch
	// Cancelled means the caller's context was cancelled. Policy: rollback,
	// do not retry.
	Cancelled
	// ExternalInput is malformed input to InsertTestRun, rejected before a
	// transaction is opened.
	ExternalInput
)

func (k Kind) String() string {
	switch k {
	case TransientDB:
		return "TransientDB"
	case ConstraintViolation:
		return "ConstraintViolation"
	case CorruptPayload:
		return "CorruptPayload"
	case MemberMismatch:
		return "MemberMismatch"
	case Cancelled:
		return "Cancelled"
	case ExternalInput:
		return "ExternalInput"
	default:
		return "Unknown"
	}
}

// kindError associates a Kind with an underlying error, without discarding
// it: errors.Unwrap still reaches the original cause.
type kindError struct {
	kind Kind
	err  error
}

func (e *kindError) Error() string { return e.kind.String() + ": " + e.err.Error() }
func (e *kindError) Unwrap() error { return e.err }

// New wraps err with an explicit Kind.
func New(kind Kind, err error) error {
	if err == nil {
		return nil
	}
	return &kindError{kind: kind, err: err}
}

// OfError returns the Kind attached to err via New, or the result of
// classifying err as a raw database/driver error if it was never explicitly
// tagged.
func OfError(err error) Kind {
	var ke *kindError
	if errors.As(err, &ke) {
		return ke.kind
	}
	return Classify(err)
}

// Classify inspects a raw pgconn/context error and returns the Kind that
// applies to it. It is used at the point an error first surfaces from the
// database driver, before it has been tagged with New.
func Classify(err error) Kind {
	if err == nil {
		return Unknown
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return Cancelled
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "40001", "40P01": // serialization_failure, deadlock_detected
			return TransientDB
		case "23503", "23505": // foreign_key_violation, unique_violation
			return ConstraintViolation
		}
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return TransientDB
	}
	return Unknown
}
