// Package skerr provides error wrapping that preserves a stack trace at the
// point the error first crossed a package boundary. Use Wrap/Wrapf at the
// edge of a package; do not wrap the same error more than once.
package skerr

import (
	"fmt"

	"github.com/pkg/errors"
)

// Wrap annotates err with a stack trace at the call site. It returns nil if
// err is nil, so callers can write `return skerr.Wrap(err)` unconditionally.
func Wrap(err error) error {
	if err == nil {
		return nil
	}
	return errors.WithStack(err)
}

// Wrapf annotates err with a stack trace and a formatted message.
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return errors.WithStack(errors.Wrapf(err, format, args...))
}

// Fmt creates a new error with a stack trace, formatted like fmt.Errorf.
func Fmt(format string, args ...interface{}) error {
	return errors.WithStack(fmt.Errorf(format, args...))
}

// Unwrap returns the result of calling the Unwrap method on err, if any.
func Unwrap(err error) error {
	return errors.Unwrap(err)
}
