package qf

import "github.com/zeebo/errs"

var (
	// Error is the class of errors reporting a broken filter.
	Error = errs.Class("qf")

	// ErrFull is returned when an insert finds no room. The caller should
	// resize or drop the value.
	ErrFull = errs.Class("filter full")

	// ErrNotFound is returned when removing a fingerprint that is not
	// stored.
	ErrNotFound = errs.Class("not found")

	// ErrInvalidSize is returned for quotient, width, or buffer sizes the
	// filter cannot be built with.
	ErrInvalidSize = errs.Class("invalid size")

	// ErrIncompatibleWidth is returned when merging filters built for
	// different fingerprint widths.
	ErrIncompatibleWidth = errs.Class("incompatible width")
)
