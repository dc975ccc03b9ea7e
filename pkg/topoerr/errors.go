// Package topoerr declares the failure-kind sentinels used across the
// search engine for two of its three failure kinds: InvalidInput and
// Internal. The third kind, NoSolution, has no sentinel here because
// running out of time is explicitly not an error -- a
// zero-channel graph with a nil error is the correct representation.
package topoerr

import "errors"

var (
	// ErrInvalidInput marks XML referring to an unknown device/rank, or a
	// user topology override contradicting discovery.
	ErrInvalidInput = errors.New("toposearch: invalid input")

	// ErrInternal marks a reverse-link lookup miss on a committed forward
	// charge, a rank-to-GPU lookup miss, or any other condition that
	// indicates a bug rather than an unsatisfiable request. Ledger
	// rollback failures are always Internal and fatal.
	ErrInternal = errors.New("toposearch: internal error")
)
