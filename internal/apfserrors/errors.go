// Package apfserrors defines the flat, host-agnostic error kinds raised by
// the APFS read-only core. Every package in this module wraps one of these
// sentinels with fmt.Errorf("...: %w", ...) so callers can still use
// errors.Is against the kind while getting a descriptive message.
package apfserrors

import "errors"

var (
	// ErrBadParams is raised when the caller passed invalid arguments, and
	// also when a key-unwrap password turns out to be wrong.
	ErrBadParams = errors.New("apfs: bad parameters")

	// ErrCorruptMetadata is raised when an on-disk invariant fails: bad
	// magic, a Fletcher64 mismatch, an out-of-range checkpoint id, a
	// B-tree area that doesn't fit its block, or an unexpected object/node
	// type combination.
	ErrCorruptMetadata = errors.New("apfs: corrupt metadata")

	// ErrNotFound is raised when a tree lookup, ea lookup, or inode cache
	// lookup has no matching entry.
	ErrNotFound = errors.New("apfs: not found")

	// ErrNotImplemented is raised for GE-mode tree searches, multi-block
	// tree children, snapshot operations, and any mutating call.
	ErrNotImplemented = errors.New("apfs: not implemented")

	// ErrReadOnly is raised by every write-side entry point.
	ErrReadOnly = errors.New("apfs: read-only")

	// ErrInsufficientBuffer is raised when a caller-supplied buffer is too
	// small to hold the result.
	ErrInsufficientBuffer = errors.New("apfs: insufficient buffer")

	// ErrReadFailed is raised when the device returns an error or decrypt
	// produces fewer bytes than requested.
	ErrReadFailed = errors.New("apfs: read failed")

	// ErrFsUnknown is raised when the magic isn't recognized or a required
	// feature bit isn't supported by this build (e.g. big-endian).
	ErrFsUnknown = errors.New("apfs: unrecognized filesystem")

	// ErrNoMemory is raised when an allocation fails in a hot path.
	ErrNoMemory = errors.New("apfs: no memory")
)
