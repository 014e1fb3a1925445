package rgssad

import "errors"

// Sentinel errors.
var (
	// ErrInvalidHeader is returned when the first eight bytes of an archive
	// do not carry the RGSSAD magic.
	ErrInvalidHeader = errors.New("rgssad: invalid archive header")

	// ErrUnsupportedVersion is returned when the header's version byte is
	// not 1, 2, or 3.
	ErrUnsupportedVersion = errors.New("rgssad: unsupported archive version")

	// ErrFormat is returned when an archive's record data is structurally
	// invalid: a truncated record, a non-UTF-8 path, or offset arithmetic
	// that escapes the archive's bounds.
	ErrFormat = errors.New("rgssad: malformed archive")

	// ErrNotSupported is returned by operations the archive format cannot
	// express, such as renaming or deleting an entry.
	ErrNotSupported = errors.New("rgssad: operation not supported")
)
