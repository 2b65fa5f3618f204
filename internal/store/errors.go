package store

import "errors"

var (
	// ErrNotFound is returned when a record does not exist.
	ErrNotFound = errors.New("record not found")

	// ErrStale is returned by conditional updates when the stored value no
	// longer matches the expected prior value. The caller lost a race or is
	// acting on a stale read; it must reload before deciding anything.
	ErrStale = errors.New("conditional update matched no row")
)
