package repository

import "errors"

// ErrNotFound is returned when a row is absent or soft-deleted. The service
// layer translates it into the user-facing error taxonomy.
var ErrNotFound = errors.New("not found")

// ErrDuplicate is returned when an insert hits a uniqueness constraint, e.g.
// the same user reacting with the same emoji twice.
var ErrDuplicate = errors.New("duplicate")
