package repository

import "errors"

var (
	// ErrNotFound indicates the requested record does not exist.
	ErrNotFound = errors.New("repository: not found")
	// ErrAlreadyConsumed indicates a conditional consume lost the race:
	// the row exists but consumed_at was already set.
	ErrAlreadyConsumed = errors.New("repository: already consumed")
)
