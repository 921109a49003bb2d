package storage

import "errors"

var (
	// ErrNotFound is returned by Get when a key is absent
	ErrNotFound = errors.New("key not found")

	// ErrEmptyKey is returned when an operation is given an empty key
	ErrEmptyKey = errors.New("empty key")
)
