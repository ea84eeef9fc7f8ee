package store

import (
	"errors"
	"fmt"
)

// domain errors, returned as is by Gateway.Do and never wrapped into StorageError
var (
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")
	ErrUnauthorized  = errors.New("unauthorized")
	ErrInvalid       = errors.New("invalid request")
)

// error kinds reported to clients
const (
	KindNotFound      = "not_found"
	KindAlreadyExists = "already_exists"
	KindUnauthorized  = "unauthorized"
	KindInvalid       = "invalid"
	KindStorage       = "storage"
)

// StorageError is a connectivity or constraint failure reported by the database driver
type StorageError struct {
	Op  string // gateway name and operation, e.g. "jobs: commit"
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage error, %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// Kind classifies err for client-facing responses. Unknown errors are reported as storage failures.
func Kind(err error) string {
	switch {
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	case errors.Is(err, ErrAlreadyExists):
		return KindAlreadyExists
	case errors.Is(err, ErrUnauthorized):
		return KindUnauthorized
	case errors.Is(err, ErrInvalid):
		return KindInvalid
	default:
		return KindStorage
	}
}

// isDomain reports whether err already carries a domain classification
func isDomain(err error) bool {
	var se *StorageError
	if errors.As(err, &se) {
		return true
	}
	return Kind(err) != KindStorage
}
