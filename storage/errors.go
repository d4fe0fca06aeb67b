package storage

import "errors"

var (
	ErrNotFound   = errors.New("storage: not found")
	ErrInvalidID  = errors.New("storage: invalid blob id")
	ErrIDMismatch = errors.New("storage: blob id mismatch")
	ErrImmutable  = errors.New("storage: immutable object mismatch")
)

func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }
