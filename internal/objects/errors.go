package objects

import "errors"

var (
	// ErrSnapshot is returned when Reload cannot read the identity store.
	ErrSnapshot = errors.New("objects: snapshot failed")

	// ErrInvalidObject is returned when an object cannot be added.
	ErrInvalidObject = errors.New("objects: invalid object")
)
