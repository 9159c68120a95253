package identity

import "errors"

var (
	// ErrNotFound is returned when a lookup matches no row (or a NULL column).
	ErrNotFound = errors.New("identity: not found")

	// ErrInvalidEUI is returned when a device identifier is not valid hex.
	ErrInvalidEUI = errors.New("identity: invalid device EUI")

	// ErrInvalidDatapointID is returned when a datapoint id cannot be split
	// into EUI, channel and field.
	ErrInvalidDatapointID = errors.New("identity: invalid datapoint id")

	// ErrStore wraps failures of the underlying database.
	ErrStore = errors.New("identity: store failure")
)
