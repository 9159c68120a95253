package codec

import "errors"

var (
	// ErrScriptNotFound is returned when neither the named nor the default
	// script exists.
	ErrScriptNotFound = errors.New("codec: script not found")

	// ErrScriptFailed is returned when a script fails to load or run.
	ErrScriptFailed = errors.New("codec: script failed")

	// ErrDecode is returned when a decoder result has an unexpected shape.
	ErrDecode = errors.New("codec: malformed decoder result")

	// ErrEncode is returned when a value cannot be encoded for a channel.
	ErrEncode = errors.New("codec: encode failed")

	// ErrFetch is returned when a device script cannot be fetched.
	ErrFetch = errors.New("codec: profile fetch failed")

	// ErrTimeout is returned when script evaluation exceeds its deadline.
	ErrTimeout = errors.New("codec: evaluation timed out")
)
