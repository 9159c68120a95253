package bacnet

import "errors"

var (
	// ErrUnknownKind is returned when an object kind name cannot be resolved.
	ErrUnknownKind = errors.New("bacnet: unknown object kind")

	// ErrInvalidObjectID is returned when an instance or type does not fit
	// the 32-bit object identifier encoding.
	ErrInvalidObjectID = errors.New("bacnet: invalid object identifier")

	// ErrDuplicateInstance is returned when an object with the same instance
	// number already exists.
	ErrDuplicateInstance = errors.New("bacnet: duplicate object instance")

	// ErrDuplicateName is returned when an object with the same name already exists.
	ErrDuplicateName = errors.New("bacnet: duplicate object name")

	// ErrObjectNotFound is returned when a handle or id does not match any object.
	ErrObjectNotFound = errors.New("bacnet: object not found")

	// ErrNotWritable is returned when a write targets an input object.
	ErrNotWritable = errors.New("bacnet: present value not writable")

	// ErrInvalidProperties is returned when properties are given for a kind
	// that does not take them.
	ErrInvalidProperties = errors.New("bacnet: invalid object properties")

	// ErrInvalidValue is returned when a written value cannot be interpreted.
	ErrInvalidValue = errors.New("bacnet: invalid present value")
)
