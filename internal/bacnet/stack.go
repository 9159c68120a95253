package bacnet

// Handle identifies a materialised object inside a Stack.
type Handle struct {
	ID   ObjectID `json:"id"`
	Name string   `json:"name"`
}

// Properties are the optional properties of analog objects. Binary objects
// are created without properties.
type Properties struct {
	Units string `json:"units"`

	// COV requests change-of-value notifications for the object.
	COV bool `json:"cov"`
}

// ObjectSpec describes an object to create.
type ObjectSpec struct {
	Kind        Kind
	Instance    uint32
	Name        string
	Description string
	Value       float64

	// Properties must be nil for binary kinds.
	Properties *Properties
}

// WriteEvent is a write-property notification for a present value.
// Value is whatever the client wrote: a number, or "active"/"inactive"
// for binary objects.
type WriteEvent struct {
	ObjectName string
	Value      any
	ObjectID   uint32
}

// WriteCallback receives write-property notifications. It is invoked
// without any stack lock held.
type WriteCallback func(WriteEvent)

// Stack is the field-protocol collaborator hosting provisioned objects.
type Stack interface {
	// CreateObject materialises a new object.
	CreateObject(spec ObjectSpec) (Handle, error)

	// DeleteObject removes a materialised object.
	DeleteObject(h Handle) error

	// Objects lists every materialised object.
	Objects() []Handle

	// SetPresentValue updates the present value of a materialised object.
	SetPresentValue(h Handle, value float64) error

	// OnWriteProperty registers a callback for present value writes.
	OnWriteProperty(cb WriteCallback)
}
