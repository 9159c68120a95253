package bacnet

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
)

// DeviceInfo is the identity of the local BACnet device.
type DeviceInfo struct {
	Instance    uint32 `json:"instance"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Vendor      string `json:"vendor"`
	Model       string `json:"model"`
	Firmware    string `json:"firmware"`
	Address     string `json:"address"`
}

// ObjectState is a read-only view of a materialised object.
type ObjectState struct {
	Handle
	Description  string      `json:"description"`
	PresentValue any         `json:"present_value"`
	Properties   *Properties `json:"properties,omitempty"`
}

type localObject struct {
	spec  ObjectSpec
	value float64
}

// LocalDevice is an in-process object database implementing Stack.
//
// Thread Safety: All methods are safe for concurrent use.
type LocalDevice struct {
	info DeviceInfo

	mu      sync.RWMutex
	objects map[uint32]*localObject
	names   map[string]uint32

	cbMu      sync.RWMutex
	callbacks []WriteCallback
}

// NewLocalDevice creates an empty device with the given identity.
func NewLocalDevice(info DeviceInfo) *LocalDevice {
	return &LocalDevice{
		info:    info,
		objects: make(map[uint32]*localObject),
		names:   make(map[string]uint32),
	}
}

// Info returns the device identity.
func (d *LocalDevice) Info() DeviceInfo {
	return d.info
}

// CreateObject implements Stack. Instance numbers are unique across kinds.
func (d *LocalDevice) CreateObject(spec ObjectSpec) (Handle, error) {
	id := ObjectID{Kind: spec.Kind, Instance: spec.Instance}
	if _, err := id.Encode(); err != nil {
		return Handle{}, err
	}
	if _, ok := kindNames[spec.Kind]; !ok {
		return Handle{}, fmt.Errorf("%w: %d", ErrUnknownKind, spec.Kind)
	}
	if spec.Kind.IsBinary() && spec.Properties != nil {
		return Handle{}, fmt.Errorf("%w: %s takes no properties", ErrInvalidProperties, spec.Kind)
	}
	if spec.Name == "" {
		return Handle{}, fmt.Errorf("%w: empty name", ErrInvalidObjectID)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if _, exists := d.objects[spec.Instance]; exists {
		return Handle{}, fmt.Errorf("%w: %d", ErrDuplicateInstance, spec.Instance)
	}
	if _, exists := d.names[spec.Name]; exists {
		return Handle{}, fmt.Errorf("%w: %q", ErrDuplicateName, spec.Name)
	}

	value := spec.Value
	if spec.Kind.IsBinary() && value != 0 {
		value = 1
	}
	d.objects[spec.Instance] = &localObject{spec: spec, value: value}
	d.names[spec.Name] = spec.Instance

	return Handle{ID: id, Name: spec.Name}, nil
}

// DeleteObject implements Stack.
func (d *LocalDevice) DeleteObject(h Handle) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	obj, ok := d.objects[h.ID.Instance]
	if !ok || obj.spec.Name != h.Name {
		return fmt.Errorf("%w: %s", ErrObjectNotFound, h.ID)
	}
	delete(d.objects, h.ID.Instance)
	delete(d.names, h.Name)
	return nil
}

// Objects implements Stack. Handles are ordered by instance.
func (d *LocalDevice) Objects() []Handle {
	d.mu.RLock()
	defer d.mu.RUnlock()

	handles := make([]Handle, 0, len(d.objects))
	for instance, obj := range d.objects {
		handles = append(handles, Handle{
			ID:   ObjectID{Kind: obj.spec.Kind, Instance: instance},
			Name: obj.spec.Name,
		})
	}
	sort.Slice(handles, func(i, j int) bool {
		return handles[i].ID.Instance < handles[j].ID.Instance
	})
	return handles
}

// SetPresentValue implements Stack. It does not raise write notifications.
func (d *LocalDevice) SetPresentValue(h Handle, value float64) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	obj, ok := d.objects[h.ID.Instance]
	if !ok || obj.spec.Name != h.Name {
		return fmt.Errorf("%w: %s", ErrObjectNotFound, h.ID)
	}
	if obj.spec.Kind.IsBinary() && value != 0 {
		value = 1
	}
	obj.value = value
	return nil
}

// OnWriteProperty implements Stack.
func (d *LocalDevice) OnWriteProperty(cb WriteCallback) {
	if cb == nil {
		return
	}
	d.cbMu.Lock()
	d.callbacks = append(d.callbacks, cb)
	d.cbMu.Unlock()
}

// WriteProperty applies a client write to the present value of an object
// and notifies the registered callbacks with the value as written.
//
// Parameters:
//   - instance: Object instance number
//   - value: float64, int, bool, numeric string, or "active"/"inactive"
//
// Returns:
//   - error: ErrObjectNotFound, ErrNotWritable or ErrInvalidValue
func (d *LocalDevice) WriteProperty(instance uint32, value any) error {
	d.mu.Lock()
	obj, ok := d.objects[instance]
	if !ok {
		d.mu.Unlock()
		return fmt.Errorf("%w: instance %d", ErrObjectNotFound, instance)
	}
	if !obj.spec.Kind.Writable() {
		d.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrNotWritable, obj.spec.Name)
	}
	numeric, err := presentValueNumber(value)
	if err != nil {
		d.mu.Unlock()
		return err
	}
	if obj.spec.Kind.IsBinary() && numeric != 0 {
		numeric = 1
	}
	obj.value = numeric
	name := obj.spec.Name
	d.mu.Unlock()

	d.cbMu.RLock()
	callbacks := append([]WriteCallback(nil), d.callbacks...)
	d.cbMu.RUnlock()

	event := WriteEvent{ObjectName: name, Value: value, ObjectID: instance}
	for _, cb := range callbacks {
		cb(event)
	}
	return nil
}

// Describe returns the current state of an object by instance.
func (d *LocalDevice) Describe(instance uint32) (ObjectState, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	obj, ok := d.objects[instance]
	if !ok {
		return ObjectState{}, false
	}
	state := ObjectState{
		Handle: Handle{
			ID:   ObjectID{Kind: obj.spec.Kind, Instance: instance},
			Name: obj.spec.Name,
		},
		Description:  obj.spec.Description,
		PresentValue: obj.value,
	}
	if obj.spec.Kind.IsBinary() {
		state.PresentValue = BinaryText(obj.value)
	}
	if obj.spec.Properties != nil {
		props := *obj.spec.Properties
		state.Properties = &props
	}
	return state, true
}

// presentValueNumber interprets a written value.
func presentValueNumber(v any) (float64, error) {
	switch val := v.(type) {
	case float64:
		return val, nil
	case float32:
		return float64(val), nil
	case int:
		return float64(val), nil
	case int64:
		return float64(val), nil
	case uint32:
		return float64(val), nil
	case bool:
		if val {
			return 1, nil
		}
		return 0, nil
	case string:
		switch strings.ToLower(strings.TrimSpace(val)) {
		case Active:
			return 1, nil
		case Inactive:
			return 0, nil
		}
		f, err := strconv.ParseFloat(strings.TrimSpace(val), 64)
		if err != nil {
			return 0, fmt.Errorf("%w: %q", ErrInvalidValue, val)
		}
		return f, nil
	default:
		return 0, fmt.Errorf("%w: %T", ErrInvalidValue, v)
	}
}
