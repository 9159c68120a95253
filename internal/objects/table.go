package objects

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/lw2bacnet/bridge/internal/bacnet"
	"github.com/lw2bacnet/bridge/internal/datatype"
	"github.com/lw2bacnet/bridge/internal/identity"
)

// Object is a provisioned BACnet object.
type Object struct {
	ID          uint32               `json:"id"`
	Kind        bacnet.Kind          `json:"kind"`
	Name        string               `json:"name"`
	Description string               `json:"description"`
	Units       string               `json:"units"`
	COV         bool                 `json:"cov"`
	Value       float64              `json:"value"`
	Datapoint   identity.DatapointID `json:"datapoint"`
	Live        bool                 `json:"live"`
}

// Spec returns the stack creation spec for the object.
func (o Object) Spec() bacnet.ObjectSpec {
	spec := bacnet.ObjectSpec{
		Kind:        o.Kind,
		Instance:    o.ID,
		Name:        o.Name,
		Description: o.Description,
		Value:       o.Value,
	}
	if !o.Kind.IsBinary() {
		spec.Properties = &bacnet.Properties{Units: o.Units, COV: o.COV}
	}
	return spec
}

// NewObject builds the object for a datapoint.
//
// Parameters:
//   - dp: Stored datapoint
//   - device: Display name of the owning device
//   - dt: Datatype registered for the datapoint's type tag
func NewObject(dp identity.Datapoint, device string, dt datatype.Datatype) Object {
	units := dp.Units
	if units == "" {
		units = dt.Units
	}
	cov := dt.COV
	if dp.COV != nil {
		cov = *dp.COV
	}
	return Object{
		ID:          dp.ObjectID,
		Kind:        dt.Object,
		Name:        DisplayName(device, dp.Name),
		Description: string(dp.ID),
		Units:       units,
		COV:         cov,
		Value:       dp.Value,
		Datapoint:   dp.ID,
	}
}

// DisplayName is the BACnet object name of a datapoint.
func DisplayName(device, datapoint string) string {
	return device + ":" + datapoint
}

// Snapshotter supplies the identity store rows a reload is built from.
type Snapshotter interface {
	Snapshot(ctx context.Context) ([]identity.SnapshotRow, error)
}

// Logger is the logging interface used by the table.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// Options configures a Table.
type Options struct {
	Stack     bacnet.Stack
	Store     Snapshotter
	Datatypes *datatype.Registry
	Logger    Logger
}

// Table is the in-memory mirror of provisioned objects.
type Table struct {
	stack bacnet.Stack
	store Snapshotter
	types *datatype.Registry

	mu           sync.RWMutex
	objects      map[uint32]*Object
	byDatapoint  map[identity.DatapointID]uint32
	materialised map[uint32]bacnet.Handle

	reloads    atomic.Uint64
	lastReload atomic.Int64

	logger   Logger
	loggerMu sync.RWMutex
}

// NewTable creates an empty table. Call Reload to populate it.
func NewTable(opts Options) *Table {
	return &Table{
		stack:        opts.Stack,
		store:        opts.Store,
		types:        opts.Datatypes,
		objects:      make(map[uint32]*Object),
		byDatapoint:  make(map[identity.DatapointID]uint32),
		materialised: make(map[uint32]bacnet.Handle),
		logger:       opts.Logger,
	}
}

// SetLogger sets the logger.
func (t *Table) SetLogger(logger Logger) {
	t.loggerMu.Lock()
	t.logger = logger
	t.loggerMu.Unlock()
}

// AddOrReplace puts an object into the table, replacing any object with the
// same id or datapoint. The object is materialised by the next Reload.
func (t *Table) AddOrReplace(obj Object) error {
	if obj.ID == 0 || obj.ID > bacnet.MaxInstance {
		return fmt.Errorf("%w: instance %d", ErrInvalidObject, obj.ID)
	}
	if obj.Datapoint == "" {
		return fmt.Errorf("%w: no datapoint for instance %d", ErrInvalidObject, obj.ID)
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	t.addLocked(obj)
	return nil
}

func (t *Table) addLocked(obj Object) {
	if prev, ok := t.byDatapoint[obj.Datapoint]; ok && prev != obj.ID {
		delete(t.objects, prev)
	}
	if old, ok := t.objects[obj.ID]; ok && old.Datapoint != obj.Datapoint {
		delete(t.byDatapoint, old.Datapoint)
	}
	_, obj.Live = t.materialised[obj.ID]
	stored := obj
	t.objects[obj.ID] = &stored
	t.byDatapoint[obj.Datapoint] = obj.ID
}

// ClearAll empties the table. Materialised objects stay in the stack until
// the next Reload unloads them.
func (t *Table) ClearAll() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.clearLocked()
}

func (t *Table) clearLocked() {
	t.objects = make(map[uint32]*Object)
	t.byDatapoint = make(map[identity.DatapointID]uint32)
}

// UpdateValue pushes a new value into the object of a datapoint.
//
// Returns:
//   - bool: false if the datapoint has no materialised object; a table entry
//     still waiting for a Reload gets the value but reports false
//   - error: stack failure updating a materialised object; the table value
//     is updated regardless
func (t *Table) UpdateValue(id identity.DatapointID, value float64) (bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	objectID, ok := t.byDatapoint[id]
	if !ok {
		return false, nil
	}
	obj := t.objects[objectID]
	obj.Value = value

	h, live := t.materialised[objectID]
	if !live {
		return false, nil
	}
	if err := t.stack.SetPresentValue(h, value); err != nil {
		return true, fmt.Errorf("set present value of %s: %w", h.Name, err)
	}
	return true, nil
}

// Lookup returns the object with the given id.
func (t *Table) Lookup(id uint32) (Object, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	obj, ok := t.objects[id]
	if !ok {
		return Object{}, false
	}
	return *obj, true
}

// LookupDatapoint returns the object of a datapoint.
func (t *Table) LookupDatapoint(id identity.DatapointID) (Object, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	objectID, ok := t.byDatapoint[id]
	if !ok {
		return Object{}, false
	}
	return *t.objects[objectID], true
}

// List returns every object ordered by id.
func (t *Table) List() []Object {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]Object, 0, len(t.objects))
	for _, obj := range t.objects {
		out = append(out, *obj)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Len returns the number of objects in the table.
func (t *Table) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.objects)
}

// Reload rebuilds the table from an identity store snapshot and replaces
// the stack's object set with it.
//
// The snapshot is taken under the write lock so concurrent reloads apply in
// the order they read the store. A snapshot failure leaves the table and the
// stack untouched. Objects that cannot be built or created are logged and
// skipped.
func (t *Table) Reload(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	rows, err := t.store.Snapshot(ctx)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrSnapshot, err)
	}

	t.clearLocked()

	owners := make(map[string]string)
	skipped := 0
	for _, row := range rows {
		device := deviceDisplayName(owners, row)

		dt, ok := t.types.Lookup(row.Type)
		if !ok {
			t.logWarn("missing type, object skipped", "datapoint", row.ID, "type", row.Type)
			skipped++
			continue
		}
		t.addLocked(NewObject(row.Datapoint, device, dt))
	}

	t.handoffLocked()

	t.reloads.Add(1)
	t.lastReload.Store(time.Now().UnixMilli())
	t.logInfo("objects reloaded",
		"rows", len(rows),
		"objects", len(t.objects),
		"materialised", len(t.materialised),
		"skipped", skipped)
	return nil
}

// deviceDisplayName resolves the name a device's objects are prefixed with:
// its configured name, or its EUI when unnamed or when an earlier device in
// the snapshot already claimed the name.
func deviceDisplayName(owners map[string]string, row identity.SnapshotRow) string {
	eui := row.EUI.String()
	name := row.DeviceName
	if name == "" {
		return eui
	}
	if owner, taken := owners[name]; taken && owner != eui {
		return eui
	}
	owners[name] = eui
	return name
}

// handoffLocked unloads every object the stack holds, then materialises the
// table. Caller must hold t.mu.
func (t *Table) handoffLocked() {
	for _, h := range t.stack.Objects() {
		if err := t.stack.DeleteObject(h); err != nil {
			t.logWarn("failed to unload object", "object", h.Name, "error", err)
		}
	}
	t.materialised = make(map[uint32]bacnet.Handle, len(t.objects))

	ids := make([]uint32, 0, len(t.objects))
	for id := range t.objects {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	for _, id := range ids {
		obj := t.objects[id]
		h, err := t.stack.CreateObject(obj.Spec())
		if err != nil {
			t.logWarn("failed to create object", "object", obj.Name, "instance", id, "error", err)
			obj.Live = false
			continue
		}
		t.materialised[id] = h
		obj.Live = true
	}
}

// Stats reports reload activity.
type Stats struct {
	Objects      int       `json:"objects"`
	Materialised int       `json:"materialised"`
	Reloads      uint64    `json:"reloads"`
	LastReload   time.Time `json:"last_reload,omitzero"`
}

// Stats returns current table statistics.
func (t *Table) Stats() Stats {
	t.mu.RLock()
	s := Stats{Objects: len(t.objects), Materialised: len(t.materialised)}
	t.mu.RUnlock()

	s.Reloads = t.reloads.Load()
	if ms := t.lastReload.Load(); ms > 0 {
		s.LastReload = time.UnixMilli(ms)
	}
	return s
}

func (t *Table) logInfo(msg string, args ...any) {
	t.loggerMu.RLock()
	logger := t.logger
	t.loggerMu.RUnlock()

	if logger != nil {
		logger.Info(msg, args...)
	}
}

func (t *Table) logWarn(msg string, args ...any) {
	t.loggerMu.RLock()
	logger := t.logger
	t.loggerMu.RUnlock()

	if logger != nil {
		logger.Warn(msg, args...)
	}
}
