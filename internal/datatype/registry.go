package datatype

import (
	"errors"
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/lw2bacnet/bridge/internal/bacnet"
	"github.com/lw2bacnet/bridge/internal/templates"
)

// Metadata is the type tag of gateway metadata elements (RSSI, SNR).
const Metadata = 250

// DefaultUnits is used when a datatype names no units.
const DefaultUnits = "noUnits"

var (
	// ErrUnknownType is returned when a tag has no registered datatype.
	ErrUnknownType = errors.New("datatype: unknown type")

	// ErrInvalidFile is returned when a datatypes file cannot be parsed.
	ErrInvalidFile = errors.New("datatype: invalid datatypes file")
)

// Datatype describes how values of one type tag are exposed over BACnet.
type Datatype struct {
	Tag    int         `json:"tag"`
	Name   string      `json:"name"`
	Object bacnet.Kind `json:"object"`
	Units  string      `json:"units"`
	COV    bool        `json:"cov"`
}

// Properties returns the object properties for the datatype, or nil for
// binary kinds which take none.
func (d Datatype) Properties() *bacnet.Properties {
	if d.Object.IsBinary() {
		return nil
	}
	return &bacnet.Properties{Units: d.Units, COV: d.COV}
}

type fileEntry struct {
	Name   string `yaml:"name"`
	Object string `yaml:"object"`
	Units  string `yaml:"units"`
	COV    bool   `yaml:"cov"`
}

type file struct {
	Datatypes map[int]fileEntry `yaml:"datatypes"`
}

// Registry is an immutable tag -> Datatype lookup.
type Registry struct {
	types map[int]Datatype
}

// Default returns the registry built from the embedded datatype table.
func Default() (*Registry, error) {
	data, err := templates.ReadFile(templates.DatatypesFile)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidFile, err)
	}
	return Parse(data)
}

// Load returns the embedded defaults overlaid with the file at path.
// A missing file is not an error; the defaults are returned as they are.
func Load(path string) (*Registry, error) {
	reg, err := Default()
	if err != nil {
		return nil, err
	}
	if path == "" {
		return reg, nil
	}

	data, err := os.ReadFile(path) //nolint:gosec // path comes from trusted config
	if errors.Is(err, os.ErrNotExist) {
		return reg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: reading %s: %w", ErrInvalidFile, path, err)
	}

	overlay, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	for tag, dt := range overlay.types {
		reg.types[tag] = dt
	}
	return reg, nil
}

// Parse builds a registry from a YAML datatypes document.
func Parse(data []byte) (*Registry, error) {
	var f file
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidFile, err)
	}

	reg := &Registry{types: make(map[int]Datatype, len(f.Datatypes))}
	var errs []error
	for tag, entry := range f.Datatypes {
		dt, err := entry.resolve(tag)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		reg.types[tag] = dt
	}
	if len(errs) > 0 {
		return nil, fmt.Errorf("%w: %w", ErrInvalidFile, errors.Join(errs...))
	}
	return reg, nil
}

func (e fileEntry) resolve(tag int) (Datatype, error) {
	if tag < 0 || tag > 255 {
		return Datatype{}, fmt.Errorf("type %d: tag out of range 0-255", tag)
	}
	kind, err := bacnet.ParseKind(e.Object)
	if err != nil {
		return Datatype{}, fmt.Errorf("type %d: %w", tag, err)
	}
	units := e.Units
	if units == "" {
		units = DefaultUnits
	}
	name := e.Name
	if name == "" {
		name = fmt.Sprintf("type_%d", tag)
	}
	return Datatype{Tag: tag, Name: name, Object: kind, Units: units, COV: e.COV}, nil
}

// Lookup returns the datatype registered for tag.
func (r *Registry) Lookup(tag int) (Datatype, bool) {
	dt, ok := r.types[tag]
	return dt, ok
}

// Get returns the datatype for tag or ErrUnknownType.
func (r *Registry) Get(tag int) (Datatype, error) {
	dt, ok := r.types[tag]
	if !ok {
		return Datatype{}, fmt.Errorf("%w: %d", ErrUnknownType, tag)
	}
	return dt, nil
}

// All returns every datatype ordered by tag.
func (r *Registry) All() []Datatype {
	out := make([]Datatype, 0, len(r.types))
	for _, dt := range r.types {
		out = append(out, dt)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Tag < out[j].Tag })
	return out
}

// Len returns the number of registered datatypes.
func (r *Registry) Len() int {
	return len(r.types)
}
