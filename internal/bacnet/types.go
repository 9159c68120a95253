package bacnet

import (
	"fmt"
	"strings"
)

const (
	// MaxInstance is the largest instance number an object identifier can carry.
	MaxInstance  = 0x3FFFFF
	instanceBits = 22
	maxKind      = 0x3FF
)

// Kind is the BACnet object type of a provisioned object. Values are the
// standard object type numbers.
type Kind uint16

// Supported object kinds.
const (
	AnalogInput  Kind = 0x00
	AnalogOutput Kind = 0x01
	AnalogValue  Kind = 0x02
	BinaryInput  Kind = 0x03
	BinaryOutput Kind = 0x04
	BinaryValue  Kind = 0x05
)

var kindNames = map[Kind]string{
	AnalogInput:  "analog-input",
	AnalogOutput: "analog-output",
	AnalogValue:  "analog-value",
	BinaryInput:  "binary-input",
	BinaryOutput: "binary-output",
	BinaryValue:  "binary-value",
}

// kindAliases maps normalised spellings to kinds. Built once at package init.
var kindAliases = func() map[string]Kind {
	m := make(map[string]Kind, len(kindNames)*2)
	for k, name := range kindNames {
		m[normaliseKindName(name)] = k
		// Class names used by older datatype files, e.g. AnalogInputObject.
		m[normaliseKindName(name)+"object"] = k
	}
	return m
}()

func normaliseKindName(s string) string {
	r := strings.NewReplacer("-", "", "_", "", " ", "")
	return strings.ToLower(r.Replace(s))
}

// ParseKind resolves a kind name. It accepts "analog-input", "analog_input",
// "analogInput" and "AnalogInputObject" spellings.
func ParseKind(s string) (Kind, error) {
	if k, ok := kindAliases[normaliseKindName(s)]; ok {
		return k, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownKind, s)
}

// String returns the hyphenated BACnet name of the kind.
func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("kind(%d)", uint16(k))
}

// IsBinary reports whether present values are active/inactive.
func (k Kind) IsBinary() bool {
	return k == BinaryInput || k == BinaryOutput || k == BinaryValue
}

// Writable reports whether clients may write the present value.
func (k Kind) Writable() bool {
	switch k {
	case AnalogOutput, AnalogValue, BinaryOutput, BinaryValue:
		return true
	default:
		return false
	}
}

// MarshalText renders the kind name, so kinds read naturally in JSON.
func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// UnmarshalText parses any spelling accepted by ParseKind.
func (k *Kind) UnmarshalText(b []byte) error {
	parsed, err := ParseKind(string(b))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

// ObjectID is the type and instance number of an object.
type ObjectID struct {
	Kind     Kind
	Instance uint32
}

// Encode packs the identifier into its 32-bit wire form:
// 10 bits of type followed by 22 bits of instance.
func (o ObjectID) Encode() (uint32, error) {
	if o.Instance > MaxInstance {
		return 0, fmt.Errorf("%w: instance %d too high", ErrInvalidObjectID, o.Instance)
	}
	if o.Kind > maxKind {
		return 0, fmt.Errorf("%w: type %d too high", ErrInvalidObjectID, o.Kind)
	}
	return uint32(o.Kind)<<instanceBits | o.Instance, nil
}

// ObjectIDFromUint32 unpacks a 32-bit wire identifier.
func ObjectIDFromUint32(v uint32) ObjectID {
	return ObjectID{
		Kind:     Kind(v >> instanceBits),
		Instance: v & MaxInstance,
	}
}

func (o ObjectID) String() string {
	return fmt.Sprintf("%s:%d", o.Kind, o.Instance)
}

// Binary present value names.
const (
	Active   = "active"
	Inactive = "inactive"
)

// BinaryText renders a numeric present value as active/inactive.
func BinaryText(v float64) string {
	if v != 0 {
		return Active
	}
	return Inactive
}
