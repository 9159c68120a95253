package bacnet

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestParseKind(t *testing.T) {
	tests := []struct {
		input string
		want  Kind
	}{
		{"analog-input", AnalogInput},
		{"AnalogInputObject", AnalogInput},
		{"analogOutput", AnalogOutput},
		{"analog_value", AnalogValue},
		{"BinaryInputObject", BinaryInput},
		{"binary-output", BinaryOutput},
		{"Binary Value", BinaryValue},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseKind(tt.input)
			if err != nil {
				t.Fatalf("ParseKind(%q) error = %v", tt.input, err)
			}
			if got != tt.want {
				t.Errorf("ParseKind(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}

func TestParseKind_Unknown(t *testing.T) {
	for _, input := range []string{"", "multi-state-input", "AnalogThing"} {
		if _, err := ParseKind(input); !errors.Is(err, ErrUnknownKind) {
			t.Errorf("ParseKind(%q) error = %v, want ErrUnknownKind", input, err)
		}
	}
}

func TestKindPredicates(t *testing.T) {
	tests := []struct {
		kind     Kind
		binary   bool
		writable bool
	}{
		{AnalogInput, false, false},
		{AnalogOutput, false, true},
		{AnalogValue, false, true},
		{BinaryInput, true, false},
		{BinaryOutput, true, true},
		{BinaryValue, true, true},
	}
	for _, tt := range tests {
		if got := tt.kind.IsBinary(); got != tt.binary {
			t.Errorf("%v.IsBinary() = %v, want %v", tt.kind, got, tt.binary)
		}
		if got := tt.kind.Writable(); got != tt.writable {
			t.Errorf("%v.Writable() = %v, want %v", tt.kind, got, tt.writable)
		}
	}
}

func TestKind_JSON(t *testing.T) {
	b, err := json.Marshal(map[string]Kind{"k": BinaryValue})
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	if string(b) != `{"k":"binary-value"}` {
		t.Errorf("Marshal() = %s", b)
	}

	var out map[string]Kind
	if err := json.Unmarshal([]byte(`{"k":"AnalogOutputObject"}`), &out); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if out["k"] != AnalogOutput {
		t.Errorf("Unmarshal() = %v, want analog-output", out["k"])
	}
}

func TestObjectID_EncodeDecode(t *testing.T) {
	id := ObjectID{Kind: BinaryOutput, Instance: 1234}
	v, err := id.Encode()
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}
	if want := uint32(4)<<22 | 1234; v != want {
		t.Errorf("Encode() = %#x, want %#x", v, want)
	}
	if back := ObjectIDFromUint32(v); back != id {
		t.Errorf("ObjectIDFromUint32() = %v, want %v", back, id)
	}
}

func TestObjectID_EncodeRejectsLargeInstance(t *testing.T) {
	_, err := ObjectID{Kind: AnalogInput, Instance: MaxInstance + 1}.Encode()
	if !errors.Is(err, ErrInvalidObjectID) {
		t.Errorf("Encode() error = %v, want ErrInvalidObjectID", err)
	}
}
