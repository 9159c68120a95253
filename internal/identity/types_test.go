package identity

import (
	"errors"
	"testing"
)

func TestParseEUI(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"AABBCCDD", "AABBCCDD", false},
		{"aabbccdd", "AABBCCDD", false},
		{"eui-0004a30b001c0530", "0004A30B001C0530", false},
		{"", "", true},
		{"ABC", "", true},
		{"XYZW", "", true},
		{"00112233445566778899AABBCCDDEEFF00", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseEUI(tt.in)
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidEUI) {
					t.Errorf("ParseEUI(%q) error = %v, want ErrInvalidEUI", tt.in, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseEUI(%q) error = %v", tt.in, err)
			}
			if got.String() != tt.want {
				t.Errorf("ParseEUI(%q) = %s, want %s", tt.in, got, tt.want)
			}
		})
	}
}

func TestDatapointID_Stable(t *testing.T) {
	a, _ := ParseEUI("aabbccdd")
	b, _ := ParseEUI("AABBCCDD")

	if NewDatapointID(a, 1, "") != NewDatapointID(b, 1, "") {
		t.Error("datapoint id depends on EUI spelling")
	}
	if got := NewDatapointID(a, 1, ""); got != "AABBCCDD-1" {
		t.Errorf("NewDatapointID() = %s, want AABBCCDD-1", got)
	}
	if got := NewDatapointID(a, 136, "latitude"); got != "AABBCCDD-136.latitude" {
		t.Errorf("NewDatapointID() = %s, want AABBCCDD-136.latitude", got)
	}
}

func TestDatapointID_Split(t *testing.T) {
	tests := []struct {
		id      DatapointID
		eui     string
		channel int
		field   string
		wantErr bool
	}{
		{"AABBCCDD-1", "AABBCCDD", 1, "", false},
		{"AABBCCDD-255.rssi", "AABBCCDD", 255, "rssi", false},
		{"AABBCCDD", "", 0, "", true},
		{"AABBCCDD-x", "", 0, "", true},
		{"ZZ-1", "", 0, "", true},
		{"AA--1", "", 0, "", true},
	}
	for _, tt := range tests {
		t.Run(string(tt.id), func(t *testing.T) {
			eui, channel, field, err := tt.id.Split()
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidDatapointID) {
					t.Errorf("Split() error = %v, want ErrInvalidDatapointID", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Split() error = %v", err)
			}
			if eui.String() != tt.eui || channel != tt.channel || field != tt.field {
				t.Errorf("Split() = %s, %d, %q; want %s, %d, %q", eui, channel, field, tt.eui, tt.channel, tt.field)
			}
		})
	}
}
