package identity

import (
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
)

// maxEUIBytes bounds device identifiers taken from topics.
const maxEUIBytes = 16

// EUI is a device identifier in binary form. LoRaWAN DevEUIs are 8 bytes;
// network servers that address devices by shorter hex ids are accepted too.
type EUI []byte

// ParseEUI parses a hex device identifier, case-insensitively. An optional
// "eui-" prefix (The Things Stack default device ids) is stripped.
func ParseEUI(s string) (EUI, error) {
	s = strings.TrimSpace(s)
	if len(s) > 4 && strings.EqualFold(s[:4], "eui-") {
		s = s[4:]
	}
	if s == "" || len(s)%2 != 0 {
		return nil, fmt.Errorf("%w: %q", ErrInvalidEUI, s)
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", ErrInvalidEUI, s)
	}
	if len(b) > maxEUIBytes {
		return nil, fmt.Errorf("%w: %q longer than %d bytes", ErrInvalidEUI, s, maxEUIBytes)
	}
	return EUI(b), nil
}

// String renders the EUI as upper-case hex.
func (e EUI) String() string {
	return strings.ToUpper(hex.EncodeToString(e))
}

// MarshalText renders the EUI as upper-case hex.
func (e EUI) MarshalText() ([]byte, error) {
	return []byte(e.String()), nil
}

// DatapointID identifies one value stream of a device:
// "<EUIHEX>-<channel>" or "<EUIHEX>-<channel>.<field>".
type DatapointID string

// NewDatapointID derives the datapoint id for a device channel. field is
// empty for scalar channels and names the sub-value of object-valued ones.
func NewDatapointID(eui EUI, channel int, field string) DatapointID {
	id := eui.String() + "-" + strconv.Itoa(channel)
	if field != "" {
		id += "." + field
	}
	return DatapointID(id)
}

// Split parses the id back into its EUI, channel and field.
func (id DatapointID) Split() (EUI, int, string, error) {
	euiPart, rest, ok := strings.Cut(string(id), "-")
	if !ok {
		return nil, 0, "", fmt.Errorf("%w: %q", ErrInvalidDatapointID, id)
	}
	eui, err := ParseEUI(euiPart)
	if err != nil {
		return nil, 0, "", fmt.Errorf("%w: %q", ErrInvalidDatapointID, id)
	}
	chPart, field, _ := strings.Cut(rest, ".")
	channel, err := strconv.Atoi(chPart)
	if err != nil || channel < 0 {
		return nil, 0, "", fmt.Errorf("%w: %q", ErrInvalidDatapointID, id)
	}
	return eui, channel, field, nil
}

func (id DatapointID) String() string {
	return string(id)
}

// DeviceRecord is a row of the device relation.
type DeviceRecord struct {
	EUI           EUI    `json:"eui"`
	Decoder       string `json:"decoder"`
	Name          string `json:"name,omitempty"`
	ProfileID     string `json:"profile_id,omitempty"`
	ApplicationID string `json:"application_id,omitempty"`
}

// DatapointRecord carries the attributes of a datapoint to register.
type DatapointRecord struct {
	EUI     EUI
	Channel int
	Field   string
	Name    string
	Type    int
	Units   string
	Value   float64

	// FPort is the downlink port. When nil, the port registered for the
	// channel in the device's profile (if any) is recorded.
	FPort *int

	// COV is the change-of-value flag; nil leaves it unset.
	COV *bool
}

// ID derives the datapoint id of the record.
func (r DatapointRecord) ID() DatapointID {
	return NewDatapointID(r.EUI, r.Channel, r.Field)
}

// Datapoint is a stored datapoint row.
type Datapoint struct {
	ID       DatapointID `json:"id"`
	EUI      EUI         `json:"dev_eui"`
	Channel  int         `json:"channel"`
	Field    string      `json:"field,omitempty"`
	Name     string      `json:"name"`
	Type     int         `json:"type"`
	Units    string      `json:"units"`
	Value    float64     `json:"value"`
	FPort    *int        `json:"fport,omitempty"`
	COV      *bool       `json:"cov,omitempty"`
	ObjectID uint32      `json:"object_id"`
}

// SnapshotRow is a datapoint joined with its owning device's name.
// DeviceName is empty when the device has no configured name.
type SnapshotRow struct {
	Datapoint
	DeviceName string `json:"device_name,omitempty"`
}

// DeviceOverride holds administrator-assigned device attributes.
type DeviceOverride struct {
	Name      string
	ProfileID string
}
