package lorawan

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/lw2bacnet/bridge/internal/codec"
	"github.com/lw2bacnet/bridge/internal/identity"
)

// Default signal values used when no gateway reports one.
const (
	DefaultRSSI = -200
	DefaultSNR  = -20
)

// Metadata element identity: a reserved channel with one field per value.
const (
	MetadataChannel = 255
	MetadataType    = 250
	FieldRSSI       = "rssi"
	FieldSNR        = "snr"
)

// Envelope is the network-server independent content of an uplink.
type Envelope struct {
	Payload []byte
	FPort   int

	// Decoded holds elements decoded upstream, or nil when the payload must
	// be decoded locally.
	Decoded []codec.Element

	// Gateways is the per-gateway reception metadata.
	Gateways []map[string]any
}

// ttsUplink is the The Things Stack v3 uplink shape.
type ttsUplink struct {
	UplinkMessage *struct {
		FRMPayload     string           `json:"frm_payload"`
		DecodedPayload json.RawMessage  `json:"decoded_payload"`
		FPort          int              `json:"f_port"`
		RXMetadata     []map[string]any `json:"rx_metadata"`
	} `json:"uplink_message"`
}

// chirpstackUplink is the ChirpStack uplink shape.
type chirpstackUplink struct {
	Data   string           `json:"data"`
	Object json.RawMessage  `json:"object"`
	FPort  int              `json:"fPort"`
	RXInfo []map[string]any `json:"rxInfo"`
}

// ParseEnvelope decodes an uplink payload of either network server dialect.
// Messages carrying an uplink_message key are The Things Stack uplinks;
// anything else is read as a ChirpStack uplink.
func ParseEnvelope(payload []byte) (Envelope, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(payload, &fields); err != nil {
		return Envelope{}, fmt.Errorf("%w: %w", ErrInvalidEnvelope, err)
	}

	var (
		env     Envelope
		data    string
		decoded json.RawMessage
	)
	if _, ok := fields["uplink_message"]; ok {
		var msg ttsUplink
		if err := json.Unmarshal(payload, &msg); err != nil {
			return Envelope{}, fmt.Errorf("%w: %w", ErrInvalidEnvelope, err)
		}
		if msg.UplinkMessage == nil {
			return Envelope{}, fmt.Errorf("%w: empty uplink_message", ErrInvalidEnvelope)
		}
		um := msg.UplinkMessage
		data, decoded = um.FRMPayload, um.DecodedPayload
		env.FPort, env.Gateways = um.FPort, um.RXMetadata
	} else {
		var msg chirpstackUplink
		if err := json.Unmarshal(payload, &msg); err != nil {
			return Envelope{}, fmt.Errorf("%w: %w", ErrInvalidEnvelope, err)
		}
		if _, ok := fields["data"]; !ok {
			return Envelope{}, fmt.Errorf("%w: no data or uplink_message", ErrInvalidEnvelope)
		}
		data, decoded = msg.Data, msg.Object
		env.FPort, env.Gateways = msg.FPort, msg.RXInfo
	}

	raw, err := base64.StdEncoding.DecodeString(data)
	if err != nil {
		return Envelope{}, fmt.Errorf("%w: payload is not base64: %w", ErrInvalidEnvelope, err)
	}
	env.Payload = raw
	env.Decoded = parseDecoded(decoded)
	return env, nil
}

// parseDecoded accepts a pre-decoded element list, bare or under "data".
// Any other shape (false, null, a flat object of named readings) yields nil
// so the payload is decoded locally.
func parseDecoded(raw json.RawMessage) []codec.Element {
	if len(raw) == 0 {
		return nil
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil
	}
	if m, ok := v.(map[string]any); ok {
		v = m["data"]
	}
	list, ok := v.([]any)
	if !ok || len(list) == 0 {
		return nil
	}
	elems, err := codec.ParseElements(list)
	if err != nil {
		return nil
	}
	return elems
}

// MetadataElements returns the best RSSI and SNR across the reporting
// gateways. It returns nil when no gateway metadata was received.
func (e Envelope) MetadataElements() []codec.Element {
	if len(e.Gateways) == 0 {
		return nil
	}
	rssi, snr := float64(DefaultRSSI), float64(DefaultSNR)
	for _, gw := range e.Gateways {
		if v, ok := number(gw["rssi"]); ok && v > rssi {
			rssi = v
		}
		s, ok := number(gw["snr"])
		if !ok {
			s, ok = number(gw["loRaSNR"])
		}
		if ok && s > snr {
			snr = s
		}
	}
	return []codec.Element{
		{Channel: MetadataChannel, Type: MetadataType, Value: rssi, Name: FieldRSSI, Field: FieldRSSI},
		{Channel: MetadataChannel, Type: MetadataType, Value: snr, Name: FieldSNR, Field: FieldSNR},
	}
}

func number(v any) (float64, bool) {
	f, ok := v.(float64)
	return f, ok
}

// TopicSegment returns the segment of an MQTT topic at index.
func TopicSegment(topic string, index int) (string, bool) {
	parts := strings.Split(topic, "/")
	if index < 0 || index >= len(parts) || parts[index] == "" {
		return "", false
	}
	return parts[index], true
}

// DeviceFromTopic extracts the device EUI at index of an uplink topic.
func DeviceFromTopic(topic string, index int) (identity.EUI, error) {
	seg, ok := TopicSegment(topic, index)
	if !ok {
		return nil, fmt.Errorf("%w: %q has no segment %d", ErrInvalidTopic, topic, index)
	}
	eui, err := identity.ParseEUI(seg)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidTopic, err)
	}
	return eui, nil
}
