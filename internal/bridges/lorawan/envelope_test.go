package lorawan

import (
	"errors"
	"testing"
)

func TestParseEnvelopeTTS(t *testing.T) {
	payload := []byte(`{
		"end_device_ids": {"device_id": "dev1"},
		"uplink_message": {
			"frm_payload": "AQMA3Q==",
			"f_port": 5,
			"decoded_payload": {"data": [{"channel": 1, "type": 3, "value": 22.1}]},
			"rx_metadata": [{"rssi": -70, "snr": 9}]
		}
	}`)

	env, err := ParseEnvelope(payload)
	if err != nil {
		t.Fatalf("ParseEnvelope() error = %v", err)
	}
	if string(env.Payload) != string([]byte{1, 3, 0, 221}) {
		t.Errorf("Payload = %v", env.Payload)
	}
	if env.FPort != 5 {
		t.Errorf("FPort = %d, want 5", env.FPort)
	}
	if len(env.Decoded) != 1 || env.Decoded[0].Value != 22.1 {
		t.Errorf("Decoded = %+v", env.Decoded)
	}
	if len(env.Gateways) != 1 {
		t.Errorf("Gateways = %d, want 1", len(env.Gateways))
	}
}

func TestParseEnvelopeChirpstack(t *testing.T) {
	payload := []byte(`{"data":"AQMA3Q==","fPort":2,"object":false,"rxInfo":[{"rssi":-101,"loRaSNR":-3.5}]}`)

	env, err := ParseEnvelope(payload)
	if err != nil {
		t.Fatalf("ParseEnvelope() error = %v", err)
	}
	if env.FPort != 2 || len(env.Payload) != 4 {
		t.Errorf("env = %+v", env)
	}
	if env.Decoded != nil {
		t.Errorf("Decoded = %+v, want nil for object:false", env.Decoded)
	}
}

func TestParseEnvelopeDecodedShapes(t *testing.T) {
	tests := []struct {
		name    string
		object  string
		wantLen int
	}{
		{"list", `[{"channel":1,"type":2,"value":1}]`, 1},
		{"data wrapper", `{"data":[{"channel":1,"type":2,"value":1},{"channel":2,"type":2,"value":2}]}`, 2},
		{"false", `false`, 0},
		{"null", `null`, 0},
		{"named readings", `{"temperature":21.5}`, 0},
		{"empty list", `[]`, 0},
		{"bad element", `[{"channel":"x","type":2,"value":1}]`, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env, err := ParseEnvelope([]byte(`{"data":"","object":` + tt.object + `}`))
			if err != nil {
				t.Fatalf("ParseEnvelope() error = %v", err)
			}
			if len(env.Decoded) != tt.wantLen {
				t.Errorf("Decoded = %d elements, want %d", len(env.Decoded), tt.wantLen)
			}
		})
	}
}

func TestParseEnvelopeErrors(t *testing.T) {
	tests := []struct {
		name    string
		payload string
	}{
		{"not json", `<xml/>`},
		{"array", `[1,2]`},
		{"no data", `{"fPort":2}`},
		{"null uplink", `{"uplink_message":null}`},
		{"bad base64", `{"data":"%%%"}`},
		{"bad tts base64", `{"uplink_message":{"frm_payload":"%%%"}}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseEnvelope([]byte(tt.payload))
			if !errors.Is(err, ErrInvalidEnvelope) {
				t.Errorf("ParseEnvelope() error = %v, want ErrInvalidEnvelope", err)
			}
		})
	}
}

func TestMetadataElements(t *testing.T) {
	tests := []struct {
		name     string
		gateways []map[string]any
		wantRSSI float64
		wantSNR  float64
		wantNil  bool
	}{
		{name: "no gateways", wantNil: true},
		{
			name:     "best of several",
			gateways: []map[string]any{{"rssi": -110.0, "snr": 2.0}, {"rssi": -95.0, "snr": -1.0}},
			wantRSSI: -95,
			wantSNR:  2,
		},
		{
			name:     "chirpstack snr key",
			gateways: []map[string]any{{"rssi": -60.0, "loRaSNR": 11.5}},
			wantRSSI: -60,
			wantSNR:  11.5,
		},
		{
			name:     "missing values use defaults",
			gateways: []map[string]any{{"gateway_id": "gw1"}},
			wantRSSI: DefaultRSSI,
			wantSNR:  DefaultSNR,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			elems := Envelope{Gateways: tt.gateways}.MetadataElements()
			if tt.wantNil {
				if elems != nil {
					t.Errorf("MetadataElements() = %+v, want nil", elems)
				}
				return
			}
			if len(elems) != 2 {
				t.Fatalf("MetadataElements() = %d elements, want 2", len(elems))
			}
			for _, e := range elems {
				if e.Channel != MetadataChannel || e.Type != MetadataType {
					t.Errorf("element %+v not on metadata channel/type", e)
				}
			}
			if elems[0].Field != FieldRSSI || elems[0].Value != tt.wantRSSI {
				t.Errorf("rssi = %+v, want %v", elems[0], tt.wantRSSI)
			}
			if elems[1].Field != FieldSNR || elems[1].Value != tt.wantSNR {
				t.Errorf("snr = %+v, want %v", elems[1], tt.wantSNR)
			}
		})
	}
}

func TestDeviceFromTopic(t *testing.T) {
	tests := []struct {
		topic   string
		index   int
		want    string
		wantErr bool
	}{
		{"v3/app1/devices/AABBCCDD/up", 3, "AABBCCDD", false},
		{"application/1/device/0004a30b001c2d3e/event/up", 3, "0004A30B001C2D3E", false},
		{"v3/app1/devices/eui-aabbccdd/up", 3, "AABBCCDD", false},
		{"v3/app1/devices/not-hex/up", 3, "", true},
		{"v3/app1", 3, "", true},
		{"v3//devices//up", 3, "", true},
	}
	for _, tt := range tests {
		eui, err := DeviceFromTopic(tt.topic, tt.index)
		if (err != nil) != tt.wantErr {
			t.Errorf("DeviceFromTopic(%q) error = %v, wantErr %v", tt.topic, err, tt.wantErr)
			continue
		}
		if err != nil {
			if !errors.Is(err, ErrInvalidTopic) {
				t.Errorf("DeviceFromTopic(%q) error = %v, want ErrInvalidTopic", tt.topic, err)
			}
			continue
		}
		if eui.String() != tt.want {
			t.Errorf("DeviceFromTopic(%q) = %s, want %s", tt.topic, eui, tt.want)
		}
	}
}

func TestDownlinkTopicTemplate(t *testing.T) {
	got := DownlinkTopic("application/{application}/device/{eui}/command/down", "app7", "AABB")
	if got != "application/app7/device/AABB/command/down" {
		t.Errorf("DownlinkTopic() = %q", got)
	}
}
