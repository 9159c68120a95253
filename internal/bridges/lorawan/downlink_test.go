package lorawan

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"testing"

	"github.com/lw2bacnet/bridge/internal/bacnet"
	"github.com/lw2bacnet/bridge/internal/identity"
)

// provisionValve registers the test device under a profile with a downlink
// port for channel 1 and provisions its analog output from an uplink.
func provisionValve(t *testing.T, h *testHarness, ports map[int]int) uint32 {
	t.Helper()
	ctx := context.Background()

	if err := h.store.SyncProfilePorts(ctx, map[string]map[int]int{"valve": ports}); err != nil {
		t.Fatalf("SyncProfilePorts() error = %v", err)
	}
	overrides := map[string]identity.DeviceOverride{testEUI: {Name: "Valve", ProfileID: "valve"}}
	if err := h.store.SyncDeviceOverrides(ctx, overrides, "test.js"); err != nil {
		t.Fatalf("SyncDeviceOverrides() error = %v", err)
	}

	res := h.bridge.HandleUplink(ctx, testUplinkTopic, chirpstackPayload([]byte{1, 3, 0, 221}, ""))
	if res.Dropped {
		t.Fatalf("HandleUplink() dropped: %v", res.Err)
	}
	id, err := h.store.ObjectIDFor(ctx, identity.NewDatapointID(h.eui, 1, ""))
	if err != nil {
		t.Fatalf("ObjectIDFor() error = %v", err)
	}
	return id
}

func decodeDownlink(t *testing.T, p mockPublish) (DownlinkMessage, []byte) {
	t.Helper()
	var msg DownlinkMessage
	if err := json.Unmarshal(p.payload, &msg); err != nil {
		t.Fatalf("unmarshal downlink: %v", err)
	}
	frame, err := base64.StdEncoding.DecodeString(msg.Data)
	if err != nil {
		t.Fatalf("downlink data is not base64: %v", err)
	}
	return msg, frame
}

func TestDownlinkFromWriteProperty(t *testing.T) {
	h := newTestHarness(t, testConfig())
	objectID := provisionValve(t, h, map[int]int{1: 10})

	if err := h.bridge.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	state, ok := h.device.Describe(objectID)
	if !ok {
		t.Fatalf("object %d not materialised", objectID)
	}
	if state.Name != "Valve:analog_out_1" {
		t.Errorf("object name = %q, want Valve:analog_out_1", state.Name)
	}

	if err := h.device.WriteProperty(objectID, 21.5); err != nil {
		t.Fatalf("WriteProperty() error = %v", err)
	}

	published := h.mqtt.GetPublished()
	if len(published) != 1 {
		t.Fatalf("published = %d, want 1", len(published))
	}
	p := published[0]
	if p.topic != "application/app1/device/AABBCCDD/command/down" {
		t.Errorf("topic = %q", p.topic)
	}
	if p.qos != 1 || p.retained {
		t.Errorf("qos = %d retained = %v, want 1 and false", p.qos, p.retained)
	}

	msg, frame := decodeDownlink(t, p)
	if msg.DevEUI != testEUI || !msg.Confirmed || msg.FPort != 10 {
		t.Errorf("message = %+v, want devEui %s confirmed fPort 10", msg, testEUI)
	}
	want := []byte{1, 3, 0, 215}
	if string(frame) != string(want) {
		t.Errorf("frame = %v, want %v", frame, want)
	}
	if got := h.bridge.Metrics().DownlinksPublished; got != 1 {
		t.Errorf("DownlinksPublished = %d, want 1", got)
	}
}

func TestDownlinkBinaryText(t *testing.T) {
	h := newTestHarness(t, testConfig())
	objectID := provisionValve(t, h, map[int]int{1: 10})

	res := h.bridge.HandleWrite(context.Background(), bacnet.WriteEvent{ObjectName: "Valve:analog_out_1", Value: "active", ObjectID: objectID})
	if !res.Published {
		t.Fatalf("HandleWrite() abandoned: %v", res.Err)
	}
	_, frame := decodeDownlink(t, h.mqtt.GetPublished()[0])
	want := []byte{1, 3, 0, 10}
	if string(frame) != string(want) {
		t.Errorf("frame = %v, want %v", frame, want)
	}
}

func TestDownlinkAbandoned(t *testing.T) {
	tests := []struct {
		name    string
		setup   func(t *testing.T, h *testHarness) uint32
		cfg     func(*Config)
		value   any
		wantErr error
	}{
		{
			name: "no profile",
			setup: func(t *testing.T, h *testHarness) uint32 {
				h.bridge.HandleUplink(context.Background(), testUplinkTopic, chirpstackPayload([]byte{1, 3, 0, 221}, ""))
				id, err := h.store.ObjectIDFor(context.Background(), identity.NewDatapointID(h.eui, 1, ""))
				if err != nil {
					t.Fatalf("ObjectIDFor() error = %v", err)
				}
				return id
			},
			value:   1.0,
			wantErr: ErrNoDownlinkPort,
		},
		{
			name: "no port for channel",
			setup: func(t *testing.T, h *testHarness) uint32 {
				return provisionValve(t, h, map[int]int{2: 10})
			},
			value:   1.0,
			wantErr: ErrNoDownlinkPort,
		},
		{
			name:    "unknown object",
			setup:   func(_ *testing.T, _ *testHarness) uint32 { return 99 },
			value:   1.0,
			wantErr: ErrUnknownObject,
		},
		{
			name: "invalid value",
			setup: func(t *testing.T, h *testHarness) uint32 {
				return provisionValve(t, h, map[int]int{1: 10})
			},
			value:   "open",
			wantErr: ErrInvalidValue,
		},
		{
			name: "no application",
			setup: func(t *testing.T, h *testHarness) uint32 {
				return provisionValve(t, h, map[int]int{1: 10})
			},
			cfg:     func(c *Config) { c.ApplicationTopicIndex = -1 },
			value:   1.0,
			wantErr: ErrNoApplication,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig()
			if tt.cfg != nil {
				tt.cfg(&cfg)
			}
			h := newTestHarness(t, cfg)
			objectID := tt.setup(t, h)

			res := h.bridge.HandleWrite(context.Background(), bacnet.WriteEvent{Value: tt.value, ObjectID: objectID})
			if res.Published {
				t.Fatal("command should be abandoned")
			}
			if !errors.Is(res.Err, tt.wantErr) {
				t.Errorf("Err = %v, want %v", res.Err, tt.wantErr)
			}
			if got := len(h.mqtt.GetPublished()); got != 0 {
				t.Errorf("published = %d, want 0", got)
			}
			if got := h.bridge.Metrics().DownlinksAbandoned; got != 1 {
				t.Errorf("DownlinksAbandoned = %d, want 1", got)
			}
		})
	}
}

func TestDownlinkSubValueNotWritable(t *testing.T) {
	cfg := testConfig()
	cfg.Metadata = true
	h := newTestHarness(t, cfg)
	ctx := context.Background()

	h.bridge.HandleUplink(ctx, testUplinkTopic, chirpstackPayload([]byte{1, 3, 0, 221}, `[{"rssi":-90,"snr":3}]`))
	id, err := h.store.ObjectIDFor(ctx, identity.NewDatapointID(h.eui, MetadataChannel, FieldRSSI))
	if err != nil {
		t.Fatalf("ObjectIDFor() error = %v", err)
	}

	res := h.bridge.HandleWrite(ctx, bacnet.WriteEvent{Value: 1.0, ObjectID: id})
	if !errors.Is(res.Err, ErrNotWritable) {
		t.Errorf("Err = %v, want ErrNotWritable", res.Err)
	}
	if got := len(h.mqtt.GetPublished()); got != 0 {
		t.Errorf("published = %d, want 0", got)
	}
}

func TestDownlinkTopicWithoutApplication(t *testing.T) {
	cfg := testConfig()
	cfg.DownlinkTopic = "lorawan/{eui}/down"
	cfg.ApplicationTopicIndex = -1
	h := newTestHarness(t, cfg)
	objectID := provisionValve(t, h, map[int]int{1: 10})

	res := h.bridge.HandleWrite(context.Background(), bacnet.WriteEvent{Value: 2.0, ObjectID: objectID})
	if !res.Published {
		t.Fatalf("HandleWrite() abandoned: %v", res.Err)
	}
	if res.Topic != "lorawan/AABBCCDD/down" {
		t.Errorf("Topic = %q, want lorawan/AABBCCDD/down", res.Topic)
	}
}

func TestDownlinkPublishFailure(t *testing.T) {
	h := newTestHarness(t, testConfig())
	objectID := provisionValve(t, h, map[int]int{1: 10})

	h.mqtt.mu.Lock()
	h.mqtt.publishErr = errors.New("broker gone")
	h.mqtt.mu.Unlock()

	res := h.bridge.HandleWrite(context.Background(), bacnet.WriteEvent{Value: 2.0, ObjectID: objectID})
	if res.Published || res.Err == nil {
		t.Errorf("result = %+v, want abandoned with error", res)
	}
}

func TestNormaliseValue(t *testing.T) {
	tests := []struct {
		in      any
		want    float64
		wantErr bool
	}{
		{21.5, 21.5, false},
		{float32(2.5), 2.5, false},
		{3, 3, false},
		{int64(-4), -4, false},
		{uint32(7), 7, false},
		{true, 1, false},
		{false, 0, false},
		{"active", 1, false},
		{" INACTIVE ", 0, false},
		{"12.25", 12.25, false},
		{"open", 0, true},
		{nil, 0, true},
		{[]byte{1}, 0, true},
	}
	for _, tt := range tests {
		got, err := NormaliseValue(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("NormaliseValue(%v) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if err == nil && got != tt.want {
			t.Errorf("NormaliseValue(%v) = %v, want %v", tt.in, got, tt.want)
		}
	}
}
